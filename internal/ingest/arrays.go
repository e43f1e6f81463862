package ingest

import (
	"fmt"
	"reflect"
)

// Array is a flat array produced by a typed-array tag. Values holds a
// concrete Go slice matching DType ([]uint16 for "<u2", ...). Arrays built
// from a plain CBOR list have a zero DType and Values of type []any.
type Array struct {
	DType  DType
	Values any
}

func (a Array) Len() int {
	if a.Values == nil {
		return 0
	}
	return reflect.ValueOf(a.Values).Len()
}

// Index returns element i boxed as its Go element type.
func (a Array) Index(i int) any {
	return reflect.ValueOf(a.Values).Index(i).Interface()
}

type Order uint8

const (
	RowMajor Order = iota
	ColumnMajor
)

func (o Order) String() string {
	if o == ColumnMajor {
		return "F"
	}
	return "C"
}

// NDArray is a multi-dimensional view over flat contents (RFC 8746
// tags 40 and 1040). Data keeps the wire order; At and RowMajor
// interpret it according to Order.
type NDArray struct {
	Shape []int
	Order Order
	Data  Array
}

func (a *NDArray) Len() int {
	return a.Data.Len()
}

// Offset returns the position of the element at idx within Data.
func (a *NDArray) Offset(idx ...int) (int, error) {
	if len(idx) != len(a.Shape) {
		return 0, fmt.Errorf("index has %d dimensions, array has %d", len(idx), len(a.Shape))
	}
	offset, stride := 0, 1
	for n := 0; n < len(idx); n++ {
		k := n
		if a.Order == RowMajor {
			k = len(idx) - 1 - n
		}
		if idx[k] < 0 || idx[k] >= a.Shape[k] {
			return 0, fmt.Errorf("index %d out of range for dimension %d of size %d", idx[k], k, a.Shape[k])
		}
		offset += idx[k] * stride
		stride *= a.Shape[k]
	}
	return offset, nil
}

func (a *NDArray) At(idx ...int) (any, error) {
	off, err := a.Offset(idx...)
	if err != nil {
		return nil, err
	}
	return a.Data.Index(off), nil
}

// RowMajor returns the contents in C order. For row-major arrays this is
// Data itself; column-major arrays are copied into a new slice.
func (a *NDArray) RowMajor() Array {
	if a.Order == RowMajor || len(a.Shape) < 2 {
		return a.Data
	}
	src := reflect.ValueOf(a.Data.Values)
	dst := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
	idx := make([]int, len(a.Shape))
	for flat := 0; flat < src.Len(); flat++ {
		// idx walks the shape in C order.
		rem := flat
		for k := len(a.Shape) - 1; k >= 0; k-- {
			idx[k] = rem % a.Shape[k]
			rem /= a.Shape[k]
		}
		off, _ := a.Offset(idx...)
		dst.Index(flat).Set(src.Index(off))
	}
	return Array{DType: a.Data.DType, Values: dst.Interface()}
}

// Flatten returns the flat contents of a resolved channel payload,
// whatever its wire order. The second result is false for values that are
// not arrays.
func Flatten(v any) (Array, bool) {
	switch t := v.(type) {
	case *NDArray:
		return t.Data, true
	case Array:
		return t, true
	case *Array:
		return *t, true
	case []any:
		return Array{Values: t}, true
	default:
		return Array{}, false
	}
}

func newNDArray(dims []int, order Order, contents any) (*NDArray, error) {
	var data Array
	switch c := contents.(type) {
	case Array:
		data = c
	case []any:
		data = Array{Values: c}
	default:
		return nil, fmt.Errorf("expected array or typed array, got %T", contents)
	}
	want := 1
	for _, d := range dims {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d", d)
		}
		want *= d
	}
	if want != data.Len() {
		return nil, fmt.Errorf("cannot reshape %d elements into %v", data.Len(), dims)
	}
	return &NDArray{Shape: dims, Order: order, Data: data}, nil
}
