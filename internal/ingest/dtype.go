package ingest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

type Kind uint8

const (
	Uint Kind = iota + 1
	Int
	Float
)

// DType describes the element type of a typed array (RFC 8746).
type DType struct {
	Kind      Kind
	Size      int
	BigEndian bool
}

// String renders the dtype the way numpy spells it, e.g. "<u2".
func (d DType) String() string {
	if d.Kind == 0 {
		return "object"
	}
	order := "<"
	if d.BigEndian {
		order = ">"
	}
	if d.Size == 1 {
		order = "|"
	}
	kind := map[Kind]string{Uint: "u", Int: "i", Float: "f"}[d.Kind]
	return fmt.Sprintf("%s%s%d", order, kind, d.Size)
}

func (d DType) order() binary.ByteOrder {
	if d.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// decodeValues turns raw bytes into a typed Go slice:
// u1..u8 -> []uint8..[]uint64, i1..i8 -> []int8..[]int64,
// f2/f4 -> []float32, f8/f16 -> []float64.
func (d DType) decodeValues(data []byte) (any, error) {
	if len(data)%d.Size != 0 {
		return nil, fmt.Errorf("buffer of %d bytes is not a multiple of element size %d", len(data), d.Size)
	}
	n := len(data) / d.Size
	bo := d.order()
	switch {
	case d.Kind == Uint && d.Size == 1:
		out := make([]uint8, n)
		copy(out, data)
		return out, nil
	case d.Kind == Uint && d.Size == 2:
		out := make([]uint16, n)
		for i := range out {
			out[i] = bo.Uint16(data[i*2:])
		}
		return out, nil
	case d.Kind == Uint && d.Size == 4:
		out := make([]uint32, n)
		for i := range out {
			out[i] = bo.Uint32(data[i*4:])
		}
		return out, nil
	case d.Kind == Uint && d.Size == 8:
		out := make([]uint64, n)
		for i := range out {
			out[i] = bo.Uint64(data[i*8:])
		}
		return out, nil
	case d.Kind == Int && d.Size == 1:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(data[i])
		}
		return out, nil
	case d.Kind == Int && d.Size == 2:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(bo.Uint16(data[i*2:]))
		}
		return out, nil
	case d.Kind == Int && d.Size == 4:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(bo.Uint32(data[i*4:]))
		}
		return out, nil
	case d.Kind == Int && d.Size == 8:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(bo.Uint64(data[i*8:]))
		}
		return out, nil
	case d.Kind == Float && d.Size == 2:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(bo.Uint16(data[i*2:])).Float32()
		}
		return out, nil
	case d.Kind == Float && d.Size == 4:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(bo.Uint32(data[i*4:]))
		}
		return out, nil
	case d.Kind == Float && d.Size == 8:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(bo.Uint64(data[i*8:]))
		}
		return out, nil
	case d.Kind == Float && d.Size == 16:
		out := make([]float64, n)
		for i := range out {
			out[i] = quadToFloat64(data[i*16:i*16+16], d.BigEndian)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", d)
	}
}

// quadToFloat64 narrows an IEEE 754 binary128 value. Magnitudes outside
// the float64 range saturate to zero or infinity.
func quadToFloat64(b []byte, bigEndian bool) float64 {
	var hi, lo uint64
	if bigEndian {
		hi = binary.BigEndian.Uint64(b[:8])
		lo = binary.BigEndian.Uint64(b[8:])
	} else {
		lo = binary.LittleEndian.Uint64(b[:8])
		hi = binary.LittleEndian.Uint64(b[8:])
	}
	sign := hi >> 63
	exp := int64((hi >> 48) & 0x7fff)
	mant := (hi&0xffffffffffff)<<4 | lo>>60

	switch {
	case exp == 0x7fff:
		if hi&0xffffffffffff != 0 || lo != 0 {
			return math.NaN()
		}
		return math.Inf(1 - 2*int(sign))
	case exp == 0:
		return signedZero(sign)
	}
	e := exp - 16383 + 1023
	switch {
	case e >= 0x7ff:
		return math.Inf(1 - 2*int(sign))
	case e <= 0:
		return signedZero(sign)
	}
	return math.Float64frombits(sign<<63 | uint64(e)<<52 | mant)
}

func signedZero(sign uint64) float64 {
	if sign != 0 {
		return math.Copysign(0, -1)
	}
	return 0
}
