package ingest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	TagMultiDimArray            = 40
	TagMultiDimArrayColumnMajor = 1040
	TagDectrisCompression       = 56500
)

// tagDecoder resolves the already-resolved content of one extension tag.
type tagDecoder func(d *Decoder, content any) (any, error)

// typedArrayTags is the RFC 8746 typed-array table. Tag 76 (sint8
// clamped) is reserved by the RFC and deliberately absent.
var typedArrayTags = map[uint64]DType{
	64: {Uint, 1, false},
	65: {Uint, 2, true},
	66: {Uint, 4, true},
	67: {Uint, 8, true},
	68: {Uint, 1, false},
	69: {Uint, 2, false},
	70: {Uint, 4, false},
	71: {Uint, 8, false},
	72: {Int, 1, false},
	73: {Int, 2, true},
	74: {Int, 4, true},
	75: {Int, 8, true},
	77: {Int, 2, false},
	78: {Int, 4, false},
	79: {Int, 8, false},
	80: {Float, 2, true},
	81: {Float, 4, true},
	82: {Float, 8, true},
	83: {Float, 16, true},
	84: {Float, 2, false},
	85: {Float, 4, false},
	86: {Float, 8, false},
	87: {Float, 16, false},
}

var tagDecoders = buildTagTable()

func buildTagTable() map[uint64]tagDecoder {
	table := map[uint64]tagDecoder{
		TagMultiDimArray:            multiDimDecoder(RowMajor),
		TagMultiDimArrayColumnMajor: multiDimDecoder(ColumnMajor),
		TagDectrisCompression:       decodeDectrisCompression,
	}
	for tag, dtype := range typedArrayTags {
		if _, dup := table[tag]; dup {
			panic(fmt.Sprintf("ingest: tag %d registered twice", tag))
		}
		table[tag] = typedArrayDecoder(tag, dtype)
	}
	return table
}

// KnownTag reports whether tag has a decoder. Unknown tags pass through
// resolution as cbor.Tag values.
func KnownTag(tag uint64) bool {
	_, ok := tagDecoders[tag]
	return ok
}

func typedArrayDecoder(tag uint64, dtype DType) tagDecoder {
	return func(_ *Decoder, content any) (any, error) {
		data, ok := content.([]byte)
		if !ok {
			return nil, &DecodeError{Tag: tag, Reason: fmt.Sprintf("expected byte string in typed array, got %T", content)}
		}
		values, err := dtype.decodeValues(data)
		if err != nil {
			return nil, &DecodeError{Tag: tag, Reason: "typed array", Err: err}
		}
		return Array{DType: dtype, Values: values}, nil
	}
}

func multiDimDecoder(order Order) tagDecoder {
	tag := uint64(TagMultiDimArray)
	if order == ColumnMajor {
		tag = TagMultiDimArrayColumnMajor
	}
	return func(_ *Decoder, content any) (any, error) {
		items, ok := content.([]any)
		if !ok || len(items) != 2 {
			return nil, &DecodeError{Tag: tag, Reason: "expected [dimensions, contents]"}
		}
		dimsRaw, ok := items[0].([]any)
		if !ok {
			return nil, &DecodeError{Tag: tag, Reason: fmt.Sprintf("expected dimension list, got %T", items[0])}
		}
		dims := make([]int, len(dimsRaw))
		for i, raw := range dimsRaw {
			n, err := toInt(raw)
			if err != nil {
				return nil, &DecodeError{Tag: tag, Reason: "dimension", Err: err}
			}
			dims[i] = n
		}
		arr, err := newNDArray(dims, order, items[1])
		if err != nil {
			return nil, &DecodeError{Tag: tag, Reason: "reshape", Err: err}
		}
		return arr, nil
	}
}

func decodeDectrisCompression(d *Decoder, content any) (any, error) {
	items, ok := content.([]any)
	if !ok || len(items) != 3 {
		return nil, &DecodeError{Tag: TagDectrisCompression, Reason: "expected [algorithm, element size, payload]"}
	}
	algorithm, ok := items[0].(string)
	if !ok {
		return nil, &DecodeError{Tag: TagDectrisCompression, Reason: fmt.Sprintf("algorithm must be a string, got %T", items[0])}
	}
	elemSize, err := toInt(items[1])
	if err != nil {
		return nil, &DecodeError{Tag: TagDectrisCompression, Reason: "element size", Err: err}
	}
	encoded, ok := items[2].([]byte)
	if !ok {
		return nil, &DecodeError{Tag: TagDectrisCompression, Reason: fmt.Sprintf("payload must be a byte string, got %T", items[2])}
	}
	out, err := d.decompress(encoded, algorithm, elemSize)
	if err != nil {
		return nil, &DecodeError{Tag: TagDectrisCompression, Reason: algorithm, Err: err}
	}
	return out, nil
}

// passThrough rebuilds an unknown tag around its resolved content.
func passThrough(tag cbor.Tag, content any) cbor.Tag {
	return cbor.Tag{Number: tag.Number, Content: content}
}
