package ingest

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMultiDimArrayUint8(t *testing.T) {
	value := cbor.Tag{
		Number: TagMultiDimArray,
		Content: []any{
			[]any{uint64(2), uint64(2)},
			cbor.Tag{
				Number:  64,
				Content: []byte{1, 2, 3, 4},
			},
		},
	}

	got, err := NewDecoder(nil).Resolve(value)
	require.NoError(t, err)

	arr, ok := got.(*NDArray)
	require.True(t, ok)
	assert.Equal(t, []int{2, 2}, arr.Shape)
	assert.Equal(t, []uint8{1, 2, 3, 4}, arr.RowMajor().Values)
}

func TestReshapeRowAndColumnMajor(t *testing.T) {
	const rows, cols = 3, 4
	flat := make([]byte, rows*cols)
	for i := range flat {
		flat[i] = byte(i)
	}
	dims := []any{uint64(rows), uint64(cols)}

	for _, tc := range []struct {
		tag    uint64
		offset func(i, j int) int
	}{
		{TagMultiDimArray, func(i, j int) int { return i*cols + j }},
		{TagMultiDimArrayColumnMajor, func(i, j int) int { return j*rows + i }},
	} {
		got, err := NewDecoder(nil).Resolve(cbor.Tag{
			Number:  tc.tag,
			Content: []any{dims, cbor.Tag{Number: 64, Content: flat}},
		})
		require.NoError(t, err)
		arr := got.(*NDArray)

		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				v, err := arr.At(i, j)
				require.NoError(t, err)
				assert.Equal(t, uint8(tc.offset(i, j)), v, "tag %d (%d,%d)", tc.tag, i, j)
			}
		}
	}
}

func TestColumnMajorRowMajorCopy(t *testing.T) {
	arr := &NDArray{
		Shape: []int{2, 3},
		Order: ColumnMajor,
		Data:  Array{DType: typedArrayTags[69], Values: []uint16{1, 4, 2, 5, 3, 6}},
	}
	assert.Equal(t, []uint16{1, 2, 3, 4, 5, 6}, arr.RowMajor().Values)
	// the wire data is left untouched
	assert.Equal(t, []uint16{1, 4, 2, 5, 3, 6}, arr.Data.Values)
}

func TestMultiDimArrayFromList(t *testing.T) {
	got, err := NewDecoder(nil).Resolve(cbor.Tag{
		Number:  TagMultiDimArray,
		Content: []any{[]any{uint64(1), uint64(3)}, []any{uint64(7), uint64(8), uint64(9)}},
	})
	require.NoError(t, err)
	v, err := got.(*NDArray).At(0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v)
}

func TestMultiDimArrayErrors(t *testing.T) {
	cases := map[string]any{
		"content not an array": []any{[]any{uint64(1)}, "nope"},
		"dimension mismatch":   []any{[]any{uint64(2), uint64(2)}, cbor.Tag{Number: 64, Content: []byte{1, 2, 3}}},
		"missing contents":     []any{[]any{uint64(2)}},
		"bad dimensions":       []any{"2x2", []any{}},
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewDecoder(nil).Resolve(cbor.Tag{Number: TagMultiDimArray, Content: content})
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, uint64(TagMultiDimArray), de.Tag)
		})
	}
}

func TestOffsetBounds(t *testing.T) {
	arr := &NDArray{Shape: []int{2, 2}, Data: Array{Values: []any{1, 2, 3, 4}}}
	_, err := arr.At(2, 0)
	assert.Error(t, err)
	_, err = arr.At(0)
	assert.Error(t, err)
}

func TestFlatten(t *testing.T) {
	arr, ok := Flatten(&NDArray{Shape: []int{2}, Data: Array{Values: []uint32{1, 2}}})
	require.True(t, ok)
	assert.Equal(t, 2, arr.Len())

	_, ok = Flatten(uint64(3))
	assert.False(t, ok)
}
