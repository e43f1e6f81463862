package compression

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampUint16(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(i%97))
	}
	return out
}

func TestBitshuffleLayout(t *testing.T) {
	src := []byte{0xFF, 0, 0, 0, 0, 0, 0, 0}
	dst := make([]byte, len(src))
	shuffle(dst, src, 8, 1)
	assert.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1, 1}, dst)

	src = []byte{1, 1, 0, 0, 0, 0, 0, 1}
	shuffle(dst, src, 8, 1)
	assert.Equal(t, []byte{0x83, 0, 0, 0, 0, 0, 0, 0}, dst)

	back := make([]byte, len(src))
	unshuffle(back, dst, 8, 1)
	assert.Equal(t, src, back)
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		algorithm string
		elemSize  int
		data      []byte
	}{
		{"bslz4 single block", "bslz4", 2, rampUint16(64)},
		{"bslz4 several blocks with tail", "bslz4", 2, rampUint16(3*4096 + 21)},
		{"bslz4 uint32", "bslz4", 4, make([]byte, 4*1000)},
		{"bslz4 fewer than eight elements", "bslz4", 4, []byte{1, 0, 0, 0, 2, 0, 0, 0}},
		{"lz4", "lz4", 2, rampUint16(5000)},
		{"lz4 alias", "LZ4", 1, []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Compress(tc.data, tc.algorithm, tc.elemSize)
			require.NoError(t, err)

			decoded, err := Decompress(encoded, tc.algorithm, tc.elemSize)
			require.NoError(t, err)
			assert.Equal(t, tc.data, decoded)
		})
	}
}

func TestLZ4StoresIncompressibleBlocksRaw(t *testing.T) {
	data := []byte{9, 3, 7, 1}
	encoded, err := encodeLZ4(data, 4)
	require.NoError(t, err)
	assert.Equal(t, data, encoded[len(encoded)-4:])

	decoded, err := Decompress(encoded, "lz4", 1)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestDecompressErrors(t *testing.T) {
	_, err := Decompress([]byte{1, 2, 3}, "zstd", 2)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = Decompress([]byte{1, 2, 3}, "bslz4", 2)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decompress([]byte{1, 2, 3}, "bslz4", 0)
	assert.Error(t, err)

	encoded, err := Compress(rampUint16(256), "bslz4", 2)
	require.NoError(t, err)
	_, err = Decompress(encoded[:len(encoded)-5], "bslz4", 2)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecompressEmpty(t *testing.T) {
	out, err := Decompress(nil, "bslz4", 4)
	require.NoError(t, err)
	assert.Empty(t, out)
}
