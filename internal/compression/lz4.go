package compression

import (
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

const lz4DefaultBlock = 1 << 20

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

func decodeLZ4(src []byte, total uint64, blockBytes int) ([]byte, error) {
	out := make([]byte, int(total))
	for off := 0; off < len(out); {
		want := blockBytes
		if remaining := len(out) - off; remaining < want {
			want = remaining
		}
		block, rest, err := nextBlock(src)
		if err != nil {
			return nil, err
		}
		src = rest
		// The filter stores a block verbatim when compression does not pay off.
		if len(block) == want {
			copy(out[off:off+want], block)
			off += want
			continue
		}
		if err := uncompressExact(block, out[off:off+want]); err != nil {
			return nil, err
		}
		off += want
	}
	return out, nil
}

func encodeLZ4(data []byte, blockBytes int) ([]byte, error) {
	dst := writeHeader(make([]byte, 0, headerSize+len(data)/2), uint64(len(data)), blockBytes)
	for off := 0; off < len(data); off += blockBytes {
		end := off + blockBytes
		if end > len(data) {
			end = len(data)
		}
		block, err := compressBlock(data[off:end])
		if err != nil {
			return nil, err
		}
		if len(block) >= end-off {
			block = data[off:end]
		}
		dst = appendBlock(dst, block)
	}
	return dst, nil
}

func compressBlock(src []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	c, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(c)
	n, err := c.CompressBlock(src, buf)
	if err != nil {
		return nil, err
	}
	if n == 0 && len(src) > 0 {
		return nil, fmt.Errorf("lz4: block of %d bytes not compressible", len(src))
	}
	return buf[:n], nil
}

func uncompressExact(block, dst []byte) error {
	n, err := lz4.UncompressBlock(block, dst)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n != len(dst) {
		return fmt.Errorf("%w: block decoded to %d bytes, want %d", ErrCorrupt, n, len(dst))
	}
	return nil
}
