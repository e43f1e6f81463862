// Package compression implements the Dectris stream compression formats
// carried by CBOR tag 56500: "bslz4" (bitshuffle + LZ4) and "lz4".
//
// Both use the HDF5 filter framing:
//
//	uint64 BE  total uncompressed size in bytes
//	uint32 BE  block size in bytes
//	repeated:  uint32 BE compressed block size, block payload
//
// For bslz4 a trailing run of fewer than eight elements is stored raw
// after the last block.
package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported compression algorithm")
	ErrCorrupt              = errors.New("corrupt compressed payload")
)

const headerSize = 12

// maxUncompressed guards against absurd size headers.
const maxUncompressed = 1 << 31

type Algorithm int

const (
	BSLZ4 Algorithm = iota + 1
	LZ4
)

func (a Algorithm) String() string {
	switch a {
	case BSLZ4:
		return "bslz4"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// ParseAlgorithm maps the algorithm identifier found on the wire.
func ParseAlgorithm(value string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "bslz4", "bs-lz4", "bitshuffle-lz4":
		return BSLZ4, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnsupportedAlgorithm, value)
	}
}

// Decompress returns the raw little-endian element bytes of encoded.
func Decompress(encoded []byte, algorithm string, elemSize int) ([]byte, error) {
	alg, err := ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if elemSize <= 0 {
		return nil, fmt.Errorf("invalid element size %d", elemSize)
	}
	if len(encoded) == 0 {
		return []byte{}, nil
	}
	total, blockBytes, err := readHeader(encoded)
	if err != nil {
		return nil, err
	}
	switch alg {
	case BSLZ4:
		return decodeBSLZ4(encoded[headerSize:], total, blockBytes, elemSize)
	default:
		return decodeLZ4(encoded[headerSize:], total, blockBytes)
	}
}

// Compress is the inverse of Decompress. It is used by the synthetic
// source and by tests; the ingest path only ever decompresses.
func Compress(data []byte, algorithm string, elemSize int) ([]byte, error) {
	alg, err := ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if elemSize <= 0 {
		return nil, fmt.Errorf("invalid element size %d", elemSize)
	}
	if len(data)%elemSize != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of element size %d", len(data), elemSize)
	}
	switch alg {
	case BSLZ4:
		return encodeBSLZ4(data, elemSize)
	default:
		return encodeLZ4(data, lz4DefaultBlock)
	}
}

func readHeader(src []byte) (total uint64, blockBytes int, err error) {
	if len(src) < headerSize {
		return 0, 0, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(src))
	}
	total = binary.BigEndian.Uint64(src[:8])
	blockBytes = int(binary.BigEndian.Uint32(src[8:12]))
	if total > maxUncompressed {
		return 0, 0, fmt.Errorf("%w: uncompressed size %d too large", ErrCorrupt, total)
	}
	if total > 0 && blockBytes <= 0 {
		return 0, 0, fmt.Errorf("%w: zero block size", ErrCorrupt)
	}
	return total, blockBytes, nil
}

func writeHeader(dst []byte, total uint64, blockBytes int) []byte {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint64(hdr[:8], total)
	binary.BigEndian.PutUint32(hdr[8:], uint32(blockBytes))
	return append(dst, hdr[:]...)
}

// nextBlock reads one length-prefixed block from src.
func nextBlock(src []byte) (block, rest []byte, err error) {
	if len(src) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated block header", ErrCorrupt)
	}
	size := int(binary.BigEndian.Uint32(src[:4]))
	src = src[4:]
	if size > len(src) {
		return nil, nil, fmt.Errorf("%w: block of %d bytes exceeds payload", ErrCorrupt, size)
	}
	return src[:size], src[size:], nil
}

func appendBlock(dst, block []byte) []byte {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(block)))
	dst = append(dst, hdr[:]...)
	return append(dst, block...)
}
