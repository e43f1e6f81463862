package compression

import "fmt"

// blockedMult is the element granularity bitshuffle works in.
const blockedMult = 8

// defaultBlockElems mirrors bitshuffle's default: about 8 KiB per block,
// a multiple of eight elements, never fewer than 128.
func defaultBlockElems(elemSize int) int {
	n := (8192 / elemSize) / blockedMult * blockedMult
	if n < 128 {
		n = 128
	}
	return n
}

func decodeBSLZ4(src []byte, total uint64, blockBytes, elemSize int) ([]byte, error) {
	if int(total)%elemSize != 0 {
		return nil, fmt.Errorf("%w: size %d not a multiple of element size %d", ErrCorrupt, total, elemSize)
	}
	out := make([]byte, int(total))
	if total == 0 {
		return out, nil
	}
	blockElems := blockBytes / elemSize
	if blockElems == 0 || blockElems%blockedMult != 0 || blockBytes%elemSize != 0 {
		return nil, fmt.Errorf("%w: block size %d bytes invalid for element size %d", ErrCorrupt, blockBytes, elemSize)
	}

	nElems := int(total) / elemSize
	scratch := make([]byte, blockElems*elemSize)
	off := 0
	decode := func(n int) error {
		block, rest, err := nextBlock(src)
		if err != nil {
			return err
		}
		src = rest
		size := n * elemSize
		if err := uncompressExact(block, scratch[:size]); err != nil {
			return err
		}
		unshuffle(out[off:off+size], scratch[:size], n, elemSize)
		off += size
		return nil
	}

	for i := 0; i < nElems/blockElems; i++ {
		if err := decode(blockElems); err != nil {
			return nil, err
		}
	}
	leftover := nElems % blockElems
	if last := leftover - leftover%blockedMult; last > 0 {
		if err := decode(last); err != nil {
			return nil, err
		}
	}
	tail := (leftover % blockedMult) * elemSize
	if len(src) < tail {
		return nil, fmt.Errorf("%w: missing %d trailing bytes", ErrCorrupt, tail-len(src))
	}
	copy(out[off:], src[:tail])
	return out, nil
}

func encodeBSLZ4(data []byte, elemSize int) ([]byte, error) {
	blockElems := defaultBlockElems(elemSize)
	dst := writeHeader(make([]byte, 0, headerSize+len(data)/2), uint64(len(data)), blockElems*elemSize)
	nElems := len(data) / elemSize
	scratch := make([]byte, blockElems*elemSize)
	off := 0
	encode := func(n int) error {
		size := n * elemSize
		shuffle(scratch[:size], data[off:off+size], n, elemSize)
		block, err := compressBlock(scratch[:size])
		if err != nil {
			return err
		}
		dst = appendBlock(dst, block)
		off += size
		return nil
	}
	for i := 0; i < nElems/blockElems; i++ {
		if err := encode(blockElems); err != nil {
			return nil, err
		}
	}
	leftover := nElems % blockElems
	if last := leftover - leftover%blockedMult; last > 0 {
		if err := encode(last); err != nil {
			return nil, err
		}
	}
	return append(dst, data[off:]...), nil
}

// unshuffle reverses the bit transpose of n elements (n a multiple of 8).
// Bit k of byte b of element i lives at row b*8+k, byte i/8, bit i%8.
func unshuffle(dst, src []byte, n, elemSize int) {
	for i := range dst {
		dst[i] = 0
	}
	rowBytes := n / blockedMult
	for b := 0; b < elemSize; b++ {
		for k := 0; k < 8; k++ {
			row := src[(b*8+k)*rowBytes : (b*8+k+1)*rowBytes]
			for q, v := range row {
				if v == 0 {
					continue
				}
				for bit := 0; bit < 8; bit++ {
					if v&(1<<bit) != 0 {
						dst[(q*8+bit)*elemSize+b] |= 1 << k
					}
				}
			}
		}
	}
}

func shuffle(dst, src []byte, n, elemSize int) {
	for i := range dst {
		dst[i] = 0
	}
	rowBytes := n / blockedMult
	for i := 0; i < n; i++ {
		for b := 0; b < elemSize; b++ {
			v := src[i*elemSize+b]
			if v == 0 {
				continue
			}
			for k := 0; k < 8; k++ {
				if v&(1<<k) != 0 {
					dst[(b*8+k)*rowBytes+i/8] |= 1 << (i % 8)
				}
			}
		}
	}
}
