package btree

// PutVarint encodes v as a 1-to-9 byte big-endian varint: bytes 1-8 carry 7
// data bits plus a high continuation bit, byte 9 carries all 8 remaining
// bits with no continuation bit (spec §6 "Varint"). No corpus library
// implements this exact on-disk shape, so it is hand-rolled per the
// standard-library exception recorded in DESIGN.md.
func PutVarint(dst []byte, v uint64) int {
	if v&0xff00000000000000 != 0 {
		dst[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			dst[i] = byte(v&0x7f) | 0x80
			v >>= 7
		}
		return 9
	}

	var buf [9]byte
	n := 0
	for {
		buf[n] = byte(v&0x7f) | 0x80
		n++
		v >>= 7
		if v == 0 {
			break
		}
	}
	buf[0] &^= 0x80
	for i, j := 0, n-1; j >= 0; j, i = j-1, i+1 {
		dst[i] = buf[j]
	}
	return n
}

// GetVarint decodes a varint starting at src[0], returning the value and
// the number of bytes consumed.
func GetVarint(src []byte) (uint64, int) {
	var v uint64
	n := len(src)
	for i := 0; i < 8 && i < n; i++ {
		b := src[i]
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1
		}
	}
	if n >= 9 {
		v = (v << 8) | uint64(src[8])
		return v, 9
	}
	if n > 9 {
		return v, 9
	}
	return v, n
}

// VarintLen reports how many bytes PutVarint would use for v.
func VarintLen(v uint64) int {
	switch {
	case v <= 0x7f:
		return 1
	case v <= 1<<14-1:
		return 2
	case v <= 1<<21-1:
		return 3
	case v <= 1<<28-1:
		return 4
	case v <= 1<<35-1:
		return 5
	case v <= 1<<42-1:
		return 6
	case v <= 1<<49-1:
		return 7
	case v <= 1<<56-1:
		return 8
	default:
		return 9
	}
}
