package bits

import "fmt"

/*
Bit fields on memory cards

Transit formats pack their fields without regard to byte boundaries: a
ticket number may start at bit 20 of a block and span 32 bits. Bits are
numbered from 0 at the most significant bit of byte 0, and a multi-byte
span is read big-endian.

	byte 0    byte 1    byte 2
	0123 4567 89.. ....
	[ field @offset 2, width 9 ]

ReadBits always right-justifies the span into a uint64. Offsets and widths
come from layout tables that are validated when they are registered, so an
out-of-range read is a bug in the table, not bad card data: it panics.
*/

// ReadBits returns width bits (1..64) starting at bit offset of buf.
func ReadBits(buf []byte, offset, width int) uint64 {
	checkSpan(buf, offset, width)

	var v uint64
	for i := 0; i < width; i++ {
		pos := offset + i
		bit := (buf[pos/8] >> (7 - uint(pos%8))) & 1
		v = v<<1 | uint64(bit)
	}
	return v
}

// PutBits stores the low width bits of v at bit offset of buf, the inverse
// of ReadBits.
func PutBits(buf []byte, offset, width int, v uint64) {
	checkSpan(buf, offset, width)

	for i := width - 1; i >= 0; i-- {
		pos := offset + i
		mask := byte(1) << (7 - uint(pos%8))
		if v&1 == 1 {
			buf[pos/8] |= mask
		} else {
			buf[pos/8] &^= mask
		}
		v >>= 1
	}
}

// ReadBitsLE reads a byte-aligned span whose bytes are stored least
// significant first.
func ReadBitsLE(buf []byte, offset, width int) uint64 {
	checkSpan(buf, offset, width)
	if offset%8 != 0 || width%8 != 0 {
		panic(fmt.Sprintf("bits: little-endian span must be byte aligned (offset %d, width %d)", offset, width))
	}
	return BytesToNumLE(buf[offset/8 : (offset+width)/8])
}

// FitsIn reports whether the span lies inside a buffer of size bytes.
func FitsIn(size, offset, width int) bool {
	return width >= 1 && width <= 64 && offset >= 0 && offset+width <= size*8
}

func checkSpan(buf []byte, offset, width int) {
	if !FitsIn(len(buf), offset, width) {
		panic(fmt.Sprintf("bits: span [%d,+%d) outside %d-byte buffer", offset, width, len(buf)))
	}
}

// BytesToNumBE interprets up to 8 bytes as a big-endian integer.
func BytesToNumBE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// BytesToNumLE interprets up to 8 bytes as a little-endian integer.
func BytesToNumLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// BCD decodes the low digits nibbles of v as packed binary-coded decimal.
// ok is false when a nibble is not a decimal digit.
func BCD(v uint64, digits int) (n uint64, ok bool) {
	mul := uint64(1)
	for i := 0; i < digits; i++ {
		d := v & 0xF
		if d > 9 {
			return 0, false
		}
		n += d * mul
		mul *= 10
		v >>= 4
	}
	return n, true
}
