// Package bits reads the bit fields packed into card memory.
//
// Two numbering schemes coexist. The single-byte helpers of this file
// number bits 1 (least significant) to 8, the way ISO/IEC 7816 describes
// CLA and status bytes. ReadBits and its siblings address a whole buffer
// from bit 0 at the most significant bit of byte 0, the way transit
// layouts are written down.
package bits

// Bits of a byte are numbered 1 (least significant) to 8, as in
// ISO/IEC 7816. Out of range positions select nothing.

// Bit returns a byte with only bit n set.
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet reports whether bit n of b is set.
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// GetRange returns bits high down to low of b, shifted to the right:
// GetRange(0b00001100, 4, 3) is 0b11.
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}
	return b >> (low - 1) & byte(1<<(high-low+1)-1)
}

// Set returns b with bit n set.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}
