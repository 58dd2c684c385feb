package bits

import (
	"bytes"
	"testing"
)

func TestReadBits(t *testing.T) {
	block := []byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0, 0x0F}

	tests := []struct {
		name          string
		offset, width int
		expected      uint64
	}{
		{"First nibble", 0, 4, 0x1},
		{"First byte", 0, 8, 0x12},
		{"Straddling bytes", 4, 8, 0x23},
		{"Odd offset", 3, 5, 0x12},
		{"Single bit set", 3, 1, 1},
		{"Single bit clear", 0, 1, 0},
		{"Full 64 bits", 0, 64, 0x123456789ABCDEF0},
		{"Unaligned 64 bits", 4, 64, 0x23456789ABCDEF00},
		{"Last bits", 68, 4, 0xF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReadBits(block, tt.offset, tt.width); got != tt.expected {
				t.Errorf("ReadBits(%d, %d) = 0x%X; want 0x%X", tt.offset, tt.width, got, tt.expected)
			}
		})
	}
}

func TestReadBitsExtremes(t *testing.T) {
	zeros := make([]byte, 16)
	ones := bytes.Repeat([]byte{0xFF}, 16)

	for offset := 0; offset < 128; offset += 7 {
		for width := 1; width <= 64 && offset+width <= 128; width++ {
			if got := ReadBits(zeros, offset, width); got != 0 {
				t.Fatalf("zeros: ReadBits(%d, %d) = %d", offset, width, got)
			}
			want := uint64(1)<<uint(width) - 1
			if width == 64 {
				want = ^uint64(0)
			}
			if got := ReadBits(ones, offset, width); got != want {
				t.Fatalf("ones: ReadBits(%d, %d) = 0x%X; want 0x%X", offset, width, got, want)
			}
		}
	}
}

func TestReadBitsPanics(t *testing.T) {
	buf := make([]byte, 4)
	tests := []struct {
		name          string
		offset, width int
	}{
		{"Zero width", 0, 0},
		{"Too wide", 0, 65},
		{"Past the end", 30, 4},
		{"Negative offset", -1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("ReadBits(%d, %d) did not panic", tt.offset, tt.width)
				}
			}()
			ReadBits(buf, tt.offset, tt.width)
		})
	}
}

func TestPutBits(t *testing.T) {
	buf := make([]byte, 16)
	PutBits(buf, 52, 4, 0x2)
	PutBits(buf, 3, 17, 0x1ABCD)
	PutBits(buf, 100, 28, 0xFFFFFFF)

	if got := ReadBits(buf, 52, 4); got != 0x2 {
		t.Errorf("nibble at 52 = 0x%X", got)
	}
	if got := ReadBits(buf, 3, 17); got != 0x1ABCD {
		t.Errorf("span at 3 = 0x%X", got)
	}
	if got := ReadBits(buf, 100, 28); got != 0xFFFFFFF {
		t.Errorf("tail = 0x%X", got)
	}
	if buf[6] != 0x02 {
		t.Errorf("byte 6 = 0x%02X; want 0x02", buf[6])
	}

	PutBits(buf, 52, 4, 0)
	if buf[6] != 0 {
		t.Errorf("clearing left byte 6 = 0x%02X", buf[6])
	}
}

func TestReadBitsLE(t *testing.T) {
	buf := []byte{0x00, 0x34, 0x12, 0xFF}
	if got := ReadBitsLE(buf, 8, 16); got != 0x1234 {
		t.Errorf("ReadBitsLE = 0x%X; want 0x1234", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("unaligned little-endian read did not panic")
		}
	}()
	ReadBitsLE(buf, 4, 8)
}

func TestBytesToNum(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03}
	if got := BytesToNumBE(b); got != 0x010203 {
		t.Errorf("BytesToNumBE = 0x%X", got)
	}
	if got := BytesToNumLE(b); got != 0x030201 {
		t.Errorf("BytesToNumLE = 0x%X", got)
	}
}

func TestBCD(t *testing.T) {
	tests := []struct {
		in     uint64
		digits int
		want   uint64
		ok     bool
	}{
		{0x2512, 4, 2512, true},
		{0x0009, 4, 9, true},
		{0x251231, 6, 251231, true},
		{0x1A, 2, 0, false},
	}

	for _, tt := range tests {
		got, ok := BCD(tt.in, tt.digits)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BCD(0x%X, %d) = %d, %v; want %d, %v", tt.in, tt.digits, got, ok, tt.want, tt.ok)
		}
	}
}
