package iso7816

import (
	"bytes"
	"fmt"
)

// Length limits of ISO 7816-3 command APDUs. In short form Le 00 means 256;
// in extended form Le 0000 means 65536.
const (
	MaxShortLc    = 255
	MaxShortLe    = 256
	MaxExtendedLc = 65535
	MaxExtendedLe = 65536
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Bytes encodes the command. The extended form is used as soon as Data
// or Ne does not fit the short one:
//
//	CLA INS P1 P2 [Lc Data] [Le]
//	short:    Lc = 1 byte, Le = 1 byte
//	extended: Lc = 00 + 2 bytes, Le = 2 bytes (00 + 2 bytes without Lc)
func (c *CommandAPDU) Bytes() ([]byte, error) {
	cla, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Class: %w", err)
	}
	nc, ne := len(c.Data), c.Ne
	if nc > MaxExtendedLc || ne > MaxExtendedLe {
		return nil, fmt.Errorf("apdu too long: Lc %d, Le %d", nc, ne)
	}
	extended := nc > MaxShortLc || ne > MaxShortLe

	var buf bytes.Buffer
	buf.Write([]byte{cla, byte(c.Instruction.Raw), c.P1, c.P2})

	if nc > 0 {
		if extended {
			buf.Write([]byte{0x00, byte(nc >> 8), byte(nc)})
		} else {
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	switch {
	case ne <= 0:
	case !extended:
		buf.WriteByte(byte(ne)) // 256 wraps to 00
	default:
		if nc == 0 {
			buf.WriteByte(0x00)
		}
		buf.Write([]byte{byte(ne >> 8), byte(ne)}) // 65536 wraps to 0000
	}
	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU splits a reply into its data and trailing status word.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	n := len(raw) - 2
	if n < 0 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}
	return &ResponseAPDU{Data: raw[:n], Status: NewStatusWord(raw[n], raw[n+1])}, nil
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
