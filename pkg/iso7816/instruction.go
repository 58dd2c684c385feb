package iso7816

import (
	"fmt"

	"github.com/gregLibert/card-decoder/pkg/bits"
)

// InsCode is an INS byte.
type InsCode byte

// Interindustry instructions of ISO/IEC 7816-4 that a reader sends to
// contactless cards. An odd code is the BER-TLV variant of the even one.
const (
	INS_VERIFY                   InsCode = 0x20
	INS_EXTERNAL_AUTHENTICATE    InsCode = 0x82 // LOAD KEY under CLA FF
	INS_GET_CHALLENGE            InsCode = 0x84
	INS_GENERAL_AUTHENTICATE     InsCode = 0x86
	INS_GENERAL_AUTHENTICATE_BER InsCode = 0x87
	INS_INTERNAL_AUTHENTICATE    InsCode = 0x88
	INS_SELECT                   InsCode = 0xA4
	INS_READ_BINARY              InsCode = 0xB0
	INS_READ_BINARY_BER          InsCode = 0xB1
	INS_READ_RECORD              InsCode = 0xB2
	INS_READ_RECORD_BER          InsCode = 0xB3
	INS_GET_RESPONSE             InsCode = 0xC0
	INS_ENVELOPE                 InsCode = 0xC2
	INS_GET_DATA                 InsCode = 0xCA
	INS_GET_DATA_BER             InsCode = 0xCB
	INS_UPDATE_BINARY            InsCode = 0xD6
)

var insCodeNames = map[InsCode]string{
	INS_VERIFY:                   "VERIFY",
	INS_EXTERNAL_AUTHENTICATE:    "EXTERNAL AUTHENTICATE",
	INS_GET_CHALLENGE:            "GET CHALLENGE",
	INS_GENERAL_AUTHENTICATE:     "GENERAL AUTHENTICATE",
	INS_GENERAL_AUTHENTICATE_BER: "GENERAL AUTHENTICATE",
	INS_INTERNAL_AUTHENTICATE:    "INTERNAL AUTHENTICATE",
	INS_SELECT:                   "SELECT",
	INS_READ_BINARY:              "READ BINARY",
	INS_READ_BINARY_BER:          "READ BINARY",
	INS_READ_RECORD:              "READ RECORD",
	INS_READ_RECORD_BER:          "READ RECORD",
	INS_GET_RESPONSE:             "GET RESPONSE",
	INS_ENVELOPE:                 "ENVELOPE",
	INS_GET_DATA:                 "GET DATA",
	INS_GET_DATA_BER:             "GET DATA",
	INS_UPDATE_BINARY:            "UPDATE BINARY",
}

// String returns the command name, or the code in hex.
func (i InsCode) String() string {
	if name, ok := insCodeNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS %02X", byte(i))
}

// Instruction is a validated INS byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction rejects the 6X and 9X values ISO 7816-3 keeps for
// procedure bytes.
func NewInstruction(ins InsCode) (Instruction, error) {
	if hi := byte(ins) & 0xF0; hi == 0x60 || hi == 0x90 {
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}
	return Instruction{Raw: ins, IsBERTLV: bits.IsSet(byte(ins), 1)}, nil
}

// NewProprietaryInstruction wraps an INS byte sent under a proprietary class.
// The vendor owns that instruction space, so 6X and 9X values are legal
// there (DESFire uses 0x6A and 0x6F, for instance).
func NewProprietaryInstruction(ins byte) Instruction {
	return Instruction{Raw: InsCode(ins)}
}

// Verbose describes the instruction for debug output.
func (i Instruction) Verbose() string {
	format := "Standard"
	if i.IsBERTLV {
		format = "BER-TLV"
	}
	return fmt.Sprintf("INS: 0x%02X | Command: %s | Format: %s", byte(i.Raw), i.Raw, format)
}
