package iso7816

import "fmt"

// PC/SC STORAGE CARD COMMANDS (PC/SC Part 3, section 3.2.2):
// Memory cards such as MIFARE Classic or Ultralight do not speak APDUs.
// PC/SC readers expose them through pseudo-APDUs with CLA 'FF' which the
// reader firmware translates into the native contactless frames:
//
//   - GET DATA       FF CA 00 00 00          UID of the card in the field.
//   - LOAD KEY       FF 82 00 nn 06 <key>    Store a 6-byte key in slot nn.
//   - GENERAL AUTH   FF 86 00 00 05 01 00 bb tt nn
//                                            Authenticate block bb with key
//                                            type tt (60 = A, 61 = B) held
//                                            in slot nn.
//   - READ BINARY    FF B0 00 bb le          Read le bytes from block (or
//                                            page) bb.
//
// Success is '9000'; authentication failures surface as '6300' or '6982'
// depending on the reader.

// MIFARE key types as encoded in GENERAL AUTHENTICATE.
const (
	MifareKeyA byte = 0x60
	MifareKeyB byte = 0x61
)

// GetUID builds the GET DATA command returning the card UID.
func GetUID() *CommandAPDU {
	ins, _ := NewInstruction(INS_GET_DATA)
	return NewCommandAPDU(PCSCClass, ins, 0x00, 0x00, nil, MaxShortLe)
}

// LoadKey builds the LOAD KEY command storing key in the volatile slot.
func LoadKey(slot byte, key []byte) (*CommandAPDU, error) {
	if len(key) != 6 {
		return nil, fmt.Errorf("load key: want 6 bytes, got %d", len(key))
	}
	// EXTERNAL AUTHENTICATE shares 0x82 with the PC/SC LOAD KEY.
	ins, _ := NewInstruction(INS_EXTERNAL_AUTHENTICATE)
	return NewCommandAPDU(PCSCClass, ins, 0x00, slot, key, 0), nil
}

// GeneralAuthenticate builds the authentication of block with the key in
// slot.
func GeneralAuthenticate(block uint16, keyType byte, slot byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_GENERAL_AUTHENTICATE)
	data := []byte{0x01, byte(block >> 8), byte(block), keyType, slot}
	return NewCommandAPDU(PCSCClass, ins, 0x00, 0x00, data, 0)
}

// ReadBinary builds the read of n bytes at block (or page) number.
func ReadBinary(block uint16, n int) *CommandAPDU {
	ins, _ := NewInstruction(INS_READ_BINARY)
	return NewCommandAPDU(PCSCClass, ins, byte(block>>8), byte(block), nil, n)
}
