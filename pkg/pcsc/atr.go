package pcsc

import (
	"bytes"

	"github.com/gregLibert/card-decoder/pkg/card"
)

// PC/SC Part 3 storage card ATR:
//
//	3B 8F 80 01 80 4F 0C A0 00 00 03 06 SS NN NN 00 00 00 00 TCK
//
// RID A000000306 marks a storage card; SS is the standard, NN NN the card
// name. Any other ATR is taken as an ISO 14443-4 card speaking APDUs.
var storageRID = []byte{0xA0, 0x00, 0x00, 0x03, 0x06}

const (
	ridOffset  = 7
	nameOffset = 13
)

// Card names of PC/SC Part 3 section 3.1.3.2.3.
const (
	nameMifare1K        uint16 = 0x0001
	nameMifare4K        uint16 = 0x0002
	nameUltralight      uint16 = 0x0003
	nameMifareMini      uint16 = 0x0026
	nameUltralightC     uint16 = 0x003A
	nameMifarePlus2KSL1 uint16 = 0x0036
	nameMifarePlus4KSL1 uint16 = 0x0037
)

// Kind is what the ATR tells about the card in the field.
type Kind struct {
	Protocol card.Protocol
	Name     string

	// Sectors is the sector count of a MIFARE Classic card, zero otherwise.
	Sectors int
}

// Classify reads the card kind from an ATR.
func Classify(atr []byte) Kind {
	if len(atr) < nameOffset+2 || !bytes.Equal(atr[ridOffset:ridOffset+len(storageRID)], storageRID) {
		return Kind{Protocol: card.DirectoryFile, Name: "ISO 14443-4"}
	}

	switch uint16(atr[nameOffset])<<8 | uint16(atr[nameOffset+1]) {
	case nameMifare1K, nameMifarePlus2KSL1:
		return Kind{Protocol: card.SectorBased, Sectors: card.Classic1KSectors, Name: "MIFARE Classic 1K"}
	case nameMifare4K, nameMifarePlus4KSL1:
		return Kind{Protocol: card.SectorBased, Sectors: card.Classic4KSectors, Name: "MIFARE Classic 4K"}
	case nameMifareMini:
		return Kind{Protocol: card.SectorBased, Sectors: card.ClassicMiniSectors, Name: "MIFARE Mini"}
	case nameUltralight:
		return Kind{Protocol: card.PageBased, Name: "MIFARE Ultralight"}
	case nameUltralightC:
		return Kind{Protocol: card.PageBased, Name: "MIFARE Ultralight C"}
	}
	return Kind{Protocol: card.DirectoryFile, Name: "storage card"}
}
