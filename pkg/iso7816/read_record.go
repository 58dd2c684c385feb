package iso7816

import "fmt"

// ReadRecordMode is the low three bits of the READ RECORD P2: whether P1
// is a record number or identifier, and which records to return. The SFI
// takes the upper five bits.
type ReadRecordMode byte

const (
	RefByID_FirstOccurrence    ReadRecordMode = 0b000
	RefByID_LastOccurrence     ReadRecordMode = 0b001
	RefByID_NextOccurrence     ReadRecordMode = 0b010
	RefByID_PreviousOccurrence ReadRecordMode = 0b011

	RefByNum_ReadP1              ReadRecordMode = 0b100
	RefByNum_ReadAllFromP1       ReadRecordMode = 0b101
	RefByNum_ReadAllFromLastToP1 ReadRecordMode = 0b110
)

var readRecordModeNames = map[ReadRecordMode]string{
	RefByID_FirstOccurrence:      "Ref ID: First Occurrence",
	RefByID_LastOccurrence:       "Ref ID: Last Occurrence",
	RefByID_NextOccurrence:       "Ref ID: Next Occurrence",
	RefByID_PreviousOccurrence:   "Ref ID: Previous Occurrence",
	RefByNum_ReadP1:              "Ref Num: Read Record P1",
	RefByNum_ReadAllFromP1:       "Ref Num: Read All from P1",
	RefByNum_ReadAllFromLastToP1: "Ref Num: Read All from Last to P1",
}

func (m ReadRecordMode) String() string {
	if name, ok := readRecordModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Mode (0x%X)", byte(m))
}

// NewReadRecordCommand builds a READ RECORD. It always asks for a full
// short response.
func NewReadRecordCommand(cla Class, sfi byte, p1 byte, mode ReadRecordMode) *CommandAPDU {
	ins, _ := NewInstruction(INS_READ_RECORD)
	return NewCommandAPDU(cla, ins, p1, sfi<<3|byte(mode), nil, MaxShortLe)
}

// ReadRecord reads record number n of sfi. An sfi of 0 means the current
// EF.
func ReadRecord(cla Class, sfi byte, n byte) *CommandAPDU {
	return NewReadRecordCommand(cla, sfi, n, RefByNum_ReadP1)
}
