package iso7816

import "fmt"

// SelectionMethod defines how the file is targeted (P1).
type SelectionMethod byte

const (
	SelectByFileID          SelectionMethod = 0x00
	SelectChildDF           SelectionMethod = 0x01
	SelectEFUnderCurrentDF  SelectionMethod = 0x02
	SelectParentDF          SelectionMethod = 0x03
	SelectByDFName          SelectionMethod = 0x04 // Select by AID
	SelectPathFromMF        SelectionMethod = 0x08
	SelectPathFromCurrentDF SelectionMethod = 0x09
)

var selectionMethodNames = map[SelectionMethod]string{
	SelectByFileID:          "Select by File ID",
	SelectChildDF:           "Select Child DF",
	SelectEFUnderCurrentDF:  "Select EF under current DF",
	SelectParentDF:          "Select Parent DF",
	SelectByDFName:          "Select by DF Name (AID)",
	SelectPathFromMF:        "Select Path from MF",
	SelectPathFromCurrentDF: "Select Path from Current DF",
}

func (s SelectionMethod) String() string {
	if name, ok := selectionMethodNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Method (0x%02X)", byte(s))
}

// FileOccurrence defines which instance of the file to select (Bits 1-2 of P2).
type FileOccurrence byte

const (
	FirstOrOnlyOccurrence FileOccurrence = 0b0000_00_00
	LastOccurrence        FileOccurrence = 0b0000_00_01
	NextOccurrence        FileOccurrence = 0b0000_00_10
	PreviousOccurrence    FileOccurrence = 0b0000_00_11
)

var fileOccurrenceNames = map[FileOccurrence]string{
	FirstOrOnlyOccurrence: "First/Only",
	LastOccurrence:        "Last",
	NextOccurrence:        "Next",
	PreviousOccurrence:    "Previous",
}

func (f FileOccurrence) String() string {
	if name, ok := fileOccurrenceNames[f]; ok {
		return name
	}
	return "Unknown Occurrence"
}

// SelectionControl defines what data to return (Bits 3-4 of P2).
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0b0000_00_00
	ReturnFCP    SelectionControl = 0b0000_01_00
	ReturnFMD    SelectionControl = 0b0000_10_00
	ReturnNoData SelectionControl = 0b0000_11_00
)

var selectionControlNames = map[SelectionControl]string{
	ReturnFCI:    "Return FCI",
	ReturnFCP:    "Return FCP",
	ReturnFMD:    "Return FMD",
	ReturnNoData: "No Response Data",
}

func (s SelectionControl) String() string {
	if name, ok := selectionControlNames[s]; ok {
		return name
	}
	return "Unknown Control"
}

// NewSelectCommand builds a SELECT. P2 combines ctrl and occurrence.
//
// A command carrying data has no Le: T=0 cards cannot take Lc and Le
// together and answer 61XX instead, which Client.Send follows.
func NewSelectCommand(cla Class, method SelectionMethod, occurrence FileOccurrence, ctrl SelectionControl, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_SELECT)

	ne := 0
	if len(data) == 0 && ctrl != ReturnNoData {
		ne = MaxShortLe
	}
	return NewCommandAPDU(cla, ins, byte(method), byte(ctrl)|byte(occurrence), data, ne)
}

// SelectByAID selects an application by name, asking for its FCI.
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, FirstOrOnlyOccurrence, ReturnFCI, aid)
}
