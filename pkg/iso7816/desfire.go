package iso7816

import (
	"errors"
	"fmt"
)

// DESFIRE NATIVE COMMANDS (ISO 7816-4 wrapping):
// MIFARE DESFire cards accept their native command set wrapped in APDUs:
//
//	90 <cmd> 00 00 [Lc <data>] 00
//
// The card answers with the native payload followed by '91 <status>'.
// Status '00' ends the exchange, 'AF' means another frame is waiting and
// must be fetched with the ADDITIONAL FRAME command (0xAF).

// Native DESFire command codes.
const (
	DESFireGetVersion        byte = 0x60
	DESFireGetApplicationIDs byte = 0x6A
	DESFireSelectApplication byte = 0x5A
	DESFireGetFileIDs        byte = 0x6F
	DESFireGetFileSettings   byte = 0xF5
	DESFireReadData          byte = 0xBD
	DESFireGetValue          byte = 0x6C
	DESFireReadRecords       byte = 0xBB
	DESFireAdditionalFrame   byte = 0xAF
)

// DESFireClass is the proprietary class used to wrap native commands.
var DESFireClass = Class{Raw: 0x90, IsProprietary: true}

// DESFireStatus is the native status code carried in SW2 after '91'.
type DESFireStatus byte

const (
	DESFireOK               DESFireStatus = 0x00
	DESFireMoreFrames       DESFireStatus = 0xAF
	DESFirePermissionDenied DESFireStatus = 0x9D
	DESFireAppNotFound      DESFireStatus = 0xA0
	DESFireAuthError        DESFireStatus = 0xAE
	DESFireFileNotFound     DESFireStatus = 0xF0
	DESFireBoundaryError    DESFireStatus = 0xBE
)

func (s DESFireStatus) Error() string {
	switch s {
	case DESFirePermissionDenied:
		return "desfire: permission denied"
	case DESFireAppNotFound:
		return "desfire: application not found"
	case DESFireAuthError:
		return "desfire: authentication error"
	case DESFireFileNotFound:
		return "desfire: file not found"
	case DESFireBoundaryError:
		return "desfire: boundary error"
	}
	return fmt.Sprintf("desfire: status 0x%02X", byte(s))
}

// maxFrames bounds the frames of one native exchange. An 8 KB file read
// takes 139 frames of 59 bytes.
const maxFrames = 256

// ErrTooManyFrames is returned when a card keeps announcing more frames.
var ErrTooManyFrames = errors.New("desfire: too many additional frames")

// NativeCommand wraps a native DESFire command.
func NativeCommand(cmd byte, data []byte) *CommandAPDU {
	return NewCommandAPDU(DESFireClass, NewProprietaryInstruction(cmd), 0x00, 0x00, data, MaxShortLe)
}

// SendNative runs a native command, following additional frames, and
// returns the concatenated payload.
func (c *Client) SendNative(cmd byte, data []byte) ([]byte, error) {
	var out []byte
	next := NativeCommand(cmd, data)

	for frame := 0; frame < maxFrames; frame++ {
		trace, err := c.Send(next)
		if err != nil {
			return nil, err
		}
		resp := trace.Last().Response
		if resp.Status.SW1() != 0x91 {
			return nil, StatusError(resp.Status)
		}

		out = append(out, resp.Data...)
		switch status := DESFireStatus(resp.Status.SW2()); status {
		case DESFireOK:
			return out, nil
		case DESFireMoreFrames:
			next = NativeCommand(DESFireAdditionalFrame, nil)
		default:
			return nil, status
		}
	}
	return nil, ErrTooManyFrames
}

// DESFire file types.
const (
	DESFireStandardFile     byte = 0x00
	DESFireBackupFile       byte = 0x01
	DESFireValueFile        byte = 0x02
	DESFireLinearRecordFile byte = 0x03
	DESFireCyclicRecordFile byte = 0x04
)

// DESFireFileSettings is the part of GET FILE SETTINGS needed to read a
// file.
type DESFireFileSettings struct {
	Type byte

	// Size of a data file, or record size for record files.
	Size int

	// Records currently stored, for record files.
	Records int
}

// ParseDESFireFileSettings decodes a GET FILE SETTINGS payload.
func ParseDESFireFileSettings(b []byte) (DESFireFileSettings, error) {
	if len(b) < 7 {
		return DESFireFileSettings{}, fmt.Errorf("file settings too short: %d bytes", len(b))
	}
	s := DESFireFileSettings{Type: b[0]}
	le24 := func(p []byte) int { return int(p[0]) | int(p[1])<<8 | int(p[2])<<16 }

	switch s.Type {
	case DESFireStandardFile, DESFireBackupFile:
		s.Size = le24(b[4:7])
	case DESFireLinearRecordFile, DESFireCyclicRecordFile:
		if len(b) < 13 {
			return s, fmt.Errorf("record file settings too short: %d bytes", len(b))
		}
		s.Size = le24(b[4:7])
		s.Records = le24(b[10:13])
	case DESFireValueFile:
		s.Size = 4
	}
	return s, nil
}

// ReadDataPayload encodes the READ DATA arguments: file number, offset and
// length (0 = whole file), both 24-bit little-endian.
func ReadDataPayload(file byte, offset, length int) []byte {
	return []byte{
		file,
		byte(offset), byte(offset >> 8), byte(offset >> 16),
		byte(length), byte(length >> 8), byte(length >> 16),
	}
}
