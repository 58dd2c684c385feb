package iso7816

import (
	"fmt"

	"github.com/gregLibert/card-decoder/pkg/bits"
)

// SecureMessaging is the secure messaging indication of an interindustry
// CLA.
type SecureMessaging int

const (
	SMNone         SecureMessaging = 0
	SMProprietary  SecureMessaging = 1 // first interindustry range only
	SMHeaderNoProc SecureMessaging = 2
	SMHeaderAuth   SecureMessaging = 3 // first interindustry range only
)

// Class is a decoded CLA byte.
//
//	b8     proprietary class when set
//	b7     further interindustry range (channels 4-19) when set
//	b5     command chaining
//	first:   b4-b3 secure messaging, b2-b1 channel
//	further: b6 secure messaging, b4-b1 channel - 4
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         uint8
}

// PCSCClass is the CLA 0xFF that PC/SC part 3 reserves for commands the
// reader executes itself (card UID, key loading, storage card access).
// NewClass rejects it since ISO 7816-4 marks 0xFF invalid on the wire to
// the card.
var PCSCClass = Class{Raw: 0xFF, IsProprietary: true}

// NewClass decodes a CLA byte.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}

	c := Class{Raw: cla}
	switch {
	case bits.IsSet(cla, 8):
		c.IsProprietary = true
	case bits.IsSet(cla, 7):
		c.IsChained = bits.IsSet(cla, 5)
		if bits.IsSet(cla, 6) {
			c.SecureMessaging = SMHeaderNoProc
		}
		c.Channel = bits.GetRange(cla, 4, 1) + 4
	default:
		c.IsChained = bits.IsSet(cla, 5)
		c.SecureMessaging = SecureMessaging(bits.GetRange(cla, 4, 3))
		c.Channel = bits.GetRange(cla, 2, 1)
	}
	return c, nil
}

// Encode returns the CLA byte of c. A proprietary class is returned as is.
func (c *Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > 19 {
		return 0, fmt.Errorf("channel %d out of range (max 19)", c.Channel)
	}

	var res byte
	if c.IsChained {
		res = bits.Set(res, 5)
	}
	if c.Channel <= 3 {
		return res | byte(c.SecureMessaging)<<2 | c.Channel, nil
	}

	if c.SecureMessaging == SMProprietary || c.SecureMessaging == SMHeaderAuth {
		return 0, fmt.Errorf("SM indicator %d not supported on channel %d", c.SecureMessaging, c.Channel)
	}
	res = bits.Set(res, 7)
	if c.SecureMessaging != SMNone {
		res = bits.Set(res, 6)
	}
	return res | (c.Channel - 4), nil
}
