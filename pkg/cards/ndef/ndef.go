// Package ndef decodes NFC Forum type 2 tags (NTAG, Ultralight) holding
// NDEF messages.
//
// The capability container sits in page 3; the TLV area starts at page 4
// and spans 8 bytes per unit of the container's size byte.
package ndef

import (
	"fmt"
	"strings"

	"github.com/ansel1/merry/v2"
	gondef "github.com/hsanjuan/go-ndef"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/render"
)

const Name = "ndef"

var (
	// ErrNoCapabilityContainer is returned when page 3 does not announce
	// an NDEF data area.
	ErrNoCapabilityContainer = merry.New("ndef: no capability container")
	// ErrNoMessage is returned when the TLV area holds no terminated
	// NDEF message.
	ErrNoMessage = merry.New("ndef: no message")
)

const (
	ccPage    = 3
	dataPage  = 4
	ccMagic   = 0xE1
	ccVersion = 0x10
)

// TLV tags of the data area.
const (
	tlvNull        = 0x00
	tlvLockControl = 0x01
	tlvMemControl  = 0x02
	tlvMessage     = 0x03
	tlvProprietary = 0xFD
	tlvTerminator  = 0xFE
)

// Type name formats used to classify records.
const (
	tnfWellKnown = 0x01
	tnfMedia     = 0x02
)

// Tag names by data area size byte.
var tagTypes = map[byte]string{
	0x06: "NTAG203",
	0x12: "NTAG213",
	0x3E: "NTAG215",
	0x6D: "NTAG216",
}

// Recognizer returns the ndef recognizer. It relies on the default page
// read.
func Recognizer() recognizer.Recognizer {
	return recognizer.Recognizer{
		Name:     Name,
		Protocol: card.PageBased,
		Parse:    Parse,
	}
}

// DataArea returns the TLV area announced by the capability container.
// Pages missing from the image end the area early.
func DataArea(img *card.Image) ([]byte, error) {
	cc, ok := img.Block(ccPage)
	if !ok || len(cc) < card.PageSize {
		return nil, merry.Wrap(ErrNoCapabilityContainer, merry.AppendMessage("page 3 not read"))
	}
	if cc[0] != ccMagic || cc[1] != ccVersion {
		return nil, merry.Wrap(ErrNoCapabilityContainer, merry.AppendMessagef("magic %02X version %02X", cc[0], cc[1]))
	}

	size := int(cc[2]) * 8
	var area []byte
	for page := dataPage; len(area) < size; page++ {
		data, ok := img.Block(page)
		if !ok {
			break
		}
		area = append(area, data...)
	}
	if len(area) > size {
		area = area[:size]
	}
	return area, nil
}

// Messages walks the TLV area and returns the raw NDEF messages found
// before the terminator. A malformed or unknown TLV stops the walk; the
// messages are only returned when a terminator was reached.
func Messages(area []byte) ([][]byte, error) {
	var msgs [][]byte
	for i := 0; i < len(area); {
		tag := area[i]
		i++
		switch tag {
		case tlvNull:
			continue
		case tlvTerminator:
			if len(msgs) == 0 {
				return nil, merry.Wrap(ErrNoMessage, merry.AppendMessage("terminator before any message"))
			}
			return msgs, nil
		case tlvMessage, tlvLockControl, tlvMemControl, tlvProprietary:
			n, hdr, ok := tlvLength(area[i:])
			if !ok || i+hdr+n > len(area) {
				return nil, merry.Wrap(ErrNoMessage, merry.AppendMessagef("TLV %02X at %d overruns the data area", tag, i-1))
			}
			i += hdr
			if tag == tlvMessage {
				msgs = append(msgs, area[i:i+n])
			}
			i += n
		default:
			return nil, merry.Wrap(ErrNoMessage, merry.AppendMessagef("unknown TLV %02X at %d", tag, i-1))
		}
	}
	return nil, merry.Wrap(ErrNoMessage, merry.AppendMessage("no terminator"))
}

// tlvLength reads a 1-byte length, or 0xFF followed by a big-endian
// 16-bit length. hdr is the number of bytes consumed.
func tlvLength(b []byte) (n, hdr int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	if b[0] != 0xFF {
		return int(b[0]), 1, true
	}
	if len(b) < 3 {
		return 0, 0, false
	}
	return int(bits.BytesToNumBE(b[1:3])), 3, true
}

// Entry is one decoded record.
type Entry struct {
	Kind  string
	Value string
}

// Describe classifies a record the way a reader app would show it.
func Describe(r *gondef.Record) Entry {
	pl, err := r.Payload()
	if err != nil {
		return Entry{Kind: "Invalid", Value: err.Error()}
	}
	value := pl.String()
	typ := r.Type()

	switch {
	case value == "":
		return Entry{Kind: "Empty"}
	case r.TNF() == tnfWellKnown && typ == "T":
		return Entry{Kind: "Text", Value: printable(value)}
	case r.TNF() == tnfWellKnown && typ == "U":
		switch {
		case strings.HasPrefix(value, "http"):
			return Entry{Kind: "URL", Value: value}
		case strings.HasPrefix(value, "tel:"):
			return Entry{Kind: "Phone", Value: strings.TrimPrefix(value, "tel:")}
		case strings.HasPrefix(value, "mailto:"):
			return Entry{Kind: "Mail", Value: strings.TrimPrefix(value, "mailto:")}
		}
		return Entry{Kind: "URI", Value: value}
	case r.TNF() == tnfMedia && typ == "text/vcard":
		return Entry{Kind: "Contact", Value: printable(value)}
	}
	return Entry{Kind: typ, Value: printable(value)}
}

// printable hex-dumps values that are not plain ASCII text.
func printable(s string) string {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < ' ' || c > '~') && c != '\r' && c != '\n' {
			return fmt.Sprintf("% X", []byte(s))
		}
	}
	return s
}

// Parse decodes every NDEF message of the tag.
func Parse(img *card.Image) (*recognizer.Result, error) {
	area, err := DataArea(img)
	if err != nil {
		return nil, err
	}
	raw, err := Messages(area)
	if err != nil {
		return nil, err
	}

	cc, _ := img.Block(ccPage)
	tagType, ok := tagTypes[cc[2]]
	if !ok {
		tagType = "Unknown"
	}

	b := record.NewBuilder(Name).
		SetString("tag_type", tagType).
		SetInt("messages", int64(len(raw)))
	tmpl := render.Template{
		Title: "NDEF Format Data",
		Sections: []render.Section{{
			Lines: []render.Line{{Label: "Card type", Field: "tag_type"}},
		}},
	}

	for m, data := range raw {
		var msg gondef.Message
		if _, err := msg.Unmarshal(data); err != nil {
			return nil, merry.Wrap(ErrNoMessage, merry.AppendMessagef("message %d: %v", m+1, err))
		}
		for n, r := range msg.Records {
			prefix := fmt.Sprintf("m%d.r%d.", m+1, n+1)
			e := Describe(r)
			b.SetString(prefix+"kind", e.Kind)
			line := render.Line{Text: e.Kind}
			if e.Value != "" {
				b.SetString(prefix+"value", e.Value)
				line = render.Line{Label: e.Kind, Field: "value"}
			}
			tmpl.Sections = append(tmpl.Sections, render.Section{
				Header: fmt.Sprintf("M:%d R:%d", m+1, n+1),
				Prefix: prefix,
				Lines:  []render.Line{line},
			})
		}
	}

	return &recognizer.Result{Record: b.Record(), Template: tmpl}, nil
}
