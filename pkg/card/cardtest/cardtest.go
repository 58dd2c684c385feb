// Package cardtest provides in-memory card transports for tests.
package cardtest

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gregLibert/card-decoder/pkg/card"
)

// Classic is a MIFARE Classic card backed by an image. The trailers of
// the image hold the keys that open each sector; key A reads back as
// zeros, as on a real card.
type Classic struct {
	Image *card.Image

	// SectorCount defaults to 16.
	SectorCount int

	// GoneAfter makes every call fail with card.ErrCardGone once that many
	// calls were made. Zero disables it.
	GoneAfter int

	calls  int
	authed int

	// Auths records each attempt as "<sector><type>:<key>".
	Auths []string
}

func (c *Classic) Protocol() card.Protocol { return card.SectorBased }
func (c *Classic) UID() []byte             { return c.Image.UID }

func (c *Classic) Sectors() int {
	if c.SectorCount == 0 {
		return card.Classic1KSectors
	}
	return c.SectorCount
}

func (c *Classic) tick() error {
	c.calls++
	if c.GoneAfter > 0 && c.calls > c.GoneAfter {
		return card.Errorf(card.ErrCardGone, "call %d", c.calls)
	}
	return nil
}

func (c *Classic) Authenticate(_ context.Context, block int, t card.KeyType, k card.Key) error {
	if err := c.tick(); err != nil {
		return err
	}
	s := card.SectorOf(block)
	c.Auths = append(c.Auths, fmt.Sprintf("%d%s:%s", s, t, k))
	c.authed = -1

	trailer, ok := c.Image.Block(card.TrailerBlock(s))
	if !ok {
		return card.Errorf(card.ErrTransportFailure, "sector %d absent", s)
	}
	pair, err := card.TrailerKeys(trailer)
	if err != nil {
		return err
	}
	if pair.Get(t) != k {
		return card.Errorf(card.ErrTransportFailure, "sector %d: auth %s failed", s, t)
	}
	c.authed = s
	return nil
}

func (c *Classic) ReadBlock(_ context.Context, block int) ([]byte, error) {
	if err := c.tick(); err != nil {
		return nil, err
	}
	if card.SectorOf(block) != c.authed {
		return nil, card.Errorf(card.ErrTransportFailure, "block %d: not authenticated", block)
	}
	data, ok := c.Image.Block(block)
	if !ok {
		return nil, card.Errorf(card.ErrTransportFailure, "block %d absent", block)
	}
	out := append([]byte(nil), data...)
	if block == card.TrailerBlock(card.SectorOf(block)) {
		copy(out[0:6], make([]byte, 6))
	}
	return out, nil
}

// Pages is an Ultralight / NTAG card backed by an image.
type Pages struct {
	Image     *card.Image
	GoneAfter int

	calls int
}

func (p *Pages) Protocol() card.Protocol { return card.PageBased }
func (p *Pages) UID() []byte             { return p.Image.UID }

func (p *Pages) ReadPages(_ context.Context, page int) ([]byte, error) {
	p.calls++
	if p.GoneAfter > 0 && p.calls > p.GoneAfter {
		return nil, card.Errorf(card.ErrCardGone, "call %d", p.calls)
	}
	data, ok := p.Image.Block(page)
	if !ok {
		return nil, card.Errorf(card.ErrTransportFailure, "page %d: NAK", page)
	}
	out := append([]byte(nil), data...)
	for i := page + 1; i < page+4; i++ {
		d, ok := p.Image.Block(i)
		if !ok {
			d = make([]byte, card.PageSize)
		}
		out = append(out, d...)
	}
	return out, nil
}

// APDU is a directory-file card answering from a hex table keyed by the
// upper-case command. Unknown commands answer 6A82.
type APDU struct {
	CardUID []byte
	Replies map[string]string

	// Gone makes every command fail with card.ErrCardGone.
	Gone bool

	Sent []string
}

func (a *APDU) Protocol() card.Protocol { return card.DirectoryFile }
func (a *APDU) UID() []byte             { return a.CardUID }

func (a *APDU) Transmit(cmd []byte) ([]byte, error) {
	if a.Gone {
		return nil, card.Errorf(card.ErrCardGone, "transmit")
	}
	key := strings.ToUpper(hex.EncodeToString(cmd))
	a.Sent = append(a.Sent, key)
	reply, ok := a.Replies[key]
	if !ok {
		return []byte{0x6A, 0x82}, nil
	}
	return hex.DecodeString(strings.ReplaceAll(reply, " ", ""))
}

// ClassicImage builds an image of the given number of sectors. Sectors
// missing from keys use FFFFFFFFFFFF for both keys. fill supplies block
// contents (nil means zeros); trailers are overwritten with the keys.
func ClassicImage(uid []byte, sectors int, keys card.KeySet, fill func(block int) []byte) *card.Image {
	b := card.NewImageBuilder(card.SectorBased, uid)
	for s := 0; s < sectors; s++ {
		pair, ok := keys[s]
		if !ok {
			pair = card.KeyPair{A: card.MustParseKey("FFFFFFFFFFFF"), B: card.MustParseKey("FFFFFFFFFFFF")}
		}
		for i := card.FirstBlock(s); i <= card.TrailerBlock(s); i++ {
			var data []byte
			if fill != nil {
				data = append(data, fill(i)...)
			}
			if len(data) < card.ClassicBlockSize {
				data = append(data, make([]byte, card.ClassicBlockSize-len(data))...)
			}
			if i == card.TrailerBlock(s) {
				copy(data[0:6], pair.A[:])
				copy(data[6:10], []byte{0xFF, 0x07, 0x80, 0x69})
				copy(data[10:16], pair.B[:])
			}
			b.AddBlock(i, data)
		}
	}
	return b.Image()
}
