package pcsc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ebfe/scard"
	log "github.com/sirupsen/logrus"

	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/iso7816"
)

// keySlot is the volatile reader slot LOAD KEY writes to.
const keySlot = 0x00

// Card is the card in the field of a PC/SC reader. It implements
// card.SectorTransport, card.PageTransport and card.FileTransport; Protocol
// tells which of them the card actually supports.
type Card struct {
	kind   Kind
	uid    []byte
	atr    []byte
	tx     iso7816.Transmitter
	client *iso7816.Client
	close  func() error
}

var (
	_ card.SectorTransport = (*Card)(nil)
	_ card.PageTransport   = (*Card)(nil)
	_ card.FileTransport   = (*Card)(nil)
)

// newCard classifies the card from its ATR and fetches its UID.
func newCard(tx iso7816.Transmitter, atr []byte, logger log.FieldLogger) (_ *Card, err error) {
	defer deferWrap(&err)

	c := &Card{kind: Classify(atr), atr: atr, tx: tx, client: iso7816.NewClient(tx)}
	c.client.Log = logger

	c.uid, err = c.storage(iso7816.GetUID())
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"uid":  c.uid,
		"atr":  atr,
		"kind": c.kind.Name,
	}).Info("Card connected")
	return c, nil
}

// Kind returns what the ATR tells about the card.
func (c *Card) Kind() Kind { return c.kind }

// ATR returns the answer to reset.
func (c *Card) ATR() []byte { return c.atr }

func (c *Card) Protocol() card.Protocol { return c.kind.Protocol }
func (c *Card) UID() []byte             { return c.uid }
func (c *Card) Sectors() int            { return c.kind.Sectors }

// Transmit sends a raw APDU.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	return c.tx.Transmit(cmd)
}

// storage sends a PC/SC pseudo APDU and returns its data.
func (c *Card) storage(cmd *iso7816.CommandAPDU) ([]byte, error) {
	trace, err := c.client.Send(cmd)
	if err != nil {
		return nil, err
	}
	data, err := trace.Data()
	if err != nil {
		return nil, card.Errorf(card.ErrTransportFailure, "%s: %v", cmd, err)
	}
	return data, nil
}

// Authenticate loads k into the reader and authenticates block with it.
func (c *Card) Authenticate(ctx context.Context, block int, t card.KeyType, k card.Key) (err error) {
	defer deferWrap(&err)

	if err = ctx.Err(); err != nil {
		return err
	}
	load, err := iso7816.LoadKey(keySlot, k[:])
	if err != nil {
		return err
	}
	if _, err = c.storage(load); err != nil {
		return err
	}

	keyType := iso7816.MifareKeyA
	if t == card.KeyB {
		keyType = iso7816.MifareKeyB
	}
	_, err = c.storage(iso7816.GeneralAuthenticate(uint16(block), keyType, keySlot))
	if err != nil && !card.IsCardGone(err) {
		return card.Errorf(card.ErrAuthenticationMismatch, "block %d key %s: %v", block, t, err)
	}
	return err
}

// ReadBlock reads one 16-byte block of an authenticated sector.
func (c *Card) ReadBlock(ctx context.Context, block int) (_ []byte, err error) {
	defer deferWrap(&err)

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	return c.read(block, card.ClassicBlockSize)
}

// ReadPages reads the four pages starting at page.
func (c *Card) ReadPages(ctx context.Context, page int) (_ []byte, err error) {
	defer deferWrap(&err)

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	return c.read(page, 4*card.PageSize)
}

func (c *Card) read(index, n int) ([]byte, error) {
	data, err := c.storage(iso7816.ReadBinary(uint16(index), n))
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, card.Errorf(card.ErrTransportFailure, "read %d: got %d bytes, want %d", index, len(data), n)
	}
	return data, nil
}

// Close releases the card, leaving it powered.
func (c *Card) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// scardTransmitter maps scard errors onto the card sentinels.
type scardTransmitter struct {
	card *scard.Card
}

func (t scardTransmitter) Transmit(cmd []byte) ([]byte, error) {
	resp, err := t.card.Transmit(cmd)
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

// mapError turns a removed or reset card into card.ErrCardGone and any
// other PC/SC failure into card.ErrTransportFailure.
func mapError(err error) error {
	var code scard.Error
	if errors.As(err, &code) {
		switch code {
		case scard.ErrRemovedCard, scard.ErrResetCard, scard.ErrNoSmartcard, scard.ErrUnpoweredCard:
			return card.Errorf(card.ErrCardGone, "%v", err)
		}
	}
	return card.Errorf(card.ErrTransportFailure, "%v", err)
}

func (c *Card) String() string {
	return fmt.Sprintf("%s %X", c.kind.Name, c.uid)
}
