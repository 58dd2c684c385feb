// Package pcsc connects to contactless cards through a PC/SC reader.
//
// Storage cards (MIFARE Classic, Ultralight, NTAG) are driven with the
// PC/SC Part 3 pseudo APDUs of package iso7816. Other cards get the APDUs
// of their card family passed through unchanged.
package pcsc

import (
	"context"
	"strings"
	"time"

	"github.com/ansel1/merry/v2"
	"github.com/ebfe/scard"
	log "github.com/sirupsen/logrus"

	"github.com/gregLibert/card-decoder/pkg/card"
)

var (
	// ErrNoReader is returned when no reader matches.
	ErrNoReader = merry.New("no PC/SC reader")
	// ErrNoCard is returned when no card entered the field in time.
	ErrNoCard = merry.New("no card presented")
)

// pollInterval bounds each blocking status wait so cancellation is seen.
const pollInterval = 500 * time.Millisecond

// Context is an established PC/SC context.
type Context struct {
	ctx *scard.Context
	Log log.FieldLogger
}

// Open establishes a PC/SC context.
func Open() (_ *Context, err error) {
	defer deferWrap(&err)

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, card.Errorf(card.ErrTransportFailure, "establish context: %v", err)
	}
	return &Context{ctx: ctx, Log: log.StandardLogger()}, nil
}

func (c *Context) logger() log.FieldLogger {
	if c.Log == nil {
		return log.StandardLogger()
	}
	return c.Log
}

// Close releases the context.
func (c *Context) Close() error {
	return c.ctx.Release()
}

// Readers lists the connected readers.
func (c *Context) Readers() ([]string, error) {
	readers, err := c.ctx.ListReaders()
	if err != nil {
		if code, ok := err.(scard.Error); ok && code == scard.ErrNoReadersAvailable {
			return nil, nil
		}
		return nil, card.Errorf(card.ErrTransportFailure, "list readers: %v", err)
	}
	return readers, nil
}

// FindReader returns the first reader whose name contains match. An empty
// match selects the first reader.
func (c *Context) FindReader(match string) (string, error) {
	readers, err := c.Readers()
	if err != nil {
		return "", err
	}
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), strings.ToLower(match)) {
			return r, nil
		}
	}
	if match == "" {
		return "", ErrNoReader
	}
	return "", merry.Wrap(ErrNoReader, merry.AppendMessagef("matching %q", match))
}

// WaitForCard blocks until a card is in the field of reader, ctx is done
// or timeout elapses. A zero timeout waits for ctx only.
func (c *Context) WaitForCard(ctx context.Context, reader string, timeout time.Duration) (err error) {
	defer deferWrap(&err)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	states := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	c.logger().WithField("reader", reader).Info("Waiting for a card")
	for {
		if err := ctx.Err(); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return ErrNoCard
			}
			return err
		}

		err := c.ctx.GetStatusChange(states, pollInterval)
		if err != nil {
			if code, ok := err.(scard.Error); ok && code == scard.ErrTimeout {
				continue
			}
			return card.Errorf(card.ErrTransportFailure, "status of %s: %v", reader, err)
		}
		if states[0].EventState&scard.StatePresent != 0 && states[0].EventState&scard.StateMute == 0 {
			return nil
		}
		states[0].CurrentState = states[0].EventState
	}
}

// Connect connects to the card in the field of reader.
func (c *Context) Connect(reader string) (_ *Card, err error) {
	defer deferWrap(&err)

	sc, err := c.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, mapError(err)
	}
	status, err := sc.Status()
	if err != nil {
		_ = sc.Disconnect(scard.LeaveCard)
		return nil, mapError(err)
	}

	logger := c.logger().WithField("reader", reader)
	cd, err := newCard(scardTransmitter{card: sc}, status.Atr, logger)
	if err != nil {
		_ = sc.Disconnect(scard.LeaveCard)
		return nil, err
	}
	cd.close = func() error { return sc.Disconnect(scard.LeaveCard) }
	return cd, nil
}
