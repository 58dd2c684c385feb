package card

import (
	"context"
	"errors"

	"github.com/ansel1/merry/v2"

	"github.com/gregLibert/card-decoder/pkg/iso7816"
)

var (
	// ErrTransportFailure reports a block or file transaction that could
	// not complete.
	ErrTransportFailure = merry.New("transport failure")
	// ErrCardGone reports that the card left the field. Nothing more can be
	// read from it.
	ErrCardGone = merry.New("card removed")
	// ErrAuthenticationMismatch reports a key or checksum that does not
	// match what a card family expects.
	ErrAuthenticationMismatch = merry.New("authentication mismatch")
)

// Errorf wraps a sentinel with a formatted detail message.
func Errorf(sentinel error, format string, args ...interface{}) error {
	return merry.WrapSkipping(sentinel, 1, merry.AppendMessagef(format, args...))
}

// IsCardGone reports whether err means the card left the field.
func IsCardGone(err error) bool {
	return errors.Is(err, ErrCardGone)
}

// Transport is a handle on the card currently in the field.
type Transport interface {
	Protocol() Protocol
	UID() []byte
}

// SectorTransport reads MIFARE Classic cards. Authenticate must succeed on
// a sector before its blocks can be read.
type SectorTransport interface {
	Transport
	Sectors() int
	Authenticate(ctx context.Context, block int, t KeyType, k Key) error
	ReadBlock(ctx context.Context, block int) ([]byte, error)
}

// PageTransport reads Ultralight / NTAG cards. ReadPages returns the 16
// bytes of the four pages starting at page.
type PageTransport interface {
	Transport
	ReadPages(ctx context.Context, page int) ([]byte, error)
}

// FileTransport exchanges APDUs with a directory-file card.
type FileTransport interface {
	Transport
	iso7816.Transmitter
}
