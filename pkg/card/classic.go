package card

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MIFARE Classic geometry. Sectors 0-31 hold 4 blocks; the 4K card adds
// sectors 32-39 of 16 blocks. The last block of a sector is its trailer:
//
//	bytes 0-5   key A (reads back as zeros)
//	bytes 6-9   access bits
//	bytes 10-15 key B
const (
	Classic1KSectors   = 16
	Classic4KSectors   = 40
	ClassicMiniSectors = 5
)

// FirstBlock returns the first block number of sector s.
func FirstBlock(s int) int {
	if s < 32 {
		return s * 4
	}
	return 128 + (s-32)*16
}

// BlocksIn returns the number of blocks of sector s.
func BlocksIn(s int) int {
	if s < 32 {
		return 4
	}
	return 16
}

// TrailerBlock returns the trailer block number of sector s.
func TrailerBlock(s int) int {
	return FirstBlock(s) + BlocksIn(s) - 1
}

// SectorOf returns the sector holding block b.
func SectorOf(b int) int {
	if b < 128 {
		return b / 4
	}
	return 32 + (b-128)/16
}

// KeyType selects key A or key B.
type KeyType int

const (
	KeyA KeyType = iota
	KeyB
)

func (t KeyType) String() string {
	if t == KeyB {
		return "B"
	}
	return "A"
}

// Key is a 6-byte MIFARE Classic key.
type Key [6]byte

// ParseKey decodes 12 hex digits.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return k, fmt.Errorf("key %q: %w", s, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("key %q: want 6 bytes, got %d", s, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// MustParseKey is ParseKey for constants.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// KeyFromBytes copies the first 6 bytes of b.
func KeyFromBytes(b []byte) Key {
	var k Key
	copy(k[:], b)
	return k
}

func (k Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

func (k Key) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

func (k *Key) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseKey(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*k = parsed
	return nil
}

// KeyPair holds the two keys of a sector.
type KeyPair struct {
	A Key `yaml:"a"`
	B Key `yaml:"b"`
}

// Get returns the key of type t.
func (p KeyPair) Get(t KeyType) Key {
	if t == KeyB {
		return p.B
	}
	return p.A
}

// KeySet maps sector numbers to their keys.
type KeySet map[int]KeyPair

// TrailerKeys extracts key A and key B from a trailer block.
func TrailerKeys(trailer []byte) (KeyPair, error) {
	if len(trailer) < ClassicBlockSize {
		return KeyPair{}, fmt.Errorf("trailer block too short: %d bytes", len(trailer))
	}
	return KeyPair{A: KeyFromBytes(trailer[0:6]), B: KeyFromBytes(trailer[10:16])}, nil
}

// CheckTrailerKey verifies that the trailer of sector s in img carries key
// k of type t. A missing trailer or different key is an
// ErrAuthenticationMismatch.
func CheckTrailerKey(img *Image, s int, t KeyType, k Key) error {
	trailer, ok := img.Block(TrailerBlock(s))
	if !ok {
		return Errorf(ErrAuthenticationMismatch, "sector %d trailer not read", s)
	}
	pair, err := TrailerKeys(trailer)
	if err != nil {
		return Errorf(ErrAuthenticationMismatch, "sector %d: %v", s, err)
	}
	if got := pair.Get(t); !bytes.Equal(got[:], k[:]) {
		return Errorf(ErrAuthenticationMismatch, "sector %d key %s is %s, want %s", s, t, got, k)
	}
	return nil
}
