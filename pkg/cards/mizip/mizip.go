// Package mizip decodes MiZIP prepaid cards (laundry and vending
// machines). Sector keys are derived from the card UID.
package mizip

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/render"
)

const Name = "mizip"

const (
	verifySector = 1
	// Block 10 byte 0 set to this marker moves the balance from block 9 to
	// block 8.
	swapMarker = 0x55
)

//go:embed mizip.yaml
var dataYAML []byte

// Table holds the key derivation constants.
type Table struct {
	Sector0 card.KeyPair `yaml:"sector0"`
	OrderA  [6]int       `yaml:"order_a"`
	OrderB  [6]int       `yaml:"order_b"`
	XorA    [][6]byte    `yaml:"xor_a"`
	XorB    [][6]byte    `yaml:"xor_b"`
}

// LoadTable parses a derivation table.
func LoadTable(b []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("mizip table: %w", err)
	}
	if len(t.XorA) != len(t.XorB) {
		return nil, fmt.Errorf("mizip table: %d key A rows but %d key B rows", len(t.XorA), len(t.XorB))
	}
	for _, i := range append(t.OrderA[:], t.OrderB[:]...) {
		if i < 0 || i > 3 {
			return nil, fmt.Errorf("mizip table: UID index %d out of range", i)
		}
	}
	return &t, nil
}

var table = mustLoad()

func mustLoad() *Table {
	t, err := LoadTable(dataYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// DeriveKeys computes the keys of a card from its UID. The result is a
// fresh value on every call. Only the first four UID bytes are used.
func DeriveKeys(uid []byte) card.KeySet {
	return table.Derive(uid)
}

// Derive computes the keys of a card from its UID.
func (t *Table) Derive(uid []byte) card.KeySet {
	var u [4]byte
	copy(u[:], uid)

	ks := card.KeySet{0: t.Sector0}
	for row := range t.XorA {
		var pair card.KeyPair
		for i := 0; i < len(pair.A); i++ {
			pair.A[i] = u[t.OrderA[i]] ^ t.XorA[row][i]
			pair.B[i] = u[t.OrderB[i]] ^ t.XorB[row][i]
		}
		ks[row+1] = pair
	}
	return ks
}

var template = render.Template{
	Title: "MiZIP Card",
	Sections: []render.Section{{
		Lines: []render.Line{
			{Label: "UID", Field: "uid"},
			{Label: "Current Credit", Field: "credit", Format: "cents", Suffix: " E"},
			{Label: "Previous Credit", Field: "previous_credit", Format: "cents", Suffix: " E"},
		},
	}},
}

// Recognizer returns the mizip recognizer.
func Recognizer() recognizer.Recognizer {
	return recognizer.Recognizer{
		Name:     Name,
		Protocol: card.SectorBased,
		Verify:   verify,
		Read:     read,
		Parse:    Parse,
	}
}

func verify(ctx context.Context, t card.Transport) error {
	st, ok := t.(card.SectorTransport)
	if !ok {
		return fmt.Errorf("%T cannot read sectors", t)
	}
	keys := DeriveKeys(t.UID())
	return st.Authenticate(ctx, card.FirstBlock(verifySector), card.KeyA, keys[verifySector].A)
}

func read(ctx context.Context, t card.Transport) (*card.Image, error) {
	st, ok := t.(card.SectorTransport)
	if !ok {
		return nil, fmt.Errorf("%T cannot read sectors", t)
	}
	return card.ReadSectors(ctx, st, DeriveKeys(t.UID()), nil)
}

// Parse decodes the credit blocks.
func Parse(img *card.Image) (*recognizer.Result, error) {
	keys := DeriveKeys(img.UID)
	if err := card.CheckTrailerKey(img, verifySector, card.KeyA, keys[verifySector].A); err != nil {
		return nil, err
	}

	marker, ok := img.Block(10)
	if !ok {
		return nil, card.Errorf(card.ErrTransportFailure, "mizip: block 10 not read")
	}
	current := 9
	if len(marker) > 0 && marker[0] == swapMarker {
		current = 8
	}

	cur, ok := img.Block(current)
	if !ok || len(cur) < 5 {
		return nil, card.Errorf(card.ErrTransportFailure, "mizip: block %d not read", current)
	}

	rec := record.NewBuilder(Name).
		SetString("uid", fmt.Sprintf("% X", img.UID)).
		SetInt("balance_block", int64(current)).
		SetInt("credit", int64(bits.BytesToNumLE(cur[1:3]))).
		SetInt("previous_credit", int64(bits.BytesToNumLE(cur[3:5]))).
		Record()
	return &recognizer.Result{Record: rec, Template: template}, nil
}
