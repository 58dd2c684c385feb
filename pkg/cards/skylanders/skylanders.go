// Package skylanders identifies Skylanders toys. Every sector of the tag
// uses the same key; block 1 carries the toy identifier.
package skylanders

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/ansel1/merry/v2"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/render"
)

const Name = "skylanders"

// ErrBlankToy is returned for a tag whose toy identifier is zero.
var ErrBlankToy = merry.New("skylanders: blank toy")

//go:embed toys.yaml
var toysYAML []byte

// Data is the toy table.
type Data struct {
	Key  card.Key          `yaml:"key"`
	Toys map[uint16]string `yaml:"toys"`
}

// LoadData parses a toy table.
func LoadData(b []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("skylanders data: %w", err)
	}
	return &d, nil
}

var data = mustLoad()

func mustLoad() *Data {
	d, err := LoadData(toysYAML)
	if err != nil {
		panic(err)
	}
	return d
}

// ToyName returns the name of a toy identifier.
func ToyName(id uint16) string {
	if name, ok := data.Toys[id]; ok {
		return name
	}
	return "Unknown"
}

func keys(sectors int) card.KeySet {
	ks := card.KeySet{}
	for s := 0; s < sectors; s++ {
		ks[s] = card.KeyPair{A: data.Key, B: data.Key}
	}
	return ks
}

var template = render.Template{
	Title: "Skylanders",
	Sections: []render.Section{{
		Lines: []render.Line{{Field: "name"}},
	}},
}

// Recognizer returns the skylanders recognizer.
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
	return st.Authenticate(ctx, card.FirstBlock(0), card.KeyA, data.Key)
}

func read(ctx context.Context, t card.Transport) (*card.Image, error) {
	st, ok := t.(card.SectorTransport)
	if !ok {
		return nil, fmt.Errorf("%T cannot read sectors", t)
	}
	return card.ReadSectors(ctx, st, keys(st.Sectors()), nil)
}

// Parse decodes the toy identifier.
func Parse(img *card.Image) (*recognizer.Result, error) {
	if err := card.CheckTrailerKey(img, 0, card.KeyA, data.Key); err != nil {
		return nil, err
	}
	blk, ok := img.Block(1)
	if !ok || len(blk) < 2 {
		return nil, card.Errorf(card.ErrTransportFailure, "skylanders: block 1 not read")
	}

	id := uint16(bits.BytesToNumLE(blk[0:2]))
	if id == 0 {
		return nil, ErrBlankToy
	}

	rec := record.NewBuilder(Name).
		SetInt("id", int64(id)).
		SetString("name", ToyName(id)).
		Record()
	return &recognizer.Result{Record: rec, Template: template}, nil
}
