// Package troika decodes Moscow transport tickets (Troika and the older
// Mosgortrans cards).
//
// A card carries up to three tickets, one per section (Metro, Ground,
// TAT). Each ticket is a 16-byte block whose layout is selected by a
// discriminator at bit 52; the layouts themselves are data, see
// layouts.yaml.
package troika

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/ansel1/merry/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/layout"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/render"
)

const Name = "troika"

// ErrNoTicket is returned when no section of the card holds a ticket.
var ErrNoTicket = merry.New("troika: no ticket")

var (
	//go:embed layouts.yaml
	layoutsYAML []byte
	//go:embed troika.yaml
	sectionsYAML []byte
)

// Section is one ticket slot of the card.
type Section struct {
	Name   string       `yaml:"name"`
	Sector int          `yaml:"sector"`
	Keys   card.KeyPair `yaml:"keys"`
}

// Department locates the transport department code and lists the codes
// issued by Moscow operators.
type Department struct {
	Offset int      `yaml:"offset"`
	Width  int      `yaml:"width"`
	Valid  []uint64 `yaml:"valid"`
}

func (d Department) accepts(block []byte) (uint64, bool) {
	if !bits.FitsIn(len(block), d.Offset, d.Width) {
		return 0, false
	}
	code := bits.ReadBits(block, d.Offset, d.Width)
	for _, v := range d.Valid {
		if v == code {
			return code, true
		}
	}
	return code, false
}

// Config describes the sections of the card.
type Config struct {
	Department Department `yaml:"department"`
	Sections   []Section  `yaml:"sections"`
}

// LoadConfig parses a section table.
func LoadConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("troika sections: %w", err)
	}
	if len(c.Sections) == 0 {
		return nil, fmt.Errorf("troika sections: none defined")
	}
	return &c, nil
}

// Decoder decodes the tickets of a card.
type Decoder struct {
	Config  *Config
	Layouts *layout.Registry
	Log     log.FieldLogger
}

// NewDecoder returns a decoder over the built-in tables.
func NewDecoder() *Decoder {
	cfg, err := LoadConfig(sectionsYAML)
	if err != nil {
		panic(err)
	}
	return &Decoder{Config: cfg, Layouts: layout.MustLoad(layoutsYAML)}
}

func (d *Decoder) logger() log.FieldLogger {
	if d.Log == nil {
		return log.StandardLogger()
	}
	return d.Log
}

// metro is the section whose key identifies the card.
func (d *Decoder) metro() Section {
	return d.Config.Sections[0]
}

// KeySet returns the keys of every section.
func (d *Decoder) KeySet() card.KeySet {
	ks := card.KeySet{}
	for _, s := range d.Config.Sections {
		ks[s.Sector] = s.Keys
	}
	return ks
}

// Recognizer returns the troika recognizer.
func (d *Decoder) Recognizer() recognizer.Recognizer {
	return recognizer.Recognizer{
		Name:     Name,
		Protocol: card.SectorBased,
		Verify:   d.verify,
		Read:     d.read,
		Parse:    d.Parse,
	}
}

// Recognizer returns the troika recognizer over the built-in tables.
func Recognizer() recognizer.Recognizer {
	return NewDecoder().Recognizer()
}

func (d *Decoder) verify(ctx context.Context, t card.Transport) error {
	st, ok := t.(card.SectorTransport)
	if !ok {
		return fmt.Errorf("%T cannot read sectors", t)
	}
	m := d.metro()
	return st.Authenticate(ctx, card.FirstBlock(m.Sector), card.KeyA, m.Keys.A)
}

func (d *Decoder) read(ctx context.Context, t card.Transport) (*card.Image, error) {
	st, ok := t.(card.SectorTransport)
	if !ok {
		return nil, fmt.Errorf("%T cannot read sectors", t)
	}
	return card.ReadSectors(ctx, st, d.KeySet(), d.logger())
}

// Parse decodes every section holding a ticket. The record names fields
// "<section>.<field>", e.g. "metro.number".
func (d *Decoder) Parse(img *card.Image) (*recognizer.Result, error) {
	m := d.metro()
	if err := card.CheckTrailerKey(img, m.Sector, card.KeyA, m.Keys.A); err != nil {
		return nil, err
	}

	b := record.NewBuilder(Name)
	tmpl := render.Template{Title: "Troika"}

	for _, s := range d.Config.Sections {
		logger := d.logger().WithField("section", s.Name)

		block, ok := img.Block(card.FirstBlock(s.Sector))
		if !ok {
			logger.Debug("Section not read")
			continue
		}
		if dep, ok := d.Config.Department.accepts(block); !ok {
			logger.WithField("department", fmt.Sprintf("0x%X", dep)).Debug("Foreign transport department")
			continue
		}

		desc, rec, err := d.Layouts.Decode(block)
		if err != nil {
			logger.WithError(err).Debug("No ticket")
			continue
		}
		logger.WithField("layout", desc.String()).Debug("Ticket decoded")

		prefix := sectionPrefix(s)
		b.SetString(prefix+"layout", desc.String())
		b.Merge(prefix, rec)
		tmpl.Sections = append(tmpl.Sections, render.Section{Header: s.Name, Prefix: prefix, Lines: desc.Lines})
	}

	if len(tmpl.Sections) == 0 {
		return nil, ErrNoTicket
	}
	return &recognizer.Result{Record: b.Record(), Template: tmpl}, nil
}

func sectionPrefix(s Section) string {
	return strings.ToLower(s.Name) + "."
}
