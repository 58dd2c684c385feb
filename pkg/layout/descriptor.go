// Package layout decodes fixed-size memory blocks whose content is
// described by bit-field tables.
//
// A card family declares a Registry of Descriptors. Each Descriptor is
// selected by a discriminator code read from the block itself, and lists
// the fields (bit offset, bit width, interpretation) to extract plus a few
// derived fields computed from them. Registries are usually loaded from
// YAML:
//
//	block_size: 16
//	discriminator: {offset: 52, width: 4, escapes: {0xE: 9, 0xF: 14}}
//	layouts:
//	  - code: 0x2
//	    name: "2"
//	    epoch_year: 1992
//	    fields:
//	      - {name: number, offset: 20, width: 32}
//	      - {name: valid_from, offset: 157, width: 16, kind: day}
//	    derived:
//	      - {name: validator, terms: [{field: hi, scale: 1024}, {field: lo}]}
package layout

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gregLibert/card-decoder/pkg/epoch"
	"github.com/gregLibert/card-decoder/pkg/render"
)

// Kind is the interpretation applied to the raw bits of a field.
type Kind int

const (
	Raw Kind = iota
	BCD
	DayDate
	MinuteDate
	SecondDate
)

var kindNames = map[Kind]string{
	Raw:        "raw",
	BCD:        "bcd",
	DayDate:    "day",
	MinuteDate: "minute",
	SecondDate: "second",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsDate reports whether the kind goes through the epoch codec.
func (k Kind) IsDate() bool {
	return k == DayDate || k == MinuteDate || k == SecondDate
}

func (k Kind) unit() epoch.Unit {
	switch k {
	case DayDate:
		return epoch.Day
	case MinuteDate:
		return epoch.Minute
	}
	return epoch.Second
}

func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	for kind, name := range kindNames {
		if value.Value == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown field kind %q", value.Line, value.Value)
}

// Order is the byte order of a field span.
type Order int

const (
	BigEndian Order = iota
	LittleEndian
)

func (o *Order) UnmarshalYAML(value *yaml.Node) error {
	switch value.Value {
	case "be", "":
		*o = BigEndian
	case "le":
		*o = LittleEndian
	default:
		return fmt.Errorf("line %d: unknown byte order %q", value.Line, value.Value)
	}
	return nil
}

// Field is one bit span of a block.
type Field struct {
	Name   string `yaml:"name"`
	Offset int    `yaml:"offset"`
	Width  int    `yaml:"width"`
	Kind   Kind   `yaml:"kind"`
	Order  Order  `yaml:"order"`

	// EpochYear overrides the descriptor epoch for date fields.
	EpochYear int `yaml:"epoch_year"`
}

// Term contributes Field*Scale to a derived sum. A zero Scale counts as 1.
type Term struct {
	Field string `yaml:"field"`
	Scale int64  `yaml:"scale"`
}

func (t Term) scale() int64 {
	if t.Scale == 0 {
		return 1
	}
	return t.Scale
}

// Derived ops.
const (
	OpSum   = "sum"
	OpFirst = "first"
)

// Derived is a field computed from raw values decoded earlier: either
// (sum(term*scale) + Constant) / Divisor, or the first nonzero term.
//
// When names a value that must be nonzero for the field to exist, Unless
// one that must be zero.
type Derived struct {
	Name      string `yaml:"name"`
	Op        string `yaml:"op"`
	Terms     []Term `yaml:"terms"`
	Constant  int64  `yaml:"constant"`
	Divisor   int64  `yaml:"divisor"`
	Kind      Kind   `yaml:"kind"`
	EpochYear int    `yaml:"epoch_year"`
	When      string `yaml:"when"`
	Unless    string `yaml:"unless"`
}

// Descriptor is one layout variant.
type Descriptor struct {
	// Code and Width identify the layout: the discriminator value and the
	// number of bits it was read with. A zero Width means the registry's
	// base width.
	Code  uint64 `yaml:"code"`
	Width int    `yaml:"width"`
	Name  string `yaml:"name"`

	EpochYear   int           `yaml:"epoch_year"`
	EpochOffset time.Duration `yaml:"epoch_offset"`

	Fields  []Field   `yaml:"fields"`
	Derived []Derived `yaml:"derived"`

	// Require lists values that must be nonzero for the block to hold data.
	Require []string `yaml:"require"`

	// Lines render a decoded block of this layout.
	Lines []render.Line `yaml:"lines"`
}

func (d *Descriptor) String() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("0x%X", d.Code)
}

// Epoch returns the codec parameters for a date of kind k.
func (d *Descriptor) Epoch(k Kind, yearOverride int) epoch.Epoch {
	year := d.EpochYear
	if yearOverride != 0 {
		year = yearOverride
	}
	return epoch.Epoch{StartYear: year, Unit: k.unit(), Offset: d.EpochOffset}
}

// validate checks the descriptor against a block of size bytes.
func (d *Descriptor) validate(size int) error {
	names := map[string]bool{}

	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("layout %s: field without a name", d)
		}
		if names[f.Name] {
			return fmt.Errorf("layout %s: duplicate field %q", d, f.Name)
		}
		names[f.Name] = true

		if f.Width < 1 || f.Width > 64 || f.Offset < 0 || f.Offset+f.Width > size*8 {
			return fmt.Errorf("layout %s: field %q span [%d,+%d) outside %d-byte block", d, f.Name, f.Offset, f.Width, size)
		}
		if f.Order == LittleEndian && (f.Offset%8 != 0 || f.Width%8 != 0) {
			return fmt.Errorf("layout %s: little-endian field %q is not byte aligned", d, f.Name)
		}
		if f.Kind == BCD && f.Width%4 != 0 {
			return fmt.Errorf("layout %s: BCD field %q width %d is not a whole number of digits", d, f.Name, f.Width)
		}
		if f.Kind.IsDate() && d.EpochYear == 0 && f.EpochYear == 0 {
			return fmt.Errorf("layout %s: date field %q has no epoch year", d, f.Name)
		}
	}

	for _, dv := range d.Derived {
		if dv.Name == "" {
			return fmt.Errorf("layout %s: derived field without a name", d)
		}
		if names[dv.Name] {
			return fmt.Errorf("layout %s: duplicate field %q", d, dv.Name)
		}
		switch dv.Op {
		case "", OpSum, OpFirst:
		default:
			return fmt.Errorf("layout %s: derived field %q has unknown op %q", d, dv.Name, dv.Op)
		}
		if len(dv.Terms) == 0 {
			return fmt.Errorf("layout %s: derived field %q has no terms", d, dv.Name)
		}
		if dv.Kind == BCD {
			return fmt.Errorf("layout %s: derived field %q cannot be BCD", d, dv.Name)
		}
		if dv.Kind.IsDate() && d.EpochYear == 0 && dv.EpochYear == 0 {
			return fmt.Errorf("layout %s: derived date %q has no epoch year", d, dv.Name)
		}
		refs := []string{dv.When, dv.Unless}
		for _, t := range dv.Terms {
			refs = append(refs, t.Field)
		}
		for _, ref := range refs {
			if ref != "" && !names[ref] {
				return fmt.Errorf("layout %s: derived field %q refers to unknown %q", d, dv.Name, ref)
			}
		}
		names[dv.Name] = true
	}

	for _, req := range d.Require {
		if !names[req] {
			return fmt.Errorf("layout %s: required field %q is not declared", d, req)
		}
	}
	return nil
}
