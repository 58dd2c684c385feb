package layout

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Discriminator locates the layout code inside a block.
//
// The code is first read Width bits wide at Offset. When that value is one
// of the Escapes keys, it is read again from the same Offset with the
// escape's wider width: the narrow value becomes the top bits of the wide
// code.
type Discriminator struct {
	Offset  int            `yaml:"offset"`
	Width   int            `yaml:"width"`
	Escapes map[uint64]int `yaml:"escapes"`
}

type key struct {
	width int
	code  uint64
}

// Registry is the set of layouts of one card family. It is immutable once
// its descriptors are registered.
type Registry struct {
	blockSize     int
	discriminator Discriminator
	layouts       map[key]*Descriptor
	order         []*Descriptor
}

// NewRegistry creates an empty registry for blocks of blockSize bytes. It
// panics if the discriminator does not fit in the block.
func NewRegistry(blockSize int, d Discriminator) *Registry {
	if err := d.validate(blockSize); err != nil {
		panic(err)
	}
	return &Registry{
		blockSize:     blockSize,
		discriminator: d,
		layouts:       map[key]*Descriptor{},
	}
}

func (d Discriminator) validate(size int) error {
	if d.Width < 1 || d.Width > 64 || d.Offset < 0 || d.Offset+d.Width > size*8 {
		return fmt.Errorf("discriminator span [%d,+%d) outside %d-byte block", d.Offset, d.Width, size)
	}
	for code, w := range d.Escapes {
		if code>>uint(d.Width) != 0 {
			return fmt.Errorf("escape 0x%X does not fit in %d bits", code, d.Width)
		}
		if w <= d.Width || w > 64 || d.Offset+w > size*8 {
			return fmt.Errorf("escape 0x%X widens to invalid width %d", code, w)
		}
	}
	return nil
}

// BlockSize is the block length in bytes the layouts describe.
func (r *Registry) BlockSize() int { return r.blockSize }

// Discriminator returns the discriminator configuration.
func (r *Registry) Discriminator() Discriminator { return r.discriminator }

// Register validates d and adds it.
func (r *Registry) Register(d Descriptor) error {
	if d.Width == 0 {
		d.Width = r.discriminator.Width
	}
	if err := r.checkCode(d); err != nil {
		return err
	}
	if err := d.validate(r.blockSize); err != nil {
		return err
	}

	k := key{d.Width, d.Code}
	if prev, ok := r.layouts[k]; ok {
		return fmt.Errorf("layout %s: code 0x%X (%d bits) already used by %s", &d, d.Code, d.Width, prev)
	}
	r.layouts[k] = &d
	r.order = append(r.order, &d)
	return nil
}

// MustRegister is Register for static tables: an invalid descriptor is a
// programming error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// checkCode makes sure the dispatcher can actually produce d's code.
func (r *Registry) checkCode(d Descriptor) error {
	base := r.discriminator.Width
	if d.Code>>uint(d.Width) != 0 && d.Width < 64 {
		return fmt.Errorf("layout %s: code 0x%X does not fit in %d bits", &d, d.Code, d.Width)
	}
	if d.Width == base {
		if _, escaped := r.discriminator.Escapes[d.Code]; escaped {
			return fmt.Errorf("layout %s: code 0x%X is an escape value", &d, d.Code)
		}
		return nil
	}
	prefix := d.Code >> uint(d.Width-base)
	if w, ok := r.discriminator.Escapes[prefix]; !ok || w != d.Width {
		return fmt.Errorf("layout %s: %d-bit code 0x%X is not reachable through an escape", &d, d.Width, d.Code)
	}
	return nil
}

// Lookup finds the layout read with the given width and code.
func (r *Registry) Lookup(width int, code uint64) (*Descriptor, bool) {
	d, ok := r.layouts[key{width, code}]
	return d, ok
}

// Descriptors lists the layouts in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

type registryFile struct {
	BlockSize     int           `yaml:"block_size"`
	Discriminator Discriminator `yaml:"discriminator"`
	Layouts       []Descriptor  `yaml:"layouts"`
}

// Load builds a registry from its YAML description.
func Load(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	if err := f.Discriminator.validate(f.BlockSize); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}

	r := NewRegistry(f.BlockSize, f.Discriminator)
	for _, d := range f.Layouts {
		if err := r.Register(d); err != nil {
			return nil, fmt.Errorf("layout: %w", err)
		}
	}
	return r, nil
}

// MustLoad is Load for embedded tables.
func MustLoad(data []byte) *Registry {
	r, err := Load(data)
	if err != nil {
		panic(err)
	}
	return r
}
