package layout

import (
	"github.com/ansel1/merry/v2"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/epoch"
	"github.com/gregLibert/card-decoder/pkg/record"
)

var (
	// ErrUnrecognizedDiscriminator is returned when no layout matches the
	// code read from a block.
	ErrUnrecognizedDiscriminator = merry.New("unrecognized layout discriminator")
	// ErrEmptyLayout is returned when a required value is zero.
	ErrEmptyLayout = merry.New("layout holds no data")
	// ErrShortBlock is returned for blocks smaller than the registry's.
	ErrShortBlock = merry.New("block too short for layout")
	// ErrInvalidBCD is returned when a BCD field holds a non-decimal nibble.
	ErrInvalidBCD = merry.New("invalid BCD value")
)

type errKey string

const (
	codeKey  errKey = "layout.code"
	widthKey errKey = "layout.width"
)

// DiscriminatorOf returns the code and width carried by an
// ErrUnrecognizedDiscriminator.
func DiscriminatorOf(err error) (code uint64, width int, ok bool) {
	code, ok = merry.Value(err, codeKey).(uint64)
	if !ok {
		return 0, 0, false
	}
	width, _ = merry.Value(err, widthKey).(int)
	return code, width, true
}

// ReadDiscriminator reads the layout code of block, widening it through
// the escape table. block must be at least BlockSize bytes.
func (r *Registry) ReadDiscriminator(block []byte) (code uint64, width int) {
	d := r.discriminator
	code = bits.ReadBits(block, d.Offset, d.Width)
	width = d.Width
	if wide, ok := d.Escapes[code]; ok {
		// Same starting bit: the narrow code becomes the high bits.
		code = bits.ReadBits(block, d.Offset, wide)
		width = wide
	}
	return code, width
}

// Decode selects the layout of block and extracts all its fields. It never
// returns a partial record: any failure yields a nil record.
func (r *Registry) Decode(block []byte) (*Descriptor, *record.Record, error) {
	if len(block) < r.blockSize {
		return nil, nil, merry.Wrap(ErrShortBlock, merry.AppendMessagef("%d < %d bytes", len(block), r.blockSize))
	}

	code, width := r.ReadDiscriminator(block)
	desc, ok := r.layouts[key{width, code}]
	if !ok {
		return nil, nil, merry.Wrap(ErrUnrecognizedDiscriminator,
			merry.AppendMessagef("0x%X (%d bits)", code, width),
			merry.WithValue(codeKey, code),
			merry.WithValue(widthKey, width),
		)
	}

	rec, err := desc.Decode(block)
	if err != nil {
		return nil, nil, err
	}
	return desc, rec, nil
}

// Decode extracts the fields of d from block without looking at the
// discriminator.
func (d *Descriptor) Decode(block []byte) (*record.Record, error) {
	raws := make(map[string]int64, len(d.Fields)+len(d.Derived))
	b := record.NewBuilder(d.String())

	for _, f := range d.Fields {
		var raw uint64
		if f.Order == LittleEndian {
			raw = bits.ReadBitsLE(block, f.Offset, f.Width)
		} else {
			raw = bits.ReadBits(block, f.Offset, f.Width)
		}

		v, err := d.interpret(f.Name, raw, f.Width, f.Kind, f.EpochYear)
		if err != nil {
			return nil, err
		}
		raws[f.Name] = int64(raw)
		b.Set(f.Name, v)
	}

	for _, dv := range d.Derived {
		if dv.When != "" && raws[dv.When] == 0 {
			continue
		}
		if dv.Unless != "" && raws[dv.Unless] != 0 {
			continue
		}
		if !dv.present(raws) {
			continue
		}

		raw := dv.eval(raws)
		v, err := d.interpret(dv.Name, uint64(raw), 64, dv.Kind, dv.EpochYear)
		if err != nil {
			return nil, err
		}
		if !dv.Kind.IsDate() {
			v = record.IntValue(raw)
		}
		raws[dv.Name] = raw
		b.Set(dv.Name, v)
	}

	for _, req := range d.Require {
		if raws[req] == 0 {
			return nil, merry.Wrap(ErrEmptyLayout, merry.AppendMessagef("layout %s: %s is zero", d, req))
		}
	}

	return b.Record(), nil
}

// present is false when a term refers to a derived value that was skipped.
func (dv Derived) present(raws map[string]int64) bool {
	for _, t := range dv.Terms {
		if _, ok := raws[t.Field]; !ok {
			return false
		}
	}
	return true
}

func (dv Derived) eval(raws map[string]int64) int64 {
	if dv.Op == OpFirst {
		for _, t := range dv.Terms {
			if v := raws[t.Field]; v != 0 {
				return v
			}
		}
		return 0
	}

	sum := dv.Constant
	for _, t := range dv.Terms {
		sum += raws[t.Field] * t.scale()
	}
	if dv.Divisor > 1 {
		sum /= dv.Divisor
	}
	return sum
}

func (d *Descriptor) interpret(name string, raw uint64, width int, k Kind, year int) (record.Value, error) {
	switch {
	case k == BCD:
		n, ok := bits.BCD(raw, width/4)
		if !ok {
			return record.Value{}, merry.Wrap(ErrInvalidBCD, merry.AppendMessagef("layout %s: %s = 0x%X", d, name, raw))
		}
		return record.IntValue(int64(n)), nil
	case k.IsDate():
		return record.TimeValue(epoch.ToDateTime(int64(raw), d.Epoch(k, year))), nil
	}
	return record.IntValue(int64(raw)), nil
}
