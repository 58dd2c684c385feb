package layout

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/card-decoder/pkg/bits"
)

var testDiscriminator = Discriminator{Offset: 52, Width: 4, Escapes: map[uint64]int{0xE: 9, 0xF: 14}}

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry(16, testDiscriminator)
	r.MustRegister(Descriptor{
		Code: 0x2, Name: "layout_2", EpochYear: 1992,
		Fields: []Field{
			{Name: "number", Offset: 20, Width: 32},
			{Name: "valid_from", Offset: 80, Width: 16, Kind: DayDate},
			{Name: "validator_hi", Offset: 96, Width: 6},
			{Name: "validator_lo", Offset: 102, Width: 10},
			{Name: "validator_raw", Offset: 96, Width: 16},
		},
		Derived: []Derived{
			{Name: "validator", Terms: []Term{{Field: "validator_hi", Scale: 1024}, {Field: "validator_lo"}}},
			{Name: "valid_to", Terms: []Term{{Field: "valid_from", Scale: 1440}, {Field: "validator_lo"}}, Constant: -1, Kind: MinuteDate},
		},
		Require: []string{"valid_from"},
	})
	r.MustRegister(Descriptor{
		Code: 0x1C1, Width: 9, Name: "layout_E1", EpochYear: 2016,
		Fields: []Field{{Name: "funds", Offset: 61, Width: 22}},
		Derived: []Derived{
			{Name: "balance", Terms: []Term{{Field: "funds"}}, Divisor: 100, When: "funds"},
		},
	})
	r.MustRegister(Descriptor{
		Code: 0x3CCB, Width: 14, Name: "layout_FCB",
		Fields: []Field{{Name: "number", Offset: 20, Width: 32}},
	})
	return r
}

func TestDecodeLayout2(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)

	block := make([]byte, 16)
	bits.PutBits(block, 20, 32, 12345678)
	bits.PutBits(block, 52, 4, 0x2)
	bits.PutBits(block, 80, 16, 1)
	bits.PutBits(block, 96, 6, 3)
	bits.PutBits(block, 102, 10, 17)

	desc, rec, err := r.Decode(block)
	require.NoError(t, err)
	assert.Equal(t, "layout_2", desc.Name)

	n, _ := rec.Int("number")
	assert.Equal(t, int64(12345678), n)

	from, _ := rec.Time("valid_from")
	assert.Equal(t, time.Date(1992, time.January, 1, 0, 0, 0, 0, time.UTC), from)

	v, _ := rec.Int("validator")
	assert.Equal(t, int64(3*1024+17), v)

	raw, _ := rec.Int("validator_raw")
	assert.Equal(t, v, raw, "overlapping fields read the same bits")

	to, _ := rec.Time("valid_to")
	assert.Equal(t, time.Date(1992, time.January, 1, 0, 16, 0, 0, time.UTC), to)
}

func TestDecodeWidening(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)

	block := make([]byte, 16)
	bits.PutBits(block, 52, 9, 0x1C1)
	bits.PutBits(block, 61, 22, 12345)

	code, width := r.ReadDiscriminator(block)
	assert.Equal(t, uint64(0x1C1), code)
	assert.Equal(t, 9, width)

	desc, rec, err := r.Decode(block)
	require.NoError(t, err)
	assert.Equal(t, "layout_E1", desc.Name)

	balance, _ := rec.Int("balance")
	assert.Equal(t, int64(123), balance)

	bits.PutBits(block, 52, 14, 0x3CCB)
	desc, _, err = r.Decode(block)
	require.NoError(t, err)
	assert.Equal(t, "layout_FCB", desc.Name)
}

func TestDecodeWidenedCodeIsNotNarrow(t *testing.T) {
	t.Parallel()

	// A 9-bit code whose value equals a registered 4-bit code must not
	// match it.
	r := NewRegistry(16, testDiscriminator)
	r.MustRegister(Descriptor{Code: 0x2, Fields: []Field{{Name: "x", Offset: 0, Width: 8}}})

	block := make([]byte, 16)
	bits.PutBits(block, 52, 4, 0xE)
	bits.PutBits(block, 56, 5, 0x2)

	_, rec, err := r.Decode(block)
	assert.Nil(t, rec)
	require.ErrorIs(t, err, ErrUnrecognizedDiscriminator)

	code, width, ok := DiscriminatorOf(err)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1C2), code)
	assert.Equal(t, 9, width)
}

func TestDecodeUnknown(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)

	block := make([]byte, 16)
	bits.PutBits(block, 52, 4, 0x9)

	desc, rec, err := r.Decode(block)
	assert.Nil(t, desc)
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, ErrUnrecognizedDiscriminator))
}

func TestDecodeRequire(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)

	block := make([]byte, 16)
	bits.PutBits(block, 52, 4, 0x2)

	_, rec, err := r.Decode(block)
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrEmptyLayout)
}

func TestDecodeShortBlock(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)

	_, _, err := r.Decode(make([]byte, 8))
	assert.ErrorIs(t, err, ErrShortBlock)
}

func TestDerivedGuards(t *testing.T) {
	t.Parallel()

	d := Descriptor{
		Name: "guards", EpochYear: 2016,
		Fields: []Field{
			{Name: "a", Offset: 0, Width: 8},
			{Name: "b", Offset: 8, Width: 8},
			{Name: "c", Offset: 16, Width: 8},
		},
		Derived: []Derived{
			{Name: "when_a", Terms: []Term{{Field: "b"}}, When: "a"},
			{Name: "unless_a", Terms: []Term{{Field: "b"}}, Unless: "a"},
			{Name: "first", Op: OpFirst, Terms: []Term{{Field: "a"}, {Field: "b"}, {Field: "c"}}},
			{Name: "chained", Terms: []Term{{Field: "when_a", Scale: 2}}},
		},
	}
	require.NoError(t, d.validate(4))

	rec, err := d.Decode([]byte{0, 5, 9, 0})
	require.NoError(t, err)
	assert.False(t, rec.Has("when_a"))
	assert.False(t, rec.Has("chained"), "depends on a skipped value")
	unless, _ := rec.Int("unless_a")
	assert.Equal(t, int64(5), unless)
	first, _ := rec.Int("first")
	assert.Equal(t, int64(5), first)

	rec, err = d.Decode([]byte{1, 5, 9, 0})
	require.NoError(t, err)
	chained, _ := rec.Int("chained")
	assert.Equal(t, int64(10), chained)
	assert.False(t, rec.Has("unless_a"))
}

func TestBCDAndLittleEndian(t *testing.T) {
	t.Parallel()

	d := Descriptor{
		Name: "mixed",
		Fields: []Field{
			{Name: "expiry", Offset: 0, Width: 16, Kind: BCD},
			{Name: "id", Offset: 16, Width: 16, Order: LittleEndian},
		},
	}
	require.NoError(t, d.validate(4))

	rec, err := d.Decode([]byte{0x25, 0x12, 0x34, 0x12})
	require.NoError(t, err)
	expiry, _ := rec.Int("expiry")
	assert.Equal(t, int64(2512), expiry)
	id, _ := rec.Int("id")
	assert.Equal(t, int64(0x1234), id)

	_, err = d.Decode([]byte{0x2A, 0x12, 0x34, 0x12})
	assert.ErrorIs(t, err, ErrInvalidBCD)
}

func TestRegisterRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		desc Descriptor
	}{
		{"Duplicate field", Descriptor{Code: 1, Fields: []Field{{Name: "a", Offset: 0, Width: 4}, {Name: "a", Offset: 4, Width: 4}}}},
		{"Outside block", Descriptor{Code: 1, Fields: []Field{{Name: "a", Offset: 120, Width: 16}}}},
		{"Zero width", Descriptor{Code: 1, Fields: []Field{{Name: "a", Offset: 0}}}},
		{"Too wide", Descriptor{Code: 1, Fields: []Field{{Name: "a", Offset: 0, Width: 65}}}},
		{"Unaligned LE", Descriptor{Code: 1, Fields: []Field{{Name: "a", Offset: 4, Width: 8, Order: LittleEndian}}}},
		{"Date without epoch", Descriptor{Code: 1, Fields: []Field{{Name: "a", Offset: 0, Width: 8, Kind: DayDate}}}},
		{"Unknown term", Descriptor{Code: 1, Derived: []Derived{{Name: "d", Terms: []Term{{Field: "nope"}}}}}},
		{"Escape as code", Descriptor{Code: 0xE}},
		{"Code too wide", Descriptor{Code: 0x12}},
		{"Unreachable wide code", Descriptor{Code: 0x0C1, Width: 9}},
		{"Unknown required", Descriptor{Code: 1, Require: []string{"x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(16, testDiscriminator)
			assert.Error(t, r.Register(tt.desc))
			assert.Panics(t, func() { r.MustRegister(tt.desc) })
		})
	}
}

func TestRegisterDuplicateCode(t *testing.T) {
	t.Parallel()

	r := NewRegistry(16, testDiscriminator)
	require.NoError(t, r.Register(Descriptor{Code: 1, Name: "one"}))
	assert.Error(t, r.Register(Descriptor{Code: 1, Name: "again"}))
	assert.Len(t, r.Descriptors(), 1)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	data := []byte(`
block_size: 16
discriminator: {offset: 52, width: 4, escapes: {0xE: 9, 0xF: 14}}
layouts:
  - code: 0x6
    name: "6"
    epoch_year: 1992
    fields:
      - {name: number, offset: 20, width: 32}
      - {name: use_before_date, offset: 56, width: 16, kind: day}
      - {name: validator1, offset: 128, width: 6}
      - {name: validator2, offset: 134, width: 10}
    derived:
      - {name: validator, terms: [{field: validator1, scale: 1024}, {field: validator2}]}
    lines:
      - {label: Number, field: number, format: "%010d"}
      - {label: Validator, field: validator, format: "%05d", when: {field: validator, nonzero: true}}
  - code: 0x1C2
    width: 9
    name: E2
    epoch_year: 2016
    fields:
      - {name: number, offset: 20, width: 32}
`)

	r, err := Load(data)
	require.NoError(t, err)
	require.Len(t, r.Descriptors(), 2)

	d, ok := r.Lookup(4, 0x6)
	require.True(t, ok)
	assert.Equal(t, "6", d.Name)
	require.Len(t, d.Lines, 2)
	assert.True(t, d.Lines[1].When.NonZero)
	assert.Equal(t, DayDate, d.Fields[1].Kind)

	_, ok = r.Lookup(9, 0x1C2)
	assert.True(t, ok)

	block := make([]byte, 16)
	bits.PutBits(block, 52, 4, 0x6)
	bits.PutBits(block, 128, 6, 1)
	bits.PutBits(block, 134, 10, 2)
	_, rec, err := r.Decode(block)
	require.NoError(t, err)
	v, _ := rec.Int("validator")
	assert.Equal(t, int64(1026), v)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load([]byte("block_size: [oops"))
	assert.Error(t, err)

	_, err = Load([]byte(`
block_size: 16
discriminator: {offset: 52, width: 4}
layouts:
  - code: 0x2
    fields:
      - {name: a, offset: 0, width: 8, kind: fortnight}
`))
	assert.Error(t, err)
}
