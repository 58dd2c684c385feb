package troika

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/card/cardtest"
	"github.com/gregLibert/card-decoder/pkg/layout"
)

// put is a (offset, width, value) triple written into a ticket block.
type put struct {
	offset, width int
	value         uint64
}

func ticket(puts ...put) []byte {
	block := make([]byte, card.ClassicBlockSize)
	for _, p := range puts {
		bits.PutBits(block, p.offset, p.width, p.value)
	}
	return block
}

// walletTicket is an E1 purse ticket with 50 rub left.
func walletTicket() []byte {
	return ticket(
		put{0, 10, 0x106},
		put{52, 9, 0x1C1},
		put{0x14, 32, 12345678},
		put{0x3D, 16, 11688},
		put{0x80, 16, 1234},
		put{0x90, 16, 11700},
		put{0xA0, 11, 600},
		put{0xAB, 2, 1},
		put{0xAD, 2, 1},
		put{0xC4, 19, 5000},
	)
}

// passTicket is a layout A day pass used on ground transport.
func passTicket() []byte {
	return ticket(
		put{0, 10, 0x108},
		put{52, 4, 0xA},
		put{0x14, 32, 42},
		put{0x40, 12, 3000},
		put{0x4C, 19, 1440},
		put{0x60, 19, 125},
		put{0x77, 7, 30},
		put{0x7E, 2, 2},
		put{0x80, 8, 3},
	)
}

func troikaCard(d *Decoder, tickets map[int][]byte) *card.Image {
	return cardtest.ClassicImage([]byte{0xDE, 0xAD, 0xBE, 0xEF}, card.Classic1KSectors, d.KeySet(), func(b int) []byte {
		if b%4 != 0 {
			return nil
		}
		return tickets[card.SectorOf(b)]
	})
}

func TestLayouts(t *testing.T) {
	d := NewDecoder()

	var names []string
	for _, desc := range d.Layouts.Descriptors() {
		names = append(names, desc.String())
	}
	expected := []string{"2", "6", "8", "A", "C", "D", "E1", "E2", "E3", "E4", "E5", "E6", "FCB", "F0B"}
	if diff := cmp.Diff(expected, names); diff != "" {
		t.Errorf("layouts mismatch (-want +got):\n%s", diff)
	}
}

func TestRecognizer(t *testing.T) {
	ctx := context.Background()
	d := NewDecoder()
	c := &cardtest.Classic{Image: troikaCard(d, map[int][]byte{8: walletTicket(), 4: passTicket()})}

	r := d.Recognizer()
	require.NoError(t, r.Verify(ctx, c))
	img, err := r.Read(ctx, c)
	require.NoError(t, err)

	res, err := r.Parse(img)
	require.NoError(t, err)

	expected := "\x1b#Troika\n" +
		"\x1b#Metro\n" +
		"Number: 0012345678\n" +
		"Use before: 31.12.2023\n" +
		"Balance: 50 rub\n" +
		"Trip from: 12.01.2024 10:00\n" +
		"Transport: Metro\n" +
		"Validator: 01234\n" +
		"\x1b#Ground\n" +
		"Number: 0000000042\n" +
		"Trips left: 3\n" +
		"Valid from: 18.03.2024\n" +
		"Valid to: 18.03.2024\n" +
		"Trip from: 18.03.2024 02:05\n" +
		"Trip switch: 18.03.2024 02:35\n" +
		"Transport: Ground"
	if diff := cmp.Diff(expected, res.Report()); diff != "" {
		t.Errorf("Report() mismatch (-want +got):\n%s", diff)
	}

	layoutName, _ := res.Record.Text("metro.layout")
	assert.Equal(t, "E1", layoutName)
	validTo, ok := res.Record.Time("ground.valid_to")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.March, 18, 23, 59, 0, 0, time.UTC), validTo)
}

func TestParseSkipsEmptySections(t *testing.T) {
	d := NewDecoder()

	// Layout 2 without validity dates holds no ticket; sector 7 belongs
	// to another operator.
	noTicket := ticket(put{0, 10, 0x106}, put{52, 4, 0x2}, put{0x14, 32, 7})
	foreign := ticket(put{0, 10, 0x3FF}, put{52, 4, 0xA}, put{0x40, 12, 3000})

	_, err := d.Parse(troikaCard(d, map[int][]byte{8: noTicket, 7: foreign}))
	assert.True(t, errors.Is(err, ErrNoTicket), "got %v", err)

	res, err := d.Parse(troikaCard(d, map[int][]byte{8: noTicket, 4: passTicket()}))
	require.NoError(t, err)
	assert.False(t, res.Record.Has("metro.number"))
	assert.True(t, res.Record.Has("ground.number"))
}

func TestParseTruncatedBlock(t *testing.T) {
	d := NewDecoder()

	_, ok := d.Config.Department.accepts([]byte{0x41})
	assert.False(t, ok)

	full := troikaCard(d, map[int][]byte{8: walletTicket(), 4: passTicket()})
	b := card.NewImageBuilder(card.SectorBased, full.UID)
	for _, blk := range full.Blocks() {
		b.AddBlock(blk.Index, blk.Data)
	}
	b.AddBlock(card.FirstBlock(8), []byte{0x41})

	res, err := d.Parse(b.Image())
	require.NoError(t, err)
	assert.False(t, res.Record.Has("metro.number"))
	assert.True(t, res.Record.Has("ground.number"))
}

func TestParseWrongKey(t *testing.T) {
	d := NewDecoder()
	img := cardtest.ClassicImage(nil, card.Classic1KSectors, nil, func(b int) []byte {
		if b == card.FirstBlock(8) {
			return walletTicket()
		}
		return nil
	})

	_, err := d.Parse(img)
	assert.True(t, errors.Is(err, card.ErrAuthenticationMismatch), "got %v", err)
}

func TestDecodeDerived(t *testing.T) {
	d := NewDecoder()

	t.Run("Layout 6 validator", func(t *testing.T) {
		block := ticket(put{52, 4, 0x6}, put{0xC1, 4, 3}, put{0xD5, 10, 17})
		_, rec, err := d.Layouts.Decode(block)
		require.NoError(t, err)
		v, _ := rec.Int("validator")
		assert.Equal(t, int64(3*1024+17), v)
	})

	t.Run("E2 validity in minutes", func(t *testing.T) {
		block := ticket(put{52, 9, 0x1C2}, put{0x61, 16, 11688}, put{0x83, 20, 90})
		_, rec, err := d.Layouts.Decode(block)
		require.NoError(t, err)
		assert.False(t, rec.Has("valid_to_day"))
		validTo, ok := rec.Time("valid_to_minute")
		require.True(t, ok)
		assert.Equal(t, time.Date(2023, time.December, 31, 1, 29, 0, 0, time.UTC), validTo)
	})

	t.Run("E2 validity in days", func(t *testing.T) {
		block := ticket(put{52, 9, 0x1C2}, put{0x61, 16, 11688}, put{0x71, 9, 30})
		_, rec, err := d.Layouts.Decode(block)
		require.NoError(t, err)
		assert.False(t, rec.Has("valid_to_minute"))
		validTo, _ := rec.Time("valid_to_day")
		assert.Equal(t, time.Date(2024, time.January, 30, 0, 0, 0, 0, time.UTC), validTo)
	})

	t.Run("Unknown 14-bit layout", func(t *testing.T) {
		block := ticket(put{52, 14, 0x3C00})
		_, _, err := d.Layouts.Decode(block)
		assert.True(t, errors.Is(err, layout.ErrUnrecognizedDiscriminator))
		code, width, ok := layout.DiscriminatorOf(err)
		require.True(t, ok)
		assert.Equal(t, uint64(0x3C00), code)
		assert.Equal(t, 14, width)
	})
}
