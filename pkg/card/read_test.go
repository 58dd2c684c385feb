package card_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/card/cardtest"
)

func quietLogger() log.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestReadSectors(t *testing.T) {
	keys := card.KeySet{
		1: {A: card.MustParseKey("A0A1A2A3A4A5"), B: card.MustParseKey("B4C132439EEF")},
		2: {A: card.MustParseKey("112233445566"), B: card.MustParseKey("665544332211")},
	}
	img := cardtest.ClassicImage([]byte{1, 2, 3, 4}, 4, keys, func(b int) []byte { return []byte{byte(b)} })
	fake := &cardtest.Classic{Image: img, SectorCount: 4}

	known := card.KeySet{
		1: keys[1],
		2: {A: card.MustParseKey("000000000000"), B: keys[2].B},
	}
	got, err := card.ReadSectors(context.Background(), fake, known, quietLogger())
	require.NoError(t, err)

	_, ok := got.Sector(0)
	assert.False(t, ok, "sector 0 not in the key set")

	sector, ok := got.Sector(1)
	require.True(t, ok)
	assert.Equal(t, byte(4), sector[0][0])
	assert.NoError(t, card.CheckTrailerKey(got, 1, card.KeyA, keys[1].A), "key A written back into the trailer")

	_, ok = got.Sector(2)
	require.True(t, ok, "opened with key B")
	assert.NoError(t, card.CheckTrailerKey(got, 2, card.KeyB, keys[2].B))
	assert.Equal(t, []string{"1A:A0A1A2A3A4A5", "2A:000000000000", "2B:665544332211"}, fake.Auths)
}

func TestReadSectorsWithDictionary(t *testing.T) {
	keys := card.KeySet{
		0: {A: card.MustParseKey("A0A1A2A3A4A5"), B: card.MustParseKey("B0B1B2B3B4B5")},
		1: {A: card.MustParseKey("010203040506"), B: card.MustParseKey("D3F7D3F7D3F7")},
		2: {A: card.MustParseKey("010203040506"), B: card.MustParseKey("010203040506")},
	}
	img := cardtest.ClassicImage([]byte{1, 2, 3, 4}, 3, keys, nil)
	fake := &cardtest.Classic{Image: img, SectorCount: 3}

	got, err := card.ReadSectorsWithDictionary(context.Background(), fake, card.WellKnownKeys(), quietLogger())
	require.NoError(t, err)

	for s := 0; s < 2; s++ {
		_, ok := got.Sector(s)
		assert.True(t, ok, "sector %d", s)
	}
	_, ok := got.Sector(2)
	assert.False(t, ok, "sector 2 keys are not in the dictionary")
	assert.NoError(t, card.CheckTrailerKey(got, 1, card.KeyB, keys[1].B))
}

func TestReadSectors_CardGone(t *testing.T) {
	img := cardtest.ClassicImage([]byte{1, 2, 3, 4}, 4, nil, nil)
	fake := &cardtest.Classic{Image: img, SectorCount: 4, GoneAfter: 3}

	_, err := card.ReadSectorsWithDictionary(context.Background(), fake, card.WellKnownKeys(), quietLogger())
	assert.True(t, card.IsCardGone(err), "got %v", err)
}

func TestReadPages(t *testing.T) {
	b := card.NewImageBuilder(card.PageBased, []byte{0x04, 1, 2, 3, 4, 5, 6})
	for p := 0; p < 8; p++ {
		b.AddBlock(p, []byte{byte(p), 0, 0, 0})
	}
	fake := &cardtest.Pages{Image: b.Image()}

	got, err := card.ReadPages(context.Background(), fake)
	require.NoError(t, err)
	assert.Len(t, got.Blocks(), 8)

	empty := &cardtest.Pages{Image: card.NewImageBuilder(card.PageBased, nil).Image()}
	_, err = card.ReadPages(context.Background(), empty)
	assert.True(t, errors.Is(err, card.ErrTransportFailure), "got %v", err)

	gone := &cardtest.Pages{Image: b.Image(), GoneAfter: 1}
	_, err = card.ReadPages(context.Background(), gone)
	assert.True(t, card.IsCardGone(err), "got %v", err)
}

func TestReadDESFire(t *testing.T) {
	fake := &cardtest.APDU{
		CardUID: []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		Replies: map[string]string{
			"906A000000":                 "F21190 9100",
			"905A000003F2119000":         "9100",
			"906F000000":                 "0802 9100",
			"90F50000010800":             "00 00 00E0 200000 9100",
			"90F50000010200":             "01 00 00E0 040000 9100",
			"90BD0000070800000000000000": "0001020304 91AF",
			"90AF000000":                 "0506 9100",
			"90BD0000070200000000000000": "919D",
		},
	}

	r := &card.Reader{Log: quietLogger()}
	got, err := r.Read(context.Background(), fake)
	require.NoError(t, err)

	app := []byte{0xF2, 0x11, 0x90}
	f, ok := got.File(app, 8)
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6}, f.Data)

	_, ok = got.File(app, 2)
	assert.False(t, ok, "permission denied file is skipped")

	_, err = r.Read(context.Background(), &cardtest.APDU{Gone: true})
	assert.True(t, card.IsCardGone(err), "got %v", err)
}

func TestDumpRoundTrip(t *testing.T) {
	img := card.NewImageBuilder(card.DirectoryFile, []byte{0x04, 0xAB}).
		AddFile(card.File{App: []byte{0xF2, 0x11, 0x90}, ID: 8, Type: 1, Data: []byte{0xDE, 0xAD}}).
		Image()

	var buf bytes.Buffer
	require.NoError(t, img.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "app: F21190")

	got, err := card.LoadImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, card.DirectoryFile, got.Protocol)
	assert.Equal(t, []byte{0x04, 0xAB}, got.UID)
	f, ok := got.File([]byte{0xF2, 0x11, 0x90}, 8)
	require.True(t, ok)
	assert.Equal(t, []byte{0xDE, 0xAD}, f.Data)
}

func TestLoadImage_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"protocol": "protocol: tape\nuid: 01\n",
		"uid":      "protocol: page\nuid: XYZ\n",
		"block":    "protocol: page\nuid: \"01\"\nblocks:\n  - index: 0\n    data: 0G\n",
		"short":    "protocol: sector\nuid: \"01\"\nblocks:\n  - index: 32\n    data: \"00\"\n",
		"long":     "protocol: page\nuid: \"01\"\nblocks:\n  - index: 4\n    data: \"0011223344\"\n",
		"no size":  "protocol: file\nuid: \"01\"\nblocks:\n  - index: 0\n    data: \"00\"\n",
	} {
		_, err := card.LoadImage(bytes.NewBufferString(doc))
		assert.Error(t, err, name)
	}
}
