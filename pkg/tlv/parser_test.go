package tlv

import (
	"encoding/hex"
	"reflect"
	"strings"
	"testing"

	"github.com/moov-io/bertlv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/card-decoder/pkg/record"
)

type amount struct {
	Cents int
}

func (a *amount) UnmarshalTLV(data []byte) error {
	for _, b := range data {
		a.Cents = a.Cents*100 + int(b>>4)*10 + int(b&0x0F)
	}
	return nil
}

type discretionary struct {
	Version []byte `tlv:"82"`
}

type selection struct {
	AID      []byte         `tlv:"84"`
	Label    string         `tlv:"50"`
	Extra    discretionary  `tlv:"A5"`
	Issuer   *discretionary `tlv:"BF0C"`
	Amount   amount         `tlv:"9F02"`
	Records  [][]byte       `tlv:"70"`
	Leftover []bertlv.TLV   `tlv:",unknown"`
}

func fromHex(t *testing.T, parts ...string) []byte {
	t.Helper()
	data, err := hex.DecodeString(strings.Join(parts, ""))
	require.NoError(t, err)
	return data
}

func TestUnmarshal(t *testing.T) {
	data := fromHex(t,
		"84", "02", "1122",
		"50", "03", "414243",
		"A5", "03", "8201FF",
		"BF0C", "03", "820101",
		"9F02", "06", "000000012345",
		"70", "02", "5A00",
		"70", "02", "5F24",
		"DF01", "01", "BB",
	)

	var got selection
	require.NoError(t, Unmarshal(data, &got))

	assert.Equal(t, []byte{0x11, 0x22}, got.AID)
	assert.Equal(t, "414243", got.Label)
	assert.Equal(t, []byte{0xFF}, got.Extra.Version)
	require.NotNil(t, got.Issuer)
	assert.Equal(t, []byte{0x01}, got.Issuer.Version)
	assert.Equal(t, 12345, got.Amount.Cents)
	assert.Equal(t, [][]byte{{0x5A, 0x00}, {0x5F, 0x24}}, got.Records)
	require.Len(t, got.Leftover, 1)
	assert.Equal(t, "DF01", strings.ToUpper(got.Leftover[0].Tag))
}

func TestUnmarshalMissingTags(t *testing.T) {
	var got selection
	require.NoError(t, Unmarshal(fromHex(t, "84", "01", "AA"), &got))

	assert.Equal(t, []byte{0xAA}, got.AID)
	assert.Empty(t, got.Label)
	assert.Nil(t, got.Issuer)
	assert.Nil(t, got.Leftover)
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		target interface{}
		want   string
	}{
		{"non-pointer target", []byte{0x84, 0x00}, selection{}, "pointer"},
		{"pointer to non-struct", []byte{0x84, 0x00}, new(int), "pointer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Unmarshal(tt.data, tt.target)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFieldsOf(t *testing.T) {
	fields := fieldsOf(reflect.TypeOf(appTemplate{}))

	var names []string
	for _, f := range fields {
		names = append(names, f.name)
	}
	assert.Equal(t, []string{"FileID", "Label", "Priority", "PAN", "EmptyField", "Unknown"}, names)
	assert.Equal(t, "ascii", fields[1].format)
	assert.True(t, fields[5].unknown)

	// cached
	assert.Equal(t, fields, fieldsOf(reflect.TypeOf(appTemplate{})))
}

type IssuerRef struct {
	URL []byte `tlv:"5F50" fmt:"ascii"`
}

type directoryEntry struct {
	Log []byte `tlv:"9F4D"`
	IssuerRef
	Unknown []bertlv.TLV
}

func TestUnmarshalEmbedded(t *testing.T) {
	var got directoryEntry
	require.NoError(t, Unmarshal(fromHex(t, "9F4D 02 0B0A", "5F50 03 626E6B", "99 01 01"), &got))

	assert.Equal(t, []byte{0x0B, 0x0A}, got.Log)
	assert.Equal(t, []byte("bnk"), got.URL)
	require.Len(t, got.Unknown, 1)

	b := record.NewBuilder("test")
	AppendFields(b, "dir", &got)
	assert.Equal(t, map[string]string{
		"dir.Log":   "0B0A",
		"dir.URL":   "bnk",
		"dir.Tag99": "01",
	}, fieldMap(b))
}
