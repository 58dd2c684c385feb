package emv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/tlv"
)

func fields(b *record.Builder) map[string]string {
	out := map[string]string{}
	for _, f := range b.Record().Fields() {
		out[f.Name] = f.Value.String()
	}
	return out
}

func TestParseFCI(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantName  []byte
		wantLabel string
		wantSFI   []byte
	}{
		{
			name: "Mastercard application",
			data: tlv.Hex(
				"6F 1A",
				"84 07 A0000000041010",
				"A5 0F 50 0A 4D617374657243617264 87 01 01",
			),
			wantName:  tlv.Hex("A0000000041010"),
			wantLabel: "MasterCard",
		},
		{
			name: "PSE without 6F wrapper",
			data: tlv.Hex(
				"84 0E 315041592E5359532E4444463031",
				"A5 08 88 01 02 5F2D 02 656E",
			),
			wantName: []byte("1PAY.SYS.DDF01"),
			wantSFI:  []byte{0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFCI(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantLabel, string(got.Proprietary.Label))
			assert.Equal(t, tt.wantSFI, got.Proprietary.SFI)
		})
	}

	_, err := ParseFCI(nil)
	assert.Error(t, err)
}

func TestFCIAppendTo(t *testing.T) {
	fci, err := ParseFCI(tlv.Hex(
		"6F 31",
		"84 07 A0000000031010",
		"A5 26",
		"50 04 56495341",
		"BF0C 17 5F50 0E 7777772E6D795F62616E6B2E6575 99 04 11223344",
		"9F38 03 9F1A02",
	))
	require.NoError(t, err)

	b := record.NewBuilder("emv")
	fci.AppendTo(b, "FCI")
	assert.Equal(t, map[string]string{
		"FCI.Name":                ".......",
		"FCI.Proprietary.Label":   "VISA",
		"FCI.Proprietary.PDOL":    "9F1A02",
		"FCI.Discretionary.URL":   "www.my_bank.eu",
		"FCI.Discretionary.Tag99": "11223344",
	}, fields(b))
}

func TestFCIApplications(t *testing.T) {
	fci, err := ParseFCI(tlv.Hex(
		"6F 2F",
		"84 0E 325041592E5359532E4444463031",
		"A5 1D BF0C 1A",
		"61 18 4F 07 A0000000041010 50 0A 4D617374657243617264 87 01 01",
	))
	require.NoError(t, err)

	apps := fci.Applications()
	require.Len(t, apps, 1)
	assert.Equal(t, tlv.Hex("A0000000041010"), apps[0].AID)
	assert.Equal(t, "MasterCard", string(apps[0].Label))
	assert.Equal(t, []byte{0x01}, apps[0].Priority)

	assert.Nil(t, (&FCI{}).Applications())
}

func TestParseDirectoryRecord(t *testing.T) {
	dir, err := ParseDirectoryRecord(tlv.Hex(
		"70 2E",
		"99 02 DEAF",
		"61 28",
		"4F 07 A0000000031010",
		"50 04 56495341",
		"73 17 5F50 0E 7777772E6D795F62616E6B2E6575 99 04 11223344",
	))
	require.NoError(t, err)

	b := record.NewBuilder("emv")
	dir.AppendTo(b, "PSE")
	assert.Equal(t, map[string]string{
		"PSE.Tag99":                "DEAF",
		"PSE.App1.AID":             "A0000000031010",
		"PSE.App1.Label":           "VISA",
		"PSE.App1.Directory.URL":   "www.my_bank.eu",
		"PSE.App1.Directory.Tag99": "11223344",
	}, fields(b))
}

func TestParseRecordWithoutTemplate(t *testing.T) {
	_, err := ParseDirectoryRecord(tlv.Hex("61 03 4F 01 A0"))
	assert.ErrorContains(t, err, "missing mandatory template 70")

	_, err = ParseApplicationRecord(nil)
	assert.ErrorContains(t, err, "empty data")
}

func TestParseApplicationRecord(t *testing.T) {
	rec, err := ParseApplicationRecord(tlv.Hex(
		"70 26",
		"5A 08 4761739001010010",
		"5F24 03 281231",
		"5F20 0A 444F452F4A4F484E2020",
		"5F34 01 01",
		"9F08 02 0002",
	))
	require.NoError(t, err)

	b := record.NewBuilder("emv")
	tlv.AppendFields(b, "R", rec)
	assert.Equal(t, map[string]string{
		"R.PAN":               "4761739001010010",
		"R.ExpirationDate":    "281231",
		"R.CardholderName":    "DOE/JOHN  ",
		"R.PANSequenceNumber": "1",
		"R.Tag9F08":           "0002",
	}, fields(b))
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"end of month", "281231", time.Date(2028, time.December, 31, 0, 0, 0, 0, time.UTC), false},
		{"early century", "050301", time.Date(2005, time.March, 1, 0, 0, 0, 0, time.UTC), false},
		{"not BCD", "2A1231", time.Time{}, true},
		{"month out of range", "281301", time.Time{}, true},
		{"wrong length", "2812", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tlv.Hex(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}
