package iso7816

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/card-decoder/pkg/tlv"
)

func mustInstruction(code InsCode) Instruction {
	i, _ := NewInstruction(code)
	return i
}

func TestSelectResultDescribe(t *testing.T) {
	cmd := SelectByAID(Class{}, []byte("1PAY.SYS.DDF01"))
	trace := Trace{
		{
			Command:  cmd,
			Response: &ResponseAPDU{Status: NewStatusWord(0x61, 0x2B)},
		},
		{
			Command: NewCommandAPDU(Class{}, mustInstruction(INS_GET_RESPONSE), 0, 0, nil, 43),
			Response: &ResponseAPDU{
				Data: tlv.Hex(
					"6F 29",
					"84 0E 315041592E5359532E4444463031",
					"A5 17 880101 5F2D046672656E BF0C0ABF0E07D2054C42503431",
				),
				Status: SW_NO_ERROR,
			},
		},
	}

	res, err := NewSelectResult(trace)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SELECT Select by DF Name (AID), First/Only | Return FCI",
		`  target: 315041592E5359532E4444463031 "1PAY.SYS.DDF01"`,
		"  status: Process completed, 43 bytes available",
		"  then:   GET RESPONSE -> [9000] SW_NO_ERROR",
		"  data:   43 bytes",
		"    6F",
		`      84: 315041592E5359532E4444463031 "1PAY.SYS.DDF01"`,
		"      A5",
		"        88: 01",
		`        5F2D: 6672656E "fren"`,
		"        BF0C",
		"          BF0E",
		`            D2: 4C42503431 "LBP41"`,
	}, strings.Split(res.Describe(), "\n"))
}

func TestSelectResultRefused(t *testing.T) {
	trace := Trace{{
		Command:  SelectByAID(Class{}, tlv.Hex("A0000000041010")),
		Response: &ResponseAPDU{Status: SW_ERR_FILE_NOT_FOUND},
	}}

	res, err := NewSelectResult(trace)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SELECT Select by DF Name (AID), First/Only | Return FCI",
		`  target: A0000000041010 "......."`,
		"  status: [6A82] SW_ERR_FILE_NOT_FOUND",
		"  no data",
	}, strings.Split(res.Describe(), "\n"))
}

func TestReadRecordResultDescribe(t *testing.T) {
	tests := []struct {
		name  string
		cmd   *CommandAPDU
		resp  ResponseAPDU
		lines []string
	}{
		{
			name: "cardholder record",
			cmd:  ReadRecord(Class{}, 1, 1),
			resp: ResponseAPDU{Data: tlv.Hex("70 07 5F20 04 444F4521"), Status: SW_NO_ERROR},
			lines: []string{
				"READ RECORD record 1 of SFI 1 (Ref Num: Read Record P1)",
				"  status: [9000] SW_NO_ERROR",
				"  data:   9 bytes",
				"    70",
				`      5F20: 444F4521 "DOE!"`,
			},
		},
		{
			name: "past the last record",
			cmd:  NewReadRecordCommand(Class{}, 2, 0xFE, RefByID_NextOccurrence),
			resp: ResponseAPDU{Status: SW_ERR_RECORD_NOT_FOUND},
			lines: []string{
				"READ RECORD record identifier FE of SFI 2 (Ref ID: Next Occurrence)",
				"  status: [6A83] SW_ERR_RECORD_NOT_FOUND",
				"  no data",
			},
		},
		{
			name: "current record of current EF",
			cmd:  ReadRecord(Class{}, 0, 0),
			resp: ResponseAPDU{Status: SW_NO_ERROR},
			lines: []string{
				"READ RECORD current record of current EF (Ref Num: Read Record P1)",
				"  status: [9000] SW_NO_ERROR",
				"  no data",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp
			res, err := NewReadRecordResult(Trace{{Command: tt.cmd, Response: &resp}})
			require.NoError(t, err)
			assert.Equal(t, tt.lines, strings.Split(res.Describe(), "\n"))
		})
	}
}

func TestNewResultErrors(t *testing.T) {
	_, err := NewSelectResult(nil)
	assert.Error(t, err)

	read := Trace{{Command: ReadRecord(Class{}, 1, 1), Response: &ResponseAPDU{Status: SW_NO_ERROR}}}
	_, err = NewSelectResult(read)
	assert.ErrorContains(t, err, "must start with A4")

	_, err = NewReadRecordResult(Trace{{Command: SelectByAID(Class{}, []byte("2PAY.SYS.DDF01")), Response: &ResponseAPDU{}}})
	assert.ErrorContains(t, err, "must start with B2")
}
