package iso7816

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstruction(t *testing.T) {
	tests := []struct {
		name    string
		ins     InsCode
		wantBER bool
		wantErr bool
	}{
		{"SELECT", INS_SELECT, false, false},
		{"READ BINARY BER-TLV", INS_READ_BINARY_BER, true, false},
		{"GET DATA for the UID", INS_GET_DATA, false, false},
		{"procedure byte 6X", 0x6A, false, true},
		{"procedure byte 9X", 0x90, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewInstruction(tt.ins)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ins, got.Raw)
			assert.Equal(t, tt.wantBER, got.IsBERTLV)
		})
	}
}

func TestProprietaryInstruction(t *testing.T) {
	ins := NewProprietaryInstruction(DESFireGetApplicationIDs)
	assert.Equal(t, InsCode(0x6A), ins.Raw)
	assert.Equal(t, "INS 6A", ins.Raw.String())
}

func TestInstructionVerbose(t *testing.T) {
	assert.Equal(t, "INS: 0xA4 | Command: SELECT | Format: Standard", mustInstruction(INS_SELECT).Verbose())
	assert.Equal(t, "INS: 0xB1 | Command: READ BINARY | Format: BER-TLV", mustInstruction(INS_READ_BINARY_BER).Verbose())
}
