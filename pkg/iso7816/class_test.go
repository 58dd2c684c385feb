package iso7816

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClass(t *testing.T) {
	tests := []struct {
		name string
		cla  byte
		want Class
	}{
		{"ISO basic channel", 0x00, Class{Raw: 0x00}},
		{"channel 3 chained with SM", 0b0_0_11_1_11, Class{Raw: 0x3F, IsChained: true, SecureMessaging: SMHeaderAuth, Channel: 3}},
		{"further range channel 4", 0b0_1_0_0_0000, Class{Raw: 0x40, Channel: 4}},
		{"further range channel 19", 0b0_1_1_1_1111, Class{Raw: 0x7F, IsChained: true, SecureMessaging: SMHeaderNoProc, Channel: 19}},
		{"DESFire wrapping", 0x90, Class{Raw: 0x90, IsProprietary: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewClass(tt.cla)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			raw, err := got.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.cla, raw)
		})
	}

	_, err := NewClass(0xFF)
	assert.Error(t, err)
}

func TestClassEncode(t *testing.T) {
	tests := []struct {
		name    string
		class   Class
		want    byte
		wantErr bool
	}{
		{"PC/SC reader class", PCSCClass, 0xFF, false},
		{"DESFire class", DESFireClass, 0x90, false},
		{"channel 6 with ISO SM", Class{IsChained: true, SecureMessaging: SMHeaderNoProc, Channel: 6}, 0b0_1_1_1_0010, false},
		{"channel 20", Class{Channel: 20}, 0, true},
		{"authenticated header on channel 5", Class{SecureMessaging: SMHeaderAuth, Channel: 5}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.class.Encode()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
