package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// Hex decodes hex strings joined together. Whitespace is ignored. It
// panics on bad input and is meant for literals.
func Hex(parts ...string) []byte {
	s := strings.Join(strings.Fields(strings.Join(parts, "")), "")
	data, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid hex %q: %v", s, err))
	}
	return data
}

// Lines prints BER-TLV data as an indented tree, one tag per line.
// Primitive values are shown in hex, followed by the quoted text when every
// byte is printable.
func Lines(data []byte) ([]string, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bertlv decode failed: %w", err)
	}
	var out []string
	appendTree(&out, packets, "")
	return out, nil
}

func appendTree(out *[]string, packets []bertlv.TLV, indent string) {
	for _, p := range packets {
		tag := strings.ToUpper(p.Tag)
		if len(p.TLVs) > 0 {
			*out = append(*out, indent+tag)
			appendTree(out, p.TLVs, indent+"  ")
			continue
		}

		line := fmt.Sprintf("%s%s: %s", indent, tag, encodeHex(p.Value))
		if printable(p.Value) {
			line += fmt.Sprintf(" %q", p.Value)
		}
		*out = append(*out, line)
	}
}

func printable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return false
		}
	}
	return true
}
