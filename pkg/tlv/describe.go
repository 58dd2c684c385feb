package tlv

import (
	"encoding/hex"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/record"
)

// AppendFields copies the byte fields of a tagged struct into b, named
// "<prefix>.<Field>". Empty fields are left out. The fmt tag selects the
// stored value:
//
//	ascii  printable text, other bytes shown as '.'
//	int    big-endian unsigned integer
//	bcd    decimal digits, trailing 'F' padding removed
//	(none) upper-case hex
//
// Untagged fields are skipped. Leftover TLVs collected in an Unknown
// field are stored in hex as "<prefix>.Tag<TAG>".
func AppendFields(b *record.Builder, prefix string, s interface{}) {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	for _, f := range fieldsOf(v.Type()) {
		fv := v.FieldByIndex(f.index)
		switch {
		case f.unknown:
			rest, _ := fv.Interface().([]bertlv.TLV)
			for _, t := range rest {
				b.SetString(prefix+".Tag"+strings.ToUpper(t.Tag), encodeHex(rawValue(t)))
			}
		case isByteSlice(fv) && fv.Len() > 0:
			appendByteField(b, prefix+"."+f.name, fv.Bytes(), f.format)
		}
	}
}

func appendByteField(b *record.Builder, name string, data []byte, format string) {
	switch format {
	case "ascii":
		b.SetString(name, MakeSafeASCII(data))
	case "int":
		b.SetInt(name, int64(bits.BytesToNumBE(data)))
	case "bcd":
		b.SetString(name, strings.TrimRight(encodeHex(data), "F"))
	default:
		b.SetString(name, encodeHex(data))
	}
}

func encodeHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// MakeSafeASCII replaces the bytes outside the printable ASCII range by
// '.'.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
