// Package tlv maps BER-TLV data onto tagged Go structs.
//
// A field is bound to a tag with `tlv:"<hex tag>"`:
//
//   - []byte receives the value; for a constructed tag, its children
//     encoded again.
//   - string receives the value in lower-case hex.
//   - a struct, or pointer to struct, is decoded from the children.
//   - a slice of any of the above collects every occurrence of the tag.
//   - a type implementing Unmarshaler decodes the value itself.
//
// The field named Unknown, or tagged `tlv:",unknown"`, must be a
// []bertlv.TLV and receives the TLVs no other field claimed. The fields of
// an untagged embedded struct are matched as if declared in the outer one.
// The optional `fmt` tag tells AppendFields how to present a byte field.
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/moov-io/bertlv"
)

// Unmarshaler allows custom types to implement their own TLV parsing logic.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

// field is the tag binding of one struct field.
type field struct {
	index   []int
	name    string
	tag     string
	format  string
	unknown bool
}

var bindings sync.Map // reflect.Type -> []field

// fieldsOf returns the tagged fields of struct type t, in declaration
// order. The fields of an untagged embedded struct are promoted.
func fieldsOf(t reflect.Type) []field {
	if cached, ok := bindings.Load(t); ok {
		return cached.([]field)
	}

	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		conf := sf.Tag.Get("tlv")
		if sf.Anonymous && conf == "" && sf.Type.Kind() == reflect.Struct {
			for _, inner := range fieldsOf(sf.Type) {
				inner.index = append([]int{i}, inner.index...)
				out = append(out, inner)
			}
			continue
		}
		f := field{index: []int{i}, name: sf.Name, format: sf.Tag.Get("fmt")}

		switch {
		case conf == ",unknown" || sf.Name == "Unknown":
			f.unknown = true
		case conf != "":
			f.tag = strings.ToUpper(strings.Split(conf, ",")[0])
		default:
			continue
		}
		out = append(out, f)
	}

	bindings.Store(t, out)
	return out
}

// Unmarshal parses raw BER-TLV data and maps it into a target Go struct.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps decoded TLVs onto the struct target points to.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a non-nil pointer to a struct, got %T", target)
	}
	v = v.Elem()

	claimed := make([]bool, len(packets))
	var unknown reflect.Value

	for _, f := range fieldsOf(v.Type()) {
		fv := v.FieldByIndex(f.index)
		if f.unknown {
			unknown = fv
			continue
		}
		for i, p := range packets {
			if !strings.EqualFold(p.Tag, f.tag) {
				continue
			}
			if err := assign(p, fv); err != nil {
				return fmt.Errorf("%s (%s): %w", f.name, f.tag, err)
			}
			claimed[i] = true
		}
	}

	if !unknown.IsValid() || !unknown.CanSet() {
		return nil
	}
	var rest []bertlv.TLV
	for i, p := range packets {
		if !claimed[i] {
			rest = append(rest, p)
		}
	}
	if len(rest) > 0 {
		unknown.Set(reflect.ValueOf(rest))
	}
	return nil
}

// assign stores one TLV into v.
func assign(p bertlv.TLV, v reflect.Value) error {
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(rawValue(p))
		}
	}

	switch {
	case isByteSlice(v):
		v.SetBytes(rawValue(p))
	case v.Kind() == reflect.Slice:
		elem := reflect.New(v.Type().Elem()).Elem()
		if err := assign(p, elem); err != nil {
			return err
		}
		v.Set(reflect.Append(v, elem))
	case v.Kind() == reflect.String:
		v.SetString(hex.EncodeToString(p.Value))
	case v.Kind() == reflect.Struct:
		return decodeStruct(p, v.Addr())
	case v.Kind() == reflect.Ptr && v.Type().Elem().Kind() == reflect.Struct:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return decodeStruct(p, v)
	}
	return nil
}

func decodeStruct(p bertlv.TLV, ptr reflect.Value) error {
	if len(p.TLVs) > 0 {
		return UnmarshalFromPackets(p.TLVs, ptr.Interface())
	}
	return Unmarshal(p.Value, ptr.Interface())
}

// rawValue is the value of p, re-encoding the children of a constructed
// tag.
func rawValue(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}
