// Package record holds the result of decoding a card: an ordered set of
// named scalar values (integers, instants or strings).
//
// Decoders fill a Builder and only hand out the frozen Record once every
// field decoded, so a failed decode never leaks a partial record.
package record

import (
	"fmt"
	"time"
)

// Kind tells which member of a Value is meaningful.
type Kind int

const (
	Int Kind = iota
	Time
	String
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Time:
		return "time"
	case String:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is one decoded scalar.
type Value struct {
	Kind Kind
	Int  int64
	Time time.Time
	Str  string
}

func IntValue(v int64) Value { return Value{Kind: Int, Int: v} }
func TimeValue(t time.Time) Value { return Value{Kind: Time, Time: t} }
func StringValue(s string) Value { return Value{Kind: String, Str: s} }

// IsZero reports whether the value is the zero of its kind.
func (v Value) IsZero() bool {
	switch v.Kind {
	case Int:
		return v.Int == 0
	case Time:
		return v.Time.IsZero()
	default:
		return v.Str == ""
	}
}

func (v Value) String() string {
	switch v.Kind {
	case Int:
		return fmt.Sprint(v.Int)
	case Time:
		return v.Time.Format(time.RFC3339)
	default:
		return v.Str
	}
}

// Field is a named value.
type Field struct {
	Name  string
	Value Value
}

// Record is a read-only decode result.
type Record struct {
	family string
	fields []Field
	index  map[string]int
}

// Family names the card family that produced the record.
func (r *Record) Family() string { return r.family }

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.fields) }

// Get returns the named value.
func (r *Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Value{}, false
	}
	return r.fields[i].Value, true
}

// Has reports whether name was decoded.
func (r *Record) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Int returns the named integer; ok is false when absent or not an integer.
func (r *Record) Int(name string) (int64, bool) {
	v, ok := r.Get(name)
	if !ok || v.Kind != Int {
		return 0, false
	}
	return v.Int, true
}

// Time returns the named instant.
func (r *Record) Time(name string) (time.Time, bool) {
	v, ok := r.Get(name)
	if !ok || v.Kind != Time {
		return time.Time{}, false
	}
	return v.Time, true
}

// Text returns the named string.
func (r *Record) Text(name string) (string, bool) {
	v, ok := r.Get(name)
	if !ok || v.Kind != String {
		return "", false
	}
	return v.Str, true
}

// Fields returns a copy of the fields in decode order.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Builder accumulates fields. Setting a name twice replaces the earlier
// value in place.
type Builder struct {
	rec *Record
}

// NewBuilder starts a record for the given family.
func NewBuilder(family string) *Builder {
	return &Builder{rec: &Record{family: family, index: map[string]int{}}}
}

// Set stores v under name.
func (b *Builder) Set(name string, v Value) *Builder {
	if i, ok := b.rec.index[name]; ok {
		b.rec.fields[i].Value = v
		return b
	}
	b.rec.index[name] = len(b.rec.fields)
	b.rec.fields = append(b.rec.fields, Field{Name: name, Value: v})
	return b
}

func (b *Builder) SetInt(name string, v int64) *Builder { return b.Set(name, IntValue(v)) }
func (b *Builder) SetTime(name string, t time.Time) *Builder { return b.Set(name, TimeValue(t)) }
func (b *Builder) SetString(name string, s string) *Builder { return b.Set(name, StringValue(s)) }

// Merge copies every field of r under prefix.
func (b *Builder) Merge(prefix string, r *Record) *Builder {
	for _, f := range r.fields {
		b.Set(prefix+f.Name, f.Value)
	}
	return b
}

// Record freezes the builder. The builder must not be used afterwards.
func (b *Builder) Record() *Record {
	r := b.rec
	b.rec = nil
	return r
}
