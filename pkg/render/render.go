// Package render turns a decoded record into the text report shown to the
// user.
//
// The report uses a small inline markup: a line starting with the escape
// sequence ESC '#' is a section header, every other line reads
// "Label: value".
//
//	\e#Troika
//	\e#Metro
//	Number: 0012345678
//	Valid to: 31.12.2024
//
// Lines whose field is absent from the record are skipped, and a section
// left without any line is dropped together with its header.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/gregLibert/card-decoder/pkg/record"
)

// Header introduces a section header line.
const Header = "\x1b#"

const (
	DefaultDateLayout     = "02.01.2006"
	DefaultDateTimeLayout = "02.01.2006 15:04"
)

// Template describes the report of one card.
type Template struct {
	Title          string    `yaml:"title"`
	Sections       []Section `yaml:"sections"`
	DateLayout     string    `yaml:"date_layout"`
	DateTimeLayout string    `yaml:"datetime_layout"`
}

// Section groups lines under one header. Prefix is prepended to every
// field name looked up by its lines.
type Section struct {
	Header string `yaml:"header"`
	Prefix string `yaml:"prefix"`
	Lines  []Line `yaml:"lines"`
}

// Line renders one field, or a constant Text, as "Label: value".
//
// Format is a printf verb for integers and strings ("%d" by default) or
// "cents" for signed amounts in hundredths. Instants use "date" (default)
// or "datetime". Names maps integer values to text; a miss uses Default,
// which may contain a verb for the raw value.
type Line struct {
	Label   string           `yaml:"label"`
	Field   string           `yaml:"field"`
	Format  string           `yaml:"format"`
	Names   map[int64]string `yaml:"names"`
	Default string           `yaml:"default"`
	Text    string           `yaml:"text"`
	Prefix  string           `yaml:"prefix"`
	Suffix  string           `yaml:"suffix"`
	When    *Condition       `yaml:"when"`
}

// Condition gates a line on another field of the same section.
type Condition struct {
	Field   string `yaml:"field"`
	Equals  *int64 `yaml:"equals"`
	NonZero bool   `yaml:"nonzero"`
}

// Eq is a shorthand for building conditions in code.
func Eq(field string, v int64) *Condition {
	return &Condition{Field: field, Equals: &v}
}

// NonZero gates a line on field being present and nonzero.
func NonZero(field string) *Condition {
	return &Condition{Field: field, NonZero: true}
}

// Render formats rec with tmpl.
func Render(rec *record.Record, tmpl Template) string {
	var sb strings.Builder
	if tmpl.Title != "" {
		sb.WriteString(Header + tmpl.Title + "\n")
	}

	for _, sec := range tmpl.Sections {
		lines := sec.render(rec, tmpl)
		if len(lines) == 0 {
			continue
		}
		if sec.Header != "" {
			sb.WriteString(Header + sec.Header + "\n")
		}
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

func (s Section) render(rec *record.Record, tmpl Template) []string {
	var out []string
	for _, l := range s.Lines {
		if l.When != nil && !l.When.holds(rec, s.Prefix) {
			continue
		}
		text, ok := l.value(rec, s.Prefix, tmpl)
		if !ok {
			continue
		}
		if l.Label == "" {
			out = append(out, text)
			continue
		}
		out = append(out, l.Label+": "+text)
	}
	return out
}

func (c *Condition) holds(rec *record.Record, prefix string) bool {
	v, ok := rec.Get(prefix + c.Field)
	if !ok {
		return false
	}
	if c.NonZero && v.IsZero() {
		return false
	}
	if c.Equals != nil && (v.Kind != record.Int || v.Int != *c.Equals) {
		return false
	}
	return true
}

func (l Line) value(rec *record.Record, prefix string, tmpl Template) (string, bool) {
	if l.Field == "" {
		return l.Text, l.Text != "" || l.Label != ""
	}

	v, ok := rec.Get(prefix + l.Field)
	if !ok {
		return "", false
	}

	var s string
	switch v.Kind {
	case record.Int:
		s = l.formatInt(v.Int)
	case record.Time:
		s = l.formatTime(v.Time, tmpl)
	default:
		s = v.Str
		if l.Format != "" {
			s = fmt.Sprintf(l.Format, v.Str)
		}
	}
	return l.Prefix + s + l.Suffix, true
}

func (l Line) formatInt(v int64) string {
	if l.Names != nil {
		if name, ok := l.Names[v]; ok {
			return name
		}
		if strings.Contains(l.Default, "%") {
			return fmt.Sprintf(l.Default, v)
		}
		if l.Default != "" {
			return l.Default
		}
	}

	switch l.Format {
	case "":
		return fmt.Sprint(v)
	case "cents":
		return Cents(v)
	default:
		return fmt.Sprintf(l.Format, v)
	}
}

func (l Line) formatTime(t time.Time, tmpl Template) string {
	if l.Format == "datetime" {
		return t.Format(orDefault(tmpl.DateTimeLayout, DefaultDateTimeLayout))
	}
	if l.Format != "" && l.Format != "date" {
		return t.Format(l.Format)
	}
	return t.Format(orDefault(tmpl.DateLayout, DefaultDateLayout))
}

// Cents formats an amount in hundredths as "d.cc", keeping the sign.
func Cents(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
