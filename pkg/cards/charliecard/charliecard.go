// Package charliecard decodes the MBTA CharlieCard (Boston).
//
// Balance and card data are kept twice, in sectors 2 and 3; the card
// alternates between them and the use counters in sector 1 tell which
// copy is current. The last ten transactions sit in sectors 6 and 7.
package charliecard

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/epoch"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/render"
)

const Name = "charliecard"

const (
	verifySector = 1
	keySector    = 3
	historySize  = 10
	tripSize     = 7
)

var (
	// Dates count minutes from 2003-01-01 00:00.
	minutes = epoch.Epoch{StartYear: 2003, Unit: epoch.Minute, Offset: 24 * time.Hour}
	// The end of validity counts 8 minute steps from the same origin.
	eighths = epoch.Epoch{StartYear: 2003, Unit: epoch.Unit(8 * time.Minute), Offset: 24 * time.Hour}
)

//go:embed charliecard.yaml
var dataYAML []byte

// Data holds the card keys and name tables.
type Data struct {
	Keys    card.KeySet       `yaml:"keys"`
	Types   map[int64]string  `yaml:"types"`
	Gates   map[uint16]string `yaml:"gates"`
	BusFare int64             `yaml:"bus_fare"`
}

// LoadData parses a key and name table.
func LoadData(b []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("charliecard data: %w", err)
	}
	for _, s := range []int{verifySector, keySector} {
		if _, ok := d.Keys[s]; !ok {
			return nil, fmt.Errorf("charliecard data: no keys for sector %d", s)
		}
	}
	return &d, nil
}

// Decoder decodes CharlieCards. Now is the clock used to tell whether a
// card has expired.
type Decoder struct {
	Data *Data
	Now  func() time.Time
}

// NewDecoder returns a decoder over the built-in tables and the system
// clock.
func NewDecoder() *Decoder {
	d, err := LoadData(dataYAML)
	if err != nil {
		panic(err)
	}
	return &Decoder{Data: d, Now: time.Now}
}

// Recognizer returns the charliecard recognizer.
func (d *Decoder) Recognizer() recognizer.Recognizer {
	return recognizer.Recognizer{
		Name:     Name,
		Protocol: card.SectorBased,
		Verify:   d.verify,
		Read:     d.read,
		Parse:    d.Parse,
	}
}

// Recognizer returns the charliecard recognizer over the built-in tables.
func Recognizer() recognizer.Recognizer {
	return NewDecoder().Recognizer()
}

func (d *Decoder) verify(ctx context.Context, t card.Transport) error {
	st, ok := t.(card.SectorTransport)
	if !ok {
		return fmt.Errorf("%T cannot read sectors", t)
	}
	return st.Authenticate(ctx, card.FirstBlock(verifySector)+1, card.KeyA, d.Data.Keys[verifySector].A)
}

func (d *Decoder) read(ctx context.Context, t card.Transport) (*card.Image, error) {
	st, ok := t.(card.SectorTransport)
	if !ok {
		return nil, fmt.Errorf("%T cannot read sectors", t)
	}
	return card.ReadSectors(ctx, st, d.Data.Keys, nil)
}

// view reads big-endian numbers at (sector, block, byte) positions and
// remembers the first missing block.
type view struct {
	img *card.Image
	err error
}

func (v *view) num(sector, block, offset, n int) uint64 {
	if v.err != nil {
		return 0
	}
	b, ok := v.img.Block(card.FirstBlock(sector) + block)
	if !ok || offset+n > len(b) {
		v.err = card.Errorf(card.ErrTransportFailure, "charliecard: sector %d block %d not read", sector, block)
		return 0
	}
	return bits.BytesToNumBE(b[offset : offset+n])
}

// money decodes a 2-byte amount stored in half cents with a flag bit on
// top.
func (v *view) money(sector, block, offset int) int64 {
	return int64((v.num(sector, block, offset, 2) & 0x7FFF) >> 1)
}

func (v *view) date(sector, block, offset int) uint64 {
	return v.num(sector, block, offset, 3)
}

// uses returns the use counter of the given balance sector.
func (v *view) uses(sector int) uint16 {
	return uint16(v.num(1, sector-1, 0, 2)) - 1
}

// Trip is one entry of the transaction history.
type Trip struct {
	Date time.Time
	Gate uint16

	// GateFlags bit 0 is set for a fare and clear for a refill.
	GateFlags uint8
	Fare      int64
	FareFlags uint16

	empty bool
}

func (v *view) trip(i int) Trip {
	sector, block, offset := 6+i/6, (i/2)%3, (i%2)*tripSize
	raw := v.date(sector, block, offset)
	loc := v.num(sector, block, offset+3, 2)
	amt := v.num(sector, block, offset+5, 2)
	return Trip{
		Date:      epoch.ToDateTime(int64(raw), minutes),
		Gate:      uint16(loc >> 3),
		GateFlags: uint8(loc & 0x7),
		Fare:      v.money(sector, block, offset+5),
		FareFlags: uint16(amt & 0x8001),
		empty:     raw == 0,
	}
}

// history returns the trips newest first. Entries are written in a ring,
// so the order starts at the newest one and walks backwards.
func (v *view) history() []Trip {
	trips := make([]Trip, historySize)
	newest := 0
	for i := range trips {
		trips[i] = v.trip(i)
		if !trips[i].Date.Before(trips[newest].Date) {
			newest = i
		}
	}

	out := make([]Trip, 0, historySize)
	for k := 0; k < historySize; k++ {
		out = append(out, trips[(newest-k+historySize)%historySize])
	}
	return out
}

// Describe formats a trip as "<sign>$<amount>   <place>".
func (d *Decoder) Describe(t Trip) string {
	sign := "+"
	if t.GateFlags&1 != 0 {
		sign = "-"
	}
	place := fmt.Sprint(t.Gate)
	if t.GateFlags&1 != 0 && t.Fare == d.Data.BusFare {
		place = fmt.Sprintf("Bus#%d", t.Gate)
	} else if name, ok := d.Data.Gates[t.Gate]; ok {
		place = name
	}
	return fmt.Sprintf("%s$%s   %s", sign, render.Cents(t.Fare), place)
}

// Parse decodes the card.
func (d *Decoder) Parse(img *card.Image) (*recognizer.Result, error) {
	keys := d.Data.Keys[keySector]
	if err := card.CheckTrailerKey(img, keySector, card.KeyA, keys.A); err != nil {
		return nil, err
	}
	if err := card.CheckTrailerKey(img, keySector, card.KeyB, keys.B); err != nil {
		return nil, err
	}
	if len(img.UID) < 4 {
		return nil, fmt.Errorf("charliecard: UID too short: %d bytes", len(img.UID))
	}

	v := &view{img: img}
	active := 2
	if v.uses(2) > v.uses(3) {
		active = 3
	}

	b := record.NewBuilder(Name).
		SetInt("serial", int64(bits.BytesToNumBE(img.UID[:4]))).
		SetInt("active_sector", int64(active)).
		SetInt("balance", v.money(active, 1, 5)).
		SetInt("type", int64(v.num(2, 1, 0, 2)>>6)).
		SetInt("trip_count", int64(v.uses(active)))

	issued := epoch.ToDateTime(int64(v.date(active, 0, 6)), minutes)
	expiry := epoch.ToDateTime(int64(v.num(active, 1, 1, 3)&0x1FFFFF), eighths)
	last := epoch.ToDateTime(int64(v.date(active, 0, 1)), minutes)
	b.SetTime("issued", issued).SetTime("expiry", expiry).SetTime("last_use", last)

	now := d.Now()
	expired := !expiry.After(now) || now.Sub(last) >= 2*365*24*time.Hour
	b.SetInt("expired", boolInt(expired))

	tmpl := render.Template{
		Title:    "CharlieCard",
		Sections: []render.Section{summary(d.Data.Types)},
	}

	for n, t := range v.history() {
		if t.empty {
			continue
		}
		prefix := fmt.Sprintf("trip.%d.", n)
		b.SetTime(prefix+"date", t.Date).
			SetInt(prefix+"gate", int64(t.Gate)).
			SetInt(prefix+"fare", t.Fare).
			SetInt(prefix+"refill", boolInt(t.GateFlags&1 == 0)).
			SetString(prefix+"summary", d.Describe(t))

		sec := render.Section{Prefix: prefix, Lines: []render.Line{{Field: "date", Format: "datetime"}, {Field: "summary"}}}
		if len(tmpl.Sections) == 1 {
			sec.Header = "Transactions"
		}
		tmpl.Sections = append(tmpl.Sections, sec)
	}

	if v.err != nil {
		return nil, v.err
	}
	return &recognizer.Result{Record: b.Record(), Template: tmpl}, nil
}

func summary(types map[int64]string) render.Section {
	return render.Section{Lines: []render.Line{
		{Label: "Serial", Field: "serial", Prefix: "5-"},
		{Label: "Balance", Field: "balance", Format: "cents", Prefix: "$"},
		{Label: "Type", Field: "type", Names: types, Default: "Unknown-%d"},
		{Label: "Trip Count", Field: "trip_count"},
		{Label: "Issued", Field: "issued", Format: "datetime"},
		{Label: "Expiry", Field: "expiry", Format: "datetime"},
		{Label: "Expired", Field: "expired", Names: map[int64]string{0: "No", 1: "Yes"}},
	}}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
