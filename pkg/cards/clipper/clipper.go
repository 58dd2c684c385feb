// Package clipper decodes Clipper cards (San Francisco Bay Area), MIFARE
// DESFire cards whose files are readable without authentication.
//
// Files of the Clipper application:
//
//	 2  e-cash (backup): counter, last update, terminal, balance
//	 6  ride history index (backup): record numbers, newest first
//	 8  identity (standard): serial number
//	14  ride history (standard): 32-byte ride records
package clipper

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ansel1/merry/v2"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/epoch"
	"github.com/gregLibert/card-decoder/pkg/iso7816"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/render"
)

const Name = "clipper"

// ErrNotClipper is returned when no Clipper application was read.
var ErrNotClipper = merry.New("clipper: no clipper application")

const (
	ecashFile    = 2
	indexFile    = 6
	identityFile = 8
	historyFile  = 14

	rideSize    = 0x20
	historySize = 512
	indexSize   = 16
	rideTag     = 0x10
	endOfIndex  = 0xFF
)

// Timestamps count seconds from 1900-01-01 00:00 UTC.
var seconds1900 = epoch.Epoch{StartYear: 1900, Unit: epoch.Second, Offset: 24 * time.Hour}

//go:embed clipper.yaml
var dataYAML []byte

// App is a Clipper application identifier and the device it designates.
type App struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`

	aid []byte
}

// Data holds the application list and name tables.
type Data struct {
	Apps     []App                        `yaml:"apps"`
	Agencies map[uint16]string            `yaml:"agencies"`
	Zones    map[uint16]map[uint16]string `yaml:"zones"`
}

// LoadData parses an application list and name tables. Application
// identifiers are the three bytes listed by the card, in hex.
func LoadData(b []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("clipper data: %w", err)
	}
	for i := range d.Apps {
		aid, err := hex.DecodeString(d.Apps[i].ID)
		if err != nil || len(aid) != 3 {
			return nil, fmt.Errorf("clipper data: bad application id %q", d.Apps[i].ID)
		}
		d.Apps[i].aid = aid
	}
	return &d, nil
}

// Decoder decodes Clipper cards.
type Decoder struct {
	Data *Data
}

// NewDecoder returns a decoder over the built-in tables.
func NewDecoder() *Decoder {
	d, err := LoadData(dataYAML)
	if err != nil {
		panic(err)
	}
	return &Decoder{Data: d}
}

// Recognizer returns the clipper recognizer. It relies on the default
// DESFire read.
func (d *Decoder) Recognizer() recognizer.Recognizer {
	return recognizer.Recognizer{
		Name:     Name,
		Protocol: card.DirectoryFile,
		Parse:    d.Parse,
	}
}

// Recognizer returns the clipper recognizer over the built-in tables.
func Recognizer() recognizer.Recognizer {
	return NewDecoder().Recognizer()
}

// AgencyName returns the name of a transit agency.
func (d *Decoder) AgencyName(id uint16) string {
	if name, ok := d.Data.Agencies[id]; ok {
		return name
	}
	return "Unknown"
}

// ZoneName returns the name of a zone or station of an agency.
func (d *Decoder) ZoneName(agency, zone uint16) string {
	if name, ok := d.Data.Zones[agency][zone]; ok {
		return name
	}
	return "Unknown"
}

// file returns the contents of a file of the expected type holding at
// least size bytes.
func file(img *card.Image, app []byte, id int, typ byte, size int) ([]byte, error) {
	f, ok := img.File(app, id)
	if !ok {
		return nil, card.Errorf(card.ErrTransportFailure, "clipper: file %d not read", id)
	}
	if f.Type != typ {
		return nil, fmt.Errorf("clipper: file %d has type %d, want %d", id, f.Type, typ)
	}
	if len(f.Data) < size {
		return nil, fmt.Errorf("clipper: file %d holds %d bytes, want %d", id, len(f.Data), size)
	}
	return f.Data, nil
}

func u16(b []byte) uint16 { return uint16(bits.BytesToNumBE(b[:2])) }
func i16(b []byte) int64  { return int64(int16(u16(b))) }
func u32(b []byte) uint32 { return uint32(bits.BytesToNumBE(b[:4])) }

// Ride is one entry of the ride history.
type Ride struct {
	Agency  uint16
	Fare    int64
	Vehicle uint16
	On      time.Time
	Off     time.Time
	ZoneOn  uint16
	ZoneOff uint16

	// Alighted is false when no exit was recorded.
	Alighted bool
}

// ParseRide decodes a 32-byte ride record. ok is false for a slot that
// holds no ride.
func ParseRide(rec []byte) (r Ride, ok bool) {
	if len(rec) < rideSize || rec[0] != rideTag {
		return Ride{}, false
	}
	r.Agency = u16(rec[2:])
	if r.Agency == 0 {
		return Ride{}, false
	}
	off := u32(rec[0x10:])
	r.Fare = i16(rec[6:])
	r.Vehicle = u16(rec[0x0A:])
	r.On = epoch.ToDateTime(int64(u32(rec[0x0C:])), seconds1900)
	r.Off = epoch.ToDateTime(int64(off), seconds1900)
	r.ZoneOn = u16(rec[0x14:])
	r.ZoneOff = u16(rec[0x16:])
	r.Alighted = off != 0
	return r, true
}

// Rides follows the history index and returns the rides it points at, up
// to the first end marker or empty slot.
func Rides(index, history []byte) []Ride {
	var rides []Ride
	for i := 0; i < indexSize && i < len(index); i++ {
		n := index[i]
		if n == endOfIndex {
			break
		}
		offset := int(n) * rideSize
		if offset+rideSize > len(history) {
			break
		}
		r, ok := ParseRide(history[offset : offset+rideSize])
		if !ok {
			break
		}
		rides = append(rides, r)
	}
	return rides
}

// Parse decodes the first Clipper application found on the card.
func (d *Decoder) Parse(img *card.Image) (*recognizer.Result, error) {
	var app *App
	for i := range d.Data.Apps {
		if img.HasApp(d.Data.Apps[i].aid) {
			app = &d.Data.Apps[i]
			break
		}
	}
	if app == nil {
		return nil, ErrNotClipper
	}

	identity, err := file(img, app.aid, identityFile, iso7816.DESFireStandardFile, 5)
	if err != nil {
		return nil, err
	}
	ecash, err := file(img, app.aid, ecashFile, iso7816.DESFireBackupFile, 32)
	if err != nil {
		return nil, err
	}
	index, err := file(img, app.aid, indexFile, iso7816.DESFireBackupFile, indexSize)
	if err != nil {
		return nil, err
	}
	history, err := file(img, app.aid, historyFile, iso7816.DESFireStandardFile, historySize)
	if err != nil {
		return nil, err
	}

	updated := u32(ecash[4:])
	b := record.NewBuilder(Name).
		SetInt("serial", int64(u32(identity[1:]))).
		SetInt("balance", i16(ecash[0x12:])).
		SetString("type", app.Type).
		SetInt("counter", int64(u16(ecash[2:]))).
		SetInt("last_update_raw", int64(updated)).
		SetInt("terminal", int64(u16(ecash[8:]))).
		SetInt("transaction_id", int64(u16(ecash[0x10:])))
	if updated != 0 {
		b.SetTime("last_update", epoch.ToDateTime(int64(updated), seconds1900))
	}

	tmpl := render.Template{Title: "Clipper", Sections: []render.Section{summary, lastUpdate}}

	for n, r := range Rides(index, history[:historySize]) {
		prefix := fmt.Sprintf("ride.%d.", n)
		b.SetTime(prefix+"on", r.On).
			SetInt(prefix+"fare", r.Fare).
			SetInt(prefix+"agency_id", int64(r.Agency)).
			SetString(prefix+"agency", fmt.Sprintf("%s (%04x)", d.AgencyName(r.Agency), r.Agency)).
			SetString(prefix+"zone_on", fmt.Sprintf("%s (%04x)", d.ZoneName(r.Agency, r.ZoneOn), r.ZoneOn)).
			SetInt(prefix+"vehicle", int64(r.Vehicle))
		if r.Alighted {
			b.SetTime(prefix+"off", r.Off).
				SetString(prefix+"zone_off", fmt.Sprintf("%s (%04x)", d.ZoneName(r.Agency, r.ZoneOff), r.ZoneOff))
		}
		tmpl.Sections = append(tmpl.Sections, render.Section{Header: "Ride Record", Prefix: prefix, Lines: rideLines})
	}

	return &recognizer.Result{Record: b.Record(), Template: tmpl}, nil
}

var summary = render.Section{Lines: []render.Line{
	{Label: "Serial", Field: "serial"},
	{Label: "Balance", Field: "balance", Format: "cents", Prefix: "$"},
	{Label: "Type", Field: "type"},
}}

var lastUpdate = render.Section{
	Header: "Last Update",
	Lines: []render.Line{
		{Label: "Date", Field: "last_update"},
		{Label: "Time", Field: "last_update", Format: "15:04:05", Suffix: " (UTC)"},
		{Text: "Never", When: render.Eq("last_update_raw", 0)},
		{Label: "Terminal", Field: "terminal", Format: "0x%04x"},
		{Label: "Transaction Id", Field: "transaction_id"},
		{Label: "Counter", Field: "counter"},
	},
}

var rideLines = []render.Line{
	{Label: "Date", Field: "on"},
	{Label: "Time", Field: "on", Format: "15:04:05", Suffix: " (UTC)"},
	{Label: "Fare", Field: "fare", Format: "cents", Prefix: "$"},
	{Label: "Agency", Field: "agency"},
	{Label: "On", Field: "zone_on"},
	{Label: "Vehicle id", Field: "vehicle", When: render.NonZero("vehicle")},
	{Label: "Off", Field: "zone_off"},
	{Label: "Date Off", Field: "off"},
	{Label: "Time Off", Field: "off", Format: "15:04:05", Suffix: " (UTC)"},
}
