// Package emvcard reads the public data of EMV payment cards.
//
// The card is explored the way a terminal starts a transaction: SELECT the
// Proximity Payment System Environment (PPSE), or the contact PSE and its
// directory records when there is no PPSE, SELECT every application listed,
// then READ RECORD through SFI 1 and 2 until the card answers '6A83'. The
// answers are stored in the image as files: the FCI of a selection under
// file 0, records under SFI<<8 | record.
package emvcard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ansel1/merry/v2"
	log "github.com/sirupsen/logrus"

	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/emv"
	"github.com/gregLibert/card-decoder/pkg/iso7816"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/render"
	"github.com/gregLibert/card-decoder/pkg/tlv"
)

const Name = "emv"

// ErrNoApplication is returned when no payment application answered.
var ErrNoApplication = merry.New("emv: no payment application")

// Payment directory names: PPSE for contactless cards, PSE for contact.
var (
	PPSE = []byte("2PAY.SYS.DDF01")
	PSE  = []byte("1PAY.SYS.DDF01")
)

const (
	fciFile    = 0
	lastSFI    = 2
	maxRecords = 16
)

// RecordID is the image file number of record n of sfi.
func RecordID(sfi, n int) int { return sfi<<8 | n }

// Decoder reads and decodes EMV cards.
type Decoder struct {
	Log log.FieldLogger
}

func (d *Decoder) logger() log.FieldLogger {
	if d.Log == nil {
		return log.StandardLogger()
	}
	return d.Log
}

// Recognizer returns the emv recognizer.
func (d *Decoder) Recognizer() recognizer.Recognizer {
	return recognizer.Recognizer{
		Name:     Name,
		Protocol: card.DirectoryFile,
		Read:     d.Read,
		Parse:    d.Parse,
	}
}

// Recognizer returns the emv recognizer with the standard logger.
func Recognizer() recognizer.Recognizer {
	return (&Decoder{}).Recognizer()
}

// transportErr keeps a removed card as is and files everything else under
// ErrTransportFailure.
func transportErr(err error, format string, args ...interface{}) error {
	if card.IsCardGone(err) {
		return err
	}
	return card.Errorf(card.ErrTransportFailure, format+": %v", append(args, err)...)
}

func (d *Decoder) selectApp(client *iso7816.Client, cla iso7816.Class, aid []byte) ([]byte, error) {
	trace, err := client.Send(iso7816.SelectByAID(cla, aid))
	if err != nil {
		return nil, err
	}
	if res, err := iso7816.NewSelectResult(trace); err == nil {
		d.logger().WithField("aid", fmt.Sprintf("%X", aid)).Debug(res.Describe())
	}
	return trace.Data()
}

// Read lists the payment applications of the card, selects each of them
// and reads their records. Applications that refuse selection are skipped.
func (d *Decoder) Read(ctx context.Context, t card.Transport) (*card.Image, error) {
	ft, ok := t.(card.FileTransport)
	if !ok {
		return nil, fmt.Errorf("%T cannot exchange APDUs", t)
	}
	client := iso7816.NewClient(ft)
	client.Log = d.logger()
	cla, _ := iso7816.NewClass(0x00)

	b := card.NewImageBuilder(card.DirectoryFile, t.UID())
	apps, err := d.readDirectory(ctx, client, cla, b)
	if err != nil {
		return nil, err
	}

	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger := d.logger().WithField("aid", fmt.Sprintf("%X", app.AID))

		fci, err := d.selectApp(client, cla, app.AID)
		if card.IsCardGone(err) {
			return nil, err
		}
		if err != nil {
			logger.WithError(err).Debug("Application not selectable")
			continue
		}
		b.AddFile(card.File{App: app.AID, ID: fciFile, Data: fci})

		for sfi := 1; sfi <= lastSFI; sfi++ {
			for n := 1; n <= maxRecords; n++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				data, ok, err := readRecord(client, cla, sfi, n, logger)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				b.AddFile(card.File{App: app.AID, ID: RecordID(sfi, n), Data: data})
			}
		}
	}
	return b.Image(), nil
}

// readDirectory returns the applications listed in the PPSE. Cards without
// one are asked for the contact PSE, whose directory file holds the list.
func (d *Decoder) readDirectory(ctx context.Context, client *iso7816.Client, cla iso7816.Class, b *card.ImageBuilder) ([]emv.ApplicationTemplate, error) {
	raw, err := d.selectApp(client, cla, PPSE)
	if card.IsCardGone(err) {
		return nil, err
	}
	if err == nil {
		fci, err := emv.ParseFCI(raw)
		if err != nil {
			return nil, card.Errorf(card.ErrTransportFailure, "PPSE: %v", err)
		}
		b.AddFile(card.File{App: PPSE, ID: fciFile, Data: raw})
		return fci.Applications(), nil
	}
	d.logger().WithError(err).Debug("No PPSE, trying PSE")

	raw, err = d.selectApp(client, cla, PSE)
	if err != nil {
		return nil, transportErr(err, "select PSE")
	}
	fci, err := emv.ParseFCI(raw)
	if err != nil {
		return nil, card.Errorf(card.ErrTransportFailure, "PSE: %v", err)
	}
	if len(fci.Proprietary.SFI) == 0 {
		return nil, card.Errorf(card.ErrTransportFailure, "PSE: no directory SFI")
	}
	b.AddFile(card.File{App: PSE, ID: fciFile, Data: raw})

	sfi := int(fci.Proprietary.SFI[0])
	logger := d.logger().WithField("sfi", sfi)

	var apps []emv.ApplicationTemplate
	for n := 1; n <= maxRecords; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ok, err := readRecord(client, cla, sfi, n, logger)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		b.AddFile(card.File{App: PSE, ID: RecordID(sfi, n), Data: data})

		rec, err := emv.ParseDirectoryRecord(data)
		if err != nil {
			logger.WithError(err).WithField("record", n).Debug("Bad directory record")
			continue
		}
		for _, app := range rec.Applications {
			if len(app.AID) > 0 {
				apps = append(apps, app)
			}
		}
	}
	return apps, nil
}

// readRecord returns record n of sfi. ok is false once the card has no
// more records to give; err is only set for a removed card.
func readRecord(client *iso7816.Client, cla iso7816.Class, sfi, n int, logger log.FieldLogger) ([]byte, bool, error) {
	trace, err := client.Send(iso7816.ReadRecord(cla, byte(sfi), byte(n)))
	if card.IsCardGone(err) {
		return nil, false, err
	}
	if err != nil {
		logger.WithError(err).WithField("sfi", sfi).Debug("Read record failed")
		return nil, false, nil
	}
	if res, err := iso7816.NewReadRecordResult(trace); err == nil {
		logger.Debug(res.Describe())
	}

	data, err := trace.Data()
	var status iso7816.StatusError
	if errors.As(err, &status) && iso7816.StatusWord(status) == iso7816.SW_ERR_RECORD_NOT_FOUND {
		return nil, false, nil
	}
	if err != nil {
		logger.WithError(err).WithFields(log.Fields{"sfi": sfi, "record": n}).Debug("Record refused")
		return nil, false, nil
	}
	return data, true, nil
}

// Application is the decoded view of one payment application.
type Application struct {
	AID            []byte
	FCI            *emv.FCI
	Records        map[int]*emv.ApplicationRecord
	RecordOrder    []int
	PAN            string
	CardholderName string
	Expiry         []byte
}

// Applications decodes every selected application of the image, in read
// order.
func Applications(img *card.Image) ([]*Application, error) {
	if !img.HasApp(PPSE) && !img.HasApp(PSE) {
		return nil, ErrNoApplication
	}

	var apps []*Application
	byAID := map[string]*Application{}

	for _, f := range img.Files() {
		if isDirectory(f.App) {
			continue
		}
		if f.ID == fciFile {
			fci, err := emv.ParseFCI(f.Data)
			if err != nil {
				return nil, fmt.Errorf("emv: FCI of %X: %w", f.App, err)
			}
			app := &Application{AID: f.App, FCI: fci, Records: map[int]*emv.ApplicationRecord{}}
			byAID[string(f.App)] = app
			apps = append(apps, app)
			continue
		}

		app, ok := byAID[string(f.App)]
		if !ok {
			continue
		}
		rec, err := emv.ParseApplicationRecord(f.Data)
		if err != nil {
			// Records outside Tag '70' are proprietary.
			continue
		}
		app.Records[f.ID] = rec
		app.RecordOrder = append(app.RecordOrder, f.ID)
		if app.PAN == "" && len(rec.PAN) > 0 {
			app.PAN = strings.TrimRight(fmt.Sprintf("%X", rec.PAN), "F")
		}
		if app.CardholderName == "" && len(rec.CardholderName) > 0 {
			app.CardholderName = strings.TrimSpace(tlv.MakeSafeASCII(rec.CardholderName))
		}
		if app.Expiry == nil && len(rec.ExpirationDate) > 0 {
			app.Expiry = rec.ExpirationDate
		}
	}

	if len(apps) == 0 {
		return nil, ErrNoApplication
	}
	return apps, nil
}

func isDirectory(app []byte) bool {
	return bytes.Equal(app, PPSE) || bytes.Equal(app, PSE)
}

// Parse decodes the applications read from the card.
func (d *Decoder) Parse(img *card.Image) (*recognizer.Result, error) {
	apps, err := Applications(img)
	if err != nil {
		return nil, err
	}

	b := record.NewBuilder(Name).SetInt("applications", int64(len(apps)))
	for _, f := range img.Files() {
		if !bytes.Equal(f.App, PSE) || f.ID == fciFile {
			continue
		}
		if rec, err := emv.ParseDirectoryRecord(f.Data); err == nil {
			rec.AppendTo(b, fmt.Sprintf("directory.R%d", f.ID&0xFF))
		}
	}
	tmpl := render.Template{Title: "EMV"}

	for i, app := range apps {
		prefix := fmt.Sprintf("app.%d.", i+1)
		prop := app.FCI.Proprietary

		b.SetString(prefix+"aid", fmt.Sprintf("%X", app.AID))
		if len(prop.Label) > 0 {
			b.SetString(prefix+"label", tlv.MakeSafeASCII(prop.Label))
		}
		if len(prop.PreferredName) > 0 {
			b.SetString(prefix+"preferred_name", tlv.MakeSafeASCII(prop.PreferredName))
		}
		if app.PAN != "" {
			b.SetString(prefix+"pan", app.PAN)
		}
		if app.CardholderName != "" {
			b.SetString(prefix+"cardholder", app.CardholderName)
		}
		if app.Expiry != nil {
			exp, err := emv.ParseDate(app.Expiry)
			if err != nil {
				d.logger().WithError(err).WithField("aid", fmt.Sprintf("%X", app.AID)).Debug("Bad expiration date")
			} else {
				b.SetTime(prefix+"expiry", exp)
			}
		}

		app.FCI.AppendTo(b, prefix+"FCI")
		for _, id := range app.RecordOrder {
			tlv.AppendFields(b, fmt.Sprintf("%sSFI%d.R%d", prefix, id>>8, id&0xFF), app.Records[id])
		}

		header := fmt.Sprintf("%X", app.AID)
		if len(prop.Label) > 0 {
			header = tlv.MakeSafeASCII(prop.Label)
		}
		tmpl.Sections = append(tmpl.Sections, render.Section{Header: header, Prefix: prefix, Lines: appLines})
	}

	return &recognizer.Result{Record: b.Record(), Template: tmpl}, nil
}

var appLines = []render.Line{
	{Label: "AID", Field: "aid"},
	{Label: "Name", Field: "preferred_name"},
	{Label: "PAN", Field: "pan"},
	{Label: "Cardholder", Field: "cardholder"},
	{Label: "Expires", Field: "expiry", Format: "01/2006"},
}
