package emv

import (
	"fmt"
	"strings"
	"time"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/card-decoder/pkg/bits"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/tlv"
)

// Templates wrapping the answer to SELECT and the content of a record.
const (
	fciTemplate    = "6F"
	recordTemplate = "70"
)

// unwrap decodes data and returns the content of its outer template. An
// optional template may also be missing, leaving the TLVs at the top.
func unwrap(data []byte, tag string, optional bool) ([]bertlv.TLV, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data cannot be parsed")
	}
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("BER-TLV decode failed: %w", err)
	}
	if len(packets) > 0 && strings.EqualFold(packets[0].Tag, tag) {
		return packets[0].TLVs, nil
	}
	if optional {
		return packets, nil
	}
	return nil, fmt.Errorf("missing mandatory template %s", tag)
}

func parse(data []byte, tag string, optional bool, target interface{}) error {
	packets, err := unwrap(data, tag, optional)
	if err != nil {
		return err
	}
	return tlv.UnmarshalFromPackets(packets, target)
}

// ParseFCI decodes the answer to SELECT. The '6F' wrapper may be missing.
func ParseFCI(data []byte) (*FCI, error) {
	fci := &FCI{}
	if err := parse(data, fciTemplate, true, fci); err != nil {
		return nil, fmt.Errorf("fci: %w", err)
	}
	return fci, nil
}

// ParseDirectoryRecord decodes a record of the PSE directory.
func ParseDirectoryRecord(data []byte) (*DirectoryRecord, error) {
	rec := &DirectoryRecord{}
	if err := parse(data, recordTemplate, false, rec); err != nil {
		return nil, fmt.Errorf("directory record: %w", err)
	}
	return rec, nil
}

// ParseApplicationRecord decodes a record read from an application file.
func ParseApplicationRecord(data []byte) (*ApplicationRecord, error) {
	rec := &ApplicationRecord{}
	if err := parse(data, recordTemplate, false, rec); err != nil {
		return nil, fmt.Errorf("application record: %w", err)
	}
	return rec, nil
}

// Applications returns the applications listed by a PPSE answer, in card
// order.
func (f *FCI) Applications() []ApplicationTemplate {
	if d := f.Proprietary.Discretionary; d != nil {
		return d.Applications
	}
	return nil
}

// AppendTo stores the FCI fields in b under prefix.
func (f *FCI) AppendTo(b *record.Builder, prefix string) {
	tlv.AppendFields(b, prefix, f)
	tlv.AppendFields(b, prefix+".Proprietary", f.Proprietary)
	if d := f.Proprietary.Discretionary; d != nil {
		tlv.AppendFields(b, prefix+".Discretionary", d)
	}
}

// AppendTo stores every application of the record in b, numbered from 1.
func (r *DirectoryRecord) AppendTo(b *record.Builder, prefix string) {
	tlv.AppendFields(b, prefix, r)
	for i, app := range r.Applications {
		p := fmt.Sprintf("%s.App%d", prefix, i+1)
		tlv.AppendFields(b, p, app)
		tlv.AppendFields(b, p+".Directory", app.Directory)
	}
}

// ParseDate decodes a 3-byte BCD date YYMMDD ('5F24', '5F25'). Years
// are taken in 2000-2099.
func ParseDate(b []byte) (time.Time, error) {
	if len(b) != 3 {
		return time.Time{}, fmt.Errorf("date: want 3 bytes, got %d", len(b))
	}
	n, ok := bits.BCD(bits.BytesToNumBE(b), 6)
	if !ok {
		return time.Time{}, fmt.Errorf("date %X: not BCD", b)
	}
	yy, mm, dd := int(n/10000), int(n/100%100), int(n%100)
	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return time.Time{}, fmt.Errorf("date %X: out of range", b)
	}
	return time.Date(2000+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC), nil
}
