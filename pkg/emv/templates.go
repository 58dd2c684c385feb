// Package emv maps the data objects of EMV payment cards (EMV Book 1 and
// Book 3) onto Go structs, through the tlv struct tags.
//
// A contactless reader selects the PPSE and finds the applications in the
// FCI it answers; a contact reader selects the PSE and reads them from
// directory records. Each application then answers its own SELECT with
// an FCI and keeps the cardholder data in records.
package emv

import "github.com/moov-io/bertlv"

// FCI is the File Control Information template ('6F') answered to
// SELECT.
type FCI struct {
	Name        []byte      `tlv:"84" fmt:"ascii"`
	Proprietary Proprietary `tlv:"A5"`
}

// Proprietary is the FCI proprietary template ('A5').
type Proprietary struct {
	Label         []byte         `tlv:"50" fmt:"ascii"`
	Priority      []byte         `tlv:"87" fmt:"int"`
	SFI           []byte         `tlv:"88"`
	PDOL          []byte         `tlv:"9F38"`
	Languages     []byte         `tlv:"5F2D" fmt:"ascii"`
	CodeTable     []byte         `tlv:"9F11" fmt:"int"`
	PreferredName []byte         `tlv:"9F12" fmt:"ascii"`
	Discretionary *Discretionary `tlv:"BF0C"`
	Unknown       []bertlv.TLV
}

// Discretionary is the issuer discretionary data ('BF0C'). The PPSE lists
// the card applications in it.
type Discretionary struct {
	Applications []ApplicationTemplate `tlv:"61"`
	LogEntry     []byte                `tlv:"9F4D"`
	Issuer
	Unknown []bertlv.TLV
}

// Issuer holds the issuer identification found in both discretionary
// templates.
type Issuer struct {
	IIN           []byte `tlv:"42"`
	IINExtended   []byte `tlv:"9F0C"`
	URL           []byte `tlv:"5F50" fmt:"ascii"`
	IBAN          []byte `tlv:"5F53" fmt:"ascii"`
	BIC           []byte `tlv:"5F54" fmt:"ascii"`
	CountryAlpha2 []byte `tlv:"5F55" fmt:"ascii"`
	CountryAlpha3 []byte `tlv:"5F56" fmt:"ascii"`
}

// ApplicationTemplate ('61') describes one application of a payment
// system directory.
type ApplicationTemplate struct {
	AID           []byte         `tlv:"4F"`
	Label         []byte         `tlv:"50" fmt:"ascii"`
	Priority      []byte         `tlv:"87" fmt:"int"`
	PreferredName []byte         `tlv:"9F12" fmt:"ascii"`
	DDFName       []byte         `tlv:"9D" fmt:"ascii"`
	Directory     DirectoryEntry `tlv:"73"`
	Unknown       []bertlv.TLV
}

// DirectoryEntry is the directory discretionary template ('73').
type DirectoryEntry struct {
	SelectionData []byte `tlv:"9F0A"`
	LogEntry      []byte `tlv:"9F4D"`
	Issuer
	Unknown []bertlv.TLV
}

// DirectoryRecord is a record of the PSE directory file.
type DirectoryRecord struct {
	Applications []ApplicationTemplate `tlv:"61"`
	Unknown      []bertlv.TLV
}

// ApplicationRecord holds the cardholder data objects of an application
// record. Everything else is left in Unknown.
type ApplicationRecord struct {
	Track2            []byte `tlv:"57"`
	PAN               []byte `tlv:"5A" fmt:"bcd"`
	CardholderName    []byte `tlv:"5F20" fmt:"ascii"`
	ExpirationDate    []byte `tlv:"5F24" fmt:"bcd"`
	EffectiveDate     []byte `tlv:"5F25" fmt:"bcd"`
	IssuerCountryCode []byte `tlv:"5F28" fmt:"bcd"`
	PANSequenceNumber []byte `tlv:"5F34" fmt:"int"`
	ApplicationUsage  []byte `tlv:"9F07"`
	Unknown           []bertlv.TLV
}
