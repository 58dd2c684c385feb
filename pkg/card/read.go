package card

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/ansel1/merry/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/card-decoder/pkg/iso7816"
)

//go:embed keys.yaml
var wellKnownKeys []byte

// Dictionary is an ordered list of keys tried on every sector.
type Dictionary []Key

// LoadDictionary parses a YAML document with a top-level "keys" list.
func LoadDictionary(data []byte) (Dictionary, error) {
	var doc struct {
		Keys []Key `yaml:"keys"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("key dictionary: %w", err)
	}
	return doc.Keys, nil
}

// WellKnownKeys returns the built-in dictionary.
func WellKnownKeys() Dictionary {
	d, err := LoadDictionary(wellKnownKeys)
	if err != nil {
		panic(err)
	}
	return d
}

// MaxPages bounds a page-based read.
const MaxPages = 256

// Reader dumps a card without knowing its family.
type Reader struct {
	// Keys are tried on each sector of a sector-based card, key A first.
	Keys Dictionary
	Log  log.FieldLogger
}

func (r *Reader) logger() log.FieldLogger {
	return orStandard(r.Log)
}

// Read dumps t according to its protocol.
func (r *Reader) Read(ctx context.Context, t Transport) (*Image, error) {
	switch t.Protocol() {
	case SectorBased:
		st, ok := t.(SectorTransport)
		if !ok {
			return nil, fmt.Errorf("%T cannot read sectors", t)
		}
		keys := r.Keys
		if keys == nil {
			keys = WellKnownKeys()
		}
		return ReadSectorsWithDictionary(ctx, st, keys, r.logger())
	case PageBased:
		pt, ok := t.(PageTransport)
		if !ok {
			return nil, fmt.Errorf("%T cannot read pages", t)
		}
		return ReadPages(ctx, pt)
	case DirectoryFile:
		ft, ok := t.(FileTransport)
		if !ok {
			return nil, fmt.Errorf("%T cannot exchange APDUs", t)
		}
		return ReadDESFire(ctx, ft, r.logger())
	}
	return nil, fmt.Errorf("unsupported protocol %v", t.Protocol())
}

// DefaultRead is Reader.Read with the standard logger. A nil dict means
// WellKnownKeys.
func DefaultRead(ctx context.Context, t Transport, dict Dictionary) (*Image, error) {
	r := &Reader{Keys: dict}
	return r.Read(ctx, t)
}

type candidate struct {
	typ KeyType
	key Key
}

func orStandard(l log.FieldLogger) log.FieldLogger {
	if l == nil {
		return log.StandardLogger()
	}
	return l
}

// ReadSectors dumps the sectors listed in keys. Sectors whose keys do not
// authenticate are left out of the image. A nil logger means the standard
// logger.
func ReadSectors(ctx context.Context, t SectorTransport, keys KeySet, logger log.FieldLogger) (*Image, error) {
	logger = orStandard(logger)
	b := NewImageBuilder(SectorBased, t.UID())
	for s := 0; s < t.Sectors(); s++ {
		pair, ok := keys[s]
		if !ok {
			continue
		}
		if err := readSector(ctx, t, b, s, []candidate{{KeyA, pair.A}, {KeyB, pair.B}}, logger); err != nil {
			return nil, err
		}
	}
	return b.Image(), nil
}

// ReadSectorsWithDictionary dumps every sector one of the dictionary keys
// opens.
func ReadSectorsWithDictionary(ctx context.Context, t SectorTransport, dict Dictionary, logger log.FieldLogger) (*Image, error) {
	logger = orStandard(logger)
	cands := make([]candidate, 0, 2*len(dict))
	for _, k := range dict {
		cands = append(cands, candidate{KeyA, k})
	}
	for _, k := range dict {
		cands = append(cands, candidate{KeyB, k})
	}

	b := NewImageBuilder(SectorBased, t.UID())
	for s := 0; s < t.Sectors(); s++ {
		if err := readSector(ctx, t, b, s, cands, logger); err != nil {
			return nil, err
		}
	}
	return b.Image(), nil
}

// readSector authenticates with the first working candidate and reads the
// sector. The key that opened it is written into the stored trailer. Only
// a removed card is reported as an error.
func readSector(ctx context.Context, t SectorTransport, b *ImageBuilder, s int, cands []candidate, logger log.FieldLogger) error {
	first := FirstBlock(s)
	logger = logger.WithField("sector", s)

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := t.Authenticate(ctx, first, c.typ, c.key)
		if IsCardGone(err) {
			return err
		}
		if err != nil {
			continue
		}

		logger.WithFields(log.Fields{"key_type": c.typ, "key": c.key}).Debug("Sector opened")
		for i := first; i < first+BlocksIn(s); i++ {
			data, err := t.ReadBlock(ctx, i)
			if IsCardGone(err) {
				return err
			}
			if err == nil && len(data) != ClassicBlockSize {
				err = fmt.Errorf("%d bytes", len(data))
			}
			if err != nil {
				logger.WithError(err).WithField("block", i).Debug("Block read failed")
				continue
			}
			if i == TrailerBlock(s) {
				data = append([]byte(nil), data...)
				if c.typ == KeyA {
					copy(data[0:6], c.key[:])
				} else {
					copy(data[10:16], c.key[:])
				}
			}
			b.AddBlock(i, data)
		}
		return nil
	}
	logger.Debug("No key opens sector")
	return nil
}

// ReadPages reads four pages at a time until the card refuses. A refusal
// on the first read is an ErrTransportFailure.
func ReadPages(ctx context.Context, t PageTransport) (*Image, error) {
	b := NewImageBuilder(PageBased, t.UID())
	for page := 0; page < MaxPages; page += 4 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := t.ReadPages(ctx, page)
		if IsCardGone(err) {
			return nil, err
		}
		if err != nil {
			if page == 0 {
				return nil, Errorf(ErrTransportFailure, "read page 0: %v", err)
			}
			break
		}
		for i := 0; i+PageSize <= len(data) && i < 4*PageSize; i += PageSize {
			b.AddBlock(page+i/PageSize, data[i:i+PageSize])
		}
	}
	return b.Image(), nil
}

// ReadDESFire lists the applications of a DESFire card and reads every
// file whose access rights allow a free read.
func ReadDESFire(ctx context.Context, t FileTransport, logger log.FieldLogger) (*Image, error) {
	logger = orStandard(logger)
	client := iso7816.NewClient(t)
	client.Log = logger

	ids, err := client.SendNative(iso7816.DESFireGetApplicationIDs, nil)
	if err != nil {
		return nil, fileErr(err, "list applications")
	}

	b := NewImageBuilder(DirectoryFile, t.UID())
	for i := 0; i+3 <= len(ids); i += 3 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		app := ids[i : i+3]
		if err := readApplication(client, b, app, logger.WithField("app", fmt.Sprintf("%X", app))); err != nil {
			return nil, err
		}
	}
	return b.Image(), nil
}

func readApplication(client *iso7816.Client, b *ImageBuilder, app []byte, logger log.FieldLogger) error {
	if _, err := client.SendNative(iso7816.DESFireSelectApplication, app); err != nil {
		return fileErr(err, "select application %X", app)
	}
	fids, err := client.SendNative(iso7816.DESFireGetFileIDs, nil)
	if err != nil {
		return fileErr(err, "list files of %X", app)
	}

	for _, fid := range fids {
		raw, err := client.SendNative(iso7816.DESFireGetFileSettings, []byte{fid})
		if err != nil {
			if IsCardGone(err) {
				return err
			}
			logger.WithError(err).WithField("file", fid).Debug("File settings unavailable")
			continue
		}
		settings, err := iso7816.ParseDESFireFileSettings(raw)
		if err != nil {
			logger.WithError(err).WithField("file", fid).Debug("Unparsable file settings")
			continue
		}

		var data []byte
		switch settings.Type {
		case iso7816.DESFireStandardFile, iso7816.DESFireBackupFile:
			data, err = client.SendNative(iso7816.DESFireReadData, iso7816.ReadDataPayload(fid, 0, 0))
		case iso7816.DESFireValueFile:
			data, err = client.SendNative(iso7816.DESFireGetValue, []byte{fid})
		case iso7816.DESFireLinearRecordFile, iso7816.DESFireCyclicRecordFile:
			data, err = client.SendNative(iso7816.DESFireReadRecords, iso7816.ReadDataPayload(fid, 0, 0))
		default:
			continue
		}
		if IsCardGone(err) {
			return err
		}
		if err != nil {
			logger.WithError(err).WithField("file", fid).Debug("File not readable")
			continue
		}
		b.AddFile(File{App: app, ID: int(fid), Type: settings.Type, Data: data})
	}
	return nil
}

// fileErr keeps a removed-card error as is and files everything else under
// ErrTransportFailure.
func fileErr(err error, format string, args ...interface{}) error {
	if IsCardGone(err) {
		return err
	}
	args = append(args, err)
	return merry.WrapSkipping(ErrTransportFailure, 1, merry.AppendMessagef(format+": %v", args...))
}
