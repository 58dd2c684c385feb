// Package cards lists the card families known to the decoder.
//
// The order of Recognizers is the order families are tried, and the
// first family whose parse succeeds wins. Families with a cheap and
// selective verify step come first:
//
//	troika       MIFARE Classic, Metro sector key
//	charliecard  MIFARE Classic, sector 1 key
//	skylanders   MIFARE Classic, fixed key on every sector
//	mizip        MIFARE Classic, keys derived from the UID
//	ndef         Ultralight / NTAG pages
//	clipper      DESFire applications 9011F2 / 9111F2
//	emv          ISO 7816-4 payment applications
//
// A card matching none of them reports recognizer.ErrUnrecognizedCard.
package cards

import (
	log "github.com/sirupsen/logrus"

	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/cards/charliecard"
	"github.com/gregLibert/card-decoder/pkg/cards/clipper"
	"github.com/gregLibert/card-decoder/pkg/cards/emvcard"
	"github.com/gregLibert/card-decoder/pkg/cards/mizip"
	"github.com/gregLibert/card-decoder/pkg/cards/ndef"
	"github.com/gregLibert/card-decoder/pkg/cards/skylanders"
	"github.com/gregLibert/card-decoder/pkg/cards/troika"
	"github.com/gregLibert/card-decoder/pkg/recognizer"
)

// Recognizers returns every family in the order they are tried. A nil
// logger means the standard logger.
func Recognizers(logger log.FieldLogger) []recognizer.Recognizer {
	tr := troika.NewDecoder()
	tr.Log = logger
	em := &emvcard.Decoder{Log: logger}

	return []recognizer.Recognizer{
		tr.Recognizer(),
		charliecard.Recognizer(),
		skylanders.Recognizer(),
		mizip.Recognizer(),
		ndef.Recognizer(),
		clipper.Recognizer(),
		em.Recognizer(),
	}
}

// NewPipeline builds the recognition pipeline over every family. A nil
// dict reads sector cards with the built-in key dictionary.
func NewPipeline(logger log.FieldLogger, dict card.Dictionary) *recognizer.Pipeline {
	if logger == nil {
		logger = log.StandardLogger()
	}
	reader := &card.Reader{Keys: dict, Log: logger}
	return recognizer.NewPipeline(Recognizers(logger),
		recognizer.WithLogger(logger),
		recognizer.WithDefaultRead(reader.Read),
	)
}
