// Package recognizer runs card families against a card, in registration
// order, until one of them decodes it.
//
// A recognizer has three optional steps. Verify is a cheap live check
// (usually one authentication) that the card belongs to the family. Read
// dumps the card; without one the pipeline's default read is used and its
// result shared between recognizers. Parse turns the image into a record
// and a report template.
package recognizer

import (
	"context"
	"fmt"

	"github.com/ansel1/merry/v2"
	log "github.com/sirupsen/logrus"

	"github.com/gregLibert/card-decoder/pkg/card"
	"github.com/gregLibert/card-decoder/pkg/record"
	"github.com/gregLibert/card-decoder/pkg/render"
)

// ErrUnrecognizedCard is returned when no recognizer accepts the card.
var ErrUnrecognizedCard = merry.New("unrecognized card")

// Recognizer identifies and decodes one card family.
type Recognizer struct {
	Name string

	// Protocol restricts the recognizer to one memory organisation. Zero
	// accepts any.
	Protocol card.Protocol

	Verify func(ctx context.Context, t card.Transport) error
	Read   func(ctx context.Context, t card.Transport) (*card.Image, error)
	Parse  func(img *card.Image) (*Result, error)
}

func (r Recognizer) accepts(p card.Protocol) bool {
	return r.Protocol == 0 || r.Protocol == p
}

// Result is the outcome of a successful recognition.
type Result struct {
	Recognizer string
	Record     *record.Record
	Template   render.Template

	// Image is what the card family read; the pipeline fills it in.
	Image *card.Image
}

// Report renders the result.
func (r *Result) Report() string {
	return render.Render(r.Record, r.Template)
}

// ReadFunc dumps a card in a family-agnostic way.
type ReadFunc func(ctx context.Context, t card.Transport) (*card.Image, error)

// Pipeline holds recognizers in registration order.
type Pipeline struct {
	recognizers []Recognizer
	log         log.FieldLogger
	defaultRead ReadFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used to trace recognition attempts.
func WithLogger(l log.FieldLogger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithDefaultRead replaces card.DefaultRead with the well-known keys.
func WithDefaultRead(fn ReadFunc) Option {
	return func(p *Pipeline) { p.defaultRead = fn }
}

// NewPipeline registers rs in order. It panics on an unnamed or duplicate
// recognizer.
func NewPipeline(rs []Recognizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		log: log.StandardLogger(),
		defaultRead: func(ctx context.Context, t card.Transport) (*card.Image, error) {
			return card.DefaultRead(ctx, t, nil)
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	seen := map[string]bool{}
	for _, r := range rs {
		if r.Name == "" {
			panic("recognizer: unnamed recognizer")
		}
		if seen[r.Name] {
			panic(fmt.Sprintf("recognizer: %q registered twice", r.Name))
		}
		seen[r.Name] = true
		p.recognizers = append(p.recognizers, r)
	}
	return p
}

// Recognizers returns the registered recognizers in order.
func (p *Pipeline) Recognizers() []Recognizer {
	return p.recognizers
}

// cachedRead keeps the first successful read. A failed read is tried
// again by the next recognizer that needs it.
type cachedRead struct {
	read ReadFunc
	img  *card.Image
}

func (c *cachedRead) get(ctx context.Context, t card.Transport) (*card.Image, error) {
	if c.img != nil {
		return c.img, nil
	}
	img, err := c.read(ctx, t)
	if err != nil {
		return nil, err
	}
	c.img = img
	return img, nil
}

// Recognize runs the pipeline against the card in the field. It stops at
// the first recognizer whose parse succeeds, or as soon as the card
// leaves the field. Cancellation is checked between recognizers.
func (p *Pipeline) Recognize(ctx context.Context, t card.Transport) (*Result, error) {
	def := &cachedRead{read: p.defaultRead}

	for _, r := range p.recognizers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.accepts(t.Protocol()) {
			continue
		}
		logger := p.log.WithField("recognizer", r.Name)

		if r.Verify != nil {
			if err := r.Verify(ctx, t); err != nil {
				if card.IsCardGone(err) {
					return nil, err
				}
				logger.WithError(err).Debug("Verify failed")
				continue
			}
		}

		var img *card.Image
		var err error
		if r.Read != nil {
			img, err = r.Read(ctx, t)
		} else {
			img, err = def.get(ctx, t)
		}
		if err != nil {
			if card.IsCardGone(err) {
				return nil, err
			}
			logger.WithError(err).Debug("Read failed")
			continue
		}

		if res, ok := p.parse(r, img, logger); ok {
			return res, nil
		}
	}
	return nil, ErrUnrecognizedCard
}

// Decode runs the pipeline over a saved image. Verify steps are skipped
// since there is no card to talk to.
func (p *Pipeline) Decode(ctx context.Context, img *card.Image) (*Result, error) {
	for _, r := range p.recognizers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.accepts(img.Protocol) {
			continue
		}
		if res, ok := p.parse(r, img, p.log.WithField("recognizer", r.Name)); ok {
			return res, nil
		}
	}
	return nil, ErrUnrecognizedCard
}

func (p *Pipeline) parse(r Recognizer, img *card.Image, logger log.FieldLogger) (*Result, bool) {
	if r.Parse == nil {
		logger.Info("Card identified")
		return &Result{Recognizer: r.Name, Record: record.NewBuilder(r.Name).Record(), Image: img}, true
	}

	res, err := r.Parse(img)
	if err != nil {
		logger.WithError(err).Debug("Parse failed")
		return nil, false
	}
	if res == nil {
		res = &Result{}
	}
	if res.Recognizer == "" {
		res.Recognizer = r.Name
	}
	if res.Record == nil {
		res.Record = record.NewBuilder(r.Name).Record()
	}
	res.Image = img
	logger.Info("Card decoded")
	record.Dump(logger, res.Record)
	return res, true
}
