// Package extract reads the printed fields of an isolated card.
package extract

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/geometry"
	"github.com/menta2k/card-analyzer/pkg/normalize"
	"github.com/menta2k/card-analyzer/pkg/ocr"
	"github.com/menta2k/card-analyzer/pkg/processing"
	"github.com/menta2k/card-analyzer/pkg/types"
	"github.com/menta2k/card-analyzer/pkg/zones"
)

// Options tune the extractor.
type Options struct {
	// Contrast is the gain applied to the grayscale card before zone OCR.
	Contrast float64
	// Now returns the extraction timestamp.
	Now func() time.Time
}

// Extractor slices card fields and runs OCR on them.
type Extractor struct {
	engine    ocr.Engine
	processor *processing.Processor
	zones     *zones.Set
	opts      Options
	log       logrus.FieldLogger
}

// New creates an extractor. The zone set's common layout is used by
// ReadCardNumber.
func New(engine ocr.Engine, processor *processing.Processor, set *zones.Set, opts Options, log logrus.FieldLogger) *Extractor {
	if opts.Contrast <= 0 {
		opts.Contrast = processing.DefaultContrast
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{engine: engine, processor: processor, zones: set, opts: opts, log: log}
}

// Extract fills card_number, cardholder and expiry_date. A field whose OCR
// fails is left empty; only a zero Context or cancellation is an error.
func (e *Extractor) Extract(ctx context.Context, c Context) (types.CardRecord, error) {
	if !c.valid() {
		return types.CardRecord{}, ErrMissingContext
	}

	record := types.CardRecord{PaymentNetwork: c.network}
	enhanced := e.processor.EnhanceForOCR(c.card, e.opts.Contrast)

	for _, field := range types.TextFields {
		region := c.Element(field)
		source := "element"
		if region == nil {
			zone, ok := c.zones[field]
			if !ok {
				continue
			}
			var err error
			region, err = geometry.ExtractZone(enhanced, zone)
			if err != nil {
				return types.CardRecord{}, fmt.Errorf("extract %s: %w", field, err)
			}
			source = "zone"
		}

		tokens, err := e.engine.ReadText(ctx, region)
		if err != nil {
			if ctx.Err() != nil {
				return types.CardRecord{}, ctx.Err()
			}
			e.log.WithError(err).WithField("field", field).Warn("ocr failed")
			continue
		}

		value := normalize.ForField(field)(ocr.Texts(tokens))
		e.log.WithFields(logrus.Fields{
			"field":  field,
			"source": source,
			"tokens": len(tokens),
		}).Debug("field read")

		switch field {
		case types.FieldCardNumber:
			record.CardNumber = value
		case types.FieldCardholder:
			record.Cardholder = value
		case types.FieldExpiryDate:
			record.ExpiryDate = value
		}
	}

	now := e.opts.Now()
	record.CreatedAt = &now
	return record, nil
}

// ReadCardNumber OCRs the common card number zone of card and returns its
// digits.
func (e *Extractor) ReadCardNumber(ctx context.Context, card image.Image) (string, error) {
	zone, ok := e.zones.Zone(types.FieldCardNumber)
	if !ok {
		return "", ErrMissingContext
	}
	region, err := geometry.ExtractZone(e.processor.EnhanceForOCR(card, e.opts.Contrast), zone)
	if err != nil {
		return "", err
	}
	tokens, err := e.engine.ReadText(ctx, region)
	if err != nil {
		return "", err
	}
	return normalize.Digits(normalize.CardNumber(ocr.Texts(tokens))), nil
}
