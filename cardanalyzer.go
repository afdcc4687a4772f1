// Package cardanalyzer identifies the payment network of a card photo and
// reads its printed fields.
//
// The pipeline runs in four stages:
//
//  1. Detection (pkg/detection): a region detector finds the card, overlapping
//     boxes are suppressed and exactly one card must remain. An optional
//     second detector finds the card number, expiry date, cardholder and logo.
//  2. Network resolution (pkg/network): a cascade of visual classification,
//     remote IIN lookup, local IIN rules and logo feature matching, stopping
//     at the first answer.
//  3. Extraction (pkg/extract): every text field is read from its detected
//     crop or from the zone of the resolved network's layout (pkg/zones).
//  4. Normalization (pkg/normalize): OCR tokens become the final strings.
//
// Basic usage:
//
//	a, err := cardanalyzer.New(cardanalyzer.Options{
//		CardDetector: cardDetector,
//		Network:      network.NewResolver(log, network.Default(deps)...),
//		Extractor:    extractor,
//		Zones:        zoneSet,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	record, err := a.Process(ctx, img, "")
//
// Image content problems never produce errors: the returned record carries
// an explanatory Obs instead. internal/app builds a fully wired Analyzer from
// configuration.
package cardanalyzer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/analyzer"
	"github.com/menta2k/card-analyzer/pkg/detection"
	"github.com/menta2k/card-analyzer/pkg/extract"
	"github.com/menta2k/card-analyzer/pkg/geometry"
	"github.com/menta2k/card-analyzer/pkg/network"
	"github.com/menta2k/card-analyzer/pkg/types"
	"github.com/menta2k/card-analyzer/pkg/zones"
)

// Version of the card analyzer library
const Version = "1.0.0"

// Options lists the collaborators of an Analyzer.
type Options struct {
	// CardDetector locates cards in the full photo. Required.
	CardDetector detection.RegionDetector
	// ElementDetector locates fields inside the cropped card. Optional.
	ElementDetector detection.RegionDetector
	// Resolver defaults to detection.NewResolver.
	Resolver *detection.Resolver
	// Network runs the payment network cascade. Required.
	Network *network.Resolver
	// Extractor reads the text fields. Required.
	Extractor *extract.Extractor
	// Zones holds the field layouts. Required.
	Zones *zones.Set
	// Validator defaults to analyzer.New.
	Validator *analyzer.ImageAnalyzer

	Log logrus.FieldLogger
	Now func() time.Time
}

// Analyzer runs the full pipeline. It is safe for concurrent use when its
// collaborators are.
type Analyzer struct {
	card      detection.RegionDetector
	elements  detection.RegionDetector
	resolver  *detection.Resolver
	network   *network.Resolver
	extractor *extract.Extractor
	zones     *zones.Set
	validator *analyzer.ImageAnalyzer
	log       logrus.FieldLogger
	now       func() time.Time
}

// New creates an Analyzer.
func New(opts Options) (*Analyzer, error) {
	switch {
	case opts.CardDetector == nil:
		return nil, errors.New("cardanalyzer: card detector is required")
	case opts.Network == nil:
		return nil, errors.New("cardanalyzer: network resolver is required")
	case opts.Extractor == nil:
		return nil, errors.New("cardanalyzer: extractor is required")
	case opts.Zones == nil:
		return nil, errors.New("cardanalyzer: zone set is required")
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Resolver == nil {
		opts.Resolver = detection.NewResolver(opts.Log)
	}
	if opts.Validator == nil {
		opts.Validator = analyzer.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{
		card:      opts.CardDetector,
		elements:  opts.ElementDetector,
		resolver:  opts.Resolver,
		network:   opts.Network,
		extractor: opts.Extractor,
		zones:     opts.Zones,
		validator: opts.Validator,
		log:       opts.Log,
		now:       opts.Now,
	}, nil
}

// Result is the record plus the intermediate detections, for debugging.
type Result struct {
	Record     types.CardRecord
	Card       types.Region
	Elements   []types.Region
	Resolution network.Resolution
}

// Process runs the pipeline on a decoded image. hint may name the network
// ("visa", "MASTERCARD", ...); unknown hints are ignored.
func (a *Analyzer) Process(ctx context.Context, img image.Image, hint string) (types.CardRecord, error) {
	res, err := a.Analyze(ctx, img, hint)
	return res.Record, err
}

// ProcessBytes decodes data and runs Process. Undecodable input yields a
// record with ObsInvalidImage.
func (a *Analyzer) ProcessBytes(ctx context.Context, data []byte, hint string) (types.CardRecord, error) {
	img, err := a.validator.Decode(data)
	if err != nil {
		a.log.WithError(err).Info("rejected input")
		return a.notice(types.ObsInvalidImage), nil
	}
	return a.Process(ctx, img, hint)
}

// Analyze is Process with the intermediate detections.
func (a *Analyzer) Analyze(ctx context.Context, img image.Image, hint string) (Result, error) {
	start := time.Now()
	log := a.log.WithField("request_id", uuid.NewString())

	if err := a.validator.ValidateImage(img); err != nil {
		log.WithError(err).Info("rejected input")
		return Result{Record: a.notice(types.ObsInvalidImage)}, nil
	}

	regions, err := a.card.Detect(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		log.WithError(err).Warn("card detection failed")
		return Result{Record: a.notice(types.ObsCardNotFound)}, nil
	}
	card, err := a.resolver.ResolveCard(regions)
	if err != nil {
		log.WithError(err).Info("no single card found")
		return Result{Record: a.notice(types.ObsCardNotFound)}, nil
	}

	b := img.Bounds()
	box := geometry.Clamp(card.Box, b.Dx(), b.Dy())
	if box.Empty() {
		log.WithField("box", card.Box).Info("card box outside image")
		return Result{Record: a.notice(types.ObsCardNotFound)}, nil
	}
	card.Box = box
	cardImg := geometry.Crop(img, box)
	res := Result{Card: card}

	elements := types.CardElements{}
	if a.elements != nil {
		found, err := a.elements.Detect(ctx, cardImg)
		switch {
		case err != nil && ctx.Err() != nil:
			return Result{}, ctx.Err()
		case err != nil:
			log.WithError(err).Warn("element detection failed")
		default:
			elements = a.resolver.AssignElements(cardImg, found)
			res.Elements = detection.Suppress(found, a.resolver.IoUThreshold)
		}
	}

	parsedHint, _ := types.ParseNetwork(hint)
	res.Resolution = a.network.Resolve(ctx, &network.Input{
		Card: cardImg,
		Logo: elements.Get(types.FieldPaymentNetwork),
		Hint: parsedHint,
	})

	ec, err := extract.NewContext(cardImg, elements, res.Resolution.Network, a.zones)
	if err != nil {
		return Result{}, fmt.Errorf("cardanalyzer: %w", err)
	}
	record, err := a.extractor.Extract(ctx, ec)
	if err != nil {
		return Result{}, fmt.Errorf("cardanalyzer: %w", err)
	}
	record.Obs = types.ObsSuccess
	res.Record = record

	log.WithFields(logrus.Fields{
		"network":  record.PaymentNetwork,
		"strategy": res.Resolution.Strategy,
		"elements": len(elements),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("card processed")
	return res, nil
}

// notice returns a record that only carries an observation.
func (a *Analyzer) notice(obs string) types.CardRecord {
	now := a.now()
	return types.CardRecord{CreatedAt: &now, Obs: obs}
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
