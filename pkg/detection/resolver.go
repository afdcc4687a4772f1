package detection

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/geometry"
	"github.com/menta2k/card-analyzer/pkg/types"
)

// ErrDetectionAmbiguous is returned when suppression leaves zero or several
// card regions.
var ErrDetectionAmbiguous = errors.New("detection: expected exactly one card")

// RegionDetector finds candidate regions in an image. Boxes are in pixels
// relative to the image origin. Implementations must be safe for concurrent
// use.
type RegionDetector interface {
	Detect(ctx context.Context, img image.Image) ([]types.Region, error)
}

// Element detector class ids.
const (
	ClassCardNumber     = 0
	ClassExpiryDate     = 1
	ClassCardholder     = 2
	ClassPaymentNetwork = 3
)

// ElementClasses maps element detector classes to card fields.
var ElementClasses = map[int]types.Field{
	ClassCardNumber:     types.FieldCardNumber,
	ClassExpiryDate:     types.FieldExpiryDate,
	ClassCardholder:     types.FieldCardholder,
	ClassPaymentNetwork: types.FieldPaymentNetwork,
}

// Resolver turns raw detector output into one card or a set of element crops.
type Resolver struct {
	IoUThreshold float64
	log          logrus.FieldLogger
}

// NewResolver creates a resolver with the default overlap threshold.
func NewResolver(log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{IoUThreshold: DefaultIoUThreshold, log: log}
}

// ResolveCard accepts the detection only when exactly one region survives
// suppression.
func (r *Resolver) ResolveCard(regions []types.Region) (types.Region, error) {
	kept := Suppress(regions, r.IoUThreshold)
	if len(kept) != 1 {
		r.log.WithFields(logrus.Fields{
			"raw":  len(regions),
			"kept": len(kept),
		}).Debug("card detection rejected")
		return types.Region{}, fmt.Errorf("%w: found %d", ErrDetectionAmbiguous, len(kept))
	}
	r.log.WithFields(logrus.Fields{
		"box":        kept[0].Box,
		"confidence": kept[0].Confidence,
	}).Debug("card detected")
	return kept[0], nil
}

// AssignElements crops each suppressed region out of card and stores it under
// its field. The first region for a field wins. Unknown classes are ignored.
func (r *Resolver) AssignElements(card image.Image, regions []types.Region) types.CardElements {
	elements := make(types.CardElements, len(ElementClasses))
	w, h := card.Bounds().Dx(), card.Bounds().Dy()

	for _, reg := range Suppress(regions, r.IoUThreshold) {
		field, ok := ElementClasses[reg.Class]
		if !ok {
			continue
		}
		if _, taken := elements[field]; taken {
			continue
		}
		box := geometry.Clamp(reg.Box, w, h)
		if box.Empty() {
			continue
		}
		elements[field] = geometry.Crop(card, box)
	}

	r.log.WithField("elements", len(elements)).Debug("card elements assigned")
	return elements
}
