package types

import (
	"encoding/json"
	"image"
	"strings"
	"time"
)

// Network is a canonical payment network label. The zero value means unknown.
type Network string

const (
	NetworkUnknown    Network = ""
	NetworkVisa       Network = "VISA"
	NetworkMastercard Network = "MASTERCARD"
	NetworkAmex       Network = "AMERICAN EXPRESS"
	NetworkCabal      Network = "CABAL"
)

// KnownNetworks lists every label a resolver may produce, in a fixed order.
var KnownNetworks = []Network{NetworkVisa, NetworkMastercard, NetworkAmex, NetworkCabal}

// ParseNetwork maps a free-form label (case-insensitive) to a known network.
func ParseNetwork(s string) (Network, bool) {
	switch normalizeLabel(s) {
	case "VISA":
		return NetworkVisa, true
	case "MASTERCARD", "MASTER CARD", "MASTER":
		return NetworkMastercard, true
	case "AMERICAN EXPRESS", "AMEX":
		return NetworkAmex, true
	case "CABAL":
		return NetworkCabal, true
	}
	return NetworkUnknown, false
}

// Known reports whether n is one of the canonical labels.
func (n Network) Known() bool {
	for _, k := range KnownNetworks {
		if n == k {
			return true
		}
	}
	return false
}

// Field names a card element.
type Field string

const (
	FieldCardNumber     Field = "card_number"
	FieldExpiryDate     Field = "expiry_date"
	FieldCardholder     Field = "cardholder"
	FieldPaymentNetwork Field = "payment_network"
)

// TextFields are the fields recognized by OCR, in extraction order.
var TextFields = []Field{FieldCardNumber, FieldCardholder, FieldExpiryDate}

// Region is a single detector output in absolute pixel coordinates.
type Region struct {
	Box        image.Rectangle `json:"box"`
	Class      int             `json:"class"`
	Label      string          `json:"label,omitempty"`
	Confidence float64         `json:"confidence"`
}

// Point is a relative coordinate in [0,1]x[0,1].
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Zone locates a field on a card image, either in absolute pixels or as two
// relative corners.
type Zone struct {
	Absolute image.Rectangle
	Relative [2]Point
	relative bool
}

// AbsoluteZone builds a pixel zone.
func AbsoluteZone(r image.Rectangle) Zone {
	return Zone{Absolute: r}
}

// RelativeZone builds a zone from two relative corners.
func RelativeZone(x1, y1, x2, y2 float64) Zone {
	return Zone{Relative: [2]Point{{X: x1, Y: y1}, {X: x2, Y: y2}}, relative: true}
}

// IsRelative reports whether the zone must be scaled to the image first.
func (z Zone) IsRelative() bool {
	return z.relative
}

// ZoneMap maps each field to its zone for one card layout.
type ZoneMap map[Field]Zone

// CardElements holds per-field crops found by the element detector.
// A missing entry means the field falls back to zone extraction.
type CardElements map[Field]image.Image

// Get returns the crop for f, or nil.
func (e CardElements) Get(f Field) image.Image {
	if e == nil {
		return nil
	}
	return e[f]
}

// Status notes reported in CardRecord.Obs.
const (
	ObsSuccess      = "Succesfull process!"
	ObsCardNotFound = "Can't detect credit card."
	ObsInvalidImage = "Invalid image"
)

// CardRecord is the result of processing one card image.
type CardRecord struct {
	PaymentNetwork Network
	CardNumber     string
	Cardholder     string
	ExpiryDate     string
	CreatedAt      *time.Time
	Obs            string
}

// MarshalJSON writes the record as a flat object with explicit nulls for
// absent fields.
func (r CardRecord) MarshalJSON() ([]byte, error) {
	out := struct {
		PaymentNetwork *string    `json:"payment_network"`
		CardNumber     *string    `json:"card_number"`
		Cardholder     *string    `json:"cardholder"`
		ExpiryDate     *string    `json:"expiry_date"`
		CreatedAt      *time.Time `json:"created_at"`
		Obs            *string    `json:"obs"`
	}{
		PaymentNetwork: optional(string(r.PaymentNetwork)),
		CardNumber:     optional(r.CardNumber),
		Cardholder:     optional(r.Cardholder),
		ExpiryDate:     optional(r.ExpiryDate),
		CreatedAt:      r.CreatedAt,
		Obs:            optional(r.Obs),
	}
	return json.Marshal(out)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func normalizeLabel(s string) string {
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
