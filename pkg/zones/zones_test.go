package zones

import (
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/menta2k/card-analyzer/pkg/types"
)

func TestDefault(t *testing.T) {
	s, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}

	for _, n := range types.KnownNetworks {
		zm := s.For(n)
		if len(zm) != 4 {
			t.Errorf("%s: expected 4 zones, got %d", n, len(zm))
		}
		if zm[types.FieldCardNumber] == s.Common()[types.FieldCardNumber] {
			t.Errorf("%s: expected a network specific card number zone", n)
		}
	}

	z, ok := s.Zone(types.FieldPaymentNetwork)
	if !ok || !z.IsRelative() {
		t.Errorf("Expected a relative common logo zone, got %+v", z)
	}
}

func TestForUnknownNetwork(t *testing.T) {
	s, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if got := s.For(types.NetworkUnknown); got[types.FieldCardholder] != s.Common()[types.FieldCardholder] {
		t.Error("Expected common layout for unknown network")
	}
}

func TestLoadAbsolute(t *testing.T) {
	doc := `
common:
  card_number:     {absolute: [10, 100, 300, 130]}
  expiry_date:     {relative: [[0.4, 0.6], [0.7, 0.8]]}
  cardholder:      {relative: [[0.0, 0.8], [0.7, 1.0]]}
  payment_network: {relative: [[0.7, 0.7], [1.0, 1.0]]}
`
	s, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	z := s.Common()[types.FieldCardNumber]
	if z.IsRelative() || z.Absolute != image.Rect(10, 100, 300, 130) {
		t.Errorf("Expected absolute zone, got %+v", z)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"missing field": `
common:
  card_number: {relative: [[0.1, 0.1], [0.9, 0.2]]}
`,
		"out of range": `
common:
  card_number:     {relative: [[0.1, 0.1], [1.9, 0.2]]}
  expiry_date:     {relative: [[0.4, 0.6], [0.7, 0.8]]}
  cardholder:      {relative: [[0.0, 0.8], [0.7, 1.0]]}
  payment_network: {relative: [[0.7, 0.7], [1.0, 1.0]]}
`,
		"unknown network": `
common:
  card_number:     {relative: [[0.1, 0.1], [0.9, 0.2]]}
  expiry_date:     {relative: [[0.4, 0.6], [0.7, 0.8]]}
  cardholder:      {relative: [[0.0, 0.8], [0.7, 1.0]]}
  payment_network: {relative: [[0.7, 0.7], [1.0, 1.0]]}
networks:
  DINERS: {}
`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(doc)); !errors.Is(err, ErrInvalidZone) {
				t.Errorf("Expected ErrInvalidZone, got %v", err)
			}
		})
	}
}
