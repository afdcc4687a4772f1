package extract

import (
	"errors"
	"image"

	"github.com/menta2k/card-analyzer/pkg/types"
	"github.com/menta2k/card-analyzer/pkg/zones"
)

// ErrMissingContext is returned when extraction runs without a card image or
// a zone layout.
var ErrMissingContext = errors.New("extract: card image and zone layout are required")

// Context is everything one extraction needs. It is built once per request
// and never modified.
type Context struct {
	card     image.Image
	elements types.CardElements
	network  types.Network
	zones    types.ZoneMap
}

// NewContext selects the layout for network (or the common one) and binds it
// to the card image and optional element crops.
func NewContext(card image.Image, elements types.CardElements, network types.Network, set *zones.Set) (Context, error) {
	if card == nil || set == nil {
		return Context{}, ErrMissingContext
	}
	zm := set.Common()
	if network.Known() {
		zm = set.For(network)
	}
	if len(zm) == 0 {
		return Context{}, ErrMissingContext
	}
	return Context{card: card, elements: elements, network: network, zones: zm}, nil
}

// Card returns the card image.
func (c Context) Card() image.Image { return c.card }

// Network returns the resolved network, possibly unknown.
func (c Context) Network() types.Network { return c.network }

// Zones returns the selected layout.
func (c Context) Zones() types.ZoneMap { return c.zones }

// Element returns the pre-segmented crop for f, or nil.
func (c Context) Element(f types.Field) image.Image { return c.elements.Get(f) }

func (c Context) valid() bool {
	return c.card != nil && len(c.zones) > 0
}
