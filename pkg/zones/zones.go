// Package zones loads the per-network field layouts used for zone-based
// extraction.
package zones

import (
	_ "embed"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/card-analyzer/pkg/types"
)

//go:embed zones.yaml
var defaultZones []byte

// ErrInvalidZone is returned for malformed zone definitions.
var ErrInvalidZone = errors.New("zones: invalid zone")

// Set holds the common layout and one layout per known network. It is
// read-only after loading.
type Set struct {
	common   types.ZoneMap
	networks map[types.Network]types.ZoneMap
}

type zoneDoc struct {
	Relative [][]float64 `yaml:"relative"`
	Absolute []int       `yaml:"absolute"`
}

type setDoc struct {
	Common   map[string]zoneDoc            `yaml:"common"`
	Networks map[string]map[string]zoneDoc `yaml:"networks"`
}

var fields = map[string]types.Field{
	string(types.FieldCardNumber):     types.FieldCardNumber,
	string(types.FieldExpiryDate):     types.FieldExpiryDate,
	string(types.FieldCardholder):     types.FieldCardholder,
	string(types.FieldPaymentNetwork): types.FieldPaymentNetwork,
}

// Default returns the built-in layouts.
func Default() (*Set, error) {
	return Parse(defaultZones)
}

// LoadFile reads layouts from a YAML file. An empty path loads the defaults.
func LoadFile(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("zones: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads layouts from YAML.
func Load(r io.Reader) (*Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zones: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML layout document.
func Parse(data []byte) (*Set, error) {
	var doc setDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("zones: parse: %w", err)
	}

	common, err := buildMap("common", doc.Common)
	if err != nil {
		return nil, err
	}

	s := &Set{common: common, networks: make(map[types.Network]types.ZoneMap, len(doc.Networks))}
	for name, m := range doc.Networks {
		n, ok := types.ParseNetwork(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown network %q", ErrInvalidZone, name)
		}
		zm, err := buildMap(name, m)
		if err != nil {
			return nil, err
		}
		s.networks[n] = zm
	}
	return s, nil
}

// Common returns the layout used when the network is unknown.
func (s *Set) Common() types.ZoneMap {
	return s.common
}

// For returns the layout for n, or the common layout when n has none.
func (s *Set) For(n types.Network) types.ZoneMap {
	if zm, ok := s.networks[n]; ok {
		return zm
	}
	return s.common
}

// Zone returns the common zone of f.
func (s *Set) Zone(f types.Field) (types.Zone, bool) {
	z, ok := s.common[f]
	return z, ok
}

func buildMap(name string, docs map[string]zoneDoc) (types.ZoneMap, error) {
	zm := make(types.ZoneMap, len(fields))
	for key, d := range docs {
		f, ok := fields[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s: unknown field %q", ErrInvalidZone, name, key)
		}
		z, err := buildZone(d)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, key, err)
		}
		zm[f] = z
	}
	for _, f := range fields {
		if _, ok := zm[f]; !ok {
			return nil, fmt.Errorf("%w: %s: missing field %q", ErrInvalidZone, name, f)
		}
	}
	return zm, nil
}

func buildZone(d zoneDoc) (types.Zone, error) {
	switch {
	case len(d.Relative) > 0 && len(d.Absolute) > 0:
		return types.Zone{}, fmt.Errorf("%w: both relative and absolute set", ErrInvalidZone)
	case len(d.Absolute) > 0:
		if len(d.Absolute) != 4 {
			return types.Zone{}, fmt.Errorf("%w: absolute needs 4 values", ErrInvalidZone)
		}
		r := image.Rect(d.Absolute[0], d.Absolute[1], d.Absolute[2], d.Absolute[3])
		if r.Min.X < 0 || r.Min.Y < 0 || r.Empty() {
			return types.Zone{}, fmt.Errorf("%w: empty absolute box %v", ErrInvalidZone, r)
		}
		return types.AbsoluteZone(r), nil
	case len(d.Relative) == 2 && len(d.Relative[0]) == 2 && len(d.Relative[1]) == 2:
		x1, y1 := d.Relative[0][0], d.Relative[0][1]
		x2, y2 := d.Relative[1][0], d.Relative[1][1]
		for _, v := range []float64{x1, y1, x2, y2} {
			if v < 0 || v > 1 {
				return types.Zone{}, fmt.Errorf("%w: relative value %v outside [0,1]", ErrInvalidZone, v)
			}
		}
		if x1 >= x2 || y1 >= y2 {
			return types.Zone{}, fmt.Errorf("%w: corners out of order", ErrInvalidZone)
		}
		return types.RelativeZone(x1, y1, x2, y2), nil
	}
	return types.Zone{}, fmt.Errorf("%w: need relative [[x1,y1],[x2,y2]] or absolute [x1,y1,x2,y2]", ErrInvalidZone)
}
