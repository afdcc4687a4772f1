package network

import (
	"strings"

	"github.com/menta2k/card-analyzer/pkg/types"
)

// DefaultClassIndex maps the logo classifier's output indices to networks.
var DefaultClassIndex = map[int]types.Network{
	0: types.NetworkAmex,
	1: types.NetworkCabal,
	2: types.NetworkMastercard,
	3: types.NetworkVisa,
}

// LocalRules applies the static IIN prefix table to a digit string.
func LocalRules(digits string) (types.Network, bool) {
	switch {
	case digits == "":
		return types.NetworkUnknown, false
	case strings.HasPrefix(digits, "4"):
		return types.NetworkVisa, true
	case len(digits) >= 2 && digits[0] == '5' && digits[1] >= '1' && digits[1] <= '5':
		return types.NetworkMastercard, true
	case strings.HasPrefix(digits, "34"), strings.HasPrefix(digits, "37"):
		return types.NetworkAmex, true
	case strings.HasPrefix(digits, "6"):
		return types.NetworkCabal, true
	}
	return types.NetworkUnknown, false
}

// SchemeNetwork maps a lookup scheme string by prefix. Unrecognised schemes
// map to CABAL only when unmappedAsCabal is set.
func SchemeNetwork(scheme string, unmappedAsCabal bool) (types.Network, bool) {
	s := strings.ToLower(strings.TrimSpace(scheme))
	switch {
	case strings.HasPrefix(s, "visa"):
		return types.NetworkVisa, true
	case strings.HasPrefix(s, "mastercard"):
		return types.NetworkMastercard, true
	case strings.HasPrefix(s, "american"), strings.HasPrefix(s, "amex"):
		return types.NetworkAmex, true
	case strings.HasPrefix(s, "cabal"):
		return types.NetworkCabal, true
	case unmappedAsCabal:
		return types.NetworkCabal, true
	}
	return types.NetworkUnknown, false
}

var referencePrefixes = []struct {
	prefix  string
	network types.Network
}{
	{"visa", types.NetworkVisa},
	{"mastercard", types.NetworkMastercard},
	{"american", types.NetworkAmex},
	{"amex", types.NetworkAmex},
	{"cabal", types.NetworkCabal},
}

// ReferenceNetwork maps a reference logo name such as "visa_2.png" to its
// network.
func ReferenceNetwork(name string) (types.Network, bool) {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, p := range referencePrefixes {
		if strings.HasPrefix(s, p.prefix) {
			return p.network, true
		}
	}
	return types.NetworkUnknown, false
}
