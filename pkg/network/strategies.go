package network

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/features"
	"github.com/menta2k/card-analyzer/pkg/geometry"
	"github.com/menta2k/card-analyzer/pkg/types"
	"github.com/menta2k/card-analyzer/pkg/zones"
)

// iinLength is the prefix sent to the remote lookup.
const iinLength = 6

// Deps are the collaborators of the default cascade. Any of them may be nil;
// the matching strategy then answers none.
type Deps struct {
	Classifier Classifier
	ClassIndex map[int]types.Network

	Reader NumberReader
	Lookup Lookup
	// LookupUnmappedAsCabal maps unknown lookup schemes to CABAL.
	LookupUnmappedAsCabal bool

	Matcher features.Matcher
	Zones   *zones.Set

	Log logrus.FieldLogger
}

// Default returns the four strategies in cascade order.
func Default(d Deps) []Strategy {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.ClassIndex == nil {
		d.ClassIndex = DefaultClassIndex
	}
	return []Strategy{
		VisualClassify(d),
		RemoteLookup(d),
		LocalLookup(d),
		FeatureMatch(d),
	}
}

// VisualClassify classifies the logo crop when there is one.
func VisualClassify(d Deps) Strategy {
	return Strategy{
		Name:  "visual_classify",
		Tried: VisualClassifyTried,
		Run: func(ctx context.Context, in *Input) (types.Network, bool) {
			if in.Logo == nil || d.Classifier == nil {
				return types.NetworkUnknown, false
			}
			idx, conf, err := d.Classifier.Classify(ctx, in.Logo)
			if err != nil {
				d.Log.WithError(err).Warn("logo classification failed")
				return types.NetworkUnknown, false
			}
			n, ok := d.ClassIndex[idx]
			d.Log.WithFields(logrus.Fields{
				"index":      idx,
				"confidence": conf,
				"network":    n,
			}).Debug("logo classified")
			return n, ok
		},
	}
}

// RemoteLookup queries the IIN service with the first six digits of the
// card number. It only runs when no logo crop exists and more than six
// digits were read.
func RemoteLookup(d Deps) Strategy {
	return Strategy{
		Name:  "remote_lookup",
		Tried: RemoteLookupTried,
		Run: func(ctx context.Context, in *Input) (types.Network, bool) {
			if in.Logo != nil || d.Lookup == nil {
				return types.NetworkUnknown, false
			}
			digits := in.Digits(ctx, d.Reader, d.Log)
			if len(digits) <= iinLength {
				return types.NetworkUnknown, false
			}
			md, err := d.Lookup.Lookup(ctx, digits[:iinLength])
			if err != nil {
				d.Log.WithError(err).Warn("iin lookup failed")
				return types.NetworkUnknown, false
			}
			n, ok := SchemeNetwork(md.Scheme, d.LookupUnmappedAsCabal)
			d.Log.WithFields(logrus.Fields{
				"scheme":  md.Scheme,
				"network": n,
			}).Debug("iin looked up")
			return n, ok
		},
	}
}

// LocalLookup applies LocalRules to the card number digits.
func LocalLookup(d Deps) Strategy {
	return Strategy{
		Name:  "local_lookup",
		Tried: LocalLookupTried,
		Run: func(ctx context.Context, in *Input) (types.Network, bool) {
			return LocalRules(in.Digits(ctx, d.Reader, d.Log))
		},
	}
}

// FeatureMatch compares the fixed logo zone against the reference logos.
func FeatureMatch(d Deps) Strategy {
	return Strategy{
		Name:  "feature_match",
		Tried: FeatureMatchTried,
		Run: func(ctx context.Context, in *Input) (types.Network, bool) {
			if d.Matcher == nil || d.Zones == nil || in.Card == nil {
				return types.NetworkUnknown, false
			}
			zone, ok := d.Zones.Zone(types.FieldPaymentNetwork)
			if !ok {
				return types.NetworkUnknown, false
			}
			logo, err := geometry.ExtractZone(in.Card, zone)
			if err != nil {
				d.Log.WithError(err).Warn("logo zone crop failed")
				return types.NetworkUnknown, false
			}
			m, err := d.Matcher.Detect(logo)
			if err != nil {
				entry := d.Log.WithError(err)
				if errors.Is(err, features.ErrNoMatchFound) {
					entry.Debug("no reference logo matched")
				} else {
					entry.Warn("feature matching failed")
				}
				return types.NetworkUnknown, false
			}
			d.Log.WithFields(logrus.Fields{
				"reference": m.Name,
				"good":      m.GoodMatches,
			}).Debug("reference logo matched")
			return ReferenceNetwork(m.Name)
		},
	}
}
