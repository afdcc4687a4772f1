// Package network decides which payment network issued a card by running an
// ordered cascade of independent strategies until one of them answers.
package network

import (
	"context"
	"image"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/binlist"
	"github.com/menta2k/card-analyzer/pkg/types"
)

// State is a position in the resolution state machine.
type State int

const (
	NotStarted State = iota
	VisualClassifyTried
	RemoteLookupTried
	LocalLookupTried
	FeatureMatchTried
	Resolved
	Unresolved
)

var stateNames = [...]string{
	"not_started",
	"visual_classify_tried",
	"remote_lookup_tried",
	"local_lookup_tried",
	"feature_match_tried",
	"resolved",
	"unresolved",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// Classifier returns the top-1 class index of a logo crop.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (int, float64, error)
}

// NumberReader OCRs the card number zone and returns its digits.
type NumberReader interface {
	ReadCardNumber(ctx context.Context, card image.Image) (string, error)
}

// Lookup resolves an IIN to card metadata.
type Lookup interface {
	Lookup(ctx context.Context, iin string) (binlist.Metadata, error)
}

// Input carries everything one resolution needs. It is built per request and
// must not be shared between resolutions.
type Input struct {
	// Card is the cropped card image.
	Card image.Image
	// Logo is the payment network element crop, nil when none was detected.
	Logo image.Image
	// Hint is a caller supplied network that skips the cascade when known.
	Hint types.Network

	once   sync.Once
	digits string
}

// Digits reads the card number at most once per Input. Read failures yield
// an empty string.
func (in *Input) Digits(ctx context.Context, r NumberReader, log logrus.FieldLogger) string {
	in.once.Do(func() {
		if r == nil || in.Card == nil {
			return
		}
		d, err := r.ReadCardNumber(ctx, in.Card)
		if err != nil {
			log.WithError(err).Debug("card number unreadable")
			return
		}
		in.digits = d
	})
	return in.digits
}

// Strategy is one step of the cascade. Run reports false when it has no
// answer; it never returns errors.
type Strategy struct {
	Name  string
	Tried State
	Run   func(ctx context.Context, in *Input) (types.Network, bool)
}

// Resolution is the outcome of one Resolve call.
type Resolution struct {
	Network  types.Network
	State    State
	Trace    []State
	Strategy string
}

// Resolver runs strategies in order and stops at the first answer.
type Resolver struct {
	strategies []Strategy
	log        logrus.FieldLogger
}

// NewResolver creates a resolver over the given ordered strategies.
func NewResolver(log logrus.FieldLogger, strategies ...Strategy) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{strategies: strategies, log: log}
}

// Resolve walks the cascade. No strategy runs twice.
func (r *Resolver) Resolve(ctx context.Context, in *Input) Resolution {
	if in.Hint.Known() {
		r.log.WithField("network", in.Hint).Debug("network taken from hint")
		return Resolution{Network: in.Hint, State: Resolved, Strategy: "hint"}
	}

	res := Resolution{State: NotStarted}
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			break
		}
		n, ok := s.Run(ctx, in)
		res.Trace = append(res.Trace, s.Tried)
		res.State = s.Tried
		if ok && n.Known() {
			res.Network = n
			res.State = Resolved
			res.Strategy = s.Name
			r.log.WithFields(logrus.Fields{
				"network":  n,
				"strategy": s.Name,
			}).Info("payment network resolved")
			return res
		}
	}

	res.State = Unresolved
	r.log.WithField("trace", traceString(res.Trace)).Info("payment network unresolved")
	return res
}

func traceString(trace []State) string {
	parts := make([]string, len(trace))
	for i, s := range trace {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
