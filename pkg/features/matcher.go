// Package features identifies a logo by matching local keypoint descriptors
// against a fixed set of labeled reference images.
package features

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Defaults for KNNMatcher.
const (
	DefaultLoweRatio  = 0.7
	DefaultMinMatches = 20
)

var (
	// ErrNoMatchFound is returned when no reference reaches MinMatches.
	ErrNoMatchFound = errors.New("features: no reference matched")
	// ErrNoReferences is returned by Detect before LoadReferences succeeded.
	ErrNoReferences = errors.New("features: no references loaded")
)

// Descriptors holds one descriptor vector per keypoint.
type Descriptors [][]float32

// Extractor computes keypoint descriptors for an image. Implementations must
// be safe for concurrent use.
type Extractor interface {
	Extract(img image.Image) (Descriptors, error)
}

// Reference is a labeled logo image.
type Reference struct {
	Name  string
	Image image.Image
}

// Match is the winning reference.
type Match struct {
	Name        string
	GoodMatches int
}

// Matcher finds which reference a target image shows.
type Matcher interface {
	LoadReferences(ctx context.Context, refs []Reference) error
	Detect(target image.Image) (Match, error)
}

type reference struct {
	name string
	desc Descriptors
}

// KNNMatcher runs a brute-force 2-nearest-neighbour search from every
// reference descriptor into the target and keeps matches that pass Lowe's
// ratio test. The reference with the most good matches wins; ties keep the
// reference loaded first.
type KNNMatcher struct {
	LoweRatio  float64
	MinMatches int

	extractor Extractor
	log       logrus.FieldLogger

	mu   sync.RWMutex
	refs []reference
}

// NewKNNMatcher creates a matcher with default thresholds.
func NewKNNMatcher(extractor Extractor, log logrus.FieldLogger) *KNNMatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &KNNMatcher{
		LoweRatio:  DefaultLoweRatio,
		MinMatches: DefaultMinMatches,
		extractor:  extractor,
		log:        log,
	}
}

// LoadReferences computes descriptors for refs in parallel and replaces the
// current set. The order of refs is kept and decides ties in Detect.
func (m *KNNMatcher) LoadReferences(ctx context.Context, refs []Reference) error {
	loaded := make([]reference, len(refs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ref := range refs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			desc, err := m.extractor.Extract(ref.Image)
			if err != nil {
				return fmt.Errorf("reference %s: %w", ref.Name, err)
			}
			loaded[i] = reference{name: ref.Name, desc: desc}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	m.refs = loaded
	m.mu.Unlock()

	m.log.WithField("references", len(loaded)).Info("logo references loaded")
	return nil
}

// Detect returns the best matching reference for target.
func (m *KNNMatcher) Detect(target image.Image) (Match, error) {
	m.mu.RLock()
	refs := m.refs
	m.mu.RUnlock()
	if len(refs) == 0 {
		return Match{}, ErrNoReferences
	}

	targetDesc, err := m.extractor.Extract(target)
	if err != nil {
		return Match{}, fmt.Errorf("features: target: %w", err)
	}

	best := Match{}
	for _, ref := range refs {
		good := CountGoodMatches(ref.desc, targetDesc, m.LoweRatio)
		m.log.WithFields(logrus.Fields{"reference": ref.name, "good": good}).Debug("logo candidate")
		if good > best.GoodMatches {
			best = Match{Name: ref.name, GoodMatches: good}
		}
	}

	if best.Name == "" || best.GoodMatches < m.MinMatches {
		return Match{}, fmt.Errorf("%w: best %q with %d good matches", ErrNoMatchFound, best.Name, best.GoodMatches)
	}
	return best, nil
}

// CountGoodMatches counts query descriptors whose nearest train descriptor is
// closer than ratio times the second nearest.
func CountGoodMatches(query, train Descriptors, ratio float64) int {
	if len(train) < 2 {
		return 0
	}
	good := 0
	for _, q := range query {
		first, second := math.Inf(1), math.Inf(1)
		for _, t := range train {
			d := squaredDistance(q, t)
			if d < first {
				first, second = d, first
			} else if d < second {
				second = d
			}
		}
		if math.Sqrt(first) < ratio*math.Sqrt(second) {
			good++
		}
	}
	return good
}

func squaredDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
