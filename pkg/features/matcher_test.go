package features

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/sirupsen/logrus"
)

// fakeExtractor returns canned descriptors per image.
type fakeExtractor struct {
	desc map[image.Image]Descriptors
	err  error
}

func (f *fakeExtractor) Extract(img image.Image) (Descriptors, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.desc[img], nil
}

func newImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 4, 4))
}

// points returns n one-dimensional descriptors at 0, 10, 20, ...
func points(offset, n int) Descriptors {
	d := make(Descriptors, n)
	for i := range d {
		d[i] = []float32{float32((offset + i) * 10)}
	}
	return d
}

// midpoints sit halfway between two target points and always fail the ratio test.
func midpoints(n int) Descriptors {
	d := make(Descriptors, n)
	for i := range d {
		d[i] = []float32{float32(i*10 + 5)}
	}
	return d
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestCountGoodMatches(t *testing.T) {
	train := points(0, 50)
	if got := CountGoodMatches(points(0, 25), train, DefaultLoweRatio); got != 25 {
		t.Errorf("Expected 25 exact matches, got %d", got)
	}
	if got := CountGoodMatches(midpoints(25), train, DefaultLoweRatio); got != 0 {
		t.Errorf("Expected ambiguous matches to be rejected, got %d", got)
	}
	if got := CountGoodMatches(points(0, 5), points(0, 1), DefaultLoweRatio); got != 0 {
		t.Errorf("Expected 0 with fewer than two train descriptors, got %d", got)
	}
}

func TestDetectPicksMostMatches(t *testing.T) {
	visa, master, target := newImage(), newImage(), newImage()
	ex := &fakeExtractor{desc: map[image.Image]Descriptors{
		target: points(0, 100),
		visa:   append(points(0, 30), midpoints(10)...),
		master: points(50, 22),
	}}
	m := NewKNNMatcher(ex, quietLog())
	err := m.LoadReferences(context.Background(), []Reference{
		{Name: "mastercard_1", Image: master},
		{Name: "visa_1", Image: visa},
	})
	if err != nil {
		t.Fatalf("LoadReferences() error: %v", err)
	}

	got, err := m.Detect(target)
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if got.Name != "visa_1" || got.GoodMatches != 30 {
		t.Errorf("Expected visa_1 with 30 matches, got %+v", got)
	}
}

func TestDetectTieKeepsFirstLoaded(t *testing.T) {
	a, b, target := newImage(), newImage(), newImage()
	ex := &fakeExtractor{desc: map[image.Image]Descriptors{
		target: points(0, 100),
		a:      points(0, 25),
		b:      points(40, 25),
	}}

	for _, order := range [][]Reference{
		{{Name: "cabal", Image: a}, {Name: "visa", Image: b}},
		{{Name: "visa", Image: b}, {Name: "cabal", Image: a}},
	} {
		m := NewKNNMatcher(ex, quietLog())
		if err := m.LoadReferences(context.Background(), order); err != nil {
			t.Fatalf("LoadReferences() error: %v", err)
		}
		got, err := m.Detect(target)
		if err != nil {
			t.Fatalf("Detect() error: %v", err)
		}
		if got.Name != order[0].Name {
			t.Errorf("Expected tie to go to %s, got %s", order[0].Name, got.Name)
		}
	}
}

func TestDetectBelowThreshold(t *testing.T) {
	ref, target := newImage(), newImage()
	ex := &fakeExtractor{desc: map[image.Image]Descriptors{
		target: points(0, 100),
		ref:    points(0, DefaultMinMatches-1),
	}}
	m := NewKNNMatcher(ex, quietLog())
	_ = m.LoadReferences(context.Background(), []Reference{{Name: "amex", Image: ref}})

	if _, err := m.Detect(target); !errors.Is(err, ErrNoMatchFound) {
		t.Errorf("Expected ErrNoMatchFound, got %v", err)
	}

	ex.desc[ref] = points(0, DefaultMinMatches)
	_ = m.LoadReferences(context.Background(), []Reference{{Name: "amex", Image: ref}})
	if got, err := m.Detect(target); err != nil || got.Name != "amex" {
		t.Errorf("Expected amex at exactly the threshold, got %+v, %v", got, err)
	}
}

func TestDetectWithoutReferences(t *testing.T) {
	m := NewKNNMatcher(&fakeExtractor{}, quietLog())
	if _, err := m.Detect(newImage()); !errors.Is(err, ErrNoReferences) {
		t.Errorf("Expected ErrNoReferences, got %v", err)
	}
}

func TestLoadReferencesError(t *testing.T) {
	m := NewKNNMatcher(&fakeExtractor{err: errors.New("bad image")}, quietLog())
	if err := m.LoadReferences(context.Background(), []Reference{{Name: "visa", Image: newImage()}}); err == nil {
		t.Error("Expected error from extractor")
	}
}

func BenchmarkCountGoodMatches(b *testing.B) {
	query, train := points(0, 200), points(100, 400)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CountGoodMatches(query, train, DefaultLoweRatio)
	}
}
