package cardanalyzer

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/binlist"
	"github.com/menta2k/card-analyzer/pkg/detection"
	"github.com/menta2k/card-analyzer/pkg/extract"
	"github.com/menta2k/card-analyzer/pkg/network"
	"github.com/menta2k/card-analyzer/pkg/ocr"
	"github.com/menta2k/card-analyzer/pkg/processing"
	"github.com/menta2k/card-analyzer/pkg/types"
	"github.com/menta2k/card-analyzer/pkg/zones"
)

// createTestImage creates a photo with a lighter card-shaped area
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/8 && x < 7*width/8 && y > height/5 && y < 4*height/5 {
				img.Set(x, y, color.RGBA{40, 70, 160, 255})
			} else {
				img.Set(x, y, color.RGBA{220, 220, 220, 255})
			}
		}
	}
	return img
}

type stubDetector struct {
	regions []types.Region
	err     error
	calls   int
}

func (s *stubDetector) Detect(ctx context.Context, img image.Image) ([]types.Region, error) {
	s.calls++
	return s.regions, s.err
}

// fixedEngine answers every OCR call with the same tokens.
type fixedEngine struct {
	mu     sync.Mutex
	tokens []string
	calls  int
}

func (f *fixedEngine) ReadText(ctx context.Context, img image.Image) ([]ocr.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]ocr.Token, 0, len(f.tokens))
	for _, s := range f.tokens {
		out = append(out, ocr.Token{Text: s, Confidence: 0.9})
	}
	return out, nil
}

type stubLookup struct{ calls int }

func (s *stubLookup) Lookup(ctx context.Context, iin string) (binlist.Metadata, error) {
	s.calls++
	return binlist.Metadata{}, binlist.ErrLookupUnavailable
}

type stubClassifier struct{ index, calls int }

func (s *stubClassifier) Classify(ctx context.Context, img image.Image) (int, float64, error) {
	s.calls++
	return s.index, 0.9, nil
}

type harness struct {
	card       *stubDetector
	elements   *stubDetector
	engine     *fixedEngine
	lookup     *stubLookup
	classifier *stubClassifier
	analyzer   *Analyzer
	now        time.Time
}

func newHarness(t *testing.T, withElements bool) *harness {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	set, err := zones.Default()
	if err != nil {
		t.Fatalf("zones.Default() error: %v", err)
	}
	h := &harness{
		card:       &stubDetector{},
		engine:     &fixedEngine{tokens: []string{"4111", "11"}},
		lookup:     &stubLookup{},
		classifier: &stubClassifier{index: -1},
		now:        time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	ex := extract.New(h.engine, processing.NewProcessor(), set, extract.Options{Now: clock}, log)
	resolver := network.NewResolver(log, network.Default(network.Deps{
		Classifier: h.classifier,
		Reader:     ex,
		Lookup:     h.lookup,
		Zones:      set,
		Log:        log,
	})...)

	opts := Options{
		CardDetector: h.card,
		Network:      resolver,
		Extractor:    ex,
		Zones:        set,
		Log:          log,
		Now:          clock,
	}
	if withElements {
		h.elements = &stubDetector{}
		opts.ElementDetector = h.elements
	}
	if h.analyzer, err = New(opts); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return h
}

func cardRegion(x0, y0, x1, y1 int, conf float64) types.Region {
	return types.Region{Box: image.Rect(x0, y0, x1, y1), Label: "credit card", Confidence: conf}
}

func TestProcessResolvesVisaLocally(t *testing.T) {
	h := newHarness(t, false)
	h.card.regions = []types.Region{
		cardRegion(100, 100, 700, 480, 0.95),
		cardRegion(105, 98, 702, 478, 0.80),
	}

	res, err := h.analyzer.Analyze(context.Background(), createTestImage(800, 600), "")
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}

	rec := res.Record
	if rec.PaymentNetwork != types.NetworkVisa {
		t.Errorf("Expected VISA, got %q", rec.PaymentNetwork)
	}
	if rec.Obs != types.ObsSuccess {
		t.Errorf("Expected obs %q, got %q", types.ObsSuccess, rec.Obs)
	}
	if rec.CardNumber != "411111" {
		t.Errorf("Expected card number 411111, got %q", rec.CardNumber)
	}
	if res.Resolution.Strategy != "local_lookup" {
		t.Errorf("Expected local lookup, got %+v", res.Resolution)
	}
	if h.lookup.calls != 0 {
		t.Errorf("Expected no remote lookup for six digits, got %d", h.lookup.calls)
	}
	if res.Card.Box != image.Rect(100, 100, 700, 480) {
		t.Errorf("Expected highest confidence card, got %v", res.Card.Box)
	}
	// One read for the network cascade, three for the fields.
	if h.engine.calls != 4 {
		t.Errorf("Expected 4 OCR calls, got %d", h.engine.calls)
	}
}

func TestProcessNoCard(t *testing.T) {
	h := newHarness(t, false)

	rec, err := h.analyzer.Process(context.Background(), createTestImage(800, 600), "")
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if rec.Obs != types.ObsCardNotFound {
		t.Errorf("Expected obs %q, got %q", types.ObsCardNotFound, rec.Obs)
	}
	if rec.PaymentNetwork != types.NetworkUnknown || rec.CardNumber != "" {
		t.Errorf("Expected empty record, got %+v", rec)
	}
	if h.engine.calls != 0 {
		t.Errorf("Expected no OCR, got %d calls", h.engine.calls)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)
	if decoded["payment_network"] != nil || decoded["obs"] != types.ObsCardNotFound {
		t.Errorf("Unexpected JSON %s", data)
	}
}

func TestProcessTwoCards(t *testing.T) {
	h := newHarness(t, false)
	h.card.regions = []types.Region{
		cardRegion(0, 0, 300, 200, 0.9),
		cardRegion(400, 300, 780, 580, 0.9),
	}

	rec, _ := h.analyzer.Process(context.Background(), createTestImage(800, 600), "")
	if rec.Obs != types.ObsCardNotFound {
		t.Errorf("Expected obs %q, got %q", types.ObsCardNotFound, rec.Obs)
	}
}

func TestProcessDetectorFailure(t *testing.T) {
	h := newHarness(t, false)
	h.card.err = errors.New("session closed")

	rec, err := h.analyzer.Process(context.Background(), createTestImage(800, 600), "")
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if rec.Obs != types.ObsCardNotFound {
		t.Errorf("Expected obs %q, got %q", types.ObsCardNotFound, rec.Obs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.analyzer.Process(ctx, createTestImage(800, 600), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestProcessInvalidImage(t *testing.T) {
	h := newHarness(t, false)

	rec, err := h.analyzer.Process(context.Background(), createTestImage(20, 20), "")
	if err != nil || rec.Obs != types.ObsInvalidImage {
		t.Errorf("Expected invalid image record, got %+v, %v", rec, err)
	}

	rec, err = h.analyzer.ProcessBytes(context.Background(), []byte("definitely not a png"), "")
	if err != nil || rec.Obs != types.ObsInvalidImage {
		t.Errorf("Expected invalid image record, got %+v, %v", rec, err)
	}
	if rec.CreatedAt == nil || !rec.CreatedAt.Equal(h.now) {
		t.Errorf("Expected created_at %v, got %v", h.now, rec.CreatedAt)
	}
	if h.card.calls != 0 {
		t.Error("Detector must not run on invalid input")
	}
}

func TestProcessHint(t *testing.T) {
	h := newHarness(t, false)
	h.card.regions = []types.Region{cardRegion(100, 100, 700, 480, 0.9)}

	res, err := h.analyzer.Analyze(context.Background(), createTestImage(800, 600), "mastercard")
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if res.Record.PaymentNetwork != types.NetworkMastercard || res.Resolution.Strategy != "hint" {
		t.Errorf("Expected MASTERCARD from hint, got %+v", res.Resolution)
	}
	// Only the three fields are read.
	if h.engine.calls != 3 {
		t.Errorf("Expected 3 OCR calls, got %d", h.engine.calls)
	}

	res, _ = h.analyzer.Analyze(context.Background(), createTestImage(800, 600), "diners")
	if res.Resolution.Strategy == "hint" {
		t.Error("Unknown hint must be ignored")
	}
}

func TestProcessWithElements(t *testing.T) {
	h := newHarness(t, true)
	h.card.regions = []types.Region{cardRegion(100, 100, 700, 480, 0.9)}
	h.elements.regions = []types.Region{
		{Box: image.Rect(30, 190, 570, 250), Class: detection.ClassCardNumber, Confidence: 0.9},
		{Box: image.Rect(450, 300, 640, 400), Class: detection.ClassPaymentNetwork, Confidence: 0.8},
	}
	h.classifier.index = 3

	res, err := h.analyzer.Analyze(context.Background(), createTestImage(800, 600), "")
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if res.Record.PaymentNetwork != types.NetworkVisa || res.Resolution.Strategy != "visual_classify" {
		t.Errorf("Expected VISA from the classifier, got %+v", res.Resolution)
	}
	if h.classifier.calls != 1 || h.lookup.calls != 0 {
		t.Errorf("Unexpected collaborator calls classifier=%d lookup=%d", h.classifier.calls, h.lookup.calls)
	}
	if len(res.Elements) != 2 {
		t.Errorf("Expected 2 element regions, got %d", len(res.Elements))
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("Expected error for missing collaborators")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected %s, got %s", Version, GetVersion())
	}
}
