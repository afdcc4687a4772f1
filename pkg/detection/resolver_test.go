package detection

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/processing"
	"github.com/menta2k/card-analyzer/pkg/types"
)

// createTestImage creates a uniformly colored test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0, 255})
		}
	}
	return img
}

func region(x1, y1, x2, y2 int, class int, conf float64) types.Region {
	return types.Region{Box: image.Rect(x1, y1, x2, y2), Class: class, Confidence: conf}
}

func quietResolver() *Resolver {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewResolver(log)
}

func TestSuppressKeepsBestOfEachCluster(t *testing.T) {
	regions := []types.Region{
		region(0, 0, 100, 100, 0, 0.6),
		region(2, 2, 102, 102, 0, 0.9), // best of cluster A
		region(1, 0, 100, 99, 0, 0.7),
		region(200, 200, 300, 300, 0, 0.5), // best of cluster B
		region(205, 205, 300, 300, 0, 0.4),
	}

	kept := Suppress(regions, DefaultIoUThreshold)
	if len(kept) != 2 {
		t.Fatalf("Expected 2 regions, got %d: %+v", len(kept), kept)
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("Expected first kept confidence 0.9, got %f", kept[0].Confidence)
	}
	if kept[1].Confidence != 0.5 {
		t.Errorf("Expected second kept confidence 0.5, got %f", kept[1].Confidence)
	}
}

func TestSuppressDoesNotMutateInput(t *testing.T) {
	regions := []types.Region{region(0, 0, 10, 10, 0, 0.1), region(50, 50, 60, 60, 0, 0.9)}
	Suppress(regions, DefaultIoUThreshold)
	if regions[0].Confidence != 0.1 {
		t.Error("Suppress reordered the caller's slice")
	}
}

func TestSuppressEmpty(t *testing.T) {
	if got := Suppress(nil, DefaultIoUThreshold); len(got) != 0 {
		t.Errorf("Expected no regions, got %d", len(got))
	}
}

func TestResolveCard(t *testing.T) {
	r := quietResolver()

	tests := []struct {
		name    string
		regions []types.Region
		wantErr bool
	}{
		{"none", nil, true},
		{"one", []types.Region{region(10, 10, 200, 120, 0, 0.8)}, false},
		{"duplicates collapse", []types.Region{
			region(10, 10, 200, 120, 0, 0.8),
			region(12, 11, 201, 121, 0, 0.95),
		}, false},
		{"two cards", []types.Region{
			region(10, 10, 200, 120, 0, 0.8),
			region(300, 10, 500, 120, 0, 0.85),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveCard(tt.regions)
			if tt.wantErr {
				if !errors.Is(err, ErrDetectionAmbiguous) {
					t.Errorf("Expected ErrDetectionAmbiguous, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveCard() error: %v", err)
			}
			best := Suppress(tt.regions, DefaultIoUThreshold)[0]
			if got != best {
				t.Errorf("Expected %+v, got %+v", best, got)
			}
		})
	}
}

func TestAssignElements(t *testing.T) {
	r := quietResolver()
	card := createTestImage(200, 120)

	regions := []types.Region{
		region(10, 60, 190, 80, ClassCardNumber, 0.7),
		region(10, 62, 150, 78, ClassCardNumber, 0.9), // same slot, overlaps, wins by confidence
		region(120, 90, 160, 100, ClassExpiryDate, 0.8),
		region(150, 10, 210, 40, ClassPaymentNetwork, 0.6), // partly outside, clamped
		region(0, 0, 5, 5, 9, 0.99),                        // unknown class
	}

	elements := r.AssignElements(card, regions)
	if len(elements) != 3 {
		t.Fatalf("Expected 3 elements, got %d", len(elements))
	}
	if b := elements[types.FieldCardNumber].Bounds(); b.Dx() != 140 {
		t.Errorf("Expected the 0.9 card number crop (140px wide), got %v", b)
	}
	if b := elements[types.FieldPaymentNetwork].Bounds(); b.Dx() != 50 {
		t.Errorf("Expected clamped logo crop 50px wide, got %v", b)
	}
	if elements.Get(types.FieldCardholder) != nil {
		t.Error("Expected cardholder slot to stay unset")
	}
}

func TestAssignElementsFirstWriteWins(t *testing.T) {
	r := quietResolver()
	card := createTestImage(200, 120)

	// Disjoint boxes survive suppression; the higher confidence one is first.
	regions := []types.Region{
		region(10, 10, 50, 20, ClassCardholder, 0.5),
		region(10, 90, 100, 110, ClassCardholder, 0.8),
	}
	elements := r.AssignElements(card, regions)
	if b := elements[types.FieldCardholder].Bounds(); b.Min.Y != 90 {
		t.Errorf("Expected the 0.8 region to win, got %v", b)
	}
}

type fakeVisionClient struct {
	dets   *types.ModelDetections
	err    error
	prompt string
}

func (f *fakeVisionClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "", nil
}

func (f *fakeVisionClient) DetectObjects(ctx context.Context, model, prompt, imgB64 string) (*types.ModelDetections, error) {
	f.prompt = prompt
	return f.dets, f.err
}

func TestVisionDetector(t *testing.T) {
	fc := &fakeVisionClient{dets: &types.ModelDetections{Objects: []types.ModelDetection{
		{Label: "credit card", Confidence: 0.9, Box: types.Box{X: 0.1, Y: 0.2, W: 0.5, H: 0.5}},
		{Label: "phone", Confidence: 0.9, Box: types.Box{X: 0, Y: 0, W: 1, H: 1}},
		{Label: "card", Confidence: 0.05, Box: types.Box{X: 0, Y: 0, W: 1, H: 1}},
	}}}
	d := NewVisionDetector(fc, processing.NewProcessor(), VisionOptions{
		Model:         "test",
		Prompt:        CardPrompt,
		Labels:        CardLabels,
		MinConfidence: 0.3,
	})

	regions, err := d.Detect(context.Background(), createTestImage(200, 100))
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if fc.prompt != CardPrompt {
		t.Error("Expected card prompt to be sent")
	}
	if len(regions) != 1 {
		t.Fatalf("Expected 1 region, got %d", len(regions))
	}
	if want := image.Rect(20, 20, 120, 70); regions[0].Box != want {
		t.Errorf("Expected %v, got %v", want, regions[0].Box)
	}
}

func TestVisionDetectorPixelBoxes(t *testing.T) {
	fc := &fakeVisionClient{dets: &types.ModelDetections{Objects: []types.ModelDetection{
		{Label: "card_number", Confidence: 0.8, Box: types.Box{X: 10, Y: 20, W: 80, H: 10}},
	}}}
	d := NewVisionDetector(fc, processing.NewProcessor(), VisionOptions{
		Prompt:   ElementPrompt,
		Labels:   ElementLabels,
		SendSize: 100,
	})

	// 200x100 is sent as 100x50, so pixel answers are scaled back up.
	regions, err := d.Detect(context.Background(), createTestImage(200, 100))
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(regions) != 1 || regions[0].Class != ClassCardNumber {
		t.Fatalf("Expected one card number region, got %+v", regions)
	}
	if want := image.Rect(20, 40, 180, 60); regions[0].Box != want {
		t.Errorf("Expected %v, got %v", want, regions[0].Box)
	}
}

func TestScaledSize(t *testing.T) {
	if w, h := scaledSize(3000, 1500, 1536); w != 1536 || h != 768 {
		t.Errorf("Expected 1536x768, got %dx%d", w, h)
	}
	if w, h := scaledSize(800, 600, 0); w != 800 || h != 600 {
		t.Errorf("Expected unchanged size, got %dx%d", w, h)
	}
}

func BenchmarkSuppress(b *testing.B) {
	regions := make([]types.Region, 0, 100)
	for i := 0; i < 100; i++ {
		regions = append(regions, region(i*3, i*2, i*3+50, i*2+40, 0, float64(i%10)/10))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Suppress(regions, DefaultIoUThreshold)
	}
}
