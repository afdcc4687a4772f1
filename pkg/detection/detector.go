package detection

import (
	"context"
	"fmt"
	"image"

	"github.com/menta2k/card-analyzer/pkg/client"
	"github.com/menta2k/card-analyzer/pkg/processing"
	"github.com/menta2k/card-analyzer/pkg/types"
)

// CardPrompt asks a vision model for payment cards in a photo.
const CardPrompt = `You are a payment card locator.

Return JSON only:
{
  "objects": [
    {"label": "credit card", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- One entry per physical credit or debit card visible in the image.
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- The box must tightly include the card edges.
- If no card is visible, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// ElementPrompt asks a vision model for the printed elements of a card.
const ElementPrompt = `You are a payment card element locator. The image shows a single card.

Return JSON only:
{
  "objects": [
    {"label": "card_number", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- label is one of: card_number, expiry_date, cardholder, payment_network.
- payment_network is the logo of the card brand (VISA, Mastercard, American Express, Cabal).
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- Omit elements that are not visible.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// CardLabels maps model labels to the card class.
var CardLabels = map[string]int{
	"credit card": 0,
	"debit card":  0,
	"card":        0,
}

// ElementLabels maps model labels to element classes.
var ElementLabels = map[string]int{
	"card_number":     ClassCardNumber,
	"card number":     ClassCardNumber,
	"expiry_date":     ClassExpiryDate,
	"expiry date":     ClassExpiryDate,
	"cardholder":      ClassCardholder,
	"payment_network": ClassPaymentNetwork,
	"payment network": ClassPaymentNetwork,
	"logo":            ClassPaymentNetwork,
}

// VisionOptions configures a VisionDetector.
type VisionOptions struct {
	Model         string
	Prompt        string
	Labels        map[string]int
	MinConfidence float64
	SendFormat    string
	SendSize      int
	SendQuality   int
}

// VisionDetector locates regions by prompting a vision language model.
type VisionDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      VisionOptions
}

// NewVisionDetector creates a region detector backed by a vision client.
func NewVisionDetector(c client.VisionClient, p *processing.Processor, opts VisionOptions) *VisionDetector {
	if opts.SendFormat == "" {
		opts.SendFormat = "jpg"
	}
	if opts.SendQuality == 0 {
		opts.SendQuality = 85
	}
	return &VisionDetector{client: c, processor: p, opts: opts}
}

// Detect implements RegionDetector.
func (d *VisionDetector) Detect(ctx context.Context, img image.Image) ([]types.Region, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.opts.SendFormat, d.opts.SendSize, d.opts.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("prepare image: %w", err)
	}

	dets, err := d.client.DetectObjects(ctx, d.opts.Model, d.opts.Prompt, imgB64)
	if err != nil {
		return nil, err
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	sentW, sentH := scaledSize(w, h, d.opts.SendSize)
	frame := image.Rect(0, 0, w, h)

	regions := make([]types.Region, 0, len(dets.Objects))
	for _, o := range dets.Objects {
		class, ok := d.opts.Labels[o.Label]
		if !ok || o.Confidence < d.opts.MinConfidence {
			continue
		}
		box := normalizeBox(o.Box, sentW, sentH).ToRect(frame)
		if box.Empty() {
			continue
		}
		regions = append(regions, types.Region{
			Box:        box,
			Class:      class,
			Label:      o.Label,
			Confidence: clamp(o.Confidence, 0, 1),
		})
	}
	return regions, nil
}

// scaledSize returns the dimensions PrepareImageForModel produces.
func scaledSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, h * maxDim / w
	}
	return w * maxDim / h, maxDim
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds. Models
// sometimes answer in pixels of the image they were sent.
func normalizeBox(b types.Box, imgW, imgH int) types.Box {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		return types.Box{
			X: clamp(b.X/float64(imgW), 0, 1),
			Y: clamp(b.Y/float64(imgH), 0, 1),
			W: clamp(b.W/float64(imgW), 0, 1),
			H: clamp(b.H/float64(imgH), 0, 1),
		}
	}

	return types.Box{
		X: clamp(b.X, 0, 1),
		Y: clamp(b.Y, 0, 1),
		W: clamp(b.W, 0, 1),
		H: clamp(b.H, 0, 1),
	}
}
