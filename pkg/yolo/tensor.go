package yolo

import (
	"image"
	"math"

	"github.com/nfnt/resize"

	"github.com/menta2k/card-analyzer/pkg/types"
)

const padValue = 114.0 / 255.0

// letterbox scales img to fit a size x size square, keeping aspect ratio,
// and pads the rest. It returns a CHW tensor in [0,1] and the scale factor.
func letterbox(img image.Image, size int) ([]float32, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	r := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(float64(w)*r))
	nh := max(1, int(float64(h)*r))

	resized := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear)
	rb := resized.Bounds()

	plane := size * size
	out := make([]float32, 3*plane)
	for i := range out {
		out[i] = padValue
	}
	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			cr, cg, cb, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			idx := y*size + x
			out[idx] = float32(cr>>8) / 255
			out[plane+idx] = float32(cg>>8) / 255
			out[2*plane+idx] = float32(cb>>8) / 255
		}
	}
	return out, r
}

// stretch resizes img to exactly size x size and returns a CHW tensor in [0,1].
func stretch(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	rb := resized.Bounds()

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			cr, cg, cb, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			idx := y*size + x
			out[idx] = float32(cr>>8) / 255
			out[plane+idx] = float32(cg>>8) / 255
			out[2*plane+idx] = float32(cb>>8) / 255
		}
	}
	return out
}

// decodeBoxes reads a YOLOv8 style head of shape [1, 4+classes, anchors]
// (or its transpose) into pixel regions of the original image. Boxes below
// minConf are dropped; no suppression is applied.
func decodeBoxes(data []float32, shape []int64, ratio, minConf float64, frame image.Rectangle, labels []string) []types.Region {
	if len(shape) != 3 || ratio <= 0 {
		return nil
	}
	attrs, anchors := int(shape[1]), int(shape[2])
	transposed := false
	if attrs > anchors {
		attrs, anchors = anchors, attrs
		transposed = true
	}
	if attrs < 5 || len(data) < attrs*anchors {
		return nil
	}
	at := func(a, i int) float64 {
		if transposed {
			return float64(data[i*attrs+a])
		}
		return float64(data[a*anchors+i])
	}

	var regions []types.Region
	for i := 0; i < anchors; i++ {
		class, score := -1, minConf
		for c := 0; c < attrs-4; c++ {
			if s := at(4+c, i); s >= score {
				class, score = c, s
			}
		}
		if class < 0 {
			continue
		}

		cx, cy, bw, bh := at(0, i)/ratio, at(1, i)/ratio, at(2, i)/ratio, at(3, i)/ratio
		box := image.Rect(
			int(math.Round(cx-bw/2)), int(math.Round(cy-bh/2)),
			int(math.Round(cx+bw/2)), int(math.Round(cy+bh/2)),
		).Intersect(image.Rect(0, 0, frame.Dx(), frame.Dy()))
		if box.Empty() {
			continue
		}

		reg := types.Region{Box: box, Class: class, Confidence: score}
		if class < len(labels) {
			reg.Label = labels[class]
		}
		regions = append(regions, reg)
	}
	return regions
}

// top1 returns the best class and its probability. Raw logits are passed
// through softmax first.
func top1(scores []float32) (int, float64) {
	if len(scores) == 0 {
		return -1, 0
	}
	probs := scores
	for _, s := range scores {
		if s < 0 || s > 1 {
			probs = softmax(scores)
			break
		}
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best, float64(probs[best])
}

func softmax(in []float32) []float32 {
	maxV := in[0]
	for _, v := range in {
		maxV = max(maxV, v)
	}
	out := make([]float32, len(in))
	var sum float64
	for i, v := range in {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
