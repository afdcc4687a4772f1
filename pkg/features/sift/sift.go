// Package sift computes SIFT descriptors with OpenCV.
package sift

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"

	"gocv.io/x/gocv"

	"github.com/menta2k/card-analyzer/pkg/features"
)

var errEmptyImage = errors.New("sift: empty image")

// Extractor wraps a single OpenCV SIFT instance. Calls are serialised.
type Extractor struct {
	mu   sync.Mutex
	sift gocv.SIFT
}

var _ features.Extractor = (*Extractor)(nil)

// New allocates the OpenCV detector. Call Close when done.
func New() *Extractor {
	return &Extractor{sift: gocv.NewSIFT()}
}

// Extract returns one 128-float row per keypoint found in img.
func (e *Extractor) Extract(img image.Image) (features.Descriptors, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errEmptyImage
	}

	mat, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	e.mu.Lock()
	_, desc := e.sift.DetectAndCompute(mat, mask)
	e.mu.Unlock()
	defer desc.Close()

	if desc.Empty() {
		return nil, nil
	}

	rows, cols := desc.Rows(), desc.Cols()
	out := make(features.Descriptors, rows)
	for r := 0; r < rows; r++ {
		row := make([]float32, cols)
		for c := 0; c < cols; c++ {
			row[c] = desc.GetFloatAt(r, c)
		}
		out[r] = row
	}
	return out, nil
}

// Close releases the OpenCV detector.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sift.Close()
}

// grayMat copies img into a single channel 8-bit Mat.
func grayMat(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)

	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, gray.Pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("sift: %w", err)
	}
	defer mat.Close()

	// The Mat borrows gray.Pix; own the pixels before gray goes out of scope.
	return mat.Clone(), nil
}
