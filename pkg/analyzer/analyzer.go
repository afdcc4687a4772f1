// Package analyzer decodes and validates uploaded card photos before they
// enter the pipeline.
package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "golang.org/x/image/webp"
)

// ErrInvalidImage marks input that cannot be analysed at all.
var ErrInvalidImage = errors.New("analyzer: invalid image")

// ImageAnalyzer checks format and size of incoming images
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	// MinImageSize is the minimum width and height in pixels.
	MinImageSize int
	// MaxPixels rejects larger images before decoding; zero disables it.
	MaxPixels int
}

// DefaultConfig accepts JPEG, PNG and WebP photos of at least 100px.
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpg", "jpeg", "png", "webp"},
		MinImageSize:     100,
		MaxPixels:        40_000_000,
	}
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{config: DefaultConfig()}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// LoadImage loads and validates an image file
func (a *ImageAnalyzer) LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return a.Decode(data)
}

// LoadImageFromReader loads and validates an image from an io.Reader
func (a *ImageAnalyzer) LoadImageFromReader(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return a.Decode(data)
}

// Decode decodes data and validates the result. Every content problem is
// reported as ErrInvalidImage.
func (a *ImageAnalyzer) Decode(data []byte) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if !a.isFormatSupported(format) {
		return nil, fmt.Errorf("%w: unsupported format %s", ErrInvalidImage, format)
	}
	if a.config.MaxPixels > 0 && cfg.Width*cfg.Height > a.config.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, a.config.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := a.ValidateImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// GetImageInfo returns basic information about an image
func (a *ImageAnalyzer) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	return ImageInfo{
		Width:       width,
		Height:      height,
		AspectRatio: float64(width) / float64(height),
		Area:        width * height,
	}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// ValidateImage checks if an image meets minimum requirements
func (a *ImageAnalyzer) ValidateImage(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	bounds := img.Bounds()
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return fmt.Errorf("%w: too small %dx%d (minimum: %d)",
			ErrInvalidImage, bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}
	return nil
}
