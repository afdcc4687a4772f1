package yolo

import (
	"context"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/menta2k/card-analyzer/pkg/types"
)

// Defaults for Ultralytics exports.
const (
	DefaultDetectSize   = 640
	DefaultClassifySize = 224
	DefaultConfidence   = 0.25
)

// Options configure a model wrapper.
type Options struct {
	// InputSize is the square model input edge.
	InputSize int
	// Confidence drops detections scoring lower.
	Confidence float64
	// Labels names the model classes by index.
	Labels []string
	// Threads bounds intra-op parallelism; zero keeps the runtime default.
	Threads int
}

// Detector runs a YOLO detection model. It implements
// detection.RegionDetector.
type Detector struct {
	m    *model
	opts Options
}

// NewDetector loads a detection model. Init must have succeeded.
func NewDetector(path string, opts Options) (*Detector, error) {
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultDetectSize
	}
	if opts.Confidence <= 0 {
		opts.Confidence = DefaultConfidence
	}
	m, err := loadModel(path, opts.Threads)
	if err != nil {
		return nil, err
	}
	return &Detector{m: m, opts: opts}, nil
}

// Detect returns every box above the confidence threshold, unsuppressed.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]types.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := d.opts.InputSize
	input, ratio := letterbox(img, size)
	data, shape, err := d.m.run(input, ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return nil, err
	}
	return decodeBoxes(data, shape, ratio, d.opts.Confidence, img.Bounds(), d.opts.Labels), nil
}

// Close releases the session.
func (d *Detector) Close() error {
	return d.m.close()
}

// Classifier runs a YOLO classification model. It implements
// network.Classifier.
type Classifier struct {
	m    *model
	opts Options
}

// NewClassifier loads a classification model. Init must have succeeded.
func NewClassifier(path string, opts Options) (*Classifier, error) {
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultClassifySize
	}
	m, err := loadModel(path, opts.Threads)
	if err != nil {
		return nil, err
	}
	return &Classifier{m: m, opts: opts}, nil
}

// Classify returns the top-1 class index and its probability.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (int, float64, error) {
	if err := ctx.Err(); err != nil {
		return -1, 0, err
	}
	size := c.opts.InputSize
	data, _, err := c.m.run(stretch(img, size), ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return -1, 0, err
	}
	if len(data) == 0 {
		return -1, 0, ErrUnexpectedOutput
	}
	idx, p := top1(data)
	return idx, p, nil
}

// Close releases the session.
func (c *Classifier) Close() error {
	return c.m.close()
}
