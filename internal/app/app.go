// Package app builds a fully wired card analyzer from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	cardanalyzer "github.com/menta2k/card-analyzer"
	"github.com/menta2k/card-analyzer/internal/config"
	"github.com/menta2k/card-analyzer/internal/utils"
	"github.com/menta2k/card-analyzer/pkg/analyzer"
	"github.com/menta2k/card-analyzer/pkg/binlist"
	"github.com/menta2k/card-analyzer/pkg/client"
	"github.com/menta2k/card-analyzer/pkg/detection"
	"github.com/menta2k/card-analyzer/pkg/extract"
	"github.com/menta2k/card-analyzer/pkg/features"
	"github.com/menta2k/card-analyzer/pkg/features/sift"
	"github.com/menta2k/card-analyzer/pkg/llamacpp"
	"github.com/menta2k/card-analyzer/pkg/network"
	"github.com/menta2k/card-analyzer/pkg/ocr/tesseract"
	"github.com/menta2k/card-analyzer/pkg/ollama"
	"github.com/menta2k/card-analyzer/pkg/processing"
	"github.com/menta2k/card-analyzer/pkg/vision"
	"github.com/menta2k/card-analyzer/pkg/yolo"
	"github.com/menta2k/card-analyzer/pkg/zones"
)

// YOLO class names, in model output order.
var (
	cardClasses    = []string{"credit card"}
	elementClasses = []string{"card_number", "expiry_date", "cardholder", "payment_network"}
)

// App owns the long-lived handles behind an Analyzer.
type App struct {
	Analyzer  *cardanalyzer.Analyzer
	Processor *processing.Processor
	Config    *config.Config
	Log       *logrus.Logger

	closers []io.Closer
}

// NewLogger creates a logrus logger from the log section.
func NewLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// Build creates every collaborator once. Reference logos are loaded before
// it returns. Call Close to release native resources.
func Build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		if log, err = NewLogger(cfg.Log); err != nil {
			return nil, err
		}
	}

	a := &App{Processor: processing.NewProcessor(), Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	set, err := loadZones(cfg.Zones)
	if err != nil {
		return nil, err
	}

	ocrOpts := tesseract.DefaultOptions()
	ocrOpts.Languages = cfg.OCR.Languages
	ocrOpts.PoolSize = cfg.OCR.PoolSize
	if cfg.OCR.PageSegMode > 0 {
		ocrOpts.PageSegMode = cfg.OCR.PageSegMode
	}
	if cfg.OCR.Whitelist != "" {
		ocrOpts.Whitelist = cfg.OCR.Whitelist
	}
	engine, err := tesseract.New(ocrOpts, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, engine)
	extractor := extract.New(engine, a.Processor, set, extract.Options{Contrast: cfg.OCR.Contrast}, log)

	cardDetector, elementDetector, err := a.detectors(cfg)
	if err != nil {
		return nil, err
	}

	classifier, err := a.classifier(cfg)
	if err != nil {
		return nil, err
	}

	lookup, err := binlist.NewClient(cfg.Network.LookupURL, time.Duration(cfg.Network.LookupTimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	matcher, err := a.matcher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps := network.Deps{
		Classifier:            classifier,
		Reader:                extractor,
		Lookup:                lookup,
		LookupUnmappedAsCabal: cfg.Network.LookupUnmappedAsCabal,
		Zones:                 set,
		Log:                   log,
	}
	if matcher != nil {
		deps.Matcher = matcher
	}

	resolver := detection.NewResolver(log)
	resolver.IoUThreshold = cfg.Detection.IoUThreshold

	a.Analyzer, err = cardanalyzer.New(cardanalyzer.Options{
		CardDetector:    cardDetector,
		ElementDetector: elementDetector,
		Resolver:        resolver,
		Network:         network.NewResolver(log, network.Default(deps)...),
		Extractor:       extractor,
		Zones:           set,
		Validator: analyzer.NewWithConfig(analyzer.Config{
			SupportedFormats: cfg.Analyzer.SupportedFormats,
			MinImageSize:     cfg.Analyzer.MinImageSize,
			MaxPixels:        cfg.Analyzer.MaxPixels,
		}),
		Log: log,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"backend":    cfg.Detection.Backend,
		"classifier": cfg.Network.Classifier,
		"lookup":     cfg.Network.LookupURL,
	}).Info("card analyzer ready")
	return a, nil
}

// Close releases sessions, OCR clients and OpenCV handles.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadZones(cfg config.ZonesConfig) (*zones.Set, error) {
	if cfg.File == "" {
		return zones.Default()
	}
	return zones.LoadFile(cfg.File)
}

func (a *App) detectors(cfg *config.Config) (card, elements detection.RegionDetector, err error) {
	d := cfg.Detection
	if d.Backend == "yolo" {
		if err := yolo.Init(d.OnnxRuntimeLib); err != nil {
			return nil, nil, err
		}
		opts := yolo.Options{InputSize: d.InputSize, Confidence: d.Confidence, Threads: d.Threads, Labels: cardClasses}
		cd, err := yolo.NewDetector(d.CardModel, opts)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, cd)
		card = cd

		if d.ElementModel != "" {
			opts.Labels = elementClasses
			ed, err := yolo.NewDetector(d.ElementModel, opts)
			if err != nil {
				return nil, nil, err
			}
			a.closers = append(a.closers, ed)
			elements = ed
		}
		return card, elements, nil
	}

	vc, err := visionClient(d.Backend, cfg.Vision.URL)
	if err != nil {
		return nil, nil, err
	}
	card = detection.NewVisionDetector(vc, a.Processor, detection.VisionOptions{
		Model:         cfg.Vision.Model,
		Prompt:        detection.CardPrompt,
		Labels:        detection.CardLabels,
		MinConfidence: cfg.Vision.MinConfidence,
		SendSize:      cfg.Vision.SendSize,
	})
	elements = detection.NewVisionDetector(vc, a.Processor, detection.VisionOptions{
		Model:         cfg.Vision.Model,
		Prompt:        detection.ElementPrompt,
		Labels:        detection.ElementLabels,
		MinConfidence: cfg.Vision.MinConfidence,
		SendSize:      cfg.Vision.SendSize,
	})
	return card, elements, nil
}

func (a *App) classifier(cfg *config.Config) (network.Classifier, error) {
	switch cfg.Network.Classifier {
	case "yolo":
		if err := yolo.Init(cfg.Detection.OnnxRuntimeLib); err != nil {
			return nil, err
		}
		c, err := yolo.NewClassifier(cfg.Network.ClassifierModel, yolo.Options{Threads: cfg.Detection.Threads})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c)
		return c, nil
	case "vision":
		backend := cfg.Detection.Backend
		if backend == "yolo" {
			backend = "ollama"
		}
		vc, err := visionClient(backend, cfg.Vision.URL)
		if err != nil {
			return nil, err
		}
		model := cfg.Vision.LogoModel
		if model == "" {
			model = cfg.Vision.Model
		}
		return vision.NewLogoClassifier(vc, a.Processor, vision.Config{
			Model:   model,
			Classes: network.DefaultClassIndex,
		}, a.Log), nil
	}
	return nil, nil
}

func visionClient(backend, url string) (client.VisionClient, error) {
	switch backend {
	case "ollama":
		return ollama.NewClient(url)
	case "llamacpp":
		return llamacpp.NewClient(url)
	}
	return nil, fmt.Errorf("unknown vision backend %q", backend)
}

// matcher loads the reference logos. A missing directory disables feature
// matching.
func (a *App) matcher(ctx context.Context, cfg *config.Config) (*features.KNNMatcher, error) {
	dir := cfg.Network.ReferencesDir
	if dir == "" || !utils.DirExists(dir) {
		a.Log.WithField("dir", dir).Warn("no reference logos, feature matching disabled")
		return nil, nil
	}

	refs, err := LoadReferences(dir, a.Processor)
	if err != nil {
		return nil, err
	}

	extractor := sift.New()
	a.closers = append(a.closers, extractor)

	m := features.NewKNNMatcher(extractor, a.Log)
	m.LoweRatio = cfg.Network.LoweRatio
	m.MinMatches = cfg.Network.MinMatches
	if err := m.LoadReferences(ctx, refs); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadReferences reads every image under dir, ordered by path. The file name
// is the reference name.
func LoadReferences(dir string, p *processing.Processor) ([]features.Reference, error) {
	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	refs := make([]features.Reference, 0, len(files))
	for _, f := range files {
		img, err := p.LoadImage(f)
		if err != nil {
			return nil, fmt.Errorf("reference %s: %w", f, err)
		}
		refs = append(refs, features.Reference{Name: filepath.Base(f), Image: img})
	}
	return refs, nil
}
