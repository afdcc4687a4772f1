package main

import (
	"context"
	"encoding/json"
	"flag"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	cardanalyzer "github.com/menta2k/card-analyzer"
	"github.com/menta2k/card-analyzer/internal/app"
	"github.com/menta2k/card-analyzer/internal/config"
	"github.com/menta2k/card-analyzer/internal/utils"
	"github.com/menta2k/card-analyzer/pkg/types"
)

// outcome is one line of CLI output.
type outcome struct {
	Source string           `json:"source"`
	Record types.CardRecord `json:"record"`
	Trace  []string         `json:"trace,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func main() {
	var in, cfgPath, envFile, outDir, hint, backend, logLevel string
	var debug, pretty bool
	var workers int

	// Debug overlay format
	var dbgext string
	var dbgquality int
	var dbglossless bool

	flag.StringVar(&in, "in", "", "input card photo path, URL or directory (jpg/png/webp)")
	flag.StringVar(&cfgPath, "config", config.GetConfigPath(), "JSON configuration file (optional)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file loaded before the environment")
	flag.StringVar(&outDir, "out", "", "output directory for debug overlays (default from config)")
	flag.StringVar(&hint, "network", "", "known payment network: visa|mastercard|amex|cabal")
	flag.StringVar(&backend, "backend", "", "override detection backend: yolo|ollama|llamacpp")
	flag.StringVar(&logLevel, "loglevel", "", "override log level")
	flag.IntVar(&workers, "workers", 1, "photos analyzed concurrently in directory mode")
	flag.BoolVar(&pretty, "pretty", false, "indent JSON output")

	flag.BoolVar(&debug, "debug", false, "write debug overlays with the detected boxes")
	flag.StringVar(&dbgext, "dbgext", "png", "debug overlay format: png|jpg|webp")
	flag.IntVar(&dbgquality, "dbgquality", 92, "debug overlay quality (for jpg/webp)")
	flag.BoolVar(&dbglossless, "dbglossless", false, "debug overlay WebP lossless mode")

	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if in == "" {
		log.Fatalf("usage: %s -in card.jpg|URL|dir [-config file.json] [-network visa] [-debug] [-out outdir]", filepath.Base(os.Args[0]))
	}

	if !utils.FileExists(cfgPath) {
		cfgPath = ""
	}
	cfg, err := loadConfig(cfgPath, envFile, backend, logLevel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if log, err = app.NewLogger(cfg.Log); err != nil {
		logrus.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalf("build analyzer: %v", err)
	}
	defer a.Close()

	if outDir == "" {
		outDir = cfg.Output.OutputDir
	}
	if debug {
		if err := utils.EnsureDir(outDir); err != nil {
			log.Fatal(err)
		}
	}

	sources := []string{in}
	if utils.DirExists(in) {
		if sources, err = utils.ListImageFiles(in); err != nil {
			log.Fatal(err)
		}
		log.WithField("count", len(sources)).Infof("analyzing %s", in)
	}

	results := make([]outcome, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for i, src := range sources {
		g.Go(func() error {
			img, res, err := analyze(gctx, a, src, hint)
			results[i] = outcome{Source: src, Record: res.Record, Trace: traceNames(res)}
			if err != nil {
				results[i].Error = err.Error()
				log.WithError(err).WithField("source", src).Error("analysis failed")
				return nil
			}
			if debug && img != nil && !res.Card.Box.Empty() {
				writeOverlay(a, log, img, res, src, outDir, dbgext, dbgquality, dbglossless)
			}
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	failed := false
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			log.Fatal(err)
		}
		failed = failed || r.Error != ""
	}
	if failed {
		os.Exit(1)
	}
}

func loadConfig(path, envFile, backend, level string) (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if backend != "" {
		cfg.Detection.Backend = backend
	}
	if level != "" {
		cfg.Log.Level = level
	}
	return cfg, cfg.Validate()
}

// analyze loads src and runs the pipeline. Load failures become an
// "Invalid image" record, like an undecodable upload.
func analyze(ctx context.Context, a *app.App, src, hint string) (image.Image, cardanalyzer.Result, error) {
	img, err := a.Processor.LoadImageSmart(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cardanalyzer.Result{}, ctx.Err()
		}
		a.Log.WithError(err).WithField("source", src).Warn("cannot load image")
		rec, err := a.Analyzer.ProcessBytes(ctx, nil, hint)
		return nil, cardanalyzer.Result{Record: rec}, err
	}
	res, err := a.Analyzer.Analyze(ctx, img, hint)
	return img, res, err
}

func traceNames(res cardanalyzer.Result) []string {
	out := make([]string, 0, len(res.Resolution.Trace))
	for _, s := range res.Resolution.Trace {
		out = append(out, s.String())
	}
	return out
}

func writeOverlay(a *app.App, log *logrus.Logger, img image.Image, res cardanalyzer.Result, src, outDir, ext string, quality int, lossless bool) {
	name := src
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		name = filepath.Base(strings.SplitN(src, "?", 2)[0])
	}
	path := utils.GenerateOutputFilename(name, outDir, "", a.Config.Output.Suffix, strings.ToLower(ext))

	overlay := a.Processor.CreateDebugOverlay(img, res.Card, res.Elements)
	if err := a.Processor.SaveImage(overlay, path, ext, quality, lossless); err != nil {
		log.WithError(err).WithField("path", path).Warn("debug overlay save failed")
		return
	}
	log.WithField("path", path).Info("wrote debug overlay")
}
