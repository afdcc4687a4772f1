// Package tesseract implements ocr.Engine with Tesseract via gosseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/ocr"
)

// Options configures the Tesseract clients.
type Options struct {
	Languages []string
	Whitelist string
	// PageSegMode is a gosseract PSM value; 0 keeps Tesseract's default.
	PageSegMode int
	// PoolSize is the number of clients; each serves one call at a time.
	PoolSize int
}

// DefaultOptions suit the embossed text found on payment cards.
func DefaultOptions() Options {
	return Options{
		Languages:   []string{"eng"},
		Whitelist:   "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz/.- ",
		PageSegMode: int(gosseract.PSM_SINGLE_BLOCK),
		PoolSize:    2,
	}
}

// Engine is a pool of gosseract clients.
type Engine struct {
	pool chan *gosseract.Client
	all  []*gosseract.Client
	log  logrus.FieldLogger
}

// New creates the client pool. Close must be called to release it.
func New(opts Options, log logrus.FieldLogger) (*Engine, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}

	e := &Engine{pool: make(chan *gosseract.Client, opts.PoolSize), log: log}
	for i := 0; i < opts.PoolSize; i++ {
		c := gosseract.NewClient()
		if len(opts.Languages) > 0 {
			if err := c.SetLanguage(opts.Languages...); err != nil {
				c.Close()
				e.Close()
				return nil, fmt.Errorf("tesseract: set language: %w", err)
			}
		}
		if opts.Whitelist != "" {
			if err := c.SetWhitelist(opts.Whitelist); err != nil {
				c.Close()
				e.Close()
				return nil, fmt.Errorf("tesseract: set whitelist: %w", err)
			}
		}
		if opts.PageSegMode != 0 {
			if err := c.SetPageSegMode(gosseract.PageSegMode(opts.PageSegMode)); err != nil {
				c.Close()
				e.Close()
				return nil, fmt.Errorf("tesseract: set page seg mode: %w", err)
			}
		}
		e.all = append(e.all, c)
		e.pool <- c
	}
	return e, nil
}

// ReadText implements ocr.Engine.
func (e *Engine) ReadText(ctx context.Context, img image.Image) ([]ocr.Token, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("tesseract: encode: %w", err)
	}

	var c *gosseract.Client
	select {
	case c = <-e.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.pool <- c }()

	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("tesseract: set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract: recognize: %w", err)
	}

	tokens := make([]ocr.Token, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		tokens = append(tokens, ocr.Token{
			Box:        b.Box,
			Text:       text,
			Confidence: b.Confidence / 100,
		})
	}
	e.log.WithField("tokens", len(tokens)).Debug("tesseract read")
	return tokens, nil
}

// Close releases every client in the pool.
func (e *Engine) Close() error {
	for _, c := range e.all {
		c.Close()
	}
	e.all = nil
	return nil
}
