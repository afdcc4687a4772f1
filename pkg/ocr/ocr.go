// Package ocr defines the text recognition contract used by the field
// extractor.
package ocr

import (
	"context"
	"image"
)

// Token is one recognized word.
type Token struct {
	Box        image.Rectangle `json:"box"`
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
}

// Engine reads text from an image region. Tokens are returned in reading
// order. Implementations must be safe for concurrent use.
type Engine interface {
	ReadText(ctx context.Context, img image.Image) ([]Token, error)
}

// Texts returns the token texts, dropping box and confidence.
func Texts(tokens []Token) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Text)
	}
	return out
}
