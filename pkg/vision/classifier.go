// Package vision classifies payment network logos with a vision language
// model.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/card-analyzer/pkg/client"
	"github.com/menta2k/card-analyzer/pkg/processing"
	"github.com/menta2k/card-analyzer/pkg/types"
)

// LogoPrompt asks the model to name the brand of a cropped logo.
const LogoPrompt = `The image is a cropped logo from a payment card.

Return JSON only:
{"network": "VISA", "confidence": 0.0}

RULES
- network is one of: VISA, MASTERCARD, AMERICAN EXPRESS, CABAL, UNKNOWN.
- confidence is in [0,1].
- JSON only. No markdown, no code fences.`

// Config configures a LogoClassifier.
type Config struct {
	Model  string
	Prompt string
	// Classes is the index table the answer is reported in.
	Classes map[int]types.Network
	// SendSize caps the longest edge of the image sent to the model.
	SendSize int
}

// LogoClassifier implements network.Classifier over a VisionClient.
type LogoClassifier struct {
	client    client.VisionClient
	processor *processing.Processor
	config    Config
	index     map[types.Network]int
	log       logrus.FieldLogger
}

// NewLogoClassifier creates a classifier. Networks missing from
// config.Classes are reported as index -1.
func NewLogoClassifier(c client.VisionClient, p *processing.Processor, config Config, log logrus.FieldLogger) *LogoClassifier {
	if config.Prompt == "" {
		config.Prompt = LogoPrompt
	}
	if config.SendSize == 0 {
		config.SendSize = 512
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	index := make(map[types.Network]int, len(config.Classes))
	for i, n := range config.Classes {
		index[n] = i
	}
	return &LogoClassifier{client: c, processor: p, config: config, index: index, log: log}
}

type answer struct {
	Network    string  `json:"network"`
	Confidence float64 `json:"confidence"`
}

// Classify asks the model which network the logo shows.
func (l *LogoClassifier) Classify(ctx context.Context, img image.Image) (int, float64, error) {
	imgB64, err := l.processor.PrepareImageForModel(img, "png", l.config.SendSize, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("prepare image: %w", err)
	}
	reply, err := l.client.SimpleQuery(ctx, l.config.Model, l.config.Prompt, imgB64)
	if err != nil {
		return -1, 0, err
	}

	a := parseAnswer(reply)
	n, ok := types.ParseNetwork(a.Network)
	l.log.WithFields(logrus.Fields{
		"model":   l.config.Model,
		"answer":  a.Network,
		"network": n,
	}).Debug("logo answer")
	if !ok {
		return -1, 0, nil
	}
	i, ok := l.index[n]
	if !ok {
		return -1, 0, nil
	}
	return i, a.Confidence, nil
}

// parseAnswer accepts the JSON answer or a bare label.
func parseAnswer(reply string) answer {
	var a answer
	if err := json.Unmarshal([]byte(client.SanitizeModelJSON(reply)), &a); err == nil && a.Network != "" {
		return a
	}
	label := strings.Trim(strings.TrimSpace(reply), ".\"'`")
	if i := strings.IndexByte(label, '\n'); i >= 0 {
		label = label[:i]
	}
	return answer{Network: label, Confidence: 1}
}
