package client

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/menta2k/card-analyzer/pkg/types"
)

// ErrNoJSON is returned when a model reply contains no JSON object.
var ErrNoJSON = errors.New("client: no JSON object in model response")

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseDetections decodes a model reply into detections. Replies that are not
// JSON yield ErrNoJSON; an empty object list is not an error.
func ParseDetections(raw string) (*types.ModelDetections, error) {
	raw = SanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, ErrNoJSON
	}

	var result types.ModelDetections
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, errors.Join(ErrNoJSON, err)
	}

	objects := result.Objects[:0]
	for _, o := range result.Objects {
		o.Label = strings.ToLower(strings.TrimSpace(o.Label))
		if o.Label == "" || o.Label == "none" {
			continue
		}
		objects = append(objects, o)
	}
	result.Objects = objects
	return &result, nil
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from a
// model reply and keeps the outermost {...}.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
