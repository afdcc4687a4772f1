package client

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSanitizeModelJSON(t *testing.T) {
	raw := "```json\n{\n  // a comment\n  \"objects\": [ {\"label\": \"credit card\"}, ],\n}\n```"
	got := SanitizeModelJSON(raw)
	if !json.Valid([]byte(got)) {
		t.Errorf("Expected valid JSON, got %q", got)
	}
}

func TestParseDetections(t *testing.T) {
	raw := "Here you go:\n{\"objects\": [" +
		"{\"label\": \"Credit Card\", \"confidence\": 0.9, \"box\": {\"x\": 0.1, \"y\": 0.2, \"w\": 0.5, \"h\": 0.4}}," +
		"{\"label\": \"none\", \"confidence\": 0.1}," +
		"]}"

	got, err := ParseDetections(raw)
	if err != nil {
		t.Fatalf("ParseDetections() error: %v", err)
	}
	if len(got.Objects) != 1 {
		t.Fatalf("Expected 1 object, got %d", len(got.Objects))
	}
	if got.Objects[0].Label != "credit card" {
		t.Errorf("Expected label 'credit card', got %q", got.Objects[0].Label)
	}
	if got.Objects[0].Box.W != 0.5 {
		t.Errorf("Expected box width 0.5, got %f", got.Objects[0].Box.W)
	}
}

func TestParseDetectionsNoJSON(t *testing.T) {
	_, err := ParseDetections("I cannot see a card in this picture.")
	if !errors.Is(err, ErrNoJSON) {
		t.Errorf("Expected ErrNoJSON, got %v", err)
	}
}
