package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectObjects(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Expected /v1/chat/completions, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		reply := "```json\n{\"objects\":[{\"label\":\"credit card\",\"confidence\":0.8," +
			"\"box\":{\"x\":0.1,\"y\":0.1,\"w\":0.8,\"h\":0.6}}]}\n```"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: reply}}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	dets, err := c.DetectObjects(context.Background(), "test-model", "find the card", "aGVsbG8=")
	if err != nil {
		t.Fatalf("DetectObjects() error: %v", err)
	}
	if len(dets.Objects) != 1 || dets.Objects[0].Label != "credit card" {
		t.Errorf("Expected one credit card, got %+v", dets.Objects)
	}
	if got.Model != "test-model" || got.Stream {
		t.Errorf("Unexpected request %+v", got)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(got.Messages))
	}
}

func TestSendRequestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if _, err := c.SimpleQuery(context.Background(), "m", "p", ""); err == nil {
		t.Error("Expected error for non-200 response")
	}
}
