package binlist

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/457173" {
			t.Errorf("Expected /457173, got %s", r.URL.Path)
		}
		if r.Header.Get("Accept-Version") != "3" {
			t.Error("Expected Accept-Version header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scheme":"visa","type":"debit","brand":"Visa Classic","country":{"alpha2":"DK","name":"Denmark"},"bank":{"name":"Jyske Bank"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	md, err := c.Lookup(context.Background(), "457173")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if md.Scheme != "visa" || md.Country.Alpha2 != "DK" || md.Bank.Name != "Jyske Bank" {
		t.Errorf("Unexpected metadata %+v", md)
	}
}

func TestLookupFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }},
		{"malformed", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) }},
		{"timeout", func(w http.ResponseWriter, r *http.Request) { time.Sleep(200 * time.Millisecond) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, _ := NewClient(srv.URL, 50*time.Millisecond)
			if _, err := c.Lookup(context.Background(), "411111"); !errors.Is(err, ErrLookupUnavailable) {
				t.Errorf("Expected ErrLookupUnavailable, got %v", err)
			}
		})
	}
}

func TestLookupInvalidIIN(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1", time.Second)
	for _, iin := range []string{"", "4111", "41111a", "411111111"} {
		if _, err := c.Lookup(context.Background(), iin); !errors.Is(err, ErrInvalidIIN) {
			t.Errorf("%q: expected ErrInvalidIIN, got %v", iin, err)
		}
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient("  ", 0); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}
