// Package binlist queries a binlist.net compatible card metadata service.
package binlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one lookup.
const DefaultTimeout = 5 * time.Second

var (
	// ErrNotConfigured is returned when no service URL is set.
	ErrNotConfigured = errors.New("binlist: service URL not configured")
	// ErrLookupUnavailable wraps every transport, status and payload failure.
	ErrLookupUnavailable = errors.New("binlist: lookup unavailable")
	// ErrInvalidIIN is returned for prefixes that are not 6 to 8 digits.
	ErrInvalidIIN = errors.New("binlist: invalid IIN")
)

// Metadata is the subset of the lookup response the analyzer uses.
type Metadata struct {
	Scheme  string `json:"scheme"`
	Type    string `json:"type"`
	Brand   string `json:"brand"`
	Prepaid *bool  `json:"prepaid"`
	Country struct {
		Alpha2 string `json:"alpha2"`
		Name   string `json:"name"`
	} `json:"country"`
	Bank struct {
		Name string `json:"name"`
	} `json:"bank"`
}

// Client performs lookups against {baseURL}/{iin}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a lookup client. A zero timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Lookup fetches metadata for the given IIN.
func (c *Client) Lookup(ctx context.Context, iin string) (Metadata, error) {
	if len(iin) < 6 || len(iin) > 8 || strings.Trim(iin, "0123456789") != "" {
		return Metadata{}, fmt.Errorf("%w: %q", ErrInvalidIIN, iin)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+iin, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrLookupUnavailable, err)
	}
	req.Header.Set("Accept-Version", "3")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrLookupUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: read body: %v", ErrLookupUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Metadata{}, fmt.Errorf("%w: status %d", ErrLookupUnavailable, resp.StatusCode)
	}

	var md Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return Metadata{}, fmt.Errorf("%w: decode: %v", ErrLookupUnavailable, err)
	}
	return md, nil
}
