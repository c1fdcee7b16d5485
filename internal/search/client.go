// Package search queries the token search endpoint and debounces interactive input.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"token-stream-lab/internal/domain"
	"token-stream-lab/internal/observability"
	"token-stream-lab/internal/solana"
)

// MinQueryLength is the shortest trimmed query that is sent.
const MinQueryLength = 3

var (
	// ErrQueryTooShort is returned for queries under MinQueryLength characters.
	ErrQueryTooShort = errors.New("search query too short")
	// ErrStatus wraps non-2xx responses.
	ErrStatus = errors.New("search request failed")
)

// Filters narrow a search to launchpads or bonded tokens.
type Filters struct {
	Pump   bool `json:"pump"`
	Bonk   bool `json:"bonk"`
	OG     bool `json:"og"`
	Bonded bool `json:"bonded"`
}

// Query is one search request.
type Query struct {
	Text    string  `json:"text"`
	Filters Filters `json:"filters"`
}

// IsAddress reports whether the query names a token by address.
func (q Query) IsAddress() bool {
	return solana.IsAddress(strings.TrimSpace(q.Text))
}

// Values encodes q as URL parameters.
func (q Query) Values() url.Values {
	text := strings.TrimSpace(q.Text)
	v := url.Values{}
	if q.IsAddress() {
		v.Set("tokenaddress", text)
	} else {
		v.Set("name", text)
	}
	for name, on := range map[string]bool{
		"pump":   q.Filters.Pump,
		"bonk":   q.Filters.Bonk,
		"og":     q.Filters.OG,
		"bonded": q.Filters.Bonded,
	} {
		if on {
			v.Set(name, "true")
		}
	}
	return v
}

// Client calls GET {base}/search.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a search client for the API at base.
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs q. Cancelling ctx aborts the request.
func (c *Client) Search(ctx context.Context, q Query) ([]domain.Token, error) {
	if len(strings.TrimSpace(q.Text)) < MinQueryLength {
		return nil, ErrQueryTooShort
	}

	endpoint := c.base + "/search?" + q.Values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			observability.RecordSearch("cancelled")
			return nil, ctx.Err()
		}
		observability.RecordSearch("error")
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordSearch("error")
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordSearch("error")
		return nil, fmt.Errorf("%w: status %d", ErrStatus, resp.StatusCode)
	}

	tokens, skipped, err := DecodeResults(body)
	if err != nil {
		observability.RecordSearch("error")
		return nil, err
	}
	if skipped > 0 {
		c.logger.Warn("search results skipped", zap.Int("skipped", skipped), zap.String("query", q.Text))
	}
	observability.RecordSearch("ok")
	return tokens, nil
}

// DecodeResults normalizes the response shapes the endpoint is known to return:
// {"results": [...]}, {"result": [...]}, {"result": {...}}, a bare array, or a
// bare token object. Entries that do not decode to a token are skipped and counted.
func DecodeResults(body []byte) (tokens []domain.Token, skipped int, err error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, 0, nil
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, 0, fmt.Errorf("decode search results: %w", err)
		}
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, 0, fmt.Errorf("decode search results: %w", err)
		}
		items = unwrap(wrapper, body)
	default:
		return nil, 0, fmt.Errorf("decode search results: unexpected %q", trimmed[:1])
	}

	for _, item := range items {
		t, err := domain.DecodeToken(item)
		if err != nil {
			skipped++
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens, skipped, nil
}

func unwrap(wrapper map[string]json.RawMessage, body []byte) []json.RawMessage {
	for _, key := range []string{"results", "result"} {
		var arr []json.RawMessage
		if raw, ok := wrapper[key]; ok && json.Unmarshal(raw, &arr) == nil {
			return arr
		}
	}
	if raw, ok := wrapper["result"]; ok && strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		return []json.RawMessage{raw}
	}
	return []json.RawMessage{body}
}
