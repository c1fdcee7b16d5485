package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"token-stream-lab/internal/domain"
)

// DefaultFetchTimeout bounds one metadata document request.
const DefaultFetchTimeout = 5 * time.Second

// maxDocumentSize caps how much of a response body is read.
const maxDocumentSize = 1 << 20

// ErrUnresolvable is returned when a URI answers with something other than a
// JSON document.
var ErrUnresolvable = errors.New("metadata unresolvable")

// Fetcher retrieves the document at uri.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (*domain.Metadata, error)
}

// HTTPFetcher fetches metadata documents over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch GETs uri. Non-2xx statuses and bodies that are not a JSON object yield
// ErrUnresolvable.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (*domain.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize))
		return nil, fmt.Errorf("%w: status %d", ErrUnresolvable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return ParseDocument(uri, body)
}

// document is the subset of the token metadata JSON standard we keep. Social
// links appear at the top level, under "extensions", or under "links".
type document struct {
	Name        string            `json:"name"`
	Symbol      string            `json:"symbol"`
	Description string            `json:"description"`
	Image       string            `json:"image"`
	Twitter     string            `json:"twitter"`
	Telegram    string            `json:"telegram"`
	Website     string            `json:"website"`
	Extensions  map[string]string `json:"extensions"`
	Links       map[string]string `json:"links"`
}

// ParseDocument decodes a metadata JSON object fetched from uri.
func ParseDocument(uri string, body []byte) (*domain.Metadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrUnresolvable)
	}

	// Decode field by field so one badly typed field does not lose the rest.
	var doc document
	for key, dst := range map[string]any{
		"name":        &doc.Name,
		"symbol":      &doc.Symbol,
		"description": &doc.Description,
		"image":       &doc.Image,
		"twitter":     &doc.Twitter,
		"telegram":    &doc.Telegram,
		"website":     &doc.Website,
		"extensions":  &doc.Extensions,
		"links":       &doc.Links,
	} {
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}

	link := func(top, key string) string {
		if top != "" {
			return top
		}
		if v := doc.Extensions[key]; v != "" {
			return v
		}
		return doc.Links[key]
	}

	return &domain.Metadata{
		URI:         uri,
		Name:        strings.TrimSpace(doc.Name),
		Symbol:      strings.TrimSpace(doc.Symbol),
		Description: doc.Description,
		Image:       doc.Image,
		Twitter:     link(doc.Twitter, "twitter"),
		Telegram:    link(doc.Telegram, "telegram"),
		Website:     link(doc.Website, "website"),
		FetchedAt:   time.Now().UnixMilli(),
	}, nil
}
