// Package refresh keeps the selector bundle current on the background role.
//
// A Fetcher downloads the bundle for a source branch, a Refresher writes it
// into the replica together with the lastUpdatedSelectors stamp, and a
// Scheduler re-runs the refresh on the period named by the
// automaticUpdatePolicy setting.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-replica/settings"
)

// DefaultURLTemplate is the remote bundle location; {source} is replaced by
// the configured branch.
const DefaultURLTemplate = "https://raw.githubusercontent.com/bezalel6/XQuickBlock/refs/heads/{source}/public/data/constants.json"

const maxBundleBytes = 1 << 20

// Fetcher downloads the selector bundle for source.
type Fetcher interface {
	Fetch(ctx context.Context, source settings.Source) (settings.Selectors, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, source settings.Source) (settings.Selectors, error)

// Fetch implements Fetcher.
func (fn FetcherFunc) Fetch(ctx context.Context, source settings.Source) (settings.Selectors, error) {
	return fn(ctx, source)
}

// HTTPFetcher fetches the bundle over HTTP.
type HTTPFetcher struct {
	client   *http.Client
	template string
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithURLTemplate overrides DefaultURLTemplate.
func WithURLTemplate(template string) FetcherOption {
	return func(f *HTTPFetcher) {
		if strings.TrimSpace(template) != "" {
			f.template = template
		}
	}
}

// NewHTTPFetcher returns a fetcher for DefaultURLTemplate with a 30s client
// timeout.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		template: DefaultURLTemplate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// URL returns the bundle URL for source.
func (f *HTTPFetcher) URL(source settings.Source) string {
	if source == "" {
		source = settings.SourceMain
	}
	return strings.ReplaceAll(f.template, "{source}", string(source))
}

// Fetch downloads and decodes the bundle. Non-string entries are rejected.
func (f *HTTPFetcher) Fetch(ctx context.Context, source settings.Source) (settings.Selectors, error) {
	url := f.URL(source)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("refresh: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh: fetch %s: %w", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh: fetch %s: unexpected status %d", url, res.StatusCode)
	}

	var bundle map[string]string
	if err := json.NewDecoder(io.LimitReader(res.Body, maxBundleBytes)).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("refresh: decode %s: %w", url, err)
	}
	if len(bundle) == 0 {
		return nil, fmt.Errorf("refresh: %s returned an empty bundle", url)
	}
	return settings.Selectors(bundle), nil
}
