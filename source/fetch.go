package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/poiesic/prepdocs/core"
)

const (
	// DefaultFetchTimeout bounds a single download.
	DefaultFetchTimeout = 60 * time.Second
	// DefaultMaxBytes caps a downloaded document.
	DefaultMaxBytes int64 = 64 << 20

	userAgent = "prepdocs/1.0"
)

// Fetcher downloads remote documents.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher) error

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) error {
		if d <= 0 {
			return fmt.Errorf("%w: fetch timeout must be positive", core.ErrConfiguration)
		}
		f.client.Timeout = d
		return nil
	}
}

// WithProxy routes requests through an HTTP proxy. An empty URL keeps the
// environment's proxy settings.
func WithProxy(rawURL string) FetcherOption {
	return func(f *Fetcher) error {
		if rawURL == "" {
			return nil
		}
		proxy, err := url.Parse(rawURL)
		if err != nil || proxy.Host == "" {
			return fmt.Errorf("%w: invalid proxy URL %q", core.ErrConfiguration, rawURL)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxy)
		f.client.Transport = transport
		return nil
	}
}

// WithMaxBytes caps the size of a downloaded document.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) error {
		if n <= 0 {
			return fmt.Errorf("%w: fetch max bytes must be positive", core.ErrConfiguration)
		}
		f.maxBytes = n
		return nil
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) error {
		if client != nil {
			f.client = client
		}
		return nil
	}
}

// WithFetchLogger sets a custom logger.
func WithFetchLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) error {
		if logger != nil {
			f.logger = logger
		}
		return nil
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...FetcherOption) (*Fetcher, error) {
	f := &Fetcher{
		client:   &http.Client{Timeout: DefaultFetchTimeout},
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default().With("component", "fetch"),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Fetch downloads a URL. Non-2xx responses and oversized bodies fail with
// core.ErrSource.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", core.ErrSource, err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: fetch %s: %w", core.ErrSource, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d from %s", core.ErrSource, resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", core.ErrSource, rawURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", core.ErrSource, rawURL, f.maxBytes)
	}

	f.logger.Debug("fetched", "url", rawURL, "bytes", len(body), "duration", time.Since(start))
	return body, nil
}
