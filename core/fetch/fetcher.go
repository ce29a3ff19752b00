// Package fetch retrieves URL source content for the Lorekeep knowledge-base
// engine. Fetches are conditional: cached ETag and Last-Modified validators
// are attached so unchanged pages cost a 304 instead of a body transfer.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// =============================================================================
// Status
// =============================================================================

// Status classifies a fetch outcome.
type Status string

const (
	// StatusSuccess means the server returned fresh content.
	StatusSuccess Status = "success"

	// StatusNotModified means the server confirmed the cached content is
	// still current.
	StatusNotModified Status = "not_modified"

	// StatusTimeout means the request exceeded its deadline.
	StatusTimeout Status = "timeout"

	// StatusError covers every other failure: transport errors, non-2xx
	// responses, oversized or non-text bodies.
	StatusError Status = "error"
)

// =============================================================================
// Result
// =============================================================================

// Result is the outcome of one fetch. BodyText is extracted plain text,
// populated only for StatusSuccess. ETag and LastModified echo validators
// returned by the server, nil when the server sent none.
type Result struct {
	Status       Status
	BodyText     string
	ETag         *string
	LastModified *string
}

// =============================================================================
// Fetcher Interface
// =============================================================================

// Fetcher retrieves URL content with optional cache validators. Implementations
// must classify timeouts as StatusTimeout in the Result rather than returning
// an error; the returned error is reserved for programming mistakes.
type Fetcher interface {
	Fetch(ctx context.Context, url string, etag, lastModified *string) (*Result, error)
}

// =============================================================================
// HTTPFetcher
// =============================================================================

// Defaults for HTTPFetcher construction.
const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultMaxBodyBytes  = 2 * 1024 * 1024
	DefaultBodyCacheSize = 64
	DefaultBodyCacheTTL  = 10 * time.Minute
)

// HTTPFetcher fetches URLs over HTTP with conditional request support. It
// keeps an expirable LRU of recently fetched bodies so content loads shortly
// after a refresh pass are served without another network round trip.
type HTTPFetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
	bodies       *lru.LRU[string, string]
}

// HTTPFetcherConfig configures an HTTPFetcher. Zero values take defaults.
type HTTPFetcherConfig struct {
	Timeout       time.Duration
	MaxBodyBytes  int64
	UserAgent     string
	BodyCacheSize int
	BodyCacheTTL  time.Duration
}

// NewHTTPFetcher creates a fetcher with the given configuration.
func NewHTTPFetcher(config HTTPFetcherConfig) *HTTPFetcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultFetchTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.BodyCacheSize <= 0 {
		config.BodyCacheSize = DefaultBodyCacheSize
	}
	if config.BodyCacheTTL <= 0 {
		config.BodyCacheTTL = DefaultBodyCacheTTL
	}
	if config.UserAgent == "" {
		config.UserAgent = "lorekeep/1.0"
	}

	return &HTTPFetcher{
		client:       &http.Client{},
		timeout:      config.Timeout,
		maxBodyBytes: config.MaxBodyBytes,
		userAgent:    config.UserAgent,
		bodies:       lru.NewLRU[string, string](config.BodyCacheSize, nil, config.BodyCacheTTL),
	}
}

// CachedBody returns the most recently fetched body text for a URL, if it is
// still resident in the LRU.
func (f *HTTPFetcher) CachedBody(url string) (string, bool) {
	return f.bodies.Get(url)
}

// Fetch performs one conditional HTTP GET.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, etag, lastModified *string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Result{Status: StatusError}, nil
	}

	req.Header.Set("User-Agent", f.userAgent)
	if etag != nil {
		req.Header.Set("If-None-Match", *etag)
	}
	if lastModified != nil {
		req.Header.Set("If-Modified-Since", *lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return &Result{Status: classifyTransportError(err)}, nil
	}
	defer resp.Body.Close()

	return f.classifyResponse(url, resp)
}

// classifyTransportError maps request errors onto fetch statuses.
func classifyTransportError(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	return StatusError
}

// classifyResponse turns an HTTP response into a fetch Result.
func (f *HTTPFetcher) classifyResponse(url string, resp *http.Response) (*Result, error) {
	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			Status:       StatusNotModified,
			ETag:         headerPtr(resp, "ETag"),
			LastModified: headerPtr(resp, "Last-Modified"),
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{Status: StatusError}, nil
	}

	body, err := readBounded(resp.Body, f.maxBodyBytes)
	if err != nil {
		return &Result{Status: classifyTransportError(err)}, nil
	}

	text := ExtractText(string(body), resp.Header.Get("Content-Type"))
	f.bodies.Add(url, text)

	return &Result{
		Status:       StatusSuccess,
		BodyText:     text,
		ETag:         headerPtr(resp, "ETag"),
		LastModified: headerPtr(resp, "Last-Modified"),
	}, nil
}

// readBounded reads at most limit bytes, erroring on oversized bodies.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d byte limit", limit)
	}
	return data, nil
}

// headerPtr returns a pointer to a header value, nil when unset.
func headerPtr(resp *http.Response, name string) *string {
	v := resp.Header.Get(name)
	if v == "" {
		return nil
	}
	return &v
}
