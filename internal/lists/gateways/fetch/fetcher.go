// Package fetch downloads list payloads and integrity manifests over HTTP,
// using ETag validators for conditional requests.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/domain"
)

// Error message constants for consistent error handling
const (
	errEmptyURL        = "empty URL"
	errBuildRequest    = "build request for %s: %w"
	errRequestFailed   = "request %s: %w"
	errUnexpectedCode  = "request %s: unexpected status %d"
	errReadBody        = "read body of %s: %w"
	errBodyTooLarge    = "body of %s exceeds %d bytes"
	errDecodeManifest  = "decode manifest %s: %w"
	defaultUserAgent   = "rr-listd"
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 64 << 20
)

// HTTPDoer is the subset of *http.Client the fetcher needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Fetcher.
type Options struct {
	Timeout     time.Duration
	UserAgent   string
	MaxBodySize int64
	// options to inject for testing purposes
	Client HTTPDoer
	Logger log.Logger
}

// Result is the outcome of a conditional fetch.
type Result struct {
	// NotModified is true when the server answered 304 to If-None-Match.
	// Data is nil in that case.
	NotModified bool
	Data        []byte
	// ETag is the validator returned by the server, possibly empty.
	ETag string
}

// Fetcher performs conditional GETs.
type Fetcher struct {
	client      HTTPDoer
	timeout     time.Duration
	userAgent   string
	maxBodySize int64
	logger      log.Logger
}

// New creates a Fetcher, filling unset options with defaults.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	return &Fetcher{
		client:      opts.Client,
		timeout:     opts.Timeout,
		userAgent:   opts.UserAgent,
		maxBodySize: opts.MaxBodySize,
		logger:      log.With(opts.Logger, map[string]any{"component": "fetch"}),
	}
}

// Fetch downloads url. A non-empty etag is sent as If-None-Match; a 304
// answer yields Result{NotModified: true}. Any status other than 200/304 is
// an error.
func (f *Fetcher) Fetch(ctx context.Context, url, etag string) (Result, error) {
	resp, cancel, err := f.get(ctx, url, etag)
	if err != nil {
		return Result{}, err
	}
	defer cancel()
	defer f.closeBody(url, resp.Body)

	switch resp.StatusCode {
	case http.StatusNotModified:
		f.logger.Debug(map[string]any{"url": url, "etag": etag}, "list not modified")
		return Result{NotModified: true, ETag: etag}, nil
	case http.StatusOK:
	default:
		return Result{}, fmt.Errorf(errUnexpectedCode, url, resp.StatusCode)
	}

	data, err := f.readBody(url, resp.Body)
	if err != nil {
		return Result{}, err
	}
	newTag := resp.Header.Get("ETag")
	f.logger.Debug(map[string]any{"url": url, "bytes": len(data), "etag": newTag}, "list downloaded")
	return Result{Data: data, ETag: newTag}, nil
}

// FetchManifest downloads and decodes an integrity manifest.
func (f *Fetcher) FetchManifest(ctx context.Context, url string) (domain.IntegritySpec, error) {
	resp, cancel, err := f.get(ctx, url, "")
	if err != nil {
		return domain.IntegritySpec{}, err
	}
	defer cancel()
	defer f.closeBody(url, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return domain.IntegritySpec{}, fmt.Errorf(errUnexpectedCode, url, resp.StatusCode)
	}
	data, err := f.readBody(url, resp.Body)
	if err != nil {
		return domain.IntegritySpec{}, err
	}
	var spec domain.IntegritySpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return domain.IntegritySpec{}, fmt.Errorf(errDecodeManifest, url, err)
	}
	return spec, nil
}

func (f *Fetcher) get(ctx context.Context, url, etag string) (*http.Response, context.CancelFunc, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil, fmt.Errorf(errEmptyURL)
	}
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf(errBuildRequest, url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf(errRequestFailed, url, err)
	}
	return resp, cancel, nil
}

func (f *Fetcher) readBody(url string, body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf(errReadBody, url, err)
	}
	if int64(len(data)) > f.maxBodySize {
		return nil, fmt.Errorf(errBodyTooLarge, url, f.maxBodySize)
	}
	return data, nil
}

func (f *Fetcher) closeBody(url string, body io.Closer) {
	if err := body.Close(); err != nil {
		f.logger.Debug(map[string]any{"url": url, "error": err}, "failed to close response body")
	}
}
