// Package pdf fetches PDF files from URLs and verifies what it saved.
//
// A Fetcher performs a streaming GET with a PDF-biased Accept header. A
// response counts as a download when its content type mentions pdf or its
// Content-Disposition announces an attachment or filename. Downloads are
// written to a temporary file next to the destination, checked for size and
// the %PDF magic number, optionally parsed, and only then renamed into place.
// HTML landing pages are mined for PDF links and each link is fetched with
// one less hop of depth.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/observability"
)

// Defaults for Config fields left zero.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = time.Second
	DefaultMinSize     = 1024
	DefaultMaxSize     = 100 * 1024 * 1024
	DefaultMaxHTMLSize = 2 * 1024 * 1024
	DefaultUserAgent   = "Mozilla/5.0 (compatible; Helixir-PaperAcquisition/1.0; +https://helixir.io/bot)"
	DefaultAccept      = "application/pdf,application/x-pdf,text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Config holds fetcher configuration.
type Config struct {
	// Timeout bounds one request, including reading the body.
	Timeout time.Duration
	// MaxRetries is the number of attempts per URL. Values below 1 use DefaultMaxRetries.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// Accept is sent with every request.
	Accept string
	// MinSize is the smallest accepted file in bytes.
	MinSize int64
	// MaxSize is the largest accepted file in bytes.
	MaxSize int64
	// MaxDepth is how many HTML pages may be followed to reach a PDF.
	// Zero disables the HTML fallback.
	MaxDepth int
	// MaxHTMLSize caps how much of a landing page is read for links.
	MaxHTMLSize int64
	// StrictValidation parses the saved file and rejects it when no pages can be read.
	StrictValidation bool
	// AllowPrivateNetworks disables SSRF private-IP checks. This MUST only be
	// set to true in test environments.
	AllowPrivateNetworks bool
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Accept == "" {
		c.Accept = DefaultAccept
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.MaxHTMLSize <= 0 {
		c.MaxHTMLSize = DefaultMaxHTMLSize
	}
}

// Result describes a verified PDF on disk.
type Result struct {
	// Path is where the file was saved.
	Path string
	// URL is the address that served the bytes, after redirects and link following.
	URL string
	// SizeBytes is the size of the file.
	SizeBytes int64
	// ContentHash is the SHA-256 hex digest of the file.
	ContentHash string
	// ContentType is the Content-Type header of the serving response.
	ContentType string
	// PageCount is set when strict validation ran.
	PageCount int
}

// Option configures optional Fetcher dependencies.
type Option func(*Fetcher)

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger.With().Str("component", "pdf_fetcher").Logger() }
}

// WithMetrics records attempts and HTML fallbacks on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// Fetcher downloads and verifies single PDF URLs. It is safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	config  Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewFetcher creates a Fetcher with the given configuration.
func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	cfg.applyDefaults()

	f := &Fetcher{
		config: cfg,
		logger: zerolog.Nop(),
	}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		// Validate each redirect URL against private IP checks to prevent
		// SSRF via open redirects that land on internal network addresses.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", domain.ErrBlockedURL)
			}
			return f.checkURL(req.Context(), req.URL)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config {
	return f.config
}

// Fetch downloads rawURL to destPath, making up to MaxRetries attempts and
// following HTML landing pages up to MaxDepth hops. On failure nothing is
// left at destPath and the error wraps one of the domain download errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destPath string) (*Result, error) {
	return f.fetch(ctx, rawURL, destPath, f.config.MaxRetries, f.config.MaxDepth)
}

// fetch runs up to attempts sequential attempts against rawURL. Only
// transport failures and 429/5xx statuses are retried; a response that was
// read and rejected will be rejected again.
func (f *Fetcher) fetch(ctx context.Context, rawURL, dest string, attempts, depth int) (*Result, error) {
	logger := f.logger.With().Str("url", rawURL).Int("depth", depth).Logger()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, f.config.RetryDelay); err != nil {
				return nil, domain.WrapTransportError(err)
			}
		}

		res, err := f.attempt(ctx, rawURL, dest, depth)
		if err == nil {
			f.metrics.RecordFetchAttempt("success")
			logger.Debug().Int("attempt", attempt).Int64("size_bytes", res.SizeBytes).Msg("pdf saved")
			return res, nil
		}

		lastErr = err
		f.metrics.RecordFetchAttempt(string(domain.ReasonFor(err)))
		logger.Debug().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).Msg("fetch attempt failed")

		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// attempt performs one GET and dispatches on the response.
func (f *Fetcher) attempt(ctx context.Context, rawURL, dest string, depth int) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %w", domain.ErrBlockedURL, rawURL, err)
	}
	if err := f.checkURL(ctx, req.URL); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", f.config.Accept)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, domain.ErrBlockedURL) {
			return nil, err
		}
		return nil, domain.WrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s returned status %d", domain.ErrNetwork, rawURL, resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if resp.StatusCode == http.StatusOK && isDownloadable(resp.Header) {
		return f.save(resp, dest)
	}
	if strings.Contains(contentType, "html") && depth > 0 {
		return f.followLinks(ctx, resp, dest, depth)
	}
	return nil, fmt.Errorf("%w: %s returned status %d with content-type %q",
		domain.ErrNotPDFResponse, rawURL, resp.StatusCode, contentType)
}

// followLinks mines an HTML page for PDF links and fetches each with one
// attempt and one less hop until one succeeds.
func (f *Fetcher) followLinks(ctx context.Context, resp *http.Response, dest string, depth int) (*Result, error) {
	f.metrics.RecordHTMLFallback()
	pageURL := resp.Request.URL

	links, err := ExtractLinks(resp.Body, f.config.MaxHTMLSize, pageURL)
	resp.Body.Close()
	if err != nil {
		return nil, domain.WrapTransportError(err)
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: html page %s links no PDF", domain.ErrNotPDFResponse, pageURL)
	}

	f.logger.Debug().Str("page", pageURL.String()).Int("links", len(links)).Msg("following pdf links from html page")

	var lastErr error
	for _, link := range links {
		res, err := f.fetch(ctx, link, dest, 1, depth-1)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, domain.WrapTransportError(ctx.Err())
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: none of %d links on %s served a PDF (last error: %v)",
		domain.ErrNotPDFResponse, len(links), pageURL, lastErr)
}

// isDownloadable reports whether headers announce a file rather than a page.
func isDownloadable(h http.Header) bool {
	contentType := strings.ToLower(h.Get("Content-Type"))
	disposition := strings.ToLower(h.Get("Content-Disposition"))
	return strings.Contains(contentType, "pdf") ||
		strings.Contains(disposition, "attachment") ||
		strings.Contains(disposition, "filename")
}

// isRetryable reports whether another attempt at the same URL could succeed.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, domain.ErrNetworkTimeout) || errors.Is(err, domain.ErrNetwork)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
