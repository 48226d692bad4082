package unpaywall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/observability"
	"github.com/helixir/paper-acquisition-service/internal/papersources"
)

const (
	// DefaultBaseURL is the Unpaywall v2 API.
	DefaultBaseURL = "https://api.unpaywall.org/v2"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultRateLimit stays well inside the documented 100k calls per day.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	sourceName       = "Unpaywall"
	metricsSource    = "unpaywall"
	maxResponseBytes = 2 << 20
)

// Config holds the configuration for the Unpaywall client.
type Config struct {
	// BaseURL is the API base URL. Defaults to DefaultBaseURL.
	BaseURL string

	// Email is sent with every request, as the API's terms require.
	Email string

	// Timeout is the request timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Defaults to DefaultRateLimit.
	RateLimit float64

	// BurstSize is the maximum burst of requests. Defaults to DefaultBurstSize.
	BurstSize int

	// MaxRetries is the retry budget for 429 and 5xx responses.
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
}

// Lookuper returns the Unpaywall record for a DOI.
type Lookuper interface {
	Lookup(ctx context.Context, doi string) (*Response, error)
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithMetrics records request counts and latencies on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the Unpaywall API. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
	metrics    *observability.Metrics
}

var _ Lookuper = (*Client)(nil)

// New creates a new Unpaywall client with the given configuration.
func New(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:         cfg.Timeout,
		RateLimit:       cfg.RateLimit,
		BurstSize:       cfg.BurstSize,
		MaxRetries:      cfg.MaxRetries,
		Accept:          "application/json",
		FollowRedirects: true,
	})
	return NewWithHTTPClient(cfg, httpClient, opts...)
}

// NewWithHTTPClient creates a client around an existing HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{config: cfg, httpClient: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup fetches the record for doi. Every failure wraps
// domain.ErrLookupService; an unknown DOI also wraps domain.ErrNotFound.
func (c *Client) Lookup(ctx context.Context, doi string) (*Response, error) {
	doi = domain.NormalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrLookupService, domain.ErrNoDOI)
	}

	u := c.config.BaseURL + "/" + (&url.URL{Path: doi}).EscapedPath()
	if c.config.Email != "" {
		u += "?" + url.Values{"email": {c.config.Email}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", domain.ErrLookupService, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordSourceRequest(metricsSource, "lookup", time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordSourceRequestFailed(metricsSource, "lookup", string(domain.ReasonFor(err)))
		return nil, fmt.Errorf("%w: %w", domain.ErrLookupService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.RecordSourceRequestFailed(metricsSource, "lookup", "read")
		return nil, fmt.Errorf("%w: failed to read response: %w", domain.ErrLookupService, domain.WrapTransportError(err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.metrics.RecordSourceRequestFailed(metricsSource, "lookup", "not_found")
		return nil, fmt.Errorf("%w: %w", domain.ErrLookupService, domain.NewNotFoundError("doi", doi))
	case resp.StatusCode != http.StatusOK:
		c.metrics.RecordSourceRequestFailed(metricsSource, "lookup", "status")
		return nil, fmt.Errorf("%w: %w", domain.ErrLookupService,
			domain.NewExternalAPIError(sourceName, resp.StatusCode, truncate(string(body), 200), nil))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		c.metrics.RecordSourceRequestFailed(metricsSource, "lookup", "decode")
		return nil, fmt.Errorf("%w: failed to decode response: %w", domain.ErrLookupService, err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
