package papersources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// DefaultUserAgent identifies the service to upstream APIs.
const DefaultUserAgent = "Helixir-PaperAcquisition/1.0"

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// Timeout bounds each attempt, including reading the body.
	Timeout time.Duration

	// RateLimit is the sustained requests per second and BurstSize the
	// bucket size, shared by every request the client makes. Unpaywall
	// asks for at most 10/s; PubMed allows 3/s, or 10/s with an API key.
	RateLimit float64
	BurstSize int

	// MaxRetries is the number of retries after the first attempt on
	// transport failures, 429 and 5xx. Zero disables retries.
	MaxRetries int

	// RetryDelay is the wait between attempts when the server sends no
	// Retry-After.
	RetryDelay time.Duration

	UserAgent string

	// Accept is sent when the request has no Accept header of its own.
	Accept string

	// FollowRedirects makes 3xx responses transparent. The DOI resolver
	// check relies on it to land on the publisher.
	FollowRedirects bool
}

func (c *HTTPClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 10
	}
	c.MaxRetries = max(c.MaxRetries, 0)
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// HTTPClient is the rate-limited, retrying client used for metadata and
// availability APIs. It is safe for concurrent use.
type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
	config  HTTPClientConfig
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg.applyDefaults()

	client := &http.Client{Timeout: cfg.Timeout}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &HTTPClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
		config:  cfg,
	}
}

// Do sends req, waiting for the rate limiter before every attempt.
//
// Statuses other than 429 and 5xx are returned as they are, for the caller
// to interpret. Transport failures are wrapped in domain.ErrNetworkTimeout
// or domain.ErrNetwork. Running out of retries on a 429 or 5xx yields a
// *domain.ExternalAPIError wrapping domain.ErrNetwork.
//
// A request body is only resent when req.GetBody is set.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.Accept != "" && req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", c.config.Accept)
	}

	delay := time.Duration(0)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, domain.WrapTransportError(err)
			}
			if err := rewindBody(req); err != nil {
				return nil, fmt.Errorf("cannot retry request: %w", err)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		final := attempt >= c.config.MaxRetries
		resp, err := c.client.Do(req)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, domain.WrapTransportError(ctx.Err())
		case err != nil:
			if final {
				return nil, domain.WrapTransportError(err)
			}
			delay = c.config.RetryDelay
		case !retryableStatus(resp.StatusCode):
			return resp, nil
		default:
			delay = retryAfter(resp, c.config.RetryDelay)
			drainAndClose(resp)
			if final {
				return nil, domain.NewExternalAPIError(req.URL.Host, resp.StatusCode,
					fmt.Sprintf("giving up after %d attempts", attempt+1), domain.ErrNetwork)
			}
		}
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

// retryAfter honours a Retry-After header in seconds or HTTP-date form.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return fallback
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func rewindBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// drainAndClose discards what is left of the body so the connection can be reused.
func drainAndClose(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
