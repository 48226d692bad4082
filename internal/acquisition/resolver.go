// Package acquisition turns paper metadata into verified PDFs. It decides
// which papers are obtainable, expands publisher URL conventions, drives the
// PDF fetcher across sources, and packages a batch into a manifest and zip
// archive.
package acquisition

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/observability"
	"github.com/helixir/paper-acquisition-service/internal/papersources"
	"github.com/helixir/paper-acquisition-service/internal/papersources/unpaywall"
)

// Resolver defaults.
const (
	DefaultResolveTimeout = 5 * time.Second
	DefaultResolveWorkers = 5
)

// ResolverConfig holds the configuration for availability checks.
type ResolverConfig struct {
	// Timeout bounds each individual check.
	Timeout time.Duration
	// Workers bounds concurrent records in ResolveAll.
	Workers int
	// DOIBaseURL is the DOI resolver, e.g. https://doi.org.
	DOIBaseURL string
	// SciHubBaseURL is used for the human-facing Sci-Hub access link.
	SciHubBaseURL string
}

func (c *ResolverConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultResolveTimeout
	}
	if c.Workers <= 0 {
		c.Workers = DefaultResolveWorkers
	}
	if c.DOIBaseURL == "" {
		c.DOIBaseURL = domain.DefaultDOIBaseURL
	}
	c.DOIBaseURL = strings.TrimRight(c.DOIBaseURL, "/")
	if c.SciHubBaseURL == "" {
		c.SciHubBaseURL = domain.DefaultSciHubBaseURL
	}
}

// Resolver decides whether a DOI's PDF is plausibly obtainable by probing
// Unpaywall and the DOI resolver. Checks are best-effort: failures are
// logged and counted, never returned.
type Resolver struct {
	lookup     unpaywall.Lookuper
	httpClient *papersources.HTTPClient
	cfg        ResolverConfig
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewResolver creates a Resolver. When httpClient is nil a client that
// follows redirects and never retries is built from cfg.Timeout.
func NewResolver(cfg ResolverConfig, lookup unpaywall.Lookuper, httpClient *papersources.HTTPClient, logger zerolog.Logger, metrics *observability.Metrics) *Resolver {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:         cfg.Timeout,
			RateLimit:       50,
			BurstSize:       50,
			FollowRedirects: true,
		})
	}
	return &Resolver{
		lookup:     lookup,
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger.With().Str("component", "resolver").Logger(),
		metrics:    metrics,
	}
}

// Resolve returns the availability of doi. An empty DOI yields
// {false, false, []} without any network call.
func (r *Resolver) Resolve(ctx context.Context, doi string) domain.Availability {
	availability, _ := r.resolve(ctx, doi)
	return availability
}

// ResolveRecord returns the availability of a record together with the
// Unpaywall PDF URLs found while checking it. The URLs are only returned
// when Unpaywall counted as a source.
func (r *Resolver) ResolveRecord(ctx context.Context, paper domain.PaperRecord) (domain.Availability, []string) {
	return r.resolve(ctx, paper.DOI)
}

// ResolveAll returns copies of papers with AccessURLs and Availability
// filled in, resolving up to Workers records at once. Input order is kept.
func (r *Resolver) ResolveAll(ctx context.Context, papers []domain.PaperRecord) []domain.PaperRecord {
	out := make([]domain.PaperRecord, len(papers))
	copy(out, papers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := range out {
		g.Go(func() error {
			p := &out[i]
			availability, urls := r.ResolveRecord(gctx, *p)
			p.AccessURLs = domain.NewAccessURLs(p.DOI, r.cfg.DOIBaseURL, r.cfg.SciHubBaseURL)
			p.AccessURLs.Unpaywall = urls
			p.Availability = availability
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Resolver) resolve(ctx context.Context, doi string) (domain.Availability, []string) {
	doi = domain.NormalizeDOI(doi)
	if doi == "" {
		return domain.NewAvailability("", nil), nil
	}

	logger := r.logger.With().Str("doi", doi).Logger()
	var sources []domain.Source

	urls := r.checkUnpaywall(ctx, doi, logger)
	if len(urls) > 0 {
		sources = append(sources, domain.SourceUnpaywall)
	}
	if r.checkPublisher(ctx, doi, logger) {
		sources = append(sources, domain.SourcePublisher)
	}

	return domain.NewAvailability(doi, sources), urls
}

// checkUnpaywall returns the candidate PDF URLs when the DOI is open access.
func (r *Resolver) checkUnpaywall(ctx context.Context, doi string, logger zerolog.Logger) []string {
	if r.lookup == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.lookup.Lookup(ctx, doi)
	if err != nil {
		r.metrics.RecordAvailabilityCheck(string(domain.SourceUnpaywall), "error")
		logger.Debug().Err(err).Msg("unpaywall check failed")
		return nil
	}

	var urls []string
	if resp.IsOA {
		urls = unpaywall.ExtractPDFURLs(resp)
	}
	r.metrics.RecordAvailabilityCheck(string(domain.SourceUnpaywall), availabilityResult(len(urls) > 0))
	return urls
}

// checkPublisher reports whether the DOI resolver lands directly on a PDF.
func (r *Resolver) checkPublisher(ctx context.Context, doi string, logger zerolog.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	target := domain.DOIURL(r.cfg.DOIBaseURL, doi)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		r.metrics.RecordAvailabilityCheck(string(domain.SourcePublisher), "error")
		logger.Debug().Err(err).Msg("publisher check: bad request")
		return false
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.metrics.RecordAvailabilityCheck(string(domain.SourcePublisher), "error")
		logger.Debug().Err(err).Msg("publisher check failed")
		return false
	}
	resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK &&
		strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "pdf")
	r.metrics.RecordAvailabilityCheck(string(domain.SourcePublisher), availabilityResult(ok))
	return ok
}

func availabilityResult(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}
