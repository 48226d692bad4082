// Package app assembles the acquisition components from configuration. The
// server and the CLI share it so both run the same pipeline.
package app

import (
	"github.com/rs/zerolog"

	"github.com/helixir/paper-acquisition-service/internal/acquisition"
	"github.com/helixir/paper-acquisition-service/internal/config"
	"github.com/helixir/paper-acquisition-service/internal/observability"
	"github.com/helixir/paper-acquisition-service/internal/papersources/pubmed"
	"github.com/helixir/paper-acquisition-service/internal/papersources/unpaywall"
	"github.com/helixir/paper-acquisition-service/internal/pdf"
)

// Components is the wired acquisition pipeline.
type Components struct {
	Lookup       unpaywall.Lookuper
	PubMed       *pubmed.Client
	Fetcher      *pdf.Fetcher
	Candidates   *acquisition.CandidateGenerator
	Resolver     *acquisition.Resolver
	Downloader   *acquisition.Downloader
	Orchestrator *acquisition.Orchestrator
}

// New builds the pipeline. metrics may be nil. Every finished batch is
// handed to sinks.
func New(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics, sinks ...acquisition.BatchSink) *Components {
	var lookup unpaywall.Lookuper = unpaywall.New(UnpaywallConfig(cfg), unpaywall.WithMetrics(metrics))
	if cfg.Acquisition.LookupCacheTTL > 0 {
		lookup = unpaywall.NewCachedLookup(lookup, cfg.Acquisition.LookupCacheTTL)
	}

	fetcher := pdf.NewFetcher(FetcherConfig(cfg), pdf.WithLogger(logger), pdf.WithMetrics(metrics))
	candidates := acquisition.NewCandidateGenerator(logger, acquisition.DefaultCandidateRules()...)

	resolver := acquisition.NewResolver(acquisition.ResolverConfig{
		Timeout:       cfg.Resolver.Timeout,
		Workers:       cfg.Resolver.Workers,
		DOIBaseURL:    cfg.DOI.BaseURL,
		SciHubBaseURL: cfg.DOI.SciHubBaseURL,
	}, lookup, nil, logger, metrics)

	downloader := acquisition.NewDownloader(acquisition.DownloaderConfig{
		DOIBaseURL: cfg.DOI.BaseURL,
		InspectDOI: cfg.Downloader.InspectDOI,
	}, fetcher, lookup, candidates, logger)

	orchestrator := acquisition.NewOrchestrator(acquisition.OrchestratorConfig{
		Workers:   cfg.Acquisition.Workers,
		WorkDir:   cfg.Acquisition.WorkDir,
		MaxPapers: cfg.Acquisition.MaxPapers,
	}, downloader, logger, metrics, sinks...)

	return &Components{
		Lookup:       lookup,
		PubMed:       pubmed.New(PubMedConfig(cfg), pubmed.WithMetrics(metrics)),
		Fetcher:      fetcher,
		Candidates:   candidates,
		Resolver:     resolver,
		Downloader:   downloader,
		Orchestrator: orchestrator,
	}
}

// LoggingConfig maps the logging section onto the logger options.
func LoggingConfig(cfg *config.Config) observability.LoggingConfig {
	return observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}
}

// FetcherConfig maps the downloader section onto the PDF fetcher.
func FetcherConfig(cfg *config.Config) pdf.Config {
	d := cfg.Downloader
	return pdf.Config{
		Timeout:              d.Timeout,
		MaxRetries:           d.MaxRetries,
		RetryDelay:           d.RetryDelay,
		UserAgent:            d.UserAgent,
		Accept:               d.Accept,
		MinSize:              d.MinSize,
		MaxSize:              d.MaxSize,
		MaxDepth:             d.MaxDepth,
		StrictValidation:     d.StrictValidation,
		AllowPrivateNetworks: d.AllowPrivateNetworks,
	}
}

// UnpaywallConfig maps the unpaywall section onto the client.
func UnpaywallConfig(cfg *config.Config) unpaywall.Config {
	return unpaywall.Config{
		BaseURL:    cfg.Unpaywall.BaseURL,
		Email:      cfg.Unpaywall.Email,
		Timeout:    cfg.Unpaywall.Timeout,
		RateLimit:  cfg.Unpaywall.RateLimit,
		MaxRetries: cfg.Unpaywall.MaxRetries,
	}
}

// PubMedConfig maps the pubmed section onto the client.
func PubMedConfig(cfg *config.Config) pubmed.Config {
	return pubmed.Config{
		BaseURL:    cfg.PubMed.BaseURL,
		APIKey:     cfg.PubMed.APIKey,
		Timeout:    cfg.PubMed.Timeout,
		RateLimit:  cfg.PubMed.RateLimit,
		MaxResults: cfg.PubMed.MaxResults,
		Enabled:    cfg.PubMed.Enabled,
	}
}
