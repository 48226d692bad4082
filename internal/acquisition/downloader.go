package acquisition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/papersources/unpaywall"
	"github.com/helixir/paper-acquisition-service/internal/pdf"
)

// errNoCandidates is the exhaustion cause when no source produced a URL.
var errNoCandidates = errors.New("no candidate urls")

// PDFFetcher downloads and verifies a single URL.
type PDFFetcher interface {
	Fetch(ctx context.Context, rawURL, destPath string) (*pdf.Result, error)
}

var _ PDFFetcher = (*pdf.Fetcher)(nil)

// DownloaderConfig holds per-paper download settings.
type DownloaderConfig struct {
	// DOIBaseURL is the resolver used for the publisher source.
	DOIBaseURL string
	// InspectDOI looks for the paper's DOI in the text of the saved PDF.
	InspectDOI bool
}

// Download is a verified PDF saved for one paper.
type Download struct {
	pdf.Result
	// Source is where the winning URL came from.
	Source domain.Source
	// DOIConfirmed is set when DOI inspection ran.
	DOIConfirmed *bool
}

// Downloader acquires the PDF for one paper by walking its sources in
// order and trying every candidate URL until one verifies.
type Downloader struct {
	fetcher    PDFFetcher
	lookup     unpaywall.Lookuper
	candidates *CandidateGenerator
	cfg        DownloaderConfig
	logger     zerolog.Logger
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg DownloaderConfig, fetcher PDFFetcher, lookup unpaywall.Lookuper, candidates *CandidateGenerator, logger zerolog.Logger) *Downloader {
	if cfg.DOIBaseURL == "" {
		cfg.DOIBaseURL = domain.DefaultDOIBaseURL
	}
	cfg.DOIBaseURL = strings.TrimRight(cfg.DOIBaseURL, "/")
	return &Downloader{
		fetcher:    fetcher,
		lookup:     lookup,
		candidates: candidates,
		cfg:        cfg,
		logger:     logger.With().Str("component", "downloader").Logger(),
	}
}

// Download saves the paper's PDF as destDir/filename.
//
// Sources are tried in this order, stopping at the first success:
//  1. Unpaywall, when listed in the paper's availability. The record is
//     looked up again and every extracted URL is sanitized and expanded
//     through the candidate rules.
//  2. The publisher, when listed, via the DOI resolver URL.
//
// Each URL is fetched at most once. A paper without a DOI fails with
// domain.ErrNoDOI; running out of URLs fails with
// domain.ErrAllSourcesExhausted wrapping the last error seen.
func (d *Downloader) Download(ctx context.Context, paper domain.PaperRecord, destDir, filename string) (*Download, error) {
	doi := domain.NormalizeDOI(paper.DOI)
	if doi == "" {
		return nil, fmt.Errorf("%q: %w", paper.Title, domain.ErrNoDOI)
	}

	logger := d.logger.With().Str("doi", doi).Logger()
	dest := filepath.Join(destDir, filename)
	tried := make(map[string]struct{})
	var lastErr error

	try := func(source domain.Source, candidates []string) *Download {
		for _, u := range candidates {
			if ctx.Err() != nil {
				return nil
			}
			if _, dup := tried[u]; dup {
				continue
			}
			tried[u] = struct{}{}

			res, err := d.fetcher.Fetch(ctx, u, dest)
			if err != nil {
				lastErr = err
				logger.Debug().Err(err).Str("source", string(source)).Str("url", u).
					Str("reason", string(domain.ReasonFor(err))).Msg("candidate failed")
				continue
			}
			return &Download{Result: *res, Source: source}
		}
		return nil
	}

	if paper.Availability.HasSource(domain.SourceUnpaywall) {
		urls, err := d.unpaywallURLs(ctx, doi)
		if err != nil {
			lastErr = err
			logger.Debug().Err(err).Msg("unpaywall lookup failed")
		}
		for _, u := range urls {
			if dl := try(domain.SourceUnpaywall, d.candidates.Expand(u, doi)); dl != nil {
				return d.finish(dl, doi, logger), nil
			}
		}
	}

	if paper.Availability.HasSource(domain.SourcePublisher) {
		doiURL := domain.DOIURL(d.cfg.DOIBaseURL, doi)
		if dl := try(domain.SourcePublisher, d.candidates.Expand(doiURL, doi)); dl != nil {
			return d.finish(dl, doi, logger), nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, domain.WrapTransportError(err)
	}
	if lastErr == nil {
		lastErr = errNoCandidates
	}
	return nil, fmt.Errorf("%w after %d urls: %w", domain.ErrAllSourcesExhausted, len(tried), lastErr)
}

// unpaywallURLs fetches a fresh Unpaywall record for doi.
func (d *Downloader) unpaywallURLs(ctx context.Context, doi string) ([]string, error) {
	if d.lookup == nil {
		return nil, nil
	}
	resp, err := d.lookup.Lookup(ctx, doi)
	if err != nil {
		return nil, err
	}
	return unpaywall.ExtractPDFURLs(resp), nil
}

func (d *Downloader) finish(dl *Download, doi string, logger zerolog.Logger) *Download {
	if d.cfg.InspectDOI {
		found, err := pdf.ContainsDOI(dl.Path, doi)
		if err != nil {
			logger.Debug().Err(err).Str("path", dl.Path).Msg("doi inspection failed")
		} else {
			dl.DOIConfirmed = &found
			if !found {
				logger.Warn().Str("url", dl.URL).Msg("downloaded pdf does not mention the paper's doi")
			}
		}
	}
	logger.Info().Str("source", string(dl.Source)).Str("url", dl.URL).Int64("size_bytes", dl.SizeBytes).Msg("paper downloaded")
	return dl
}
