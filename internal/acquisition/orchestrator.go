package acquisition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/observability"
)

// Orchestrator defaults.
const (
	DefaultWorkers   = 3
	DefaultMaxPapers = 500

	sinkTimeout = 10 * time.Second
)

// PaperDownloader acquires the PDF for a single paper.
type PaperDownloader interface {
	Download(ctx context.Context, paper domain.PaperRecord, destDir, filename string) (*Download, error)
}

var _ PaperDownloader = (*Downloader)(nil)

// BatchSink receives every finished batch, completed or failed. Sink errors
// are logged and never change the batch outcome.
type BatchSink interface {
	Name() string
	HandleBatch(ctx context.Context, result *domain.BatchResult) error
}

// OrchestratorConfig holds batch settings.
type OrchestratorConfig struct {
	// Workers bounds concurrent paper downloads.
	Workers int
	// WorkDir holds staging directories and finished archives.
	WorkDir string
	// MaxPapers caps the batch size.
	MaxPapers int
}

// Orchestrator runs acquisition batches: it writes the manifest, downloads
// the available papers on a bounded pool, and zips the results.
type Orchestrator struct {
	downloader PaperDownloader
	cfg        OrchestratorConfig
	sinks      []BatchSink
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, downloader PaperDownloader, logger zerolog.Logger, metrics *observability.Metrics, sinks ...BatchSink) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.MaxPapers <= 0 {
		cfg.MaxPapers = DefaultMaxPapers
	}
	return &Orchestrator{
		downloader: downloader,
		cfg:        cfg,
		sinks:      sinks,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		metrics:    metrics,
	}
}

// RunBatch acquires papers and packages them.
//
// The batch proceeds as follows:
//  1. A staging directory {WorkDir}/batch_{id} is created.
//  2. The manifest for every paper is written in input order.
//  3. Papers marked available get unique filenames and are downloaded on a
//     pool of Workers goroutines. Outcomes are kept in completion order.
//  4. With at least one success, papers_{id}.zip is written to WorkDir with
//     the manifest and every downloaded PDF.
//  5. The staging directory is removed and sinks are notified.
//
// The caller owns the archive and must call Cleanup on the result. When no
// paper downloads, the error wraps domain.ErrEmptyBatch, no archive exists,
// and the returned result describes the failed batch.
func (o *Orchestrator) RunBatch(ctx context.Context, papers []domain.PaperRecord) (*domain.BatchResult, error) {
	if len(papers) == 0 {
		return nil, domain.NewValidationError("papers", "at least one paper is required")
	}
	if len(papers) > o.cfg.MaxPapers {
		return nil, domain.NewValidationError("papers", fmt.Sprintf("at most %d papers per batch", o.cfg.MaxPapers))
	}

	result := &domain.BatchResult{
		ID:        uuid.New(),
		Status:    domain.BatchStatusRunning,
		Requested: len(papers),
		StartedAt: time.Now().UTC(),
	}
	logger := observability.WithBatchContext(o.logger, result.ID.String(), len(papers))
	ctx = observability.WithBatchID(ctx, result.ID.String())
	o.metrics.RecordBatchStarted()

	staging := filepath.Join(o.cfg.WorkDir, "batch_"+result.ID.String())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return o.fail(ctx, result, logger, fmt.Errorf("create staging directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warn().Err(err).Str("dir", staging).Msg("failed to remove staging directory")
		}
	}()

	result.Manifest = RenderManifest(papers)
	if err := os.WriteFile(filepath.Join(staging, ManifestName), []byte(result.Manifest), 0o644); err != nil {
		return o.fail(ctx, result, logger, fmt.Errorf("write manifest: %w", err))
	}

	jobs := planDownloads(papers)
	result.Available = len(jobs)
	logger.Info().Int("available", len(jobs)).Msg("starting downloads")

	result.Outcomes = o.download(ctx, jobs, staging)

	if err := ctx.Err(); err != nil {
		return o.fail(ctx, result, logger, fmt.Errorf("batch interrupted: %w", err))
	}

	names := []string{ManifestName}
	for _, out := range result.Outcomes {
		if out.Succeeded() {
			names = append(names, out.Filename)
		}
	}
	if len(names) == 1 {
		return o.fail(ctx, result, logger, fmt.Errorf("batch %s: %w", result.ID, domain.ErrEmptyBatch))
	}

	archive := filepath.Join(o.cfg.WorkDir, "papers_"+result.ID.String()+".zip")
	if err := writeArchive(archive, staging, names); err != nil {
		return o.fail(ctx, result, logger, err)
	}

	result.ArchivePath = archive
	result.Status = domain.BatchStatusCompleted
	result.CompletedAt = time.Now().UTC()
	o.metrics.RecordBatchCompleted(result.Duration().Seconds())
	logger.Info().
		Int("succeeded", result.SucceededCount()).
		Int("failed", result.FailedCount()).
		Dur("duration", result.Duration()).
		Msg("batch completed")

	o.notify(ctx, result, logger)
	return result, nil
}

type downloadJob struct {
	index    int
	paper    domain.PaperRecord
	filename string
}

// planDownloads selects available papers and gives each a filename that is
// unique within the batch, ignoring case.
func planDownloads(papers []domain.PaperRecord) []downloadJob {
	used := make(map[string]struct{})
	var jobs []downloadJob
	for i, p := range papers {
		if !p.Availability.IsAvailable {
			continue
		}
		jobs = append(jobs, downloadJob{
			index:    i,
			paper:    p,
			filename: uniqueFilename(PaperFilename(p.Year, p.Title), used),
		})
	}
	return jobs
}

func uniqueFilename(name string, used map[string]struct{}) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 2; ; n++ {
		key := strings.ToLower(candidate)
		if _, taken := used[key]; !taken {
			used[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
}

// download runs jobs on the worker pool and returns outcomes in completion order.
func (o *Orchestrator) download(ctx context.Context, jobs []downloadJob, dir string) []domain.DownloadOutcome {
	var (
		mu       sync.Mutex
		outcomes = make([]domain.DownloadOutcome, 0, len(jobs))
		g        errgroup.Group
	)
	g.SetLimit(o.cfg.Workers)

	for _, job := range jobs {
		g.Go(func() error {
			outcome := o.downloadOne(ctx, job, dir)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) downloadOne(ctx context.Context, job downloadJob, dir string) (outcome domain.DownloadOutcome) {
	logger := observability.WithPaperContext(o.logger, job.paper.DOI, job.paper.Title)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("paper download panicked")
			outcome = domain.NewFailedOutcome(job.index, job.paper, fmt.Errorf("download panicked: %v", r))
			o.metrics.RecordPaperFailed(string(outcome.Reason))
		}
	}()

	dl, err := o.downloader.Download(ctx, job.paper, dir, job.filename)
	if err != nil {
		outcome = domain.NewFailedOutcome(job.index, job.paper, err)
		o.metrics.RecordPaperFailed(string(outcome.Reason))
		logger.Warn().Err(err).Str("reason", string(outcome.Reason)).Msg("paper download failed")
		return outcome
	}

	o.metrics.RecordPaperDownloaded(string(dl.Source), dl.SizeBytes)
	return domain.DownloadOutcome{
		Index:        job.index,
		Title:        job.paper.Title,
		DOI:          job.paper.DOI,
		Status:       domain.OutcomeSucceeded,
		Filename:     job.filename,
		SizeBytes:    dl.SizeBytes,
		Source:       dl.Source,
		URL:          dl.URL,
		PageCount:    dl.PageCount,
		DOIConfirmed: dl.DOIConfirmed,
		CompletedAt:  time.Now().UTC(),
	}
}

// fail marks the batch failed, notifies sinks, and returns the result with err.
func (o *Orchestrator) fail(ctx context.Context, result *domain.BatchResult, logger zerolog.Logger, err error) (*domain.BatchResult, error) {
	result.Status = domain.BatchStatusFailed
	result.Error = err.Error()
	result.ArchivePath = ""
	result.CompletedAt = time.Now().UTC()
	o.metrics.RecordBatchFailed(result.Duration().Seconds())
	logger.Error().Err(err).Str("reason", string(domain.ReasonFor(err))).Msg("batch failed")

	o.notify(ctx, result, logger)
	return result, err
}

func (o *Orchestrator) notify(ctx context.Context, result *domain.BatchResult, logger zerolog.Logger) {
	if len(o.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	for _, sink := range o.sinks {
		if err := sink.HandleBatch(ctx, result); err != nil {
			o.metrics.RecordSinkFailure(sink.Name())
			logger.Warn().Err(err).Str("sink", sink.Name()).Msg("batch sink failed")
		}
	}
}
