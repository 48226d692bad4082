package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper acquisition service.
// Metrics are organized by subsystem: batches, papers, availability checks,
// fetch attempts, and upstream source requests. All collectors are registered
// via promauto with the default Prometheus registry.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests and in the CLI.
type Metrics struct {
	// BatchesStarted counts acquisition batches started.
	BatchesStarted prometheus.Counter

	// BatchesCompleted counts batches that produced an archive.
	BatchesCompleted prometheus.Counter

	// BatchesFailed counts batches that failed, including empty batches.
	BatchesFailed prometheus.Counter

	// BatchDuration observes end-to-end batch duration in seconds.
	BatchDuration prometheus.Histogram

	// PapersDownloaded counts papers downloaded, labeled by the source that served them.
	PapersDownloaded *prometheus.CounterVec

	// PapersFailed counts papers that could not be downloaded, labeled by failure reason.
	PapersFailed *prometheus.CounterVec

	// BytesDownloaded observes the size of accepted PDFs in bytes.
	BytesDownloaded prometheus.Histogram

	// AvailabilityChecks counts availability checks, labeled by source and result.
	AvailabilityChecks *prometheus.CounterVec

	// FetchAttempts counts single-URL fetch attempts, labeled by result.
	FetchAttempts *prometheus.CounterVec

	// HTMLFallbacks counts HTML pages mined for PDF links.
	HTMLFallbacks prometheus.Counter

	// SourceRequestsTotal counts requests to upstream APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed upstream API requests, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes upstream API request duration in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SinkFailures counts batch sinks (history, events) that failed, labeled by sink.
	SinkFailures *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Batches
		BatchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_started_total",
			Help:      "Total number of acquisition batches started",
		}),
		BatchesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Total number of acquisition batches that produced an archive",
		}),
		BatchesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Total number of acquisition batches that failed",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of acquisition batches in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		// Papers
		PapersDownloaded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_downloaded_total",
			Help:      "Total number of papers downloaded by source",
		}, []string{"source"}),
		PapersFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_failed_total",
			Help:      "Total number of papers that could not be downloaded by reason",
		}, []string{"reason"}),
		BytesDownloaded: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pdf_size_bytes",
			Help:      "Size of accepted PDF files in bytes",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 8),
		}),

		// Availability and fetching
		AvailabilityChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_checks_total",
			Help:      "Total number of availability checks by source and result",
		}, []string{"source", "result"}),
		FetchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Total number of single-URL fetch attempts by result",
		}, []string{"result"}),
		HTMLFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "html_fallbacks_total",
			Help:      "Total number of HTML pages mined for PDF links",
		}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to upstream APIs",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to upstream APIs",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of upstream API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "endpoint"}),

		SinkFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Total number of batch sink failures",
		}, []string{"sink"}),
	}
}

// RecordBatchStarted records that a batch has started.
func (m *Metrics) RecordBatchStarted() {
	if m == nil {
		return
	}
	m.BatchesStarted.Inc()
}

// RecordBatchCompleted records a batch that produced an archive.
func (m *Metrics) RecordBatchCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.BatchesCompleted.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordBatchFailed records a batch that failed.
func (m *Metrics) RecordBatchFailed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.BatchesFailed.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordPaperDownloaded records a successful paper download.
func (m *Metrics) RecordPaperDownloaded(source string, sizeBytes int64) {
	if m == nil {
		return
	}
	m.PapersDownloaded.WithLabelValues(source).Inc()
	m.BytesDownloaded.Observe(float64(sizeBytes))
}

// RecordPaperFailed records a paper that could not be downloaded.
func (m *Metrics) RecordPaperFailed(reason string) {
	if m == nil {
		return
	}
	m.PapersFailed.WithLabelValues(reason).Inc()
}

// RecordAvailabilityCheck records the result of one availability check.
func (m *Metrics) RecordAvailabilityCheck(source, result string) {
	if m == nil {
		return
	}
	m.AvailabilityChecks.WithLabelValues(source, result).Inc()
}

// RecordFetchAttempt records the result of one fetch attempt.
func (m *Metrics) RecordFetchAttempt(result string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(result).Inc()
}

// RecordHTMLFallback records that an HTML page was mined for links.
func (m *Metrics) RecordHTMLFallback() {
	if m == nil {
		return
	}
	m.HTMLFallbacks.Inc()
}

// RecordSourceRequest records a request to an upstream API.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to an upstream API.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSinkFailure records a batch sink that returned an error.
func (m *Metrics) RecordSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}
