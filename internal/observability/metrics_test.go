package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_paper_acquisition_new")

	assert.NotNil(t, m.BatchesStarted)
	assert.NotNil(t, m.BatchesCompleted)
	assert.NotNil(t, m.BatchesFailed)
	assert.NotNil(t, m.BatchDuration)
	assert.NotNil(t, m.PapersDownloaded)
	assert.NotNil(t, m.PapersFailed)
	assert.NotNil(t, m.BytesDownloaded)
	assert.NotNil(t, m.AvailabilityChecks)
	assert.NotNil(t, m.FetchAttempts)
	assert.NotNil(t, m.HTMLFallbacks)
	assert.NotNil(t, m.SourceRequestsTotal)
	assert.NotNil(t, m.SourceRequestsFailed)
	assert.NotNil(t, m.SourceRequestDuration)
	assert.NotNil(t, m.SinkFailures)
}

func TestRecordBatchStarted(t *testing.T) {
	m := NewMetrics("test_batch_started")

	initial := testutil.ToFloat64(m.BatchesStarted)
	m.RecordBatchStarted()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.BatchesStarted))
}

func TestRecordBatchCompleted(t *testing.T) {
	m := NewMetrics("test_batch_completed")

	initial := testutil.ToFloat64(m.BatchesCompleted)
	m.RecordBatchCompleted(12.5)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.BatchesCompleted))

	histCount, err := getHistogramSampleCount(m.BatchDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordBatchFailed(t *testing.T) {
	m := NewMetrics("test_batch_failed")

	initial := testutil.ToFloat64(m.BatchesFailed)
	m.RecordBatchFailed(3.0)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.BatchesFailed))
}

func TestRecordPaperDownloaded(t *testing.T) {
	m := NewMetrics("test_paper_downloaded")

	m.RecordPaperDownloaded("unpaywall", 50*1024)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PapersDownloaded.WithLabelValues("unpaywall")))

	histCount, err := getHistogramSampleCount(m.BytesDownloaded)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordPaperFailed(t *testing.T) {
	m := NewMetrics("test_paper_failed")

	m.RecordPaperFailed("bad_magic_number")
	m.RecordPaperFailed("bad_magic_number")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PapersFailed.WithLabelValues("bad_magic_number")))
}

func TestRecordAvailabilityCheck(t *testing.T) {
	m := NewMetrics("test_availability_check")

	m.RecordAvailabilityCheck("publisher", "unavailable")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AvailabilityChecks.WithLabelValues("publisher", "unavailable")))
}

func TestRecordFetchAttempt(t *testing.T) {
	m := NewMetrics("test_fetch_attempt")

	m.RecordFetchAttempt("success")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchAttempts.WithLabelValues("success")))
}

func TestRecordHTMLFallback(t *testing.T) {
	m := NewMetrics("test_html_fallback")

	initial := testutil.ToFloat64(m.HTMLFallbacks)
	m.RecordHTMLFallback()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.HTMLFallbacks))
}

func TestRecordSourceRequest(t *testing.T) {
	m := NewMetrics("test_source_request")

	m.RecordSourceRequest("unpaywall", "lookup", 0.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("unpaywall", "lookup")))
}

func TestRecordSourceRequestFailed(t *testing.T) {
	m := NewMetrics("test_source_request_failed")

	m.RecordSourceRequestFailed("pubmed", "esearch", "timeout")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("pubmed", "esearch", "timeout")))
}

func TestRecordSinkFailure(t *testing.T) {
	m := NewMetrics("test_sink_failure")

	m.RecordSinkFailure("kafka")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkFailures.WithLabelValues("kafka")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordBatchStarted()
		m.RecordBatchCompleted(1)
		m.RecordBatchFailed(1)
		m.RecordPaperDownloaded("publisher", 2048)
		m.RecordPaperFailed("no_doi")
		m.RecordAvailabilityCheck("unpaywall", "available")
		m.RecordFetchAttempt("error")
		m.RecordHTMLFallback()
		m.RecordSourceRequest("unpaywall", "lookup", 1)
		m.RecordSourceRequestFailed("unpaywall", "lookup", "status")
		m.RecordSinkFailure("history")
	})
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
