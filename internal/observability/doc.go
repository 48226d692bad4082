// Package observability provides logging and metrics support for the paper
// acquisition service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for batches, downloads, and availability checks
//   - Context helpers for propagating request and batch identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("doi", doi).Msg("paper downloaded")
//
// NewLoggerTo writes to any io.Writer instead; paperctl sends its logs to
// stderr so stdout carries only command output.
//
// Add batch context to a logger:
//
//	logger = observability.WithBatchContext(logger, batchID, len(papers))
//
// # Metrics
//
// Initialize metrics once per process:
//
//	metrics := observability.NewMetrics("paper_acquisition")
//
// Record metrics:
//
//	metrics.RecordBatchStarted()
//	metrics.RecordPaperDownloaded("unpaywall", size)
//	metrics.RecordPaperFailed("bad_magic_number")
//
// A nil *Metrics records nothing.
//
// # Context Helpers
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithBatchID(ctx, batchID)
//	logger := observability.LoggerWithContext(ctx, baseLogger)
//
// # Standard Fields
//
//   - request_id: HTTP request identifier
//   - batch_id: acquisition batch identifier
//   - doi: paper DOI
//   - url: candidate URL being fetched
//   - source: availability source (unpaywall, publisher)
//   - component: emitting component
package observability
