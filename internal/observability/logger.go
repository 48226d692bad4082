package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum level: trace, debug, info, warn (or warning),
	// error, fatal or panic. Anything else means info.
	Level string

	// Format is json, or console (alias pretty) for human-readable lines.
	Format string

	// Output is stdout or stderr. NewLoggerTo ignores it.
	Output string

	AddSource  bool
	TimeFormat string
}

// DefaultLoggingConfig returns the service defaults: info-level JSON on stdout.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a logger writing to the stream named by cfg.Output.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	return NewLoggerTo(outputStream(cfg.Output), cfg)
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) zerolog.Logger {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}

	lc := zerolog.New(w).With().Timestamp()
	if cfg.AddSource {
		lc = lc.Caller()
	}
	return lc.Logger().Level(parseLevel(cfg.Level))
}

func outputStream(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" || parsed == zerolog.NoLevel || parsed == zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithBatchContext adds batch fields to a logger.
func WithBatchContext(logger zerolog.Logger, batchID string, papers int) zerolog.Logger {
	return logger.With().
		Str("batch_id", batchID).
		Int("papers", papers).
		Logger()
}

// WithPaperContext adds paper fields to a logger.
func WithPaperContext(logger zerolog.Logger, doi, title string) zerolog.Logger {
	return logger.With().
		Str("doi", doi).
		Str("title", title).
		Logger()
}

// LoggerWithContext adds the request and batch IDs carried by ctx, if any.
func LoggerWithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if id := BatchIDFromContext(ctx); id != "" {
		lc = lc.Str("batch_id", id)
	}
	return lc.Logger()
}
