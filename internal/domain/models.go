// Package domain provides domain models and business logic for the Paper Acquisition Service.
package domain

import (
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the final state of an acquisition batch.
// These values must match the database enum batch_status.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// OutcomeStatus is the per-paper result of a download attempt.
// These values must match the database enum outcome_status.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// DownloadOutcome records what happened to one paper in a batch.
type DownloadOutcome struct {
	// Index is the paper's position in the batch input.
	Index  int           `json:"index"`
	Title  string        `json:"title"`
	DOI    string        `json:"doi,omitempty"`
	Status OutcomeStatus `json:"status"`

	// Success fields.
	Filename     string `json:"filename,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	Source       Source `json:"source,omitempty"`
	URL          string `json:"url,omitempty"`
	PageCount    int    `json:"page_count,omitempty"`
	DOIConfirmed *bool  `json:"doi_confirmed,omitempty"`

	// Failure fields.
	Reason FailureReason `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded reports whether the paper was downloaded.
func (o DownloadOutcome) Succeeded() bool {
	return o.Status == OutcomeSucceeded
}

// NewFailedOutcome builds a failure outcome classified from err.
func NewFailedOutcome(index int, paper PaperRecord, err error) DownloadOutcome {
	o := DownloadOutcome{
		Index:       index,
		Title:       paper.Title,
		DOI:         paper.DOI,
		Status:      OutcomeFailed,
		Reason:      ReasonFor(err),
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		o.Detail = err.Error()
	}
	return o
}

// BatchResult is the deliverable of one acquisition batch.
type BatchResult struct {
	ID        uuid.UUID
	Status    BatchStatus
	Requested int
	Available int
	// Outcomes are in completion order, not input order.
	Outcomes []DownloadOutcome
	Manifest string
	// ArchivePath is empty when the batch failed.
	ArchivePath string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// SucceededCount returns the number of successful downloads.
func (b *BatchResult) SucceededCount() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed downloads.
func (b *BatchResult) FailedCount() int {
	return len(b.Outcomes) - b.SucceededCount()
}

// Duration returns how long the batch ran.
func (b *BatchResult) Duration() time.Duration {
	if b.CompletedAt.IsZero() {
		return 0
	}
	return b.CompletedAt.Sub(b.StartedAt)
}

// Cleanup removes the archive. It is safe to call more than once.
func (b *BatchResult) Cleanup() error {
	if b.ArchivePath == "" {
		return nil
	}
	if err := os.Remove(b.ArchivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// BatchSummary is the persisted header of a batch without its outcomes.
type BatchSummary struct {
	ID          uuid.UUID   `json:"id"`
	Status      BatchStatus `json:"status"`
	Requested   int         `json:"requested"`
	Available   int         `json:"available"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Summary returns the header of b.
func (b *BatchResult) Summary() BatchSummary {
	return BatchSummary{
		ID:          b.ID,
		Status:      b.Status,
		Requested:   b.Requested,
		Available:   b.Available,
		Succeeded:   b.SucceededCount(),
		Failed:      b.FailedCount(),
		Error:       b.Error,
		StartedAt:   b.StartedAt,
		CompletedAt: b.CompletedAt,
	}
}
