package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// BatchRepository stores finished acquisition batches.
type BatchRepository interface {
	// Save inserts or replaces a batch together with its outcomes.
	// Returns domain.ErrInvalidInput for a nil batch or a nil ID.
	Save(ctx context.Context, result *domain.BatchResult) error

	// Get returns a batch with its outcomes in completion order. The archive
	// path is never restored since archives do not outlive their request.
	// Returns domain.ErrNotFound if no batch has this ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.BatchResult, error)

	// List returns batch summaries, most recent first, and the total count
	// matching the filter regardless of limit and offset.
	List(ctx context.Context, filter BatchFilter) ([]domain.BatchSummary, int64, error)
}

// BatchFilter specifies criteria for listing batches.
type BatchFilter struct {
	// Status restricts results to these statuses (optional).
	Status []domain.BatchStatus

	// Limit specifies maximum number of results (default: 50, max: 500).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks statuses and applies pagination defaults.
func (f *BatchFilter) Validate() error {
	for _, s := range f.Status {
		switch s {
		case domain.BatchStatusRunning, domain.BatchStatusCompleted, domain.BatchStatusFailed:
		default:
			return domain.NewValidationError("status", "unknown batch status "+string(s))
		}
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
