package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-acquisition-service/internal/acquisition"
	"github.com/helixir/paper-acquisition-service/internal/database"
	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// Compile-time interface verification.
var (
	_ BatchRepository       = (*PgBatchRepository)(nil)
	_ acquisition.BatchSink = (*PgBatchRepository)(nil)
)

// PgBatchRepository is a PostgreSQL implementation of BatchRepository.
type PgBatchRepository struct {
	db     Pool
	logger zerolog.Logger
}

// NewPgBatchRepository creates a new PostgreSQL batch repository.
func NewPgBatchRepository(db Pool, logger zerolog.Logger) *PgBatchRepository {
	return &PgBatchRepository{
		db:     db,
		logger: logger.With().Str("component", "batch_repository").Logger(),
	}
}

// Name implements acquisition.BatchSink.
func (r *PgBatchRepository) Name() string {
	return "postgres"
}

// HandleBatch implements acquisition.BatchSink by saving the batch.
func (r *PgBatchRepository) HandleBatch(ctx context.Context, result *domain.BatchResult) error {
	return r.Save(ctx, result)
}

const upsertBatchQuery = `
		INSERT INTO acquisition_batches (
			id, status, requested, available, succeeded, failed,
			manifest, error, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			available = EXCLUDED.available,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			manifest = EXCLUDED.manifest,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()`

const upsertOutcomeQuery = `
		INSERT INTO acquisition_outcomes (
			batch_id, paper_index, position, title, doi, status,
			filename, size_bytes, source, url, page_count, doi_confirmed,
			reason, detail, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (batch_id, paper_index) DO UPDATE SET
			position = EXCLUDED.position,
			status = EXCLUDED.status,
			filename = EXCLUDED.filename,
			size_bytes = EXCLUDED.size_bytes,
			source = EXCLUDED.source,
			url = EXCLUDED.url,
			page_count = EXCLUDED.page_count,
			doi_confirmed = EXCLUDED.doi_confirmed,
			reason = EXCLUDED.reason,
			detail = EXCLUDED.detail,
			completed_at = EXCLUDED.completed_at`

// Save writes the batch row and one row per outcome in a single transaction.
func (r *PgBatchRepository) Save(ctx context.Context, result *domain.BatchResult) error {
	if result == nil {
		return domain.NewValidationError("batch", "batch cannot be nil")
	}
	if result.ID == uuid.Nil {
		return domain.NewValidationError("id", "batch ID is required")
	}

	err := database.RunInTx(ctx, r.db, r.logger, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertBatchQuery,
			result.ID,
			string(result.Status),
			result.Requested,
			result.Available,
			result.SucceededCount(),
			result.FailedCount(),
			result.Manifest,
			nullString(result.Error),
			result.StartedAt,
			nullTime(result.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert batch: %w", err)
		}

		for pos, o := range result.Outcomes {
			if _, err := tx.Exec(ctx, upsertOutcomeQuery, outcomeArgs(result.ID, pos, o)...); err != nil {
				return fmt.Errorf("failed to upsert outcome %d: %w", o.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug().
		Str("batch_id", result.ID.String()).
		Int("outcomes", len(result.Outcomes)).
		Msg("batch saved")
	return nil
}

func outcomeArgs(batchID uuid.UUID, position int, o domain.DownloadOutcome) []any {
	var (
		size      *int64
		pageCount *int
	)
	if o.Succeeded() {
		size = &o.SizeBytes
		if o.PageCount > 0 {
			pageCount = &o.PageCount
		}
	}
	return []any{
		batchID,
		o.Index,
		position,
		o.Title,
		nullString(o.DOI),
		string(o.Status),
		nullString(o.Filename),
		size,
		nullString(string(o.Source)),
		nullString(o.URL),
		pageCount,
		o.DOIConfirmed,
		nullString(string(o.Reason)),
		nullString(o.Detail),
		o.CompletedAt,
	}
}

// Get retrieves a batch and its outcomes.
func (r *PgBatchRepository) Get(ctx context.Context, id uuid.UUID) (*domain.BatchResult, error) {
	query := `
		SELECT id, status, requested, available, manifest, error, started_at, completed_at
		FROM acquisition_batches
		WHERE id = $1`

	var (
		result      domain.BatchResult
		status      string
		errMsg      *string
		completedAt *time.Time
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&result.ID,
		&status,
		&result.Requested,
		&result.Available,
		&result.Manifest,
		&errMsg,
		&result.StartedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("batch", id.String())
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	result.Status = domain.BatchStatus(status)
	result.Error = derefString(errMsg)
	if completedAt != nil {
		result.CompletedAt = *completedAt
	}

	outcomes, err := r.listOutcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	result.Outcomes = outcomes
	return &result, nil
}

func (r *PgBatchRepository) listOutcomes(ctx context.Context, batchID uuid.UUID) ([]domain.DownloadOutcome, error) {
	query := `
		SELECT paper_index, title, doi, status, filename, size_bytes, source,
			url, page_count, doi_confirmed, reason, detail, completed_at
		FROM acquisition_outcomes
		WHERE batch_id = $1
		ORDER BY position`

	rows, err := r.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.DownloadOutcome
	for rows.Next() {
		var (
			o                                          domain.DownloadOutcome
			status                                     string
			doi, filename, source, url, reason, detail *string
			size                                       *int64
			pageCount                                  *int
		)
		if err := rows.Scan(
			&o.Index, &o.Title, &doi, &status, &filename, &size, &source,
			&url, &pageCount, &o.DOIConfirmed, &reason, &detail, &o.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Status = domain.OutcomeStatus(status)
		o.DOI = derefString(doi)
		o.Filename = derefString(filename)
		o.Source = domain.Source(derefString(source))
		o.URL = derefString(url)
		o.Reason = domain.FailureReason(derefString(reason))
		o.Detail = derefString(detail)
		if size != nil {
			o.SizeBytes = *size
		}
		if pageCount != nil {
			o.PageCount = *pageCount
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// List retrieves batch summaries matching the filter.
func (r *PgBatchRepository) List(ctx context.Context, filter BatchFilter) ([]domain.BatchSummary, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	whereClause := "TRUE"
	var args []any
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			args = append(args, string(s))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		whereClause = fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", "))
	}

	countQuery := "SELECT COUNT(*) FROM acquisition_batches WHERE " + whereClause
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT id, status, requested, available, succeeded, failed, error, started_at, completed_at
		FROM acquisition_batches
		WHERE %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	summaries := make([]domain.BatchSummary, 0, filter.Limit)
	for rows.Next() {
		var (
			s           domain.BatchSummary
			status      string
			errMsg      *string
			completedAt *time.Time
		)
		if err := rows.Scan(
			&s.ID, &status, &s.Requested, &s.Available, &s.Succeeded, &s.Failed,
			&errMsg, &s.StartedAt, &completedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan batch: %w", err)
		}
		s.Status = domain.BatchStatus(status)
		s.Error = derefString(errMsg)
		if completedAt != nil {
			s.CompletedAt = *completedAt
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate batches: %w", err)
	}

	return summaries, total, nil
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
