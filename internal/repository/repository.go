// Package repository persists acquisition batch history.
//
// # Overview
//
// BatchRepository stores every finished batch, completed or failed, with
// its per-paper outcomes so operators can inspect what a batch produced
// after its archive has been streamed and deleted. PgBatchRepository is the
// PostgreSQL implementation and doubles as an acquisition.BatchSink.
//
// # Error Handling
//
// Methods return domain errors:
//
//   - domain.ErrNotFound: the batch does not exist
//   - domain.ErrInvalidInput: invalid parameters
//
// Database errors are wrapped with context using fmt.Errorf and %w.
//
// # Transactions
//
// Save writes a batch and its outcomes atomically through
// database.RunInTx. Read methods accept any DBTX, so they work on the pool
// or inside a caller's transaction.
//
// # Usage Pattern
//
//	db, _ := database.New(ctx, &cfg.Database, logger)
//	batches := repository.NewPgBatchRepository(db, logger)
//	orchestrator := acquisition.NewOrchestrator(cfg, downloader, logger, metrics, batches)
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-acquisition-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Pool is a DBTX that can also start transactions. *database.DB and
// pgxmock pools satisfy it.
type Pool interface {
	DBTX
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ Pool = (*database.DB)(nil)

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 50
	maxFilterLimit     = 500
)

// applyPaginationDefaults clamps limit to [1, maxFilterLimit] and offset to >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

// nullString maps "" to NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
