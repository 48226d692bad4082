//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/migrations"
)

// startPostgres runs a throwaway PostgreSQL with the schema applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("paper_acquisition_test"),
		postgres.WithUsername("paperacq"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migration failed: %v", err)
	}
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPgBatchRepository_Integration(t *testing.T) {
	pool := startPostgres(t)
	repo := NewPgBatchRepository(pool, zerolog.Nop())
	ctx := context.Background()

	t.Run("save and get roundtrip", func(t *testing.T) {
		batch := newTestBatch()
		require.NoError(t, repo.Save(ctx, batch))

		got, err := repo.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, batch.Status, got.Status)
		assert.Equal(t, batch.Manifest, got.Manifest)
		assert.True(t, batch.StartedAt.Equal(got.StartedAt))
		require.Len(t, got.Outcomes, 2)
		assert.Equal(t, 2, got.Outcomes[0].Index, "completion order kept")
		assert.Equal(t, int64(51200), got.Outcomes[0].SizeBytes)
		require.NotNil(t, got.Outcomes[0].DOIConfirmed)
		assert.True(t, *got.Outcomes[0].DOIConfirmed)
		assert.Equal(t, domain.ReasonAllSourcesExhausted, got.Outcomes[1].Reason)
	})

	t.Run("save is idempotent", func(t *testing.T) {
		batch := newTestBatch()
		require.NoError(t, repo.Save(ctx, batch))
		batch.Status = domain.BatchStatusFailed
		batch.Error = "rerun"
		require.NoError(t, repo.Save(ctx, batch))

		got, err := repo.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusFailed, got.Status)
		assert.Equal(t, "rerun", got.Error)
		assert.Len(t, got.Outcomes, 2)
	})

	t.Run("get missing batch", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list newest first with status filter", func(t *testing.T) {
		_, err := pool.Exec(ctx, "TRUNCATE TABLE acquisition_batches CASCADE")
		require.NoError(t, err)

		base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		for i, status := range []domain.BatchStatus{domain.BatchStatusCompleted, domain.BatchStatusFailed, domain.BatchStatusCompleted} {
			b := newTestBatch()
			b.Status = status
			b.StartedAt = base.Add(time.Duration(i) * time.Hour)
			b.CompletedAt = b.StartedAt.Add(time.Minute)
			require.NoError(t, repo.Save(ctx, b))
		}

		all, total, err := repo.List(ctx, BatchFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, all, 3)
		assert.True(t, all[0].StartedAt.After(all[1].StartedAt))
		assert.Equal(t, 1, all[0].Succeeded)

		failed, total, err := repo.List(ctx, BatchFilter{Status: []domain.BatchStatus{domain.BatchStatusFailed}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, failed, 1)
		assert.Equal(t, domain.BatchStatusFailed, failed[0].Status)

		page, total, err := repo.List(ctx, BatchFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, page, 1)
	})
}
