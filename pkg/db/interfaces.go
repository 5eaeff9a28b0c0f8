package db

import (
	"context"
	"time"

	"github.com/fredx-io/fredx/pkg/db/models/series"
)

// SeriesStore exposes the persistence operations used by the upsert engine, the ledger and the orchestrator.
// Methods called with the context handed to InTx's callback run inside that transaction.
type SeriesStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetSeries(ctx context.Context, seriesID string) (*series.Series, error)
	InsertSeriesIfAbsent(ctx context.Context, s *series.Series) (bool, error)
	UpsertSeries(ctx context.Context, s *series.Series) (bool, error)

	UpsertObservations(ctx context.Context, points []series.Observation) (series.Counts, error)
	GetObservation(ctx context.Context, seriesID string, date time.Time) (*series.Observation, error)
	ListObservations(ctx context.Context, seriesID string) ([]series.Observation, error)
	CountObservations(ctx context.Context, seriesID string) (int64, error)

	InsertSyncAttempt(ctx context.Context, a *series.SyncAttempt) (int64, error)
	LatestSyncAttempt(ctx context.Context, seriesID string) (*series.SyncAttempt, error)
	SyncHistory(ctx context.Context, seriesID string, limit int) ([]series.SyncAttempt, error)
}

// MaintenanceStore holds the schema and repair operations used by the CLI.
type MaintenanceStore interface {
	InitializeDB(ctx context.Context) error
	DeduplicateObservations(ctx context.Context) (int64, error)
	EnsureUniqueConstraint(ctx context.Context) error
	Close() error
}
