package upsert

import (
	"context"
	"errors"
	"fmt"

	"github.com/fredx-io/fredx/pkg/db"
	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/db/postgres"
	"github.com/fredx-io/fredx/pkg/retry"
	"go.uber.org/zap"
)

var (
	// ErrPersistenceConflict means a concurrent writer kept winning after every retry.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrPersistenceFailure wraps every other storage error.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrSeriesMismatch is returned when a batch holds points of another series.
	ErrSeriesMismatch = errors.New("observation belongs to another series")
)

// Engine merges series metadata and observation batches into the store.
// Every call runs in its own transaction and is safe to invoke concurrently, for the same
// series as well as for different ones.
type Engine struct {
	store  db.SeriesStore
	logger *zap.Logger
	retry  retry.Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetry overrides the conflict retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(e *Engine) { e.retry = cfg }
}

func New(store db.SeriesStore, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: logger,
		retry:  retry.ConflictConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpsertSeries writes series metadata. With update false an existing row is left untouched and
// both outcome flags are false. With update true every column except created_at is overwritten.
func (e *Engine) UpsertSeries(ctx context.Context, s *series.Series, update bool) (series.SeriesOutcome, error) {
	var outcome series.SeriesOutcome
	err := e.inTx(ctx, "upsert_series", func(ctx context.Context) error {
		outcome = series.SeriesOutcome{}
		if !update {
			inserted, err := e.store.InsertSeriesIfAbsent(ctx, s)
			outcome.Added = inserted
			return err
		}
		inserted, err := e.store.UpsertSeries(ctx, s)
		outcome.Added, outcome.Updated = inserted, !inserted
		return err
	})
	if err != nil {
		return series.SeriesOutcome{}, classify(err, "upsert series "+s.SeriesID)
	}

	e.logger.Debug("Series upserted",
		zap.String("series_id", s.SeriesID),
		zap.Bool("added", outcome.Added),
		zap.Bool("updated", outcome.Updated))
	return outcome, nil
}

// UpsertObservations merges points of seriesID in one transaction. Points sharing a date are
// collapsed first, the last one wins and is counted once. The incoming value always replaces the
// stored one, NULL included. On error nothing is committed.
func (e *Engine) UpsertObservations(ctx context.Context, seriesID string, points []series.Observation) (series.Counts, error) {
	batch, err := Collapse(seriesID, points)
	if err != nil {
		return series.Counts{}, err
	}
	if len(batch) == 0 {
		return series.Counts{}, nil
	}

	var counts series.Counts
	err = e.inTx(ctx, "upsert_observations", func(ctx context.Context) error {
		c, err := e.store.UpsertObservations(ctx, batch)
		counts = c
		return err
	})
	if err != nil {
		return series.Counts{}, classify(err, "upsert observations "+seriesID)
	}

	e.logger.Debug("Observations upserted",
		zap.String("series_id", seriesID),
		zap.Int("points", len(batch)),
		zap.Int("added", counts.Added),
		zap.Int("updated", counts.Updated))
	return counts, nil
}

// inTx runs fn in a transaction and re-runs the whole transaction when it loses a race.
func (e *Engine) inTx(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return retry.WithBackoffIf(ctx, e.retry, e.logger, operation, postgres.IsConflict, func() error {
		return e.store.InTx(ctx, fn)
	})
}

func classify(err error, what string) error {
	if postgres.IsConflict(err) {
		return fmt.Errorf("%w: %s: %w", ErrPersistenceConflict, what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistenceFailure, what, err)
}

// Collapse returns points with one entry per date, in order of first appearance, holding the
// last value seen for that date. Dates are truncated to calendar days. points is not modified.
func Collapse(seriesID string, points []series.Observation) ([]series.Observation, error) {
	out := make([]series.Observation, 0, len(points))
	index := make(map[series.ObservationKey]int, len(points))
	for _, p := range points {
		if p.SeriesID != seriesID {
			return nil, fmt.Errorf("%w: %s in batch of %s", ErrSeriesMismatch, p.SeriesID, seriesID)
		}
		p.ObservationDate = series.Date(p.ObservationDate)
		key := p.Key()
		if i, ok := index[key]; ok {
			out[i] = p
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	return out, nil
}
