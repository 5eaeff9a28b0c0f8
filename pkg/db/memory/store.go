package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fredx-io/fredx/pkg/db"
	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/db/postgres"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	_ db.SeriesStore      = (*Store)(nil)
	_ db.MaintenanceStore = (*Store)(nil)
)

// Hooks inject failures. A non-nil error is returned before the operation touches any state.
type Hooks struct {
	BeforeUpsertSeries       func(s *series.Series) error
	BeforeUpsertObservations func(points []series.Observation) error
	BeforeInsertSyncAttempt  func(a *series.SyncAttempt) error
}

type state struct {
	series        map[string]series.Series
	observations  map[series.ObservationKey]series.Observation
	attempts      []series.SyncAttempt
	nextObsID     int64
	nextAttemptID int64
}

func (st *state) clone() *state {
	c := &state{
		series:        make(map[string]series.Series, len(st.series)),
		observations:  make(map[series.ObservationKey]series.Observation, len(st.observations)),
		attempts:      append([]series.SyncAttempt(nil), st.attempts...),
		nextObsID:     st.nextObsID,
		nextAttemptID: st.nextAttemptID,
	}
	for k, v := range st.series {
		c.series[k] = v
	}
	for k, v := range st.observations {
		c.observations[k] = v
	}
	return c
}

type txKey struct{}

// Store is an in-memory SeriesStore with the same semantics as the PostgreSQL store:
// the observation key is unique, InTx is all-or-nothing, and the sync log is append-only.
// Transactions are serialized.
type Store struct {
	mu sync.Mutex
	st *state

	Hooks Hooks
	// Now stamps created_at, updated_at and missing sync dates. Defaults to time.Now.
	Now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st: &state{
			series:       map[string]series.Series{},
			observations: map[series.ObservationKey]series.Observation{},
		},
		Now: time.Now,
	}
}

// InTx runs fn against a private copy of the data and publishes the copy only when fn succeeds
// and ctx is still live.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, staged)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = staged
	return nil
}

// with runs fn on the transaction state carried by ctx, or on the committed state under the lock.
func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if staged, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(staged)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) GetSeries(ctx context.Context, seriesID string) (*series.Series, error) {
	var out *series.Series
	err := s.with(ctx, func(st *state) error {
		if row, ok := st.series[seriesID]; ok {
			out = &row
		}
		return nil
	})
	return out, err
}

func (s *Store) InsertSeriesIfAbsent(ctx context.Context, in *series.Series) (bool, error) {
	if s.Hooks.BeforeUpsertSeries != nil {
		if err := s.Hooks.BeforeUpsertSeries(in); err != nil {
			return false, err
		}
	}
	var inserted bool
	err := s.with(ctx, func(st *state) error {
		if _, ok := st.series[in.SeriesID]; ok {
			return nil
		}
		now := s.Now().UTC()
		row := *in
		row.CreatedAt, row.UpdatedAt = now, now
		st.series[in.SeriesID] = row
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *Store) UpsertSeries(ctx context.Context, in *series.Series) (bool, error) {
	if s.Hooks.BeforeUpsertSeries != nil {
		if err := s.Hooks.BeforeUpsertSeries(in); err != nil {
			return false, err
		}
	}
	var inserted bool
	err := s.with(ctx, func(st *state) error {
		now := s.Now().UTC()
		row := *in
		row.UpdatedAt = now
		if existing, ok := st.series[in.SeriesID]; ok {
			row.CreatedAt = existing.CreatedAt
		} else {
			row.CreatedAt = now
			inserted = true
		}
		st.series[in.SeriesID] = row
		return nil
	})
	return inserted, err
}

func (s *Store) UpsertObservations(ctx context.Context, points []series.Observation) (series.Counts, error) {
	var counts series.Counts
	if s.Hooks.BeforeUpsertObservations != nil {
		if err := s.Hooks.BeforeUpsertObservations(points); err != nil {
			return counts, err
		}
	}
	err := s.with(ctx, func(st *state) error {
		for _, p := range points {
			if _, ok := st.series[p.SeriesID]; !ok {
				return fmt.Errorf("upsert observation %s: %w", p.SeriesID,
					&pgconn.PgError{Code: postgres.CodeForeignKeyViolation, Message: "series does not exist"})
			}
		}
		for _, p := range points {
			p.ObservationDate = series.Date(p.ObservationDate)
			key := p.Key()
			if existing, ok := st.observations[key]; ok {
				existing.Value = p.Value
				existing.RealtimeStart = p.RealtimeStart
				existing.RealtimeEnd = p.RealtimeEnd
				st.observations[key] = existing
				counts.Updated++
				continue
			}
			st.nextObsID++
			p.ID = st.nextObsID
			p.CreatedAt = s.Now().UTC()
			st.observations[key] = p
			counts.Added++
		}
		return nil
	})
	if err != nil {
		return series.Counts{}, err
	}
	return counts, nil
}

func (s *Store) GetObservation(ctx context.Context, seriesID string, date time.Time) (*series.Observation, error) {
	var out *series.Observation
	err := s.with(ctx, func(st *state) error {
		key := series.Observation{SeriesID: seriesID, ObservationDate: date}.Key()
		if row, ok := st.observations[key]; ok {
			out = &row
		}
		return nil
	})
	return out, err
}

func (s *Store) ListObservations(ctx context.Context, seriesID string) ([]series.Observation, error) {
	out := make([]series.Observation, 0)
	err := s.with(ctx, func(st *state) error {
		for _, row := range st.observations {
			if row.SeriesID == seriesID {
				out = append(out, row)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ObservationDate.Before(out[j].ObservationDate) })
	return out, err
}

func (s *Store) CountObservations(ctx context.Context, seriesID string) (int64, error) {
	rows, err := s.ListObservations(ctx, seriesID)
	return int64(len(rows)), err
}

func (s *Store) InsertSyncAttempt(ctx context.Context, a *series.SyncAttempt) (int64, error) {
	if s.Hooks.BeforeInsertSyncAttempt != nil {
		if err := s.Hooks.BeforeInsertSyncAttempt(a); err != nil {
			return 0, err
		}
	}
	var id int64
	err := s.with(ctx, func(st *state) error {
		st.nextAttemptID++
		row := *a
		row.ID = st.nextAttemptID
		if row.SyncDate.IsZero() {
			row.SyncDate = s.Now().UTC()
		}
		st.attempts = append(st.attempts, row)
		id = row.ID
		return nil
	})
	return id, err
}

func (s *Store) LatestSyncAttempt(ctx context.Context, seriesID string) (*series.SyncAttempt, error) {
	history, err := s.SyncHistory(ctx, seriesID, 1)
	if err != nil || len(history) == 0 {
		return nil, err
	}
	return &history[0], nil
}

func (s *Store) SyncHistory(ctx context.Context, seriesID string, limit int) ([]series.SyncAttempt, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []series.SyncAttempt
	err := s.with(ctx, func(st *state) error {
		for _, a := range st.attempts {
			if a.SeriesID == seriesID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SyncDate.Equal(out[j].SyncDate) {
			return out[i].SyncDate.After(out[j].SyncDate)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// Attempts returns every sync attempt in insertion order.
func (s *Store) Attempts() []series.SyncAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]series.SyncAttempt(nil), s.st.attempts...)
}

// InitializeDB is a no-op.
func (s *Store) InitializeDB(context.Context) error { return nil }

// DeduplicateObservations always returns 0; the map key cannot hold duplicates.
func (s *Store) DeduplicateObservations(context.Context) (int64, error) { return 0, nil }

// EnsureUniqueConstraint is a no-op.
func (s *Store) EnsureUniqueConstraint(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
