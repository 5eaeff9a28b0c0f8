package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/db/postgres"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func obs(id string, date time.Time, v string) series.Observation {
	return series.Observation{SeriesID: id, ObservationDate: date, Value: decimal.NewNullDecimal(decimal.RequireFromString(v))}
}

func TestStore_InTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.InsertSeriesIfAbsent(ctx, &series.Series{SeriesID: "GDP", Title: "GDP"})
	require.NoError(t, err)

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	boom := errors.New("boom")
	err = s.InTx(ctx, func(ctx context.Context) error {
		_, err := s.UpsertObservations(ctx, []series.Observation{obs("GDP", day, "1")})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.CountObservations(ctx, "GDP")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStore_UpsertObservationsUnknownSeries(t *testing.T) {
	_, err := New().UpsertObservations(context.Background(), []series.Observation{obs("NOPE", time.Now(), "1")})
	require.Error(t, err)
	require.Equal(t, postgres.CodeForeignKeyViolation, postgres.SQLState(err))
	require.False(t, postgres.IsConflict(err))
}

func TestStore_UpsertSeriesKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := New()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return first }

	inserted, err := s.UpsertSeries(ctx, &series.Series{SeriesID: "GDP", Title: "old"})
	require.NoError(t, err)
	require.True(t, inserted)

	s.Now = func() time.Time { return first.Add(time.Hour) }
	inserted, err = s.UpsertSeries(ctx, &series.Series{SeriesID: "GDP", Title: "new"})
	require.NoError(t, err)
	require.False(t, inserted)

	got, err := s.GetSeries(ctx, "GDP")
	require.NoError(t, err)
	require.Equal(t, "new", got.Title)
	require.Equal(t, first, got.CreatedAt)
	require.Equal(t, first.Add(time.Hour), got.UpdatedAt)
}

func TestStore_SyncHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.InsertSyncAttempt(ctx, &series.SyncAttempt{SeriesID: "GDP", SyncDate: base.Add(time.Duration(i) * time.Hour), RecordsAdded: i})
		require.NoError(t, err)
	}

	history, err := s.SyncHistory(ctx, "GDP", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 2, history[0].RecordsAdded)
	require.Equal(t, 1, history[1].RecordsAdded)

	latest, err := s.LatestSyncAttempt(ctx, "UNRATE")
	require.NoError(t, err)
	require.Nil(t, latest)
}
