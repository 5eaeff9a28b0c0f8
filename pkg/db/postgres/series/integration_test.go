//go:build integration

package series

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	seriesmodels "github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/db/postgres"
	"github.com/fredx-io/fredx/pkg/ingest/upsert"
	"github.com/fredx-io/fredx/pkg/retry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var (
	testDB        *DB
	testContainer *tcpostgres.PostgresContainer
	testLogger    *zap.Logger
)

// TestMain starts one PostgreSQL container shared by every test in the package.
func TestMain(m *testing.M) {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	ctx := context.Background()

	var err error
	testLogger, err = zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		exitCode = 1
		return
	}

	if !isDockerAvailable() {
		fmt.Println("Docker not available, skipping integration tests")
		return
	}

	testLogger.Info("Starting PostgreSQL container...")
	testContainer, err = tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("fredx_test"),
		tcpostgres.WithUsername("fredx"),
		tcpostgres.WithPassword("fredx"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		testLogger.Error("Failed to start PostgreSQL container", zap.Error(err))
		exitCode = 1
		return
	}
	defer cleanup(ctx)

	dsn, err := testContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		testLogger.Error("Failed to get connection string", zap.Error(err))
		exitCode = 1
		return
	}

	testDB, err = New(ctx, testLogger, postgres.PoolConfig{
		URL:       dsn,
		MinConns:  1,
		MaxConns:  16,
		Component: "integration",
	})
	if err != nil {
		testLogger.Error("Failed to connect to PostgreSQL", zap.Error(err))
		exitCode = 1
		return
	}

	if err := testDB.InitializeDB(ctx); err != nil {
		testLogger.Error("Failed to initialize database", zap.Error(err))
		exitCode = 1
		return
	}

	exitCode = m.Run()
}

func cleanup(ctx context.Context) {
	if testDB != nil {
		_ = testDB.Close()
	}
	if testContainer != nil {
		terminateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := testContainer.Terminate(terminateCtx); err != nil {
			testLogger.Error("Failed to terminate container", zap.Error(err))
		}
	}
}

func isDockerAvailable() bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

// cleanDB empties every table. The schema stays.
func cleanDB(t *testing.T) {
	t.Helper()
	err := testDB.Exec(context.Background(), `TRUNCATE fred_sync_log, fred_observations, fred_series RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func newTestEngine(t *testing.T) *upsert.Engine {
	t.Helper()
	return upsert.New(testDB, zaptest.NewLogger(t), upsert.WithRetry(retry.Config{
		MaxRetries:   5,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2,
	}))
}

func seedSeries(t *testing.T, e *upsert.Engine, id string) {
	t.Helper()
	outcome, err := e.UpsertSeries(context.Background(), &seriesmodels.Series{SeriesID: id, Title: "Series " + id, Frequency: "Quarterly"}, false)
	require.NoError(t, err)
	require.True(t, outcome.Added)
}

func obs(id string, date time.Time, value string) seriesmodels.Observation {
	o := seriesmodels.Observation{SeriesID: id, ObservationDate: date}
	if value != "" {
		o.Value = decimal.NewNullDecimal(decimal.RequireFromString(value))
	}
	return o
}

var q1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestInitializeDBIsRepeatable(t *testing.T) {
	require.NoError(t, testDB.InitializeDB(context.Background()))

	for _, table := range []string{seriesmodels.SeriesTableName, seriesmodels.ObservationsTableName, seriesmodels.SyncLogTableName} {
		exists, err := testDB.TableExists(context.Background(), table)
		require.NoError(t, err)
		require.True(t, exists, table)
	}
}

func TestSeriesSkipOnExists(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()
	e := newTestEngine(t)
	seedSeries(t, e, "GDP")

	outcome, err := e.UpsertSeries(ctx, &seriesmodels.Series{SeriesID: "GDP", Title: "Renamed"}, false)
	require.NoError(t, err)
	require.False(t, outcome.Added)
	require.False(t, outcome.Updated)

	stored, err := testDB.GetSeries(ctx, "GDP")
	require.NoError(t, err)
	require.Equal(t, "Series GDP", stored.Title)
	created := stored.CreatedAt

	outcome, err = e.UpsertSeries(ctx, &seriesmodels.Series{SeriesID: "GDP", Title: "Renamed"}, true)
	require.NoError(t, err)
	require.True(t, outcome.Updated)

	stored, err = testDB.GetSeries(ctx, "GDP")
	require.NoError(t, err)
	require.Equal(t, "Renamed", stored.Title)
	require.True(t, created.Equal(stored.CreatedAt))
	require.Empty(t, stored.Frequency)

	missing, err := testDB.GetSeries(ctx, "NOPE")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestObservationUpsertIsIdempotent(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()
	e := newTestEngine(t)
	seedSeries(t, e, "GDP")

	batch := []seriesmodels.Observation{
		obs("GDP", q1, "100.25"),
		obs("GDP", q1.AddDate(0, 3, 0), ""),
		obs("GDP", q1.AddDate(0, 6, 0), "0"),
	}

	counts, err := e.UpsertObservations(ctx, "GDP", batch)
	require.NoError(t, err)
	require.Equal(t, seriesmodels.Counts{Added: 3}, counts)

	before, err := testDB.ListObservations(ctx, "GDP")
	require.NoError(t, err)

	counts, err = e.UpsertObservations(ctx, "GDP", batch)
	require.NoError(t, err)
	require.Equal(t, seriesmodels.Counts{Updated: 3}, counts)

	after, err := testDB.ListObservations(ctx, "GDP")
	require.NoError(t, err)
	require.Equal(t, before, after)

	require.True(t, after[0].Value.Decimal.Equal(decimal.RequireFromString("100.25")))
	require.False(t, after[1].Value.Valid)
	require.True(t, after[2].Value.Valid)
	require.True(t, after[2].Value.Decimal.IsZero())
}

func TestObservationRevisionOverwrites(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()
	e := newTestEngine(t)
	seedSeries(t, e, "GDP")

	_, err := e.UpsertObservations(ctx, "GDP", []seriesmodels.Observation{obs("GDP", q1, "100")})
	require.NoError(t, err)
	_, err = e.UpsertObservations(ctx, "GDP", []seriesmodels.Observation{obs("GDP", q1, "105")})
	require.NoError(t, err)

	n, err := testDB.CountObservations(ctx, "GDP")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := testDB.GetObservation(ctx, "GDP", q1)
	require.NoError(t, err)
	require.True(t, got.Value.Decimal.Equal(decimal.NewFromInt(105)))

	// a revision to "no data" clears the value
	_, err = e.UpsertObservations(ctx, "GDP", []seriesmodels.Observation{obs("GDP", q1, "")})
	require.NoError(t, err)
	got, err = testDB.GetObservation(ctx, "GDP", q1)
	require.NoError(t, err)
	require.False(t, got.Value.Valid)
}

func TestConcurrentUpsertsOnOneKey(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()
	e := newTestEngine(t)
	seedSeries(t, e, "GDP")

	const writers = 12
	var (
		wg   sync.WaitGroup
		errs = make(chan error, writers)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.UpsertObservations(ctx, "GDP", []seriesmodels.Observation{
				obs("GDP", q1, fmt.Sprintf("%d", 100+i)),
				obs("GDP", q1.AddDate(0, 3, 0), fmt.Sprintf("%d", 200+i)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := testDB.CountObservations(ctx, "GDP")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestUpsertForUnknownSeriesFails(t *testing.T) {
	cleanDB(t)
	e := newTestEngine(t)

	_, err := e.UpsertObservations(context.Background(), "NOPE", []seriesmodels.Observation{obs("NOPE", q1, "1")})
	require.ErrorIs(t, err, upsert.ErrPersistenceFailure)
	require.Equal(t, postgres.CodeForeignKeyViolation, postgres.SQLState(err))
}

func TestInTxRollsBack(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()
	e := newTestEngine(t)
	seedSeries(t, e, "GDP")

	boom := fmt.Errorf("boom")
	err := testDB.InTx(ctx, func(ctx context.Context) error {
		if _, err := testDB.UpsertObservations(ctx, []seriesmodels.Observation{obs("GDP", q1, "1")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := testDB.CountObservations(ctx, "GDP")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSyncLog(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()
	e := newTestEngine(t)
	seedSeries(t, e, "GDP")

	latest, err := testDB.LatestSyncAttempt(ctx, "GDP")
	require.NoError(t, err)
	require.Nil(t, latest)

	runID := uuid.New()
	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	msg := "fetch series GDP: status 500"
	for i, ok := range []bool{true, false, true} {
		a := &seriesmodels.SyncAttempt{
			RunID:        runID,
			SeriesID:     "GDP",
			SyncDate:     base.Add(time.Duration(i) * time.Hour),
			RecordsAdded: i,
			Success:      ok,
			APICallsUsed: 2,
		}
		if !ok {
			a.ErrorMessage = &msg
		}
		id, err := testDB.InsertSyncAttempt(ctx, a)
		require.NoError(t, err)
		require.Positive(t, id)
	}

	latest, err = testDB.LatestSyncAttempt(ctx, "GDP")
	require.NoError(t, err)
	require.Equal(t, 2, latest.RecordsAdded)
	require.Equal(t, runID, latest.RunID)

	history, err := testDB.SyncHistory(ctx, "GDP", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.False(t, history[1].Success)
	require.Equal(t, msg, *history[1].ErrorMessage)
}

func TestDedupeLegacyTable(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()
	e := newTestEngine(t)
	seedSeries(t, e, "GDP")

	// a table created before the constraint existed
	require.NoError(t, testDB.Exec(ctx, fmt.Sprintf(`ALTER TABLE fred_observations DROP CONSTRAINT %s`, seriesmodels.ObservationsUniqueConstraint)))
	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, testDB.Exec(ctx,
			`INSERT INTO fred_observations (series_id, observation_date, value) VALUES ('GDP', $1, $2::numeric)`, q1, v))
	}
	require.NoError(t, testDB.Exec(ctx,
		`INSERT INTO fred_observations (series_id, observation_date, value) VALUES ('GDP', $1, 9)`, q1.AddDate(0, 3, 0)))

	err := testDB.InitializeDB(ctx)
	require.ErrorContains(t, err, "run the dedupe command first")

	var removed int64
	err = testDB.InTx(ctx, func(ctx context.Context) error {
		n, err := testDB.DeduplicateObservations(ctx)
		if err != nil {
			return err
		}
		removed = n
		return testDB.EnsureUniqueConstraint(ctx)
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	got, err := testDB.GetObservation(ctx, "GDP", q1)
	require.NoError(t, err)
	require.True(t, got.Value.Decimal.Equal(decimal.NewFromInt(3)))

	// upserts work again once the constraint is back
	counts, err := e.UpsertObservations(ctx, "GDP", []seriesmodels.Observation{obs("GDP", q1, "4")})
	require.NoError(t, err)
	require.Equal(t, seriesmodels.Counts{Updated: 1}, counts)

	require.NoError(t, testDB.InitializeDB(ctx))
}

func TestEnsureUniqueConstraintIgnoresOtherTables(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()
	e := newTestEngine(t)
	seedSeries(t, e, "GDP")

	// same constraint name on an unrelated table
	require.NoError(t, testDB.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS unrelated_checks (n INT CONSTRAINT %s CHECK (n > 0))`,
		seriesmodels.ObservationsUniqueConstraint)))
	t.Cleanup(func() {
		_ = testDB.Exec(context.Background(), `DROP TABLE IF EXISTS unrelated_checks`)
	})
	require.NoError(t, testDB.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT %s`,
		seriesmodels.ObservationsTableName, seriesmodels.ObservationsUniqueConstraint)))

	require.NoError(t, testDB.EnsureUniqueConstraint(ctx))

	var onObservations bool
	err := testDB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = $1 AND conrelid = $2::regclass)`,
		seriesmodels.ObservationsUniqueConstraint, seriesmodels.ObservationsTableName).Scan(&onObservations)
	require.NoError(t, err)
	require.True(t, onObservations)

	require.NoError(t, testDB.Exec(ctx,
		`INSERT INTO fred_observations (series_id, observation_date, value) VALUES ('GDP', $1, 1)`, q1))
	err = testDB.Exec(ctx,
		`INSERT INTO fred_observations (series_id, observation_date, value) VALUES ('GDP', $1, 2)`, q1)
	require.True(t, postgres.IsUniqueViolation(err), "%v", err)
}
