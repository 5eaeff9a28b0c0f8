package series

import (
	"context"
	"fmt"
	"time"

	seriesmodels "github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/db/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// initObservations creates the fred_observations table.
// The unique constraint is added by EnsureUniqueConstraint so legacy tables get it too.
func (db *DB) initObservations(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS fred_observations (
			id BIGSERIAL PRIMARY KEY,
			series_id VARCHAR(50) NOT NULL REFERENCES fred_series(series_id) ON DELETE CASCADE,
			observation_date DATE NOT NULL,
			value NUMERIC(20, 6),
			realtime_start DATE,
			realtime_end DATE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`
	if err := db.Exec(ctx, query); err != nil {
		return err
	}

	return db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_fred_observations_date ON fred_observations (observation_date)`)
}

// upsertObservationQuery writes one point. The incoming row always wins, including a NULL value.
// xmax is 0 only for a freshly inserted tuple.
const upsertObservationQuery = `
	INSERT INTO fred_observations (series_id, observation_date, value, realtime_start, realtime_end, created_at)
	VALUES ($1, $2, $3::numeric, $4, $5, NOW())
	ON CONFLICT (series_id, observation_date) DO UPDATE SET
		value = EXCLUDED.value,
		realtime_start = EXCLUDED.realtime_start,
		realtime_end = EXCLUDED.realtime_end
	RETURNING (xmax = 0)
`

// UpsertObservations writes every point with one round trip and classifies each row as added or updated.
// Dates must be unique within points. Run it inside InTx to get all-or-nothing semantics.
func (db *DB) UpsertObservations(ctx context.Context, points []seriesmodels.Observation) (seriesmodels.Counts, error) {
	var counts seriesmodels.Counts
	if len(points) == 0 {
		return counts, nil
	}

	batch := &pgx.Batch{}
	for i := range points {
		p := &points[i]
		batch.Queue(upsertObservationQuery,
			p.SeriesID,
			seriesmodels.Date(p.ObservationDate),
			decimalText(p.Value),
			nullDate(p.RealtimeStart),
			nullDate(p.RealtimeEnd),
		)
	}

	results := db.GetExecutor(ctx).SendBatch(ctx, batch)
	for i := range points {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			_ = results.Close()
			return seriesmodels.Counts{}, fmt.Errorf("upsert observation %s %s: %w",
				points[i].SeriesID, points[i].ObservationDate.Format(seriesmodels.DateLayout), err)
		}
		if inserted {
			counts.Added++
		} else {
			counts.Updated++
		}
	}
	if err := results.Close(); err != nil {
		return seriesmodels.Counts{}, fmt.Errorf("upsert observations: %w", err)
	}

	return counts, nil
}

const observationColumns = `id, series_id, observation_date, value::text, realtime_start, realtime_end, created_at`

// GetObservation returns the point stored for the date, or nil.
func (db *DB) GetObservation(ctx context.Context, seriesID string, date time.Time) (*seriesmodels.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM fred_observations WHERE series_id = $1 AND observation_date = $2`

	obs, err := scanObservation(db.QueryRow(ctx, query, seriesID, seriesmodels.Date(date)))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get observation %s %s: %w", seriesID, date.Format(seriesmodels.DateLayout), err)
	}
	return obs, nil
}

// ListObservations returns every stored point of the series ordered by date.
func (db *DB) ListObservations(ctx context.Context, seriesID string) ([]seriesmodels.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM fred_observations WHERE series_id = $1 ORDER BY observation_date, id`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list observations %s: %w", seriesID, err)
	}
	defer rows.Close()

	out := make([]seriesmodels.Observation, 0)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation %s: %w", seriesID, err)
		}
		out = append(out, *obs)
	}
	return out, rows.Err()
}

// CountObservations returns the number of stored points of the series.
func (db *DB) CountObservations(ctx context.Context, seriesID string) (int64, error) {
	var n int64
	err := db.QueryRow(ctx, `SELECT COUNT(*) FROM fred_observations WHERE series_id = $1`, seriesID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count observations %s: %w", seriesID, err)
	}
	return n, nil
}

// DeduplicateObservations deletes rows sharing (series_id, observation_date), keeping the highest id.
// It returns the number of deleted rows.
func (db *DB) DeduplicateObservations(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM fred_observations a
		USING fred_observations b
		WHERE a.series_id = b.series_id
		  AND a.observation_date = b.observation_date
		  AND a.id < b.id
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("deduplicate observations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnsureUniqueConstraint adds the (series_id, observation_date) constraint when it is missing.
// It fails with a unique violation while duplicates are present.
func (db *DB) EnsureUniqueConstraint(ctx context.Context) error {
	var exists bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = $1 AND conrelid = $2::regclass)`,
		seriesmodels.ObservationsUniqueConstraint, seriesmodels.ObservationsTableName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check constraint %s: %w", seriesmodels.ObservationsUniqueConstraint, err)
	}
	if exists {
		return nil
	}

	db.Logger.Info("Adding observation unique constraint")
	query := fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (series_id, observation_date)`,
		pgx.Identifier{seriesmodels.ObservationsTableName}.Sanitize(),
		pgx.Identifier{seriesmodels.ObservationsUniqueConstraint}.Sanitize())
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("add constraint %s: %w", seriesmodels.ObservationsUniqueConstraint, err)
	}
	return nil
}

func scanObservation(row pgx.Row) (*seriesmodels.Observation, error) {
	var (
		obs   seriesmodels.Observation
		value *string
	)
	if err := row.Scan(&obs.ID, &obs.SeriesID, &obs.ObservationDate, &value,
		&obs.RealtimeStart, &obs.RealtimeEnd, &obs.CreatedAt); err != nil {
		return nil, err
	}
	if value != nil {
		d, err := decimal.NewFromString(*value)
		if err != nil {
			return nil, fmt.Errorf("parse value %q: %w", *value, err)
		}
		obs.Value = decimal.NewNullDecimal(d)
	}
	return &obs, nil
}

// decimalText passes numeric values as text so no precision is lost on the way to NUMERIC.
func decimalText(v decimal.NullDecimal) *string {
	if !v.Valid {
		return nil
	}
	s := v.Decimal.String()
	return &s
}
