package series

import (
	"context"
	"fmt"
	"time"

	seriesmodels "github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/db/postgres"
)

// initSeries creates the fred_series table
func (db *DB) initSeries(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS fred_series (
			series_id VARCHAR(50) PRIMARY KEY,
			title VARCHAR(500) NOT NULL,
			category VARCHAR(100),
			subcategory VARCHAR(100),
			units VARCHAR(200),
			units_short VARCHAR(50),
			frequency VARCHAR(20),
			frequency_short VARCHAR(5),
			seasonal_adjustment VARCHAR(50),
			source VARCHAR(200),
			notes TEXT,
			observation_start DATE,
			observation_end DATE,
			last_updated TIMESTAMP,
			popularity INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`

	return db.Exec(ctx, query)
}

const seriesColumns = `
	series_id, title, COALESCE(category, ''), COALESCE(subcategory, ''), COALESCE(units, ''),
	COALESCE(units_short, ''), COALESCE(frequency, ''), COALESCE(frequency_short, ''),
	COALESCE(seasonal_adjustment, ''), COALESCE(source, ''), COALESCE(notes, ''),
	observation_start, observation_end, last_updated, popularity, created_at, updated_at
`

// GetSeries returns the stored series, or nil when it does not exist.
func (db *DB) GetSeries(ctx context.Context, seriesID string) (*seriesmodels.Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM fred_series WHERE series_id = $1`

	var s seriesmodels.Series
	err := db.QueryRow(ctx, query, seriesID).Scan(
		&s.SeriesID, &s.Title, &s.Category, &s.Subcategory, &s.Units,
		&s.UnitsShort, &s.Frequency, &s.FrequencyShort,
		&s.SeasonalAdjustment, &s.Source, &s.Notes,
		&s.ObservationStart, &s.ObservationEnd, &s.LastUpdated, &s.Popularity, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get series %s: %w", seriesID, err)
	}
	return &s, nil
}

// InsertSeriesIfAbsent inserts the series unless a row with the same id exists.
// It reports whether a row was inserted. An existing row is never touched.
func (db *DB) InsertSeriesIfAbsent(ctx context.Context, s *seriesmodels.Series) (bool, error) {
	query := `
		INSERT INTO fred_series (
			series_id, title, category, subcategory, units, units_short, frequency, frequency_short,
			seasonal_adjustment, source, notes, observation_start, observation_end, last_updated,
			popularity, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		ON CONFLICT (series_id) DO NOTHING
		RETURNING series_id
	`

	var id string
	err := db.QueryRow(ctx, query, seriesArgs(s)...).Scan(&id)
	if err != nil {
		if postgres.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert series %s: %w", s.SeriesID, err)
	}
	return true, nil
}

// UpsertSeries inserts the series or overwrites every stored column except created_at.
// It reports whether the row was newly inserted.
func (db *DB) UpsertSeries(ctx context.Context, s *seriesmodels.Series) (bool, error) {
	query := `
		INSERT INTO fred_series (
			series_id, title, category, subcategory, units, units_short, frequency, frequency_short,
			seasonal_adjustment, source, notes, observation_start, observation_end, last_updated,
			popularity, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		ON CONFLICT (series_id) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			units = EXCLUDED.units,
			units_short = EXCLUDED.units_short,
			frequency = EXCLUDED.frequency,
			frequency_short = EXCLUDED.frequency_short,
			seasonal_adjustment = EXCLUDED.seasonal_adjustment,
			source = EXCLUDED.source,
			notes = EXCLUDED.notes,
			observation_start = EXCLUDED.observation_start,
			observation_end = EXCLUDED.observation_end,
			last_updated = EXCLUDED.last_updated,
			popularity = EXCLUDED.popularity,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`

	var inserted bool
	if err := db.QueryRow(ctx, query, seriesArgs(s)...).Scan(&inserted); err != nil {
		return false, fmt.Errorf("upsert series %s: %w", s.SeriesID, err)
	}
	return inserted, nil
}

func seriesArgs(s *seriesmodels.Series) []any {
	return []any{
		s.SeriesID,
		s.Title,
		nullString(s.Category),
		nullString(s.Subcategory),
		nullString(s.Units),
		nullString(s.UnitsShort),
		nullString(s.Frequency),
		nullString(s.FrequencyShort),
		nullString(s.SeasonalAdjustment),
		nullString(s.Source),
		nullString(s.Notes),
		nullDate(s.ObservationStart),
		nullDate(s.ObservationEnd),
		s.LastUpdated,
		s.Popularity,
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := seriesmodels.Date(*t)
	return &d
}
