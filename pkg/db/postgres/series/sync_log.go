package series

import (
	"context"
	"fmt"

	seriesmodels "github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/db/postgres"
	"github.com/jackc/pgx/v5"
)

// initSyncLog creates the append-only fred_sync_log table
func (db *DB) initSyncLog(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS fred_sync_log (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID,
			series_id VARCHAR(50) NOT NULL,
			sync_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			records_added INTEGER NOT NULL DEFAULT 0,
			records_updated INTEGER NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			api_calls_used INTEGER NOT NULL DEFAULT 0
		)
	`
	if err := db.Exec(ctx, query); err != nil {
		return err
	}

	return db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_fred_sync_log_series_date ON fred_sync_log (series_id, sync_date DESC)`)
}

// InsertSyncAttempt appends one attempt and returns its id.
func (db *DB) InsertSyncAttempt(ctx context.Context, a *seriesmodels.SyncAttempt) (int64, error) {
	query := `
		INSERT INTO fred_sync_log (
			run_id, series_id, sync_date, records_added, records_updated, success, error_message, api_calls_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := db.QueryRow(ctx, query,
		a.RunID, a.SeriesID, a.SyncDate, a.RecordsAdded, a.RecordsUpdated, a.Success, a.ErrorMessage, a.APICallsUsed,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sync attempt %s: %w", a.SeriesID, err)
	}
	return id, nil
}

const syncLogColumns = `id, COALESCE(run_id, '00000000-0000-0000-0000-000000000000'::uuid), series_id, sync_date,
	records_added, records_updated, success, error_message, api_calls_used`

// LatestSyncAttempt returns the most recent attempt for the series, or nil when there is none.
func (db *DB) LatestSyncAttempt(ctx context.Context, seriesID string) (*seriesmodels.SyncAttempt, error) {
	query := `SELECT ` + syncLogColumns + ` FROM fred_sync_log WHERE series_id = $1 ORDER BY sync_date DESC, id DESC LIMIT 1`

	a, err := scanSyncAttempt(db.QueryRow(ctx, query, seriesID))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest sync attempt %s: %w", seriesID, err)
	}
	return a, nil
}

// SyncHistory returns up to limit attempts for the series, newest first.
func (db *DB) SyncHistory(ctx context.Context, seriesID string, limit int) ([]seriesmodels.SyncAttempt, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + syncLogColumns + ` FROM fred_sync_log WHERE series_id = $1 ORDER BY sync_date DESC, id DESC LIMIT $2`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, seriesID, limit)
	if err != nil {
		return nil, fmt.Errorf("sync history %s: %w", seriesID, err)
	}
	defer rows.Close()

	out := make([]seriesmodels.SyncAttempt, 0, limit)
	for rows.Next() {
		a, err := scanSyncAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync attempt %s: %w", seriesID, err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanSyncAttempt(row pgx.Row) (*seriesmodels.SyncAttempt, error) {
	var a seriesmodels.SyncAttempt
	if err := row.Scan(&a.ID, &a.RunID, &a.SeriesID, &a.SyncDate,
		&a.RecordsAdded, &a.RecordsUpdated, &a.Success, &a.ErrorMessage, &a.APICallsUsed); err != nil {
		return nil, err
	}
	return &a, nil
}
