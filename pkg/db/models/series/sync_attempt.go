package series

import (
	"time"

	"github.com/google/uuid"
)

const SyncLogTableName = "fred_sync_log"

// SyncAttempt records one ingestion run of one series. Rows are append-only.
type SyncAttempt struct {
	ID             int64     `json:"id,omitempty" db:"id"`
	RunID          uuid.UUID `json:"run_id" db:"run_id"`
	SeriesID       string    `json:"series_id" db:"series_id"`
	SyncDate       time.Time `json:"sync_date" db:"sync_date"`
	RecordsAdded   int       `json:"records_added" db:"records_added"`
	RecordsUpdated int       `json:"records_updated" db:"records_updated"`
	Success        bool      `json:"success" db:"success"`
	ErrorMessage   *string   `json:"error_message,omitempty" db:"error_message"`
	APICallsUsed   int       `json:"api_calls_used" db:"api_calls_used"`
}
