package series

import (
	"time"

	"github.com/google/uuid"
)

// SyncEvent announces the outcome of one series sync to downstream listeners.
type SyncEvent struct {
	RunID          uuid.UUID `json:"run_id"`
	SeriesID       string    `json:"series_id"`
	Success        bool      `json:"success"`
	RecordsAdded   int       `json:"records_added"`
	RecordsUpdated int       `json:"records_updated"`
	Rejected       int       `json:"rejected"`
	Error          string    `json:"error,omitempty"`
	SyncedAt       time.Time `json:"synced_at"`
}
