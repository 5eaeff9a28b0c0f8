package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// SeriesResult is the outcome of syncing one series.
type SeriesResult struct {
	SeriesID       string        `json:"series_id"`
	Success        bool          `json:"success"`
	SeriesAdded    bool          `json:"series_added"`
	SeriesUpdated  bool          `json:"series_updated"`
	RecordsAdded   int           `json:"records_added"`
	RecordsUpdated int           `json:"records_updated"`
	Rejected       int           `json:"rejected"`
	APICalls       int           `json:"api_calls"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`

	Err error `json:"-"`
}

// Summary is the outcome of a multi-series sync.
type Summary struct {
	RunID         uuid.UUID      `json:"run_id"`
	Timestamp     time.Time      `json:"timestamp"`
	TotalSeries   int            `json:"total_series"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	TotalAPICalls int            `json:"total_api_calls"`
	Results       []SeriesResult `json:"results"`
}

// Failures returns the failed results in input order.
func (s Summary) Failures() []SeriesResult {
	var out []SeriesResult
	for _, r := range s.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
