package series

import (
	"time"

	"github.com/shopspring/decimal"
)

const ObservationsTableName = "fred_observations"

// ObservationsUniqueConstraint guards (series_id, observation_date). Upserts depend on it.
const ObservationsUniqueConstraint = "uk_fred_observations_series_date"

// DateLayout is the calendar date format used by the source and by the CLI.
const DateLayout = "2006-01-02"

// Observation is one data point of one series at one date.
// An invalid Value means no data was reported for the date, which is not the same as zero.
type Observation struct {
	ID              int64               `json:"id,omitempty" db:"id"`
	SeriesID        string              `json:"series_id" db:"series_id" validate:"required"`
	ObservationDate time.Time           `json:"observation_date" db:"observation_date" validate:"required"`
	Value           decimal.NullDecimal `json:"value" db:"value"`
	RealtimeStart   *time.Time          `json:"realtime_start,omitempty" db:"realtime_start"`
	RealtimeEnd     *time.Time          `json:"realtime_end,omitempty" db:"realtime_end"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
}

// Key returns the unique key of the observation.
func (o Observation) Key() ObservationKey {
	return ObservationKey{SeriesID: o.SeriesID, Date: o.ObservationDate.Format(DateLayout)}
}

// ObservationKey identifies an observation by series and calendar date.
type ObservationKey struct {
	SeriesID string
	Date     string
}

// Counts tallies the outcome of an observation upsert batch.
type Counts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

// Total returns the number of rows written.
func (c Counts) Total() int {
	return c.Added + c.Updated
}

// Date truncates t to a UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
