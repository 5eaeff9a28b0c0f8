package series

import (
	"time"
)

const SeriesTableName = "fred_series"

// Column limits of fred_series. Values longer than these are truncated by the normalizer.
const (
	MaxSeriesIDLen           = 50
	MaxTitleLen              = 500
	MaxCategoryLen           = 100
	MaxSubcategoryLen        = 100
	MaxUnitsLen              = 200
	MaxUnitsShortLen         = 50
	MaxFrequencyLen          = 20
	MaxFrequencyShortLen     = 5
	MaxSeasonalAdjustmentLen = 50
	MaxSourceLen             = 200
)

// Series describes one named time series. SeriesID is immutable once stored.
// CreatedAt and UpdatedAt are written by the store, never taken from the source.
type Series struct {
	SeriesID           string     `json:"series_id" db:"series_id" validate:"required,max=50"`
	Title              string     `json:"title" db:"title" validate:"required"`
	Category           string     `json:"category,omitempty" db:"category"`
	Subcategory        string     `json:"subcategory,omitempty" db:"subcategory"`
	Units              string     `json:"units,omitempty" db:"units"`
	UnitsShort         string     `json:"units_short,omitempty" db:"units_short"`
	Frequency          string     `json:"frequency,omitempty" db:"frequency"`             // Quarterly
	FrequencyShort     string     `json:"frequency_short,omitempty" db:"frequency_short"` // Q
	SeasonalAdjustment string     `json:"seasonal_adjustment,omitempty" db:"seasonal_adjustment"`
	Source             string     `json:"source,omitempty" db:"source"`
	Notes              string     `json:"notes,omitempty" db:"notes"`
	ObservationStart   *time.Time `json:"observation_start,omitempty" db:"observation_start"`
	ObservationEnd     *time.Time `json:"observation_end,omitempty" db:"observation_end"`
	LastUpdated        *time.Time `json:"last_updated,omitempty" db:"last_updated"` // source side update time
	Popularity         int        `json:"popularity" db:"popularity"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// SeriesOutcome reports what a metadata upsert did. Both flags are false when the
// series already existed and updating was not requested.
type SeriesOutcome struct {
	Added   bool `json:"added"`
	Updated bool `json:"updated"`
}
