package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/fred"
	"github.com/fredx-io/fredx/pkg/utils"
)

const lastUpdatedLayout = "2006-01-02 15:04:05"

// utcOffsetSuffix matches the trailing offset of values like "2025-07-30 07:56:35-05".
var utcOffsetSuffix = regexp.MustCompile(`[+-]\d{2}(:?\d{2})?$`)

// NormalizeSeries converts one raw series record into a Series.
// Only a missing id or title is an error; every other malformed field becomes its zero value.
// The id is never truncated, an overlong id is left for the validator to reject.
// CreatedAt and UpdatedAt are left zero for the store to set.
func NormalizeSeries(raw fred.RawSeries) (*series.Series, error) {
	id := strings.TrimSpace(stringField(raw, "id"))
	if id == "" {
		return nil, &TransformationError{Field: "id", Err: ErrMissingRequiredField}
	}
	title := strings.TrimSpace(stringField(raw, "title"))
	if title == "" {
		return nil, &TransformationError{SeriesID: id, Field: "title", Err: ErrMissingRequiredField}
	}

	s := &series.Series{
		SeriesID:           id,
		Title:              utils.Truncate(title, series.MaxTitleLen),
		Category:           utils.Truncate(stringField(raw, "category_id"), series.MaxCategoryLen),
		Subcategory:        utils.Truncate(stringField(raw, "subcategory"), series.MaxSubcategoryLen),
		Units:              utils.Truncate(stringField(raw, "units"), series.MaxUnitsLen),
		UnitsShort:         utils.Truncate(stringField(raw, "units_short"), series.MaxUnitsShortLen),
		Frequency:          utils.Truncate(stringField(raw, "frequency"), series.MaxFrequencyLen),
		FrequencyShort:     utils.Truncate(stringField(raw, "frequency_short"), series.MaxFrequencyShortLen),
		SeasonalAdjustment: utils.Truncate(stringField(raw, "seasonal_adjustment"), series.MaxSeasonalAdjustmentLen),
		Source:             utils.Truncate(stringField(raw, "source"), series.MaxSourceLen),
		Notes:              stringField(raw, "notes"),
		ObservationStart:   ParseDate(stringField(raw, "observation_start")),
		ObservationEnd:     ParseDate(stringField(raw, "observation_end")),
		LastUpdated:        ParseLastUpdated(stringField(raw, "last_updated")),
		Popularity:         intField(raw, "popularity"),
	}
	return s, nil
}

// ParseDate parses a YYYY-MM-DD date. Anything else yields nil.
func ParseDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	t, err := time.Parse(series.DateLayout, v)
	if err != nil {
		return nil
	}
	return &t
}

// ParseLastUpdated parses "2025-07-30 07:56:35-05". The UTC offset is dropped and the wall clock
// time is kept. A bare date is accepted too. Anything else yields nil.
func ParseLastUpdated(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if strings.Contains(v, " ") {
		v = utcOffsetSuffix.ReplaceAllString(v, "")
		t, err := time.Parse(lastUpdatedLayout, v)
		if err != nil {
			return nil
		}
		return &t
	}
	return ParseDate(v)
}

// stringField renders strings and numbers as text. Other types, including nil, become "".
func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// intField accepts numbers and numeric strings. Anything else is 0.
func intField(raw map[string]any, key string) int {
	var f float64
	switch v := raw[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = v
	case int:
		return v
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(f)
}
