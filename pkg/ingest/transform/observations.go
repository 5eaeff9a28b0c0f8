package transform

import (
	"encoding/json"
	"strings"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/fred"
	"github.com/shopspring/decimal"
)

// missingValue is what the source reports for a date without data.
const missingValue = "."

// Rejection describes a raw observation that could not be normalized.
type Rejection struct {
	Index  int    `json:"index"`
	Date   string `json:"date,omitempty"`
	Reason string `json:"reason"`
}

// NormalizeObservations converts raw observations of seriesID into typed points.
// Records without a parseable date are returned as rejections, in input order.
// A missing or non-numeric value is kept as a NULL value; it never causes a rejection.
func NormalizeObservations(raw []fred.RawObservation, seriesID string) ([]series.Observation, []Rejection) {
	points := make([]series.Observation, 0, len(raw))
	var rejected []Rejection

	for i, rec := range raw {
		if rec == nil {
			rejected = append(rejected, Rejection{Index: i, Reason: "empty record"})
			continue
		}

		dateText := strings.TrimSpace(stringField(rec, "date"))
		if dateText == "" {
			rejected = append(rejected, Rejection{Index: i, Reason: "missing date"})
			continue
		}
		date := ParseDate(dateText)
		if date == nil {
			rejected = append(rejected, Rejection{Index: i, Date: dateText, Reason: "unparseable date"})
			continue
		}

		points = append(points, series.Observation{
			SeriesID:        seriesID,
			ObservationDate: *date,
			Value:           ParseValue(rec["value"]),
			RealtimeStart:   ParseDate(stringField(rec, "realtime_start")),
			RealtimeEnd:     ParseDate(stringField(rec, "realtime_end")),
		})
	}

	return points, rejected
}

// ParseValue turns a raw value into a decimal. ".", "" and non-numeric text become NULL.
func ParseValue(v any) decimal.NullDecimal {
	var text string
	switch t := v.(type) {
	case string:
		text = strings.TrimSpace(t)
	case json.Number:
		text = t.String()
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(t))
	default:
		return decimal.NullDecimal{}
	}

	if text == "" || text == missingValue {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
