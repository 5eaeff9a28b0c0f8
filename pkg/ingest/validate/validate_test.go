package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestValidSeries(t *testing.T) {
	require.True(t, ValidSeries(&series.Series{SeriesID: "GDP", Title: "Gross Domestic Product"}))
	require.True(t, ValidSeries(&series.Series{SeriesID: strings.Repeat("A", 50), Title: "t"}))

	require.False(t, ValidSeries(nil))
	require.False(t, ValidSeries(&series.Series{Title: "no id"}))
	require.False(t, ValidSeries(&series.Series{SeriesID: "GDP"}))
	require.False(t, ValidSeries(&series.Series{SeriesID: strings.Repeat("A", 51), Title: "t"}))
}

func TestSeriesReason(t *testing.T) {
	require.Equal(t, "", SeriesReason(&series.Series{SeriesID: "GDP", Title: "t"}))
	require.Equal(t, "title is required", SeriesReason(&series.Series{SeriesID: "GDP"}))
	require.Equal(t, "series_id is longer than 50", SeriesReason(&series.Series{SeriesID: strings.Repeat("A", 51), Title: "t"}))
}

func TestValidObservation(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, ValidObservation(&series.Observation{SeriesID: "GDP", ObservationDate: date}))
	// a NULL value is valid
	require.True(t, ValidObservation(&series.Observation{SeriesID: "GDP", ObservationDate: date, Value: decimal.NullDecimal{}}))

	require.False(t, ValidObservation(nil))
	require.False(t, ValidObservation(&series.Observation{ObservationDate: date}))
	require.False(t, ValidObservation(&series.Observation{SeriesID: "GDP"}))
	require.Equal(t, "observation_date is required", ObservationReason(&series.Observation{SeriesID: "GDP"}))
}

func TestFilterObservationsDoesNotMutate(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []series.Observation{
		{SeriesID: "GDP", ObservationDate: date},
		{SeriesID: "", ObservationDate: date},
		{SeriesID: "GDP", ObservationDate: date.AddDate(0, 3, 0)},
	}
	snapshot := append([]series.Observation(nil), in...)

	valid, rejected := FilterObservations(in)
	require.Len(t, valid, 2)
	require.Len(t, rejected, 1)
	require.Equal(t, "series_id is required", rejected[0].Reason)
	require.Equal(t, snapshot, in)
}
