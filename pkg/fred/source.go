package fred

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	seriesPath       = "series"
	observationsPath = "series/observations"
)

// RawSeries is one series record exactly as the API returned it. Numbers are json.Number.
type RawSeries map[string]any

// RawObservation is one observation record exactly as the API returned it.
type RawObservation map[string]any

// ObservationQuery narrows an observation fetch. Zero values are omitted from the request.
type ObservationQuery struct {
	Start     *time.Time
	End       *time.Time
	Limit     int
	SortOrder string // asc or desc
}

// Source is the upstream statistics API consumed by the orchestrator.
type Source interface {
	FetchSeries(ctx context.Context, seriesID string) (RawSeries, error)
	FetchObservations(ctx context.Context, seriesID string, q ObservationQuery) ([]RawObservation, error)
}

var _ Source = (*Client)(nil)

// FetchSeries returns the metadata record of a series.
func (c *Client) FetchSeries(ctx context.Context, seriesID string) (RawSeries, error) {
	body, status, err := c.getJSON(ctx, seriesPath, url.Values{"series_id": {seriesID}})
	if err != nil {
		return nil, &FetchError{Op: "series", SeriesID: seriesID, Status: status, Err: err}
	}

	list, ok := body["seriess"].([]any)
	if !ok {
		return nil, &FetchError{Op: "series", SeriesID: seriesID, Status: status,
			Err: fmt.Errorf("%w: no seriess array", ErrUnexpectedPayload)}
	}
	if len(list) == 0 {
		return nil, &FetchError{Op: "series", SeriesID: seriesID, Status: status, Err: ErrNotFound}
	}
	rec, ok := list[0].(map[string]any)
	if !ok {
		return nil, &FetchError{Op: "series", SeriesID: seriesID, Status: status,
			Err: fmt.Errorf("unexpected record type %T", list[0])}
	}
	return RawSeries(rec), nil
}

// FetchObservations returns the observation records of a series within q.
// An empty list is a valid answer. Items that are not objects come back as nil records
// so the normalizer rejects and counts them.
func (c *Client) FetchObservations(ctx context.Context, seriesID string, q ObservationQuery) ([]RawObservation, error) {
	params := url.Values{"series_id": {seriesID}}
	if q.Start != nil {
		params.Set("observation_start", q.Start.Format("2006-01-02"))
	}
	if q.End != nil {
		params.Set("observation_end", q.End.Format("2006-01-02"))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.SortOrder != "" {
		params.Set("sort_order", q.SortOrder)
	}

	body, status, err := c.getJSON(ctx, observationsPath, params)
	if err != nil {
		return nil, &FetchError{Op: "observations", SeriesID: seriesID, Status: status, Err: err}
	}

	list, ok := body["observations"].([]any)
	if !ok {
		return nil, &FetchError{Op: "observations", SeriesID: seriesID, Status: status,
			Err: fmt.Errorf("%w: no observations array", ErrUnexpectedPayload)}
	}
	out := make([]RawObservation, 0, len(list))
	for _, item := range list {
		rec, _ := item.(map[string]any)
		out = append(out, RawObservation(rec))
	}
	return out, nil
}
