package fred

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey     = errors.New("FRED_API_KEY is not set")
	ErrNotFound          = errors.New("series not found")
	ErrCircuitOpen       = errors.New("circuit breaker open for every endpoint")
	ErrUnexpectedPayload = errors.New("unexpected payload")
)

// FetchError is returned by every Source method. Status is the last HTTP status seen, 0 when
// the request never got a response.
type FetchError struct {
	Op       string
	SeriesID string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fred %s %s (status %d): %v", e.Op, e.SeriesID, e.Status, e.Err)
	}
	return fmt.Sprintf("fred %s %s: %v", e.Op, e.SeriesID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
