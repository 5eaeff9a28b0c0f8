package transform

import (
	"errors"
	"fmt"
)

// ErrMissingRequiredField is wrapped by a TransformationError when a series record lacks its id or title.
var ErrMissingRequiredField = errors.New("missing required field")

// TransformationError reports why a raw record could not become a typed value.
type TransformationError struct {
	SeriesID string
	Field    string
	Err      error
}

func (e *TransformationError) Error() string {
	if e.SeriesID == "" {
		return fmt.Sprintf("transform series: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("transform series %s: %s: %v", e.SeriesID, e.Field, e.Err)
}

func (e *TransformationError) Unwrap() error {
	return e.Err
}
