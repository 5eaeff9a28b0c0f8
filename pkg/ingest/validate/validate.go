package validate

import (
	"errors"
	"reflect"
	"strings"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names so reasons match the stored column names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidSeries reports whether s can be stored: id present and at most 50 characters, title present.
func ValidSeries(s *series.Series) bool {
	return SeriesReason(s) == ""
}

// ValidObservation reports whether o can be stored: series id present and a non-zero date.
func ValidObservation(o *series.Observation) bool {
	return ObservationReason(o) == ""
}

// SeriesReason returns why s is invalid, or "" when it is valid.
func SeriesReason(s *series.Series) string {
	if s == nil {
		return "nil series"
	}
	return reason(validate.Struct(s))
}

// ObservationReason returns why o is invalid, or "" when it is valid.
func ObservationReason(o *series.Observation) string {
	if o == nil {
		return "nil observation"
	}
	return reason(validate.Struct(o))
}

// Rejected is an observation dropped by FilterObservations.
type Rejected struct {
	Observation series.Observation
	Reason      string
}

// FilterObservations splits points into valid ones and rejects, keeping input order. points is not modified.
func FilterObservations(points []series.Observation) ([]series.Observation, []Rejected) {
	valid := make([]series.Observation, 0, len(points))
	var rejected []Rejected
	for i := range points {
		if r := ObservationReason(&points[i]); r != "" {
			rejected = append(rejected, Rejected{Observation: points[i], Reason: r})
			continue
		}
		valid = append(valid, points[i])
	}
	return valid, rejected
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "max":
			parts = append(parts, fe.Field()+" is longer than "+fe.Param())
		default:
			parts = append(parts, fe.Field()+" failed "+fe.Tag())
		}
	}
	return strings.Join(parts, "; ")
}
