package orchestrator

import (
	"fmt"
	"time"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/retry"
	"github.com/fredx-io/fredx/pkg/utils"
)

// DefaultSeriesDelay separates consecutive series of a multi-series sync.
const DefaultSeriesDelay = 500 * time.Millisecond

type windowKind int

const (
	windowFull windowKind = iota
	windowLookback
)

// FetchWindow decides which observation dates to request.
type FetchWindow struct {
	kind windowKind
	days int
}

// FullHistory requests every observation the source has.
func FullHistory() FetchWindow {
	return FetchWindow{kind: windowFull}
}

// Lookback requests the last days days. A series ingested for the first time still gets its
// full history. Non-positive days mean full history.
func Lookback(days int) FetchWindow {
	if days <= 0 {
		return FullHistory()
	}
	return FetchWindow{kind: windowLookback, days: days}
}

// Start returns the first date to request, or nil for no lower bound.
// firstIngest is true when this run inserted the series row.
func (w FetchWindow) Start(now time.Time, firstIngest bool) *time.Time {
	if w.kind != windowLookback || firstIngest {
		return nil
	}
	start := series.Date(now).AddDate(0, 0, -w.days)
	return &start
}

func (w FetchWindow) String() string {
	if w.kind == windowLookback {
		return fmt.Sprintf("lookback(%dd)", w.days)
	}
	return "full"
}

// Options controls one sync run.
type Options struct {
	Window FetchWindow
	// UpdateMetadata overwrites stored series metadata. Without it an existing series row is left alone.
	UpdateMetadata bool
	// SeriesDelay separates the start of consecutive series.
	SeriesDelay time.Duration
	// Concurrency is the number of series synced at once. 1 syncs sequentially.
	Concurrency int
	// FetchRetry opts into retrying transient fetch failures. The zero value, used by
	// DefaultOptions, makes one attempt so a failed fetch fails the series.
	FetchRetry retry.Config
}

// DefaultOptions returns full-history, no-update options with the standard delay.
// Fetch failures are not retried.
func DefaultOptions() Options {
	return Options{
		Window:      FullHistory(),
		SeriesDelay: DefaultSeriesDelay,
		Concurrency: 1,
	}
}

// OptionsFromEnv starts from DefaultOptions and applies INGEST_SERIES_DELAY, INGEST_CONCURRENCY,
// INGEST_LOOKBACK_DAYS and INGEST_UPDATE_METADATA.
func OptionsFromEnv() Options {
	o := DefaultOptions()
	o.SeriesDelay = utils.EnvDuration("INGEST_SERIES_DELAY", o.SeriesDelay)
	o.Concurrency = utils.EnvInt("INGEST_CONCURRENCY", o.Concurrency)
	o.Window = Lookback(utils.EnvInt("INGEST_LOOKBACK_DAYS", 0))
	o.UpdateMetadata = utils.EnvBool("INGEST_UPDATE_METADATA", false)
	return o
}
