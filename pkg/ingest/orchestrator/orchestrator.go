package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/fred"
	"github.com/fredx-io/fredx/pkg/ingest/ledger"
	"github.com/fredx-io/fredx/pkg/ingest/transform"
	"github.com/fredx-io/fredx/pkg/ingest/upsert"
	"github.com/fredx-io/fredx/pkg/ingest/validate"
	"github.com/fredx-io/fredx/pkg/retry"
	"github.com/fredx-io/fredx/pkg/utils"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const ledgerWriteTimeout = 5 * time.Second

// ErrInvalidSeries is returned when normalized metadata fails validation.
var ErrInvalidSeries = errors.New("invalid series")

// Notifier receives one event per finished series. It must not block for long and never fails the sync.
type Notifier interface {
	SeriesSynced(ctx context.Context, ev series.SyncEvent)
}

type nopNotifier struct{}

func (nopNotifier) SeriesSynced(context.Context, series.SyncEvent) {}

// Orchestrator runs fetch, normalize, validate, upsert and ledger for each requested series.
type Orchestrator struct {
	source   fred.Source
	engine   *upsert.Engine
	ledger   *ledger.Ledger
	notifier Notifier
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires an orchestrator. A nil notifier disables notifications.
func New(source fred.Source, engine *upsert.Engine, syncLog *ledger.Ledger, notifier Notifier, logger *zap.Logger) *Orchestrator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Orchestrator{
		source:   source,
		engine:   engine,
		ledger:   syncLog,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IngestSeries syncs one series under a fresh run id. The returned error equals result.Err.
func (o *Orchestrator) IngestSeries(ctx context.Context, seriesID string, opts Options) (SeriesResult, error) {
	result := o.ingest(ctx, uuid.New(), seriesID, opts)
	return result, result.Err
}

// SyncMany syncs every distinct id. A failing series never stops the others; each one gets its
// own ledger row. Series start at least opts.SeriesDelay apart. Once ctx is cancelled no new
// series is started and the remaining ones are reported as failed.
func (o *Orchestrator) SyncMany(ctx context.Context, seriesIDs []string, opts Options) Summary {
	ids := utils.Dedup(seriesIDs)
	runID := uuid.New()
	started := o.now().UTC()
	results := xsync.NewMapOf[string, SeriesResult]()

	logger := o.logger.With(zap.String("run_id", runID.String()))
	logger.Info("Sync run starting",
		zap.Int("series", len(ids)),
		zap.String("window", opts.Window.String()),
		zap.Bool("update_metadata", opts.UpdateMetadata),
		zap.Int("concurrency", max(opts.Concurrency, 1)))

	if opts.Concurrency <= 1 {
		o.runSequential(ctx, runID, ids, opts, results)
	} else {
		o.runPooled(ctx, runID, ids, opts, results)
	}

	summary := Summary{
		RunID:       runID,
		Timestamp:   started,
		TotalSeries: len(ids),
		Results:     make([]SeriesResult, 0, len(ids)),
	}
	for _, id := range ids {
		r, ok := results.Load(id)
		if !ok {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = errors.New("run stopped")
			}
			err := fmt.Errorf("not attempted: %w", cause)
			r = SeriesResult{SeriesID: id, Err: err, Error: err.Error()}
		}
		summary.Results = append(summary.Results, r)
		summary.TotalAPICalls += r.APICalls
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	logger.Info("Sync run finished",
		zap.Int("total", summary.TotalSeries),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("api_calls", summary.TotalAPICalls),
		zap.Duration("elapsed", o.now().Sub(started)))
	return summary
}

func (o *Orchestrator) runSequential(ctx context.Context, runID uuid.UUID, ids []string, opts Options, results *xsync.MapOf[string, SeriesResult]) {
	for i, id := range ids {
		if ctx.Err() != nil {
			return
		}
		results.Store(id, o.ingest(ctx, runID, id, opts))

		if i < len(ids)-1 {
			if err := o.sleep(ctx, opts.SeriesDelay); err != nil {
				return
			}
		}
	}
}

func (o *Orchestrator) runPooled(ctx context.Context, runID uuid.UUID, ids []string, opts Options, results *xsync.MapOf[string, SeriesResult]) {
	pool := pond.NewPool(opts.Concurrency, pond.WithQueueSize(len(ids)))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	var (
		paceMu    sync.Mutex
		lastStart time.Time
	)
	// pace blocks until SeriesDelay has passed since the previous series started.
	pace := func() error {
		paceMu.Lock()
		defer paceMu.Unlock()
		if !lastStart.IsZero() {
			if wait := opts.SeriesDelay - o.now().Sub(lastStart); wait > 0 {
				if err := o.sleep(groupCtx, wait); err != nil {
					return err
				}
			}
		}
		lastStart = o.now()
		return nil
	}

	for _, id := range ids {
		id := id
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			if err := pace(); err != nil {
				return
			}
			results.Store(id, o.ingest(groupCtx, runID, id, opts))
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		o.logger.Warn("Sync workers stopped with error", zap.String("run_id", runID.String()), zap.Error(err))
	}
}

// ingest runs the whole pipeline for one series and always leaves one ledger row behind.
func (o *Orchestrator) ingest(ctx context.Context, runID uuid.UUID, seriesID string, opts Options) SeriesResult {
	start := o.now()
	logger := o.logger.With(zap.String("series_id", seriesID), zap.String("run_id", runID.String()))
	result := SeriesResult{SeriesID: seriesID}

	err := o.pipeline(ctx, logger, seriesID, opts, &result)
	result.Duration = o.now().Sub(start)
	if err != nil {
		result.Err = err
		result.Error = err.Error()
		result.RecordsAdded, result.RecordsUpdated = 0, 0
		logger.Error("Series sync failed",
			zap.Int("api_calls", result.APICalls),
			zap.Duration("duration", result.Duration),
			zap.Error(err))
	} else {
		result.Success = true
		logger.Info("Series synced",
			zap.Bool("series_added", result.SeriesAdded),
			zap.Int("records_added", result.RecordsAdded),
			zap.Int("records_updated", result.RecordsUpdated),
			zap.Int("rejected", result.Rejected),
			zap.Int("api_calls", result.APICalls),
			zap.Duration("duration", result.Duration))
	}

	attempt := series.SyncAttempt{
		RunID:          runID,
		SeriesID:       seriesID,
		SyncDate:       o.now().UTC(),
		RecordsAdded:   result.RecordsAdded,
		RecordsUpdated: result.RecordsUpdated,
		Success:        result.Success,
		APICallsUsed:   result.APICalls,
	}
	if err != nil {
		msg := err.Error()
		attempt.ErrorMessage = &msg
	}
	// the attempt is recorded even when ctx was cancelled mid-series
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()
	o.ledger.Record(recordCtx, attempt)

	o.notifier.SeriesSynced(recordCtx, series.SyncEvent{
		RunID:          runID,
		SeriesID:       seriesID,
		Success:        result.Success,
		RecordsAdded:   result.RecordsAdded,
		RecordsUpdated: result.RecordsUpdated,
		Rejected:       result.Rejected,
		Error:          result.Error,
		SyncedAt:       attempt.SyncDate,
	})

	return result
}

func (o *Orchestrator) pipeline(ctx context.Context, logger *zap.Logger, seriesID string, opts Options, result *SeriesResult) error {
	// metadata
	var raw fred.RawSeries
	err := o.fetch(ctx, logger, opts, "fetch_series", result, func() (err error) {
		raw, err = o.source.FetchSeries(ctx, seriesID)
		return err
	})
	if err != nil {
		return err
	}

	meta, err := transform.NormalizeSeries(raw)
	if err != nil {
		return err
	}
	if meta.SeriesID != seriesID {
		logger.Warn("Source returned a different series id", zap.String("returned_id", meta.SeriesID))
		meta.SeriesID = seriesID
	}
	if reason := validate.SeriesReason(meta); reason != "" {
		return fmt.Errorf("%w %s: %s", ErrInvalidSeries, seriesID, reason)
	}

	outcome, err := o.engine.UpsertSeries(ctx, meta, opts.UpdateMetadata)
	if err != nil {
		return err
	}
	result.SeriesAdded, result.SeriesUpdated = outcome.Added, outcome.Updated

	// observations
	query := fred.ObservationQuery{Start: opts.Window.Start(o.now(), outcome.Added)}
	var rawObs []fred.RawObservation
	err = o.fetch(ctx, logger, opts, "fetch_observations", result, func() (err error) {
		rawObs, err = o.source.FetchObservations(ctx, seriesID, query)
		return err
	})
	if err != nil {
		return err
	}

	points, rejections := transform.NormalizeObservations(rawObs, seriesID)
	for _, r := range rejections {
		logger.Warn("Observation rejected by normalizer",
			zap.Int("index", r.Index),
			zap.String("date", r.Date),
			zap.String("reason", r.Reason))
	}
	valid, invalid := validate.FilterObservations(points)
	for _, r := range invalid {
		logger.Warn("Observation rejected by validator",
			zap.Time("date", r.Observation.ObservationDate),
			zap.String("reason", r.Reason))
	}
	result.Rejected = len(rejections) + len(invalid)

	counts, err := o.engine.UpsertObservations(ctx, seriesID, valid)
	if err != nil {
		return err
	}
	result.RecordsAdded, result.RecordsUpdated = counts.Added, counts.Updated

	logger.Debug("Observations processed",
		zap.Int("fetched", len(rawObs)),
		zap.Int("stored", counts.Total()),
		zap.Int("rejected", result.Rejected))
	return nil
}

// fetch runs one source call, retried only when opts.FetchRetry opts in. Every attempt counts as an API call.
func (o *Orchestrator) fetch(ctx context.Context, logger *zap.Logger, opts Options, operation string, result *SeriesResult, call func() error) error {
	return retry.WithBackoffIf(ctx, opts.FetchRetry, logger, operation, fred.IsRetryable, func() error {
		result.APICalls++
		return call()
	})
}
