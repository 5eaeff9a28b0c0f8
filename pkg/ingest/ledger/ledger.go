package ledger

import (
	"context"
	"time"

	"github.com/fredx-io/fredx/pkg/db"
	"github.com/fredx-io/fredx/pkg/db/models/series"
	"go.uber.org/zap"
)

// Ledger is the append-only log of sync attempts.
type Ledger struct {
	store  db.SeriesStore
	logger *zap.Logger
	now    func() time.Time
}

func New(store db.SeriesStore, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// Record appends one attempt. A write failure is logged and swallowed so that bookkeeping
// never turns a finished sync into a failed one. SyncDate defaults to now.
func (l *Ledger) Record(ctx context.Context, attempt series.SyncAttempt) {
	if attempt.SyncDate.IsZero() {
		attempt.SyncDate = l.now().UTC()
	}

	id, err := l.store.InsertSyncAttempt(ctx, &attempt)
	if err != nil {
		l.logger.Error("Failed to record sync attempt",
			zap.String("series_id", attempt.SeriesID),
			zap.String("run_id", attempt.RunID.String()),
			zap.Bool("success", attempt.Success),
			zap.Int("records_added", attempt.RecordsAdded),
			zap.Int("records_updated", attempt.RecordsUpdated),
			zap.Error(err))
		return
	}

	l.logger.Debug("Sync attempt recorded",
		zap.Int64("id", id),
		zap.String("series_id", attempt.SeriesID),
		zap.Bool("success", attempt.Success))
}

// Latest returns the most recent attempt for the series, or nil when it was never synced.
func (l *Ledger) Latest(ctx context.Context, seriesID string) (*series.SyncAttempt, error) {
	return l.store.LatestSyncAttempt(ctx, seriesID)
}

// History returns up to limit attempts for the series, newest first.
func (l *Ledger) History(ctx context.Context, seriesID string, limit int) ([]series.SyncAttempt, error) {
	return l.store.SyncHistory(ctx, seriesID, limit)
}
