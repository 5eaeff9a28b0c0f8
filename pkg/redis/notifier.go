package redis

import (
	"context"
	"encoding/json"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"go.uber.org/zap"
)

const (
	// SyncedChannel carries one JSON SyncEvent per finished series sync.
	SyncedChannel = "fredx:series.synced"
	// SyncEventsStream keeps the same events for consumers that were not subscribed at the time.
	SyncEventsStream = "fredx:sync-events"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
	XAdd(ctx context.Context, stream string, values map[string]interface{}) string
}

// Notifier publishes sync events. Every method is best effort and never fails the caller.
type Notifier struct {
	pub    publisher
	logger *zap.Logger
}

func NewNotifier(client *Client, logger *zap.Logger) *Notifier {
	return &Notifier{pub: client, logger: logger}
}

// SeriesSynced publishes ev on SyncedChannel and appends it to SyncEventsStream.
func (n *Notifier) SeriesSynced(ctx context.Context, ev series.SyncEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("Failed to encode sync event", zap.String("series_id", ev.SeriesID), zap.Error(err))
		return
	}

	n.pub.Publish(ctx, SyncedChannel, data)
	n.pub.XAdd(ctx, SyncEventsStream, map[string]interface{}{
		"series_id": ev.SeriesID,
		"run_id":    ev.RunID.String(),
		"data":      string(data),
	})
}

// NopNotifier drops every event. It is used when Redis is not configured.
type NopNotifier struct{}

func (NopNotifier) SeriesSynced(context.Context, series.SyncEvent) {}
