package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePublisher struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  []map[string]interface{}
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[channel] = append(f.published[channel], message.([]byte))
}

func (f *fakePublisher) XAdd(_ context.Context, _ string, values map[string]interface{}) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed = append(f.streamed, values)
	return "1-0"
}

func TestNotifier_SeriesSynced(t *testing.T) {
	pub := &fakePublisher{}
	n := &Notifier{pub: pub, logger: zaptest.NewLogger(t)}

	ev := series.SyncEvent{RunID: uuid.New(), SeriesID: "GDP", Success: true, RecordsAdded: 3, SyncedAt: time.Now().UTC()}
	n.SeriesSynced(context.Background(), ev)

	require.Len(t, pub.published[SyncedChannel], 1)
	var got series.SyncEvent
	require.NoError(t, json.Unmarshal(pub.published[SyncedChannel][0], &got))
	require.Equal(t, "GDP", got.SeriesID)
	require.Equal(t, 3, got.RecordsAdded)

	require.Len(t, pub.streamed, 1)
	require.Equal(t, "GDP", pub.streamed[0]["series_id"])
	msg := Message{ID: "1-0", Values: pub.streamed[0]}
	decoded, err := msg.SyncEvent()
	require.NoError(t, err)
	require.Equal(t, ev.RunID, decoded.RunID)
}

func TestNopNotifier(t *testing.T) {
	require.NotPanics(t, func() {
		NopNotifier{}.SeriesSynced(context.Background(), series.SyncEvent{SeriesID: "GDP"})
	})
}

type fakeReader struct {
	mu      sync.Mutex
	calls   int
	lastIDs []string
	batches [][]redis.XStream
	errs    []error
	cancel  context.CancelFunc
}

func (f *fakeReader) XRead(_ context.Context, _ string, lastID string, _ int64, _ time.Duration) ([]redis.XStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIDs = append(f.lastIDs, lastID)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	f.cancel()
	return nil, context.Canceled
}

func TestStreamConsumer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		errs: []error{errors.New("connection reset"), redis.Nil},
		batches: [][]redis.XStream{
			nil,
			nil,
			{{Stream: SyncEventsStream, Messages: []redis.XMessage{
				{ID: "1-0", Values: map[string]interface{}{"data": `{"series_id":"GDP","success":true}`}},
				{ID: "2-0", Values: map[string]interface{}{"data": `not json`}},
			}}},
		},
		cancel: cancel,
	}
	sc := newStreamConsumer(reader, StreamConsumerConfig{RetryInterval: time.Millisecond, Logger: zaptest.NewLogger(t)})

	var seen []string
	err := sc.Run(ctx, func(_ context.Context, msg Message) error {
		ev, err := msg.SyncEvent()
		if err != nil {
			return err
		}
		seen = append(seen, ev.SeriesID)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"GDP"}, seen)
	require.Equal(t, []string{"$", "$", "$", "2-0"}, reader.lastIDs)
}
