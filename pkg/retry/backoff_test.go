package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithBackoffSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(3), zaptest.NewLogger(t), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithBackoffGivesUp(t *testing.T) {
	sentinel := errors.New("boom")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(2), zaptest.NewLogger(t), "op", func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 2, calls)
}

func TestWithBackoffIfStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := WithBackoffIf(context.Background(), fastConfig(5), zaptest.NewLogger(t), "op",
		func(err error) bool { return !errors.Is(err, permanent) },
		func() error {
			calls++
			return permanent
		})
	require.Same(t, permanent, err)
	require.Equal(t, 1, calls)
}

func TestWithBackoffSingleAttemptReturnsErrorAsIs(t *testing.T) {
	sentinel := errors.New("boom")
	err := WithBackoff(context.Background(), fastConfig(0), zaptest.NewLogger(t), "op", func() error { return sentinel })
	require.Same(t, sentinel, err)
}

func TestWithBackoffHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithBackoff(ctx, fastConfig(3), zaptest.NewLogger(t), "op", func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	require.Equal(t, time.Second, calculateBackoff(cfg, 1))
	require.Equal(t, 3*time.Second, calculateBackoff(cfg, 4))
}
