package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetryTransientUntilSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), discardLogger(), "balance", func() error {
		calls++
		if calls < 3 {
			return &domain.BrokerError{Kind: domain.KindTransient, Err: errors.New("rate limit")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonTransient(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	authErr := &domain.BrokerError{Kind: domain.KindAuthFailure, Err: errors.New("invalid key")}
	calls := 0
	err := policy.Do(context.Background(), discardLogger(), "balance", func() error {
		calls++
		return authErr
	})

	assert.Equal(t, 1, calls, "auth failures must not be retried")
	assert.Equal(t, domain.KindAuthFailure, domain.KindOf(err))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), discardLogger(), "candles", func() error {
		calls++
		return &domain.BrokerError{Kind: domain.KindTransient, Err: errors.New("timeout")}
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, discardLogger(), "price", func() error {
			return &domain.BrokerError{Kind: domain.KindTransient, Err: errors.New("unavailable")}
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}
