package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// RetryPolicy retries transient failures with exponential backoff. Only
// errors classified KindTransient are retried; everything else
// short-circuits immediately so auth failures and unknown symbols never
// inflate an account's error count.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the adapters' shared defaults: four attempts
// starting at 500ms and doubling, capped at 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Do runs fn, retrying transient failures until the policy is exhausted or
// the context is cancelled. The last error is returned unwrapped so callers
// can still classify it.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if domain.KindOf(err) != domain.KindTransient {
			return err
		}
		if attempt == attempts {
			break
		}

		logger.DebugContext(ctx, "transient broker error, backing off",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
