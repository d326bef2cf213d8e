package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// signalMaxAge is how long a published signal stays actionable. Older
// signals degrade to hold so a stalled publisher cannot keep triggering
// trades.
const signalMaxAge = 10 * time.Minute

// SignalFeed implements domain.SignalSource from externally published
// signals on a Pub/Sub channel. A background goroutine keeps the most
// recent signal per symbol; Evaluate serves from that cache and falls back
// to hold when nothing fresh has arrived.
type SignalFeed struct {
	bus     *EventBus
	channel string
	logger  *slog.Logger

	mu     sync.RWMutex
	latest map[string]domain.TradeSignal
}

var _ domain.SignalSource = (*SignalFeed)(nil)

// NewSignalFeed builds the feed and starts consuming the channel. The
// subscription lives until ctx ends.
func NewSignalFeed(ctx context.Context, bus *EventBus, channel string, logger *slog.Logger) (*SignalFeed, error) {
	f := &SignalFeed{
		bus:     bus,
		channel: channel,
		logger:  logger.With(slog.String("component", "signal_feed")),
		latest:  make(map[string]domain.TradeSignal),
	}

	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("redis: signal feed: %w", err)
	}
	go f.consume(ctx, msgs)
	return f, nil
}

func (f *SignalFeed) consume(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			var sig domain.TradeSignal
			if err := json.Unmarshal(payload, &sig); err != nil {
				f.logger.WarnContext(ctx, "dropping malformed signal",
					slog.String("channel", f.channel), slog.String("error", err.Error()))
				continue
			}
			if sig.Symbol == "" || sig.Action == "" {
				continue
			}
			if sig.CreatedAt.IsZero() {
				sig.CreatedAt = time.Now().UTC()
			}
			f.mu.Lock()
			f.latest[sig.Symbol] = sig
			f.mu.Unlock()
		}
	}
}

// Evaluate implements domain.SignalSource. Candles are ignored; the decision
// comes from the most recent published signal for the symbol.
func (f *SignalFeed) Evaluate(_ context.Context, symbol string, _ []domain.Candle) (domain.TradeSignal, error) {
	f.mu.RLock()
	sig, ok := f.latest[symbol]
	f.mu.RUnlock()

	if !ok || time.Since(sig.CreatedAt) > signalMaxAge {
		return domain.TradeSignal{
			Symbol:    symbol,
			Action:    domain.SignalHold,
			Reason:    "no fresh external signal",
			CreatedAt: time.Now().UTC(),
		}, nil
	}
	return sig, nil
}
