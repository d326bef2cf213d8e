// Package broker defines the adapter contract every exchange integration
// implements, plus the shared retry, nonce, and error-classification
// machinery. The engine is generic over this interface and never branches on
// broker identity.
package broker

import (
	"context"
	"time"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// Broker is the capability set the account loop needs from an exchange.
// Every call must respect the supplied context's deadline; all methods are
// safe for concurrent use on one connection.
type Broker interface {
	// Name returns the broker identifier, e.g. "kraken".
	Name() string

	// Connect verifies credentials with an authenticated call and prepares
	// the connection for live use. Adapters that sign with a nonce re-seed
	// their counter here so the gap between construction and first use
	// cannot produce a stale nonce.
	Connect(ctx context.Context) error

	// GetBalance returns the account's available balance in its quote
	// currency.
	GetBalance(ctx context.Context) (float64, error)

	// GetCandles returns up to count OHLCV bars for symbol at the given
	// interval, ordered oldest-first.
	GetCandles(ctx context.Context, symbol string, interval time.Duration, count int) ([]domain.Candle, error)

	// GetPrice returns the most recent trade price for symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// PlaceMarketOrder submits a market order and returns the resulting
	// fill. The request's SizeUnit states explicitly whether Size is a
	// quote-currency amount or a base-asset quantity.
	PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error)
}
