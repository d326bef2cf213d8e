package domain

import (
	"context"
	"time"
)

// SignalAction is the discrete trade decision consumed by the account loop.
type SignalAction string

const (
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
	SignalHold SignalAction = "hold"
)

// TradeSignal is the output of a signal source for one symbol. Confidence is
// in [0, 1]; the engine treats it as advisory and only branches on Action.
type TradeSignal struct {
	Symbol     string       `json:"symbol"`
	Action     SignalAction `json:"action"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// SignalSource produces a trade signal for a symbol from its recent candles.
// Implementations may compute indicators locally or consult an external
// generator; the engine only consumes the discrete result.
type SignalSource interface {
	Evaluate(ctx context.Context, symbol string, candles []Candle) (TradeSignal, error)
}
