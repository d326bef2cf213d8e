package domain

import "time"

// Position is an open holding owned by exactly one account. The core is
// long-only: positions are entered with a buy and exited with a sell of the
// recorded base quantity.
type Position struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"` // base-asset units
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`

	// TrailingHigh is the highest price observed since entry; the trailing
	// stop ratchets off this watermark and never moves down.
	TrailingHigh float64 `json:"trailing_high"`

	// Orphaned marks a position whose entry price/time could not be
	// established (e.g. adopted from broker holdings after a restart). The
	// engine applies a tightened exit policy to orphans because their true
	// cost basis is unknown.
	Orphaned bool `json:"orphaned"`

	// UrgentRecheck is set when a slippage reversal failed to flatten the
	// position; the next cycle must re-attempt the exit before anything else.
	UrgentRecheck bool `json:"urgent_recheck,omitempty"`
}

// Value returns the position's notional at the given price.
func (p Position) Value(price float64) float64 {
	return p.Quantity * price
}
