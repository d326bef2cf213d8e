package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SizeUnit states which currency the order size is denominated in. Entries
// are sized in quote currency (spend N USD); exits always pass the recorded
// base quantity so a stale price can never cause a partial or oversized sell.
type SizeUnit string

const (
	SizeUnitQuote SizeUnit = "quote"
	SizeUnitBase  SizeUnit = "base"
)

// OrderRequest is a market order handed to a broker adapter. ClientID is a
// caller-generated UUID used for idempotency where the broker supports it.
type OrderRequest struct {
	ClientID string
	Symbol   string
	Side     OrderSide
	Size     float64
	Unit     SizeUnit

	// ExpectedPrice is the caller's price estimate at decision time, carried
	// through so the fill can be validated for slippage.
	ExpectedPrice float64
}

// Fill is the broker's report of an executed market order. It is consumed by
// the execution validator and then discarded; only its effect on the
// position store persists.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     OrderSide
	Quantity float64 // base units actually filled
	Price    float64 // average fill price
	Fee      float64 // quote-currency fee, when reported
	Time     time.Time
}

// Notional returns the quote-currency value of the fill.
func (f Fill) Notional() float64 {
	return f.Quantity * f.Price
}
