// Package execution validates fills against their expected price and unwinds
// entries whose slippage breaches the configured threshold.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// epsilon absorbs float rounding at the threshold boundary so a fill sitting
// exactly on the limit is accepted.
const epsilon = 1e-9

// OrderPlacer is the slice of broker capability the validator needs to
// reverse a rejected entry.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error)
}

// Verdict is the validator's decision about one entry fill.
type Verdict struct {
	// Accepted is true when the fill's slippage was within the threshold and
	// the position should be tracked normally.
	Accepted bool
	// Slippage is the signed fraction, positive when unfavorable.
	Slippage float64
	// Reversed is true when a rejected entry was flattened successfully.
	Reversed bool
	// ReversalFill is the unwinding sell's fill when Reversed.
	ReversalFill domain.Fill
	// ReversalErr is set when the reversal order itself failed; the caller
	// must keep tracking the position and flag it for an urgent recheck.
	ReversalErr error
}

// Validator checks realized fills against expected prices.
type Validator struct {
	threshold float64
	logger    *slog.Logger
}

// NewValidator builds a validator. threshold is the maximum tolerated
// unfavorable slippage fraction, e.g. 0.005 for 0.5%.
func NewValidator(threshold float64, logger *slog.Logger) *Validator {
	return &Validator{
		threshold: threshold,
		logger:    logger.With(slog.String("component", "execution")),
	}
}

// Slippage returns the signed slippage fraction of a fill. The sign is
// normalized so positive always means unfavorable: paying more on a buy, or
// receiving less on a sell. A zero expected price yields zero; there is
// nothing to compare against.
func Slippage(side domain.OrderSide, expected, filled float64) float64 {
	if expected == 0 {
		return 0
	}
	s := (filled - expected) / expected
	if side == domain.OrderSideSell {
		s = -s
	}
	return s
}

// ValidateEntry checks an entry fill. The magnitude of the slippage decides,
// not its direction: a fill far from the expected price means the market moved
// or the book was thin, and both warrant an unwind even when the drift was in
// our favor. Over threshold the entry is immediately reversed with a market
// sell of the filled base quantity. If the reversal itself fails, the verdict
// carries the error and the position must stay tracked with an urgent recheck
// flag rather than be silently forgotten.
func (v *Validator) ValidateEntry(ctx context.Context, placer OrderPlacer, req domain.OrderRequest, fill domain.Fill) Verdict {
	slip := Slippage(req.Side, req.ExpectedPrice, fill.Price)
	verdict := Verdict{Slippage: slip}

	if !v.Breached(slip) {
		verdict.Accepted = true
		return verdict
	}

	v.logger.WarnContext(ctx, "entry slippage over threshold, reversing",
		slog.String("symbol", fill.Symbol),
		slog.Float64("expected", req.ExpectedPrice),
		slog.Float64("filled", fill.Price),
		slog.Float64("slippage", slip),
		slog.Float64("threshold", v.threshold),
	)

	reversal, err := placer.PlaceMarketOrder(ctx, domain.OrderRequest{
		ClientID:      uuid.NewString(),
		Symbol:        fill.Symbol,
		Side:          domain.OrderSideSell,
		Size:          fill.Quantity,
		Unit:          domain.SizeUnitBase,
		ExpectedPrice: fill.Price,
	})
	if err != nil {
		verdict.ReversalErr = fmt.Errorf("execution: reversing %s entry: %w", fill.Symbol, err)
		v.logger.ErrorContext(ctx, "slippage reversal failed, position stays tracked",
			slog.String("symbol", fill.Symbol),
			slog.String("error", err.Error()),
		)
		return verdict
	}

	verdict.Reversed = true
	verdict.ReversalFill = reversal
	return verdict
}

// CheckExit evaluates an exit fill's slippage for reporting. Exits are never
// reversed; the position is already flat and re-buying would re-open risk.
// The bool reports whether the slippage was within threshold.
func (v *Validator) CheckExit(ctx context.Context, req domain.OrderRequest, fill domain.Fill) (float64, bool) {
	slip := Slippage(req.Side, req.ExpectedPrice, fill.Price)
	ok := !v.Breached(slip)
	if !ok {
		v.logger.WarnContext(ctx, "exit slippage over threshold",
			slog.String("symbol", fill.Symbol),
			slog.Float64("slippage", slip),
		)
	}
	return slip, ok
}

// Breached reports whether the slippage fraction's magnitude exceeds the
// threshold, with the epsilon guard applied. Exported for callers that
// compute slippage themselves.
func (v *Validator) Breached(slip float64) bool {
	return math.Abs(slip) > v.threshold+epsilon && !math.IsNaN(slip)
}
