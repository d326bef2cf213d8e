package execution

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

// fakePlacer records reversal orders and optionally fails them.
type fakePlacer struct {
	fail   bool
	placed []domain.OrderRequest
}

func (f *fakePlacer) PlaceMarketOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	f.placed = append(f.placed, req)
	if f.fail {
		return domain.Fill{}, errors.New("broker down")
	}
	return domain.Fill{
		OrderID:  "rev-1",
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Size,
		Price:    req.ExpectedPrice,
		Time:     time.Now(),
	}, nil
}

func TestSlippageSignNormalization(t *testing.T) {
	// Buy filled above expected is unfavorable (positive).
	assert.InDelta(t, 0.006, Slippage(domain.OrderSideBuy, 2.00, 2.012), 1e-9)
	// Buy filled below expected is favorable (negative).
	assert.InDelta(t, -0.005, Slippage(domain.OrderSideBuy, 2.00, 1.99), 1e-9)
	// Sell filled below expected is unfavorable (positive after sign flip).
	assert.InDelta(t, 0.005, Slippage(domain.OrderSideSell, 2.00, 1.99), 1e-9)
	// Sell filled above expected is favorable.
	assert.InDelta(t, -0.006, Slippage(domain.OrderSideSell, 2.00, 2.012), 1e-9)
	// No expectation means nothing to measure.
	assert.Zero(t, Slippage(domain.OrderSideBuy, 0, 2.0))
}

func TestValidateEntryAcceptsWithinThreshold(t *testing.T) {
	v := NewValidator(0.005, discardLogger())
	placer := &fakePlacer{}

	req := domain.OrderRequest{Symbol: "BTC-USD", Side: domain.OrderSideBuy, ExpectedPrice: 2.00}
	fill := domain.Fill{Symbol: "BTC-USD", Side: domain.OrderSideBuy, Quantity: 10, Price: 2.005}

	verdict := v.ValidateEntry(context.Background(), placer, req, fill)
	assert.True(t, verdict.Accepted)
	assert.Empty(t, placer.placed, "accepted fills must not be reversed")
}

func TestValidateEntryAcceptsExactlyAtThreshold(t *testing.T) {
	v := NewValidator(0.005, discardLogger())
	placer := &fakePlacer{}

	// 2.00 -> 2.01 is exactly 0.5%; the epsilon guard keeps boundary fills in.
	req := domain.OrderRequest{Symbol: "BTC-USD", Side: domain.OrderSideBuy, ExpectedPrice: 2.00}
	fill := domain.Fill{Symbol: "BTC-USD", Side: domain.OrderSideBuy, Quantity: 10, Price: 2.01}

	verdict := v.ValidateEntry(context.Background(), placer, req, fill)
	assert.True(t, verdict.Accepted)
}

func TestValidateEntryReversesOverThreshold(t *testing.T) {
	v := NewValidator(0.005, discardLogger())
	placer := &fakePlacer{}

	req := domain.OrderRequest{Symbol: "BTC-USD", Side: domain.OrderSideBuy, ExpectedPrice: 2.00}
	fill := domain.Fill{Symbol: "BTC-USD", Side: domain.OrderSideBuy, Quantity: 10, Price: 2.012}

	verdict := v.ValidateEntry(context.Background(), placer, req, fill)
	assert.False(t, verdict.Accepted)
	assert.True(t, verdict.Reversed)
	assert.NoError(t, verdict.ReversalErr)

	require.Len(t, placer.placed, 1)
	rev := placer.placed[0]
	assert.Equal(t, domain.OrderSideSell, rev.Side)
	assert.Equal(t, domain.SizeUnitBase, rev.Unit)
	assert.Equal(t, 10.0, rev.Size, "reversal must sell the filled base quantity")
	assert.NotEmpty(t, rev.ClientID)
}

func TestValidateEntryReversesFavorableSlippageOverThreshold(t *testing.T) {
	v := NewValidator(0.005, discardLogger())
	placer := &fakePlacer{}

	// Filled a full 0.6% under the expected buy price. Favorable on paper,
	// but the magnitude says the quote was stale, so the entry unwinds.
	req := domain.OrderRequest{Symbol: "BTC-USD", Side: domain.OrderSideBuy, ExpectedPrice: 2.00}
	fill := domain.Fill{Symbol: "BTC-USD", Side: domain.OrderSideBuy, Quantity: 10, Price: 1.988}

	verdict := v.ValidateEntry(context.Background(), placer, req, fill)
	assert.False(t, verdict.Accepted)
	assert.True(t, verdict.Reversed)
	assert.Negative(t, verdict.Slippage)
	require.Len(t, placer.placed, 1)
}

func TestValidateEntryReversalFailureKeepsPositionTracked(t *testing.T) {
	v := NewValidator(0.005, discardLogger())
	placer := &fakePlacer{fail: true}

	req := domain.OrderRequest{Symbol: "BTC-USD", Side: domain.OrderSideBuy, ExpectedPrice: 2.00}
	fill := domain.Fill{Symbol: "BTC-USD", Side: domain.OrderSideBuy, Quantity: 10, Price: 2.012}

	verdict := v.ValidateEntry(context.Background(), placer, req, fill)
	assert.False(t, verdict.Accepted)
	assert.False(t, verdict.Reversed)
	assert.Error(t, verdict.ReversalErr)
}

func TestCheckExitNeverReverses(t *testing.T) {
	v := NewValidator(0.005, discardLogger())

	req := domain.OrderRequest{Symbol: "BTC-USD", Side: domain.OrderSideSell, ExpectedPrice: 2.00}
	fill := domain.Fill{Symbol: "BTC-USD", Side: domain.OrderSideSell, Quantity: 10, Price: 1.97}

	slip, ok := v.CheckExit(context.Background(), req, fill)
	assert.False(t, ok)
	assert.InDelta(t, 0.015, slip, 1e-9)
}
