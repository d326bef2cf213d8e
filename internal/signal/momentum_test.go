package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

func candlesFromCloses(closes []float64) []domain.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   1,
		}
	}
	return out
}

// series builds n closes starting at start, stepping by delta.
func series(start, delta float64, n int) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		out[i] = v
		v += delta
	}
	return out
}

func TestSMA(t *testing.T) {
	assert.Equal(t, 20.0, SMA([]float64{10, 20, 30}, 3))
	assert.Equal(t, 25.0, SMA([]float64{10, 20, 30}, 2))
	assert.Zero(t, SMA([]float64{10}, 3), "insufficient history yields zero")
}

func TestRSIExtremes(t *testing.T) {
	// Monotonic rise has no losses.
	assert.Equal(t, 100.0, RSI(series(100, 1, 20), 14))
	// Monotonic fall has no gains.
	assert.Equal(t, 0.0, RSI(series(100, -1, 20), 14))
	// A flat series is neutral.
	assert.Equal(t, 50.0, RSI(series(100, 0, 20), 14))
}

func TestEvaluateSellOnOverbought(t *testing.T) {
	m := NewMomentum()

	// A long steady climb drives RSI to 100 and keeps fast above slow.
	sig, err := m.Evaluate(context.Background(), "BTC-USD", candlesFromCloses(series(100, 2, 30)))
	require.NoError(t, err)
	assert.Equal(t, domain.SignalSell, sig.Action)
	assert.Positive(t, sig.Confidence)
}

func TestEvaluateHoldOnFlat(t *testing.T) {
	m := NewMomentum()

	sig, err := m.Evaluate(context.Background(), "BTC-USD", candlesFromCloses(series(100, 0, 30)))
	require.NoError(t, err)
	assert.Equal(t, domain.SignalHold, sig.Action)
}

func TestEvaluateSellOnCrossDown(t *testing.T) {
	m := NewMomentum()

	// Long flat base then a mild decline: RSI lands between the bands while
	// the fast average drops under the slow one.
	closes := append(series(100, 0, 25), series(100, -0.3, 10)...)
	sig, err := m.Evaluate(context.Background(), "ETH-USD", candlesFromCloses(closes))
	require.NoError(t, err)
	assert.Equal(t, domain.SignalSell, sig.Action)
}

func TestEvaluateBuyOnOversoldDip(t *testing.T) {
	m := NewMomentum()

	// A strong uptrend keeps fast over slow, then a sharp short dip drives
	// RSI deeply oversold before the averages can cross.
	closes := append(series(100, 3, 27), 130, 105, 95)
	sig, err := m.Evaluate(context.Background(), "SOL-USD", candlesFromCloses(closes))
	require.NoError(t, err)
	assert.Equal(t, domain.SignalBuy, sig.Action)
	assert.Positive(t, sig.Confidence)
}

func TestEvaluateRejectsShortHistory(t *testing.T) {
	m := NewMomentum()

	_, err := m.Evaluate(context.Background(), "BTC-USD", candlesFromCloses(series(100, 1, 5)))
	assert.Error(t, err)
}

func TestWeaknessTriggersBelowNeutralRSI(t *testing.T) {
	m := NewMomentum()

	weak, reason := m.Weakness(candlesFromCloses(series(100, -0.5, 30)))
	assert.True(t, weak)
	assert.NotEmpty(t, reason)
}

func TestWeaknessHoldsInUptrend(t *testing.T) {
	m := NewMomentum()

	weak, _ := m.Weakness(candlesFromCloses(series(100, 1, 30)))
	assert.False(t, weak)
}
