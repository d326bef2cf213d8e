// Package signal produces trade signals from candle history. The built-in
// evaluator is a momentum strategy over RSI and two moving averages; an
// external feed can override it per deployment.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

const (
	defaultRSIPeriod  = 14
	defaultFastPeriod = 9
	defaultSlowPeriod = 21

	rsiOversold   = 30
	rsiOverbought = 70
	rsiNeutral    = 50
)

// Momentum evaluates candles with RSI plus a fast/slow SMA crossover.
type Momentum struct {
	rsiPeriod  int
	fastPeriod int
	slowPeriod int
}

var _ domain.SignalSource = (*Momentum)(nil)

// NewMomentum builds the evaluator with default periods (RSI 14, SMA 9/21).
func NewMomentum() *Momentum {
	return &Momentum{
		rsiPeriod:  defaultRSIPeriod,
		fastPeriod: defaultFastPeriod,
		slowPeriod: defaultSlowPeriod,
	}
}

// MinCandles is the shortest history Evaluate accepts.
func (m *Momentum) MinCandles() int {
	n := m.slowPeriod
	if m.rsiPeriod+1 > n {
		n = m.rsiPeriod + 1
	}
	return n
}

// Evaluate implements domain.SignalSource. A buy needs oversold RSI with the
// fast average above the slow one; a sell needs overbought RSI or a fast
// average that has dropped below the slow one. Everything else holds.
func (m *Momentum) Evaluate(_ context.Context, symbol string, candles []domain.Candle) (domain.TradeSignal, error) {
	if len(candles) < m.MinCandles() {
		return domain.TradeSignal{}, fmt.Errorf("signal: need %d candles for %s, got %d", m.MinCandles(), symbol, len(candles))
	}

	closes := closePrices(candles)
	rsi := RSI(closes, m.rsiPeriod)
	fast := SMA(closes, m.fastPeriod)
	slow := SMA(closes, m.slowPeriod)

	sig := domain.TradeSignal{
		Symbol:    symbol,
		Action:    domain.SignalHold,
		CreatedAt: time.Now().UTC(),
	}

	switch {
	case rsi <= rsiOversold && fast > slow:
		sig.Action = domain.SignalBuy
		sig.Confidence = (rsiOversold - rsi) / rsiOversold
		sig.Reason = fmt.Sprintf("rsi %.1f oversold with fast trend intact", rsi)
	case rsi >= rsiOverbought:
		sig.Action = domain.SignalSell
		sig.Confidence = (rsi - rsiOverbought) / (100 - rsiOverbought)
		sig.Reason = fmt.Sprintf("rsi %.1f overbought", rsi)
	case fast < slow:
		sig.Action = domain.SignalSell
		sig.Confidence = 0.5
		sig.Reason = "fast average crossed below slow"
	default:
		sig.Reason = fmt.Sprintf("rsi %.1f neutral", rsi)
	}
	return sig, nil
}

// Weakness reports whether momentum has deteriorated enough to exit a
// position with no known cost basis: RSI under the neutral line or price
// under the fast average. This is deliberately tighter than the normal sell
// rule; an unknown-basis holding gets no benefit of the doubt.
func (m *Momentum) Weakness(candles []domain.Candle) (bool, string) {
	if len(candles) < m.MinCandles() {
		return false, ""
	}
	closes := closePrices(candles)
	rsi := RSI(closes, m.rsiPeriod)
	fast := SMA(closes, m.fastPeriod)
	last := closes[len(closes)-1]

	if rsi < rsiNeutral {
		return true, fmt.Sprintf("rsi %.1f below neutral", rsi)
	}
	if last < fast {
		return true, fmt.Sprintf("price %.4f below fast average %.4f", last, fast)
	}
	return false, ""
}

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// RSI returns Wilder's relative strength index over the last period deltas.
// A series with no losses returns 100, no gains returns 0.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return rsiNeutral
	}

	window := values[len(values)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	if losses == 0 {
		if gains == 0 {
			return rsiNeutral
		}
		return 100
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func closePrices(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
