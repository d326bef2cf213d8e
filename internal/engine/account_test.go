package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclebot/internal/domain"
	"github.com/alanyoungcy/cyclebot/internal/execution"
	"github.com/alanyoungcy/cyclebot/internal/risk"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams() Params {
	return Params{
		CycleInterval:       time.Minute,
		CandleInterval:      5 * time.Minute,
		CandleCount:         30,
		MaxPositions:        5,
		RiskFraction:        0.05,
		MinPositionNotional: 10,
		MaxPositionNotional: 500,
		BalanceFloor:        50,
		StopLossPct:         0.05,
		TakeProfitPct:       0.10,
		TrailingStopPct:     0.03,
	}
}

// fakeBroker serves canned prices and fills at the current price.
type fakeBroker struct {
	mu      sync.Mutex
	balance float64
	prices  map[string]float64
	// fillPrices overrides the fill price per symbol; zero means fill at the
	// quoted price.
	fillPrices map[string]float64
	orders     []domain.OrderRequest
}

func (f *fakeBroker) Name() string                      { return "fake" }
func (f *fakeBroker) Connect(context.Context) error     { return nil }
func (f *fakeBroker) GetBalance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeBroker) GetPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[symbol], nil
}

func (f *fakeBroker) GetCandles(_ context.Context, symbol string, _ time.Duration, count int) ([]domain.Candle, error) {
	f.mu.Lock()
	price := f.prices[symbol]
	f.mu.Unlock()

	base := time.Now().Add(-time.Duration(count) * 5 * time.Minute)
	out := make([]domain.Candle, count)
	for i := range out {
		out[i] = domain.Candle{
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:     price, High: price, Low: price, Close: price, Volume: 1,
		}
	}
	return out, nil
}

func (f *fakeBroker) PlaceMarketOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)

	price := f.prices[req.Symbol]
	if fp := f.fillPrices[req.Symbol]; fp > 0 {
		price = fp
	}
	qty := req.Size
	if req.Unit == domain.SizeUnitQuote {
		qty = req.Size / price
	}
	return domain.Fill{
		OrderID:  "fill",
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty,
		Price:    price,
		Time:     time.Now(),
	}, nil
}

func (f *fakeBroker) ordersPlaced() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderRequest(nil), f.orders...)
}

// buySignals always says buy; used to force entries.
type buySignals struct{}

func (buySignals) Evaluate(_ context.Context, symbol string, _ []domain.Candle) (domain.TradeSignal, error) {
	return domain.TradeSignal{Symbol: symbol, Action: domain.SignalBuy, Confidence: 1}, nil
}

// holdSignals never trades.
type holdSignals struct{}

func (holdSignals) Evaluate(_ context.Context, symbol string, _ []domain.Candle) (domain.TradeSignal, error) {
	return domain.TradeSignal{Symbol: symbol, Action: domain.SignalHold}, nil
}

func newTestWorker(t *testing.T, b *fakeBroker, symbols []string, signals domain.SignalSource, params Params) (*accountWorker, *risk.Store) {
	t.Helper()
	store := risk.NewStore(1.0, 30*time.Minute, discardLogger())
	validator := execution.NewValidator(0.005, discardLogger())
	capEnf := risk.NewCapEnforcer(store, params.MaxPositions, discardLogger())
	acct := Account{Name: "alice", Role: domain.RoleMaster, Symbols: symbols, Broker: b}
	return newAccountWorker(acct, params, store, capEnf, validator, signals, nil, nil, nil, discardLogger()), store
}

func TestCycleOpensPositionOnBuySignal(t *testing.T) {
	b := &fakeBroker{balance: 1000, prices: map[string]float64{"BTC-USD": 100}}
	w, store := newTestWorker(t, b, []string{"BTC-USD"}, buySignals{}, testParams())

	require.NoError(t, w.runCycle(context.Background()))

	pos, held := store.Get("alice", "BTC-USD")
	require.True(t, held)
	assert.InDelta(t, 0.5, pos.Quantity, 1e-9, "5% of $1000 at $100 is 0.5 units")
	assert.InDelta(t, 95.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 110.0, pos.TakeProfit, 1e-9)
	assert.Equal(t, 100.0, pos.TrailingHigh)

	orders := b.ordersPlaced()
	require.Len(t, orders, 1)
	assert.Equal(t, domain.SizeUnitQuote, orders[0].Unit, "entries are sized in quote currency")
}

func TestHaltedAccountStillExitsButNeverEnters(t *testing.T) {
	params := testParams()
	b := &fakeBroker{balance: 20, prices: map[string]float64{"BTC-USD": 80, "ETH-USD": 100}}
	w, store := newTestWorker(t, b, []string{"BTC-USD", "ETH-USD"}, buySignals{}, params)

	// A position already under its stop loss must still be closed while the
	// balance circuit is open.
	require.NoError(t, store.Open(context.Background(), domain.Position{
		ID: "p1", Account: "alice", Symbol: "BTC-USD",
		Quantity: 1, EntryPrice: 100, EntryTime: time.Now(),
		StopLoss: 95, TakeProfit: 120, TrailingHigh: 100,
	}))

	require.NoError(t, w.runCycle(context.Background()))

	assert.Equal(t, domain.CircuitHalted, w.Status().State)

	_, held := store.Get("alice", "BTC-USD")
	assert.False(t, held, "stop-loss exit must run while halted")
	_, entered := store.Get("alice", "ETH-USD")
	assert.False(t, entered, "no new entries while halted")

	for _, ord := range b.ordersPlaced() {
		assert.Equal(t, domain.OrderSideSell, ord.Side, "only exits may trade while halted")
		assert.Equal(t, domain.SizeUnitBase, ord.Unit, "exits sell the recorded base quantity")
	}
}

func TestCircuitRecoversWithBalance(t *testing.T) {
	b := &fakeBroker{balance: 20, prices: map[string]float64{"BTC-USD": 100}}
	w, _ := newTestWorker(t, b, []string{"BTC-USD"}, holdSignals{}, testParams())

	require.NoError(t, w.runCycle(context.Background()))
	assert.Equal(t, domain.CircuitHalted, w.Status().State)

	b.mu.Lock()
	b.balance = 500
	b.mu.Unlock()

	require.NoError(t, w.runCycle(context.Background()))
	assert.Equal(t, domain.CircuitOK, w.Status().State)
	assert.Empty(t, w.Status().HaltReason)
}

func TestNoDuplicateEntryForHeldSymbol(t *testing.T) {
	b := &fakeBroker{balance: 1000, prices: map[string]float64{"BTC-USD": 100}}
	w, store := newTestWorker(t, b, []string{"BTC-USD"}, buySignals{}, testParams())

	require.NoError(t, w.runCycle(context.Background()))
	require.NoError(t, w.runCycle(context.Background()))

	assert.Equal(t, 1, store.Count("alice"), "a held symbol must not be re-entered")
	assert.Len(t, b.ordersPlaced(), 1)
}

func TestEntrySkippedDuringCooldownAndDust(t *testing.T) {
	b := &fakeBroker{balance: 1000, prices: map[string]float64{"BTC-USD": 100, "DOGE-USD": 100}}
	w, store := newTestWorker(t, b, []string{"BTC-USD", "DOGE-USD"}, buySignals{}, testParams())
	ctx := context.Background()

	// BTC closes normally (cooldown), DOGE closes as dust (blacklist).
	require.NoError(t, store.Open(ctx, domain.Position{
		ID: "p1", Account: "alice", Symbol: "BTC-USD", Quantity: 1, EntryPrice: 90, EntryTime: time.Now(),
	}))
	_, err := store.Close(ctx, "alice", "BTC-USD", 100)
	require.NoError(t, err)

	require.NoError(t, store.Open(ctx, domain.Position{
		ID: "p2", Account: "alice", Symbol: "DOGE-USD", Quantity: 0.001, EntryPrice: 100, EntryTime: time.Now(),
	}))
	_, err = store.Close(ctx, "alice", "DOGE-USD", 100)
	require.NoError(t, err)
	require.True(t, store.IsBlacklisted("alice", "DOGE-USD"))

	require.NoError(t, w.runCycle(ctx))

	assert.Zero(t, store.Count("alice"))
	assert.Empty(t, b.ordersPlaced(), "cooldown and blacklist must both gate entries")
}

func TestSlippageReversalOnBadFill(t *testing.T) {
	b := &fakeBroker{
		balance:    1000,
		prices:     map[string]float64{"BTC-USD": 100},
		fillPrices: map[string]float64{"BTC-USD": 102}, // 2% over expected
	}
	w, store := newTestWorker(t, b, []string{"BTC-USD"}, buySignals{}, testParams())

	require.NoError(t, w.runCycle(context.Background()))

	_, held := store.Get("alice", "BTC-USD")
	assert.False(t, held, "a reversed entry must not be tracked")

	orders := b.ordersPlaced()
	require.Len(t, orders, 2, "bad entry plus its reversal")
	assert.Equal(t, domain.OrderSideBuy, orders[0].Side)
	assert.Equal(t, domain.OrderSideSell, orders[1].Side)
	assert.Equal(t, domain.SizeUnitBase, orders[1].Unit)
}

func TestTrailingStopExitsAfterRatchet(t *testing.T) {
	b := &fakeBroker{balance: 1000, prices: map[string]float64{"BTC-USD": 130}}
	params := testParams()
	params.TakeProfitPct = 10 // park take-profit far away so the trail decides
	w, store := newTestWorker(t, b, []string{"BTC-USD"}, holdSignals{}, params)
	ctx := context.Background()

	require.NoError(t, store.Open(ctx, domain.Position{
		ID: "p1", Account: "alice", Symbol: "BTC-USD",
		Quantity: 1, EntryPrice: 100, EntryTime: time.Now(),
		StopLoss: 95, TakeProfit: 1100, TrailingHigh: 100,
	}))

	// Price runs up; the watermark ratchets to 130.
	require.NoError(t, w.runCycle(ctx))
	pos, held := store.Get("alice", "BTC-USD")
	require.True(t, held)
	assert.Equal(t, 130.0, pos.TrailingHigh)

	// Price falls 3% off the high; the trailing stop fires.
	b.mu.Lock()
	b.prices["BTC-USD"] = 125
	b.mu.Unlock()

	require.NoError(t, w.runCycle(ctx))
	_, held = store.Get("alice", "BTC-USD")
	assert.False(t, held)
}

func TestUrgentRecheckFlattensFirst(t *testing.T) {
	b := &fakeBroker{balance: 1000, prices: map[string]float64{"BTC-USD": 100}}
	w, store := newTestWorker(t, b, []string{"BTC-USD"}, holdSignals{}, testParams())
	ctx := context.Background()

	require.NoError(t, store.Open(ctx, domain.Position{
		ID: "p1", Account: "alice", Symbol: "BTC-USD",
		Quantity: 1, EntryPrice: 100, EntryTime: time.Now(),
		UrgentRecheck: true,
	}))

	require.NoError(t, w.runCycle(ctx))

	_, held := store.Get("alice", "BTC-USD")
	assert.False(t, held, "urgent positions must be flattened at the top of the cycle")
}

func TestOrphanExitsOnWeakness(t *testing.T) {
	b := &fakeBroker{balance: 1000, prices: map[string]float64{"BTC-USD": 100}}
	w, store := newTestWorker(t, b, []string{"BTC-USD"}, weakSignals{}, testParams())
	ctx := context.Background()

	require.NoError(t, store.Adopt(ctx, domain.Position{
		ID: "p1", Account: "alice", Symbol: "BTC-USD",
		Quantity: 1, EntryTime: time.Now(),
	}))

	require.NoError(t, w.runCycle(ctx))

	_, held := store.Get("alice", "BTC-USD")
	assert.False(t, held, "orphans exit as soon as momentum weakens")
}

func TestEngineStatusesListsMasterFirst(t *testing.T) {
	b := &fakeBroker{balance: 1000, prices: map[string]float64{}}
	store := risk.NewStore(1.0, 30*time.Minute, discardLogger())
	validator := execution.NewValidator(0.005, discardLogger())

	e := New(
		[]Account{
			{Name: "bob", Role: domain.RoleDelegated, Broker: b},
			{Name: "alice", Role: domain.RoleMaster, Broker: b},
		},
		testParams(), store, validator, holdSignals{}, nil, nil, nil, discardLogger(),
	)

	statuses := e.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alice", statuses[0].Account)
}

// weakSignals holds on evaluation but always reports orphan weakness.
type weakSignals struct{}

func (weakSignals) Evaluate(_ context.Context, symbol string, _ []domain.Candle) (domain.TradeSignal, error) {
	return domain.TradeSignal{Symbol: symbol, Action: domain.SignalHold}, nil
}

func (weakSignals) Weakness([]domain.Candle) (bool, string) {
	return true, "momentum gone"
}
