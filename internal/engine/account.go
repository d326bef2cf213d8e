package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cyclebot/internal/broker"
	"github.com/alanyoungcy/cyclebot/internal/domain"
	"github.com/alanyoungcy/cyclebot/internal/execution"
	"github.com/alanyoungcy/cyclebot/internal/risk"
)

// Notifier delivers operational alerts. Implementations must not block the
// trading loop for long; sends happen inline between cycles.
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}

// StatusSink receives per-cycle account snapshots for the status surface.
type StatusSink interface {
	PublishStatus(ctx context.Context, status domain.AccountStatus)
}

// WeaknessChecker is the tightened exit rule applied to positions whose cost
// basis is unknown. Signal sources that can judge momentum decay implement
// it; orphans are held until weakness shows.
type WeaknessChecker interface {
	Weakness(candles []domain.Candle) (bool, string)
}

// Account bundles one account's identity and its broker connection.
type Account struct {
	Name    string
	Role    domain.AccountRole
	Symbols []string
	Broker  broker.Broker
}

// Params are the loop limits shared by all account workers.
type Params struct {
	CycleInterval  time.Duration
	CandleInterval time.Duration
	CandleCount    int

	MaxPositions        int
	RiskFraction        float64
	MinPositionNotional float64
	MaxPositionNotional float64

	BalanceFloor float64

	StopLossPct     float64
	TakeProfitPct   float64
	TrailingStopPct float64
}

// accountWorker runs the cycle loop for exactly one account. Workers share
// the risk store and validator but never each other's broker connection, so
// a slow or failing account cannot block its peers.
type accountWorker struct {
	account   Account
	params    Params
	store     *risk.Store
	cap       *risk.CapEnforcer
	validator *execution.Validator
	signals   domain.SignalSource
	journal   domain.JournalStore
	notifier  Notifier
	statusOut StatusSink
	logger    *slog.Logger

	mu     sync.Mutex
	status domain.AccountStatus
}

func newAccountWorker(
	account Account,
	params Params,
	store *risk.Store,
	capEnforcer *risk.CapEnforcer,
	validator *execution.Validator,
	signals domain.SignalSource,
	journal domain.JournalStore,
	notifier Notifier,
	statusOut StatusSink,
	logger *slog.Logger,
) *accountWorker {
	return &accountWorker{
		account:   account,
		params:    params,
		store:     store,
		cap:       capEnforcer,
		validator: validator,
		signals:   signals,
		journal:   journal,
		notifier:  notifier,
		statusOut: statusOut,
		logger: logger.With(
			slog.String("component", "engine"),
			slog.String("account", account.Name),
		),
		status: domain.AccountStatus{
			Account: account.Name,
			Role:    account.Role,
			Broker:  account.Broker.Name(),
			State:   domain.CircuitOK,
		},
	}
}

// run is the worker's main loop: restore state, connect, then cycle until
// the context ends. An authentication failure halts this account for good
// but returns nil so sibling accounts keep trading.
func (w *accountWorker) run(ctx context.Context) error {
	if err := w.store.Restore(ctx, w.account.Name); err != nil {
		w.logger.ErrorContext(ctx, "state restore failed", slog.String("error", err.Error()))
		return err
	}

	if err := w.account.Broker.Connect(ctx); err != nil {
		if domain.KindOf(err) == domain.KindAuthFailure {
			w.haltAuth(ctx, err)
			return nil
		}
		return fmt.Errorf("engine: %s: connecting: %w", w.account.Name, err)
	}

	ticker := time.NewTicker(w.params.CycleInterval)
	defer ticker.Stop()

	for {
		if err := w.runCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if domain.KindOf(err) == domain.KindAuthFailure {
				w.haltAuth(ctx, err)
				return nil
			}
			w.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
			w.setLastError(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runCycle executes one full pass: balance and circuit check, cap
// enforcement, urgent rechecks, then per-symbol exits and entries.
func (w *accountWorker) runCycle(ctx context.Context) error {
	balance, err := w.account.Broker.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("engine: %s: balance: %w", w.account.Name, err)
	}

	entriesAllowed := w.updateCircuit(ctx, balance)

	liq := &brokerLiquidator{worker: w}
	evicted, err := w.cap.Enforce(ctx, w.account.Name, liq)
	if err != nil {
		return err
	}
	for _, pos := range evicted {
		w.recordJournal(ctx, domain.JournalEntry{
			ID:        uuid.NewString(),
			Account:   w.account.Name,
			Symbol:    pos.Symbol,
			Event:     domain.JournalClosed,
			Side:      domain.OrderSideSell,
			Quantity:  pos.Quantity,
			Reason:    "position cap eviction",
			CreatedAt: time.Now().UTC(),
		})
	}

	// Positions flagged by a failed slippage reversal are flattened before
	// any other work; they represent unintended exposure.
	for _, pos := range w.store.List(w.account.Name) {
		if pos.UrgentRecheck {
			w.closePosition(ctx, pos, "urgent recheck after failed reversal")
		}
	}

	for _, symbol := range w.account.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.runSymbol(ctx, symbol, balance, entriesAllowed); err != nil {
			if domain.KindOf(err) == domain.KindAuthFailure {
				return err
			}
			// Per-symbol problems never abort the cycle; the symbol is
			// revisited next time around.
			w.logger.WarnContext(ctx, "symbol pass failed",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
	}

	w.finishCycle(ctx, balance)
	return nil
}

// runSymbol handles one tracked symbol: exits for a held position, entry
// evaluation otherwise.
func (w *accountWorker) runSymbol(ctx context.Context, symbol string, balance float64, entriesAllowed bool) error {
	pos, held := w.store.Get(w.account.Name, symbol)

	candles, err := w.account.Broker.GetCandles(ctx, symbol, w.params.CandleInterval, w.params.CandleCount)
	if err != nil {
		if domain.KindOf(err) == domain.KindSymbolUnavailable {
			w.logger.WarnContext(ctx, "symbol unavailable, skipping",
				slog.String("symbol", symbol))
			return nil
		}
		return err
	}
	if len(candles) == 0 {
		return nil
	}
	price := candles[len(candles)-1].Close

	if held {
		return w.manageHolding(ctx, pos, price, candles)
	}

	if !entriesAllowed {
		return nil
	}
	return w.evaluateEntry(ctx, symbol, price, balance, candles)
}

// manageHolding ratchets the trailing watermark and applies the exit rules:
// stop loss, take profit, trailing stop, signal-driven sell, and the
// tightened orphan rule.
func (w *accountWorker) manageHolding(ctx context.Context, pos domain.Position, price float64, candles []domain.Candle) error {
	pos, _ = w.store.Ratchet(ctx, w.account.Name, pos.Symbol, price)

	if pos.Orphaned {
		if wc, ok := w.signals.(WeaknessChecker); ok {
			if weak, reason := wc.Weakness(candles); weak {
				w.closePosition(ctx, pos, "orphan exit: "+reason)
				return nil
			}
		}
		return nil
	}

	switch {
	case pos.StopLoss > 0 && price <= pos.StopLoss:
		w.closePosition(ctx, pos, fmt.Sprintf("stop loss at %.4f", price))
		return nil
	case pos.TakeProfit > 0 && price >= pos.TakeProfit:
		w.closePosition(ctx, pos, fmt.Sprintf("take profit at %.4f", price))
		return nil
	case w.params.TrailingStopPct > 0 && pos.TrailingHigh > 0 &&
		price <= pos.TrailingHigh*(1-w.params.TrailingStopPct):
		w.closePosition(ctx, pos, fmt.Sprintf("trailing stop from high %.4f", pos.TrailingHigh))
		return nil
	}

	sig, err := w.signals.Evaluate(ctx, pos.Symbol, candles)
	if err != nil {
		return err
	}
	if sig.Action == domain.SignalSell {
		w.closePosition(ctx, pos, "sell signal: "+sig.Reason)
	}
	return nil
}

// evaluateEntry runs the entry gates in order, then places and validates a
// quote-sized buy.
func (w *accountWorker) evaluateEntry(ctx context.Context, symbol string, price, balance float64, candles []domain.Candle) error {
	switch {
	case w.store.IsBlacklisted(w.account.Name, symbol):
		return nil
	case w.store.IsCoolingDown(w.account.Name, symbol):
		return nil
	case w.store.Count(w.account.Name) >= w.params.MaxPositions:
		return nil
	}

	sig, err := w.signals.Evaluate(ctx, symbol, candles)
	if err != nil {
		return err
	}
	if sig.Action != domain.SignalBuy {
		return nil
	}

	size, ok := entrySize(balance, w.params.RiskFraction, w.params.MinPositionNotional, w.params.MaxPositionNotional)
	if !ok {
		w.logger.DebugContext(ctx, "entry skipped, no valid size",
			slog.String("symbol", symbol), slog.Float64("balance", balance))
		return nil
	}

	req := domain.OrderRequest{
		ClientID:      uuid.NewString(),
		Symbol:        symbol,
		Side:          domain.OrderSideBuy,
		Size:          size,
		Unit:          domain.SizeUnitQuote,
		ExpectedPrice: price,
	}
	fill, err := w.account.Broker.PlaceMarketOrder(ctx, req)
	if err != nil {
		if domain.KindOf(err) == domain.KindInvalidOrder {
			w.logger.WarnContext(ctx, "entry order rejected",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
			return nil
		}
		return err
	}

	verdict := w.validator.ValidateEntry(ctx, w.account.Broker, req, fill)
	switch {
	case verdict.Accepted:
		pos := domain.Position{
			ID:           uuid.NewString(),
			Account:      w.account.Name,
			Symbol:       symbol,
			Quantity:     fill.Quantity,
			EntryPrice:   fill.Price,
			EntryTime:    fill.Time,
			StopLoss:     fill.Price * (1 - w.params.StopLossPct),
			TakeProfit:   fill.Price * (1 + w.params.TakeProfitPct),
			TrailingHigh: fill.Price,
		}
		if err := w.store.Open(ctx, pos); err != nil {
			return err
		}
		w.recordJournal(ctx, domain.JournalEntry{
			ID:        uuid.NewString(),
			Account:   w.account.Name,
			Symbol:    symbol,
			Event:     domain.JournalOpened,
			Side:      domain.OrderSideBuy,
			Quantity:  fill.Quantity,
			Price:     fill.Price,
			Notional:  fill.Notional(),
			Reason:    sig.Reason,
			CreatedAt: time.Now().UTC(),
		})
		w.logger.InfoContext(ctx, "position opened",
			slog.String("symbol", symbol),
			slog.Float64("quantity", fill.Quantity),
			slog.Float64("price", fill.Price),
		)

	case verdict.Reversed:
		w.recordJournal(ctx, domain.JournalEntry{
			ID:        uuid.NewString(),
			Account:   w.account.Name,
			Symbol:    symbol,
			Event:     domain.JournalReversed,
			Side:      domain.OrderSideSell,
			Quantity:  verdict.ReversalFill.Quantity,
			Price:     verdict.ReversalFill.Price,
			Notional:  verdict.ReversalFill.Notional(),
			PnL:       verdict.ReversalFill.Notional() - fill.Notional(),
			Reason:    fmt.Sprintf("slippage %.4f over threshold", verdict.Slippage),
			CreatedAt: time.Now().UTC(),
		})
		// Cool the symbol down so the same slipping market is not re-entered
		// on the very next cycle.
		w.store.MarkSold(w.account.Name, symbol, 0)
		w.notify(ctx, "slippage_reversal",
			fmt.Sprintf("%s: %s entry reversed, slippage %.2f%%", w.account.Name, symbol, verdict.Slippage*100))

	case verdict.ReversalErr != nil:
		// The bad fill could not be unwound. Track it anyway and force the
		// next cycle to retry the exit before anything else.
		pos := domain.Position{
			ID:            uuid.NewString(),
			Account:       w.account.Name,
			Symbol:        symbol,
			Quantity:      fill.Quantity,
			EntryPrice:    fill.Price,
			EntryTime:     fill.Time,
			StopLoss:      fill.Price * (1 - w.params.StopLossPct),
			TakeProfit:    fill.Price * (1 + w.params.TakeProfitPct),
			TrailingHigh:  fill.Price,
			UrgentRecheck: true,
		}
		if err := w.store.Open(ctx, pos); err != nil {
			return err
		}
		w.notify(ctx, "slippage_reversal",
			fmt.Sprintf("%s: %s reversal FAILED, position tracked for urgent recheck", w.account.Name, symbol))
	}
	return nil
}

// closePosition sells the recorded base quantity at market and settles the
// store. Exit failures are logged and retried next cycle; the position stays
// tracked until a sell actually fills.
func (w *accountWorker) closePosition(ctx context.Context, pos domain.Position, reason string) {
	price, err := w.account.Broker.GetPrice(ctx, pos.Symbol)
	if err != nil {
		w.logger.WarnContext(ctx, "close pricing failed",
			slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
		price = 0
	}

	req := domain.OrderRequest{
		ClientID:      uuid.NewString(),
		Symbol:        pos.Symbol,
		Side:          domain.OrderSideSell,
		Size:          pos.Quantity,
		Unit:          domain.SizeUnitBase,
		ExpectedPrice: price,
	}
	fill, err := w.account.Broker.PlaceMarketOrder(ctx, req)
	if err != nil {
		w.logger.ErrorContext(ctx, "close order failed",
			slog.String("symbol", pos.Symbol),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		w.store.MarkUrgent(ctx, pos.Account, pos.Symbol, true)
		return
	}

	if price > 0 {
		w.validator.CheckExit(ctx, req, fill)
	}

	outcome, err := w.store.Close(ctx, pos.Account, pos.Symbol, fill.Price)
	if err != nil {
		w.logger.ErrorContext(ctx, "store close failed",
			slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
		return
	}

	w.recordJournal(ctx, domain.JournalEntry{
		ID:        uuid.NewString(),
		Account:   pos.Account,
		Symbol:    pos.Symbol,
		Event:     domain.JournalClosed,
		Side:      domain.OrderSideSell,
		Quantity:  fill.Quantity,
		Price:     fill.Price,
		Notional:  fill.Notional(),
		PnL:       outcome.PnL,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})

	msg := fmt.Sprintf("%s: closed %s at %.4f (%s), pnl %.2f", pos.Account, pos.Symbol, fill.Price, reason, outcome.PnL)
	if outcome.Dusted {
		msg += " [residue blacklisted as dust]"
	}
	w.notify(ctx, "position_closed", msg)
	w.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
		slog.Float64("pnl", outcome.PnL),
		slog.Bool("dusted", outcome.Dusted),
	)
}

// updateCircuit transitions the balance circuit breaker and reports whether
// new entries are allowed this cycle. Exits always continue regardless of
// circuit state.
func (w *accountWorker) updateCircuit(ctx context.Context, balance float64) bool {
	w.mu.Lock()
	prev := w.status.State
	w.mu.Unlock()

	if balance < w.params.BalanceFloor {
		if prev != domain.CircuitHalted {
			reason := fmt.Sprintf("balance %.2f below floor %.2f", balance, w.params.BalanceFloor)
			w.setHalted(reason)
			w.notify(ctx, "account_halted", w.account.Name+": "+reason)
			w.logger.WarnContext(ctx, "circuit opened, entries halted", slog.Float64("balance", balance))
		}
		return false
	}

	if prev == domain.CircuitHalted {
		w.setRecovered()
		w.notify(ctx, "account_recovered", fmt.Sprintf("%s: balance %.2f back above floor", w.account.Name, balance))
		w.logger.InfoContext(ctx, "circuit closed, entries resumed", slog.Float64("balance", balance))
	}
	return true
}

// haltAuth permanently stops the account after a credential failure.
func (w *accountWorker) haltAuth(ctx context.Context, err error) {
	w.setHalted("authentication failure: " + err.Error())
	w.notify(ctx, "auth_failure", w.account.Name+": credentials rejected, account stopped")
	w.logger.ErrorContext(ctx, "authentication failed, account stopped",
		slog.String("error", err.Error()))
	w.publishStatus(ctx)
}

func (w *accountWorker) finishCycle(ctx context.Context, balance float64) {
	w.mu.Lock()
	w.status.Balance = balance
	w.status.OpenPositions = w.store.Count(w.account.Name)
	w.status.CyclesRun++
	w.status.LastCycleAt = time.Now().UTC()
	w.mu.Unlock()
	w.publishStatus(ctx)
}

func (w *accountWorker) setHalted(reason string) {
	w.mu.Lock()
	w.status.State = domain.CircuitHalted
	w.status.HaltReason = reason
	w.mu.Unlock()
}

func (w *accountWorker) setRecovered() {
	w.mu.Lock()
	w.status.State = domain.CircuitOK
	w.status.HaltReason = ""
	w.mu.Unlock()
}

func (w *accountWorker) setLastError(err error) {
	w.mu.Lock()
	w.status.LastError = err.Error()
	w.mu.Unlock()
}

// Status returns a copy of the worker's current snapshot.
func (w *accountWorker) Status() domain.AccountStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *accountWorker) publishStatus(ctx context.Context) {
	if w.statusOut == nil {
		return
	}
	w.statusOut.PublishStatus(ctx, w.Status())
}

func (w *accountWorker) notify(ctx context.Context, event, message string) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(ctx, event, message)
}

func (w *accountWorker) recordJournal(ctx context.Context, entry domain.JournalEntry) {
	if w.journal == nil {
		return
	}
	if err := w.journal.Record(ctx, entry); err != nil {
		w.logger.WarnContext(ctx, "journal write failed",
			slog.String("symbol", entry.Symbol), slog.String("error", err.Error()))
	}
}

// brokerLiquidator adapts the worker's broker connection to the cap
// enforcer's narrower interface.
type brokerLiquidator struct {
	worker *accountWorker
}

func (l *brokerLiquidator) Price(ctx context.Context, symbol string) (float64, error) {
	return l.worker.account.Broker.GetPrice(ctx, symbol)
}

func (l *brokerLiquidator) CloseMarket(ctx context.Context, pos domain.Position) (domain.Fill, error) {
	return l.worker.account.Broker.PlaceMarketOrder(ctx, domain.OrderRequest{
		ClientID:      uuid.NewString(),
		Symbol:        pos.Symbol,
		Side:          domain.OrderSideSell,
		Size:          pos.Quantity,
		Unit:          domain.SizeUnitBase,
		ExpectedPrice: 0,
	})
}
