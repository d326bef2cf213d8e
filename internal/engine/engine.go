// Package engine runs the per-account trading loops. Each configured account
// gets its own goroutine and broker connection; the engine only fans them
// out and aggregates their status.
package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cyclebot/internal/domain"
	"github.com/alanyoungcy/cyclebot/internal/execution"
	"github.com/alanyoungcy/cyclebot/internal/risk"
)

// Engine owns one worker per account.
type Engine struct {
	workers []*accountWorker
	logger  *slog.Logger
}

// New builds the engine. The store, cap enforcer, and validator are shared
// across workers; their state is keyed by account so workers never observe
// each other's positions.
func New(
	accounts []Account,
	params Params,
	store *risk.Store,
	validator *execution.Validator,
	signals domain.SignalSource,
	journal domain.JournalStore,
	notifier Notifier,
	statusOut StatusSink,
	logger *slog.Logger,
) *Engine {
	capEnforcer := risk.NewCapEnforcer(store, params.MaxPositions, logger)

	e := &Engine{logger: logger.With(slog.String("component", "engine"))}
	for _, acct := range accounts {
		e.workers = append(e.workers, newAccountWorker(
			acct, params, store, capEnforcer, validator, signals, journal, notifier, statusOut, logger,
		))
	}
	return e
}

// Run starts every account worker and blocks until the context is cancelled
// or a worker fails with an unrecoverable error. Auth-halted accounts return
// nil from their worker, so one bad credential never stops the rest.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "starting account workers", slog.Int("accounts", len(e.workers)))

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range e.workers {
		g.Go(func() error {
			return w.run(ctx)
		})
	}
	return g.Wait()
}

// Statuses returns a snapshot of every account's operational state, master
// account first. Consumed by the HTTP status surface.
func (e *Engine) Statuses() []domain.AccountStatus {
	out := make([]domain.AccountStatus, 0, len(e.workers))
	for _, w := range e.workers {
		if w.account.Role == domain.RoleMaster {
			out = append([]domain.AccountStatus{w.Status()}, out...)
			continue
		}
		out = append(out, w.Status())
	}
	return out
}

// Positions returns every open position across all accounts.
func (e *Engine) Positions() []domain.Position {
	var out []domain.Position
	seen := make(map[string]struct{}, len(e.workers))
	for _, w := range e.workers {
		if _, dup := seen[w.account.Name]; dup {
			continue
		}
		seen[w.account.Name] = struct{}{}
		out = append(out, w.store.List(w.account.Name)...)
	}
	return out
}
