package risk

import (
	"context"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// Liquidator is the slice of broker capability the cap enforcer needs to
// value and flatten positions.
type Liquidator interface {
	Price(ctx context.Context, symbol string) (float64, error)
	CloseMarket(ctx context.Context, pos domain.Position) (domain.Fill, error)
}

// CapEnforcer trims an account's position count down to its configured
// maximum by liquidating the least valuable holdings first.
type CapEnforcer struct {
	store  *Store
	max    int
	logger *slog.Logger
}

// NewCapEnforcer builds an enforcer over the shared store. max is the
// per-account position ceiling.
func NewCapEnforcer(store *Store, max int, logger *slog.Logger) *CapEnforcer {
	return &CapEnforcer{
		store:  store,
		max:    max,
		logger: logger.With(slog.String("component", "cap")),
	}
}

// valued pairs a position with its current quote-currency value for sorting.
type valued struct {
	pos   domain.Position
	value float64
}

// Enforce liquidates positions until the account is at or under the cap.
// Eviction order is smallest current value first, with ties broken by the
// older entry. A failure to price or close one position logs and moves on so
// a single bad symbol cannot wedge the whole trim; that position simply
// stays until the next cycle. Returns the positions actually closed.
func (e *CapEnforcer) Enforce(ctx context.Context, account string, liq Liquidator) ([]domain.Position, error) {
	open := e.store.List(account)
	excess := len(open) - e.max
	if excess <= 0 {
		return nil, nil
	}

	e.logger.InfoContext(ctx, "position cap exceeded",
		slog.String("account", account),
		slog.Int("open", len(open)),
		slog.Int("max", e.max),
	)

	ranked := make([]valued, 0, len(open))
	for _, pos := range open {
		price, err := liq.Price(ctx, pos.Symbol)
		if err != nil {
			e.logger.WarnContext(ctx, "cannot value position for cap check",
				slog.String("account", account), slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		ranked = append(ranked, valued{pos: pos, value: pos.Value(price)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].value != ranked[j].value {
			return ranked[i].value < ranked[j].value
		}
		return ranked[i].pos.EntryTime.Before(ranked[j].pos.EntryTime)
	})

	var closed []domain.Position
	for _, v := range ranked {
		if len(closed) >= excess {
			break
		}
		if err := ctx.Err(); err != nil {
			return closed, err
		}

		fill, err := liq.CloseMarket(ctx, v.pos)
		if err != nil {
			e.logger.WarnContext(ctx, "cap eviction close failed",
				slog.String("account", account), slog.String("symbol", v.pos.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		if _, err := e.store.Close(ctx, account, v.pos.Symbol, fill.Price); err != nil {
			e.logger.WarnContext(ctx, "cap eviction store close failed",
				slog.String("account", account), slog.String("symbol", v.pos.Symbol),
				slog.String("error", err.Error()))
			continue
		}

		e.logger.InfoContext(ctx, "position evicted for cap",
			slog.String("account", account),
			slog.String("symbol", v.pos.Symbol),
			slog.Float64("value", v.value),
		)
		closed = append(closed, v.pos)
	}
	return closed, nil
}
