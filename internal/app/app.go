// Package app provides the top-level application lifecycle management for
// cyclebot. It wires together all dependencies (brokers, risk store, stores,
// caches, blob storage, and notifications), starts the account loops and the
// status server, and blocks until shutdown.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cyclebot/internal/broker"
	"github.com/alanyoungcy/cyclebot/internal/broker/coinbase"
	"github.com/alanyoungcy/cyclebot/internal/broker/kraken"
	"github.com/alanyoungcy/cyclebot/internal/cache/redis"
	"github.com/alanyoungcy/cyclebot/internal/config"
	"github.com/alanyoungcy/cyclebot/internal/crypto"
	"github.com/alanyoungcy/cyclebot/internal/domain"
	"github.com/alanyoungcy/cyclebot/internal/engine"
	"github.com/alanyoungcy/cyclebot/internal/execution"
	"github.com/alanyoungcy/cyclebot/internal/risk"
	"github.com/alanyoungcy/cyclebot/internal/server"
	"github.com/alanyoungcy/cyclebot/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds one broker
// connection per account, starts the account loops plus the status server and
// background jobs, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Int("accounts", len(a.cfg.Accounts)),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	accounts, err := a.buildAccounts()
	if err != nil {
		return fmt.Errorf("app: build accounts: %w", err)
	}

	storeOpts := []risk.StoreOption{}
	if deps.Checkpoint != nil {
		storeOpts = append(storeOpts, risk.WithCheckpoint(deps.Checkpoint))
	}
	if deps.DustSet != nil {
		storeOpts = append(storeOpts, risk.WithDustMirror(deps.DustSet))
	}
	store := risk.NewStore(
		a.cfg.Engine.DustFloorUSD,
		a.cfg.Engine.CooldownDuration.Duration,
		a.logger,
		storeOpts...,
	)

	validator := execution.NewValidator(a.cfg.Engine.SlippageThreshold, a.logger)

	var statusOut engine.StatusSink
	var hub *ws.Hub
	if deps.Bus != nil {
		statusOut = &busStatusSink{bus: deps.Bus, logger: a.logger}
		hub = ws.NewHub(deps.Bus, a.logger)
	}

	eng := engine.New(
		accounts,
		engine.Params{
			CycleInterval:       a.cfg.Engine.CycleInterval.Duration,
			CandleInterval:      a.cfg.Engine.CandleInterval.Duration,
			CandleCount:         a.cfg.Engine.CandleCount,
			MaxPositions:        a.cfg.Engine.MaxPositions,
			RiskFraction:        a.cfg.Engine.RiskFraction,
			MinPositionNotional: a.cfg.Engine.MinPositionNotional,
			MaxPositionNotional: a.cfg.Engine.MaxPositionNotional,
			BalanceFloor:        a.cfg.Engine.BalanceFloorUSD,
			StopLossPct:         a.cfg.Engine.StopLossPct,
			TakeProfitPct:       a.cfg.Engine.TakeProfitPct,
			TrailingStopPct:     a.cfg.Engine.TrailingStopPct,
		},
		store,
		validator,
		deps.Signals,
		deps.Journal,
		deps.Notifier,
		statusOut,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(ctx)
	})

	if hub != nil {
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.New(
			server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.APIKey},
			eng,
			&dustAdmin{store: store, mirror: deps.DustSet},
			hub,
			a.logger,
		)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	deps.Notifier.Notify(ctx, "engine_started",
		fmt.Sprintf("trading %d account(s)", len(accounts)))
	defer deps.Notifier.Notify(context.Background(), "engine_stopped", "shutting down")

	return g.Wait()
}

// buildAccounts resolves credentials and constructs one broker client per
// configured account. Two accounts on the same broker still get independent
// connections so their nonce counters never interleave.
func (a *App) buildAccounts() ([]engine.Account, error) {
	accounts := make([]engine.Account, 0, len(a.cfg.Accounts))
	for _, ac := range a.cfg.Accounts {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           ac.ApiSecret,
			EncryptedSecretPath: ac.EncryptedSecretPath,
			Password:            ac.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", ac.Name, err)
		}

		var b broker.Broker
		switch ac.Broker {
		case "kraken":
			b, err = kraken.New(ac.ApiKey, secret, a.logger)
		case "coinbase":
			b, err = coinbase.New(ac.ApiKey, secret, ac.QuoteCurrency, a.logger)
		default:
			err = fmt.Errorf("unknown broker %q", ac.Broker)
		}
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", ac.Name, err)
		}

		accounts = append(accounts, engine.Account{
			Name:    ac.Name,
			Role:    domain.AccountRole(ac.Role),
			Symbols: ac.Symbols,
			Broker:  b,
		})
	}
	return accounts, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// busStatusSink publishes account status snapshots on the event bus so the
// WebSocket hub can fan them out. Publish failures are logged, never
// propagated; the trading loop does not depend on the status surface.
type busStatusSink struct {
	bus    domain.EventBus
	logger *slog.Logger
}

func (s *busStatusSink) PublishStatus(ctx context.Context, status domain.AccountStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ws.StatusChannel, data); err != nil {
		s.logger.WarnContext(ctx, "status publish failed",
			slog.String("account", status.Account),
			slog.String("error", err.Error()),
		)
	}
}

// dustAdmin backs the admin endpoint that lifts dust blacklist entries. It
// clears the authoritative in-memory set first, then the Redis mirror when
// one is configured.
type dustAdmin struct {
	store  *risk.Store
	mirror *redis.DustSet
}

func (d *dustAdmin) ClearDust(ctx context.Context, account, symbol string) error {
	if err := d.store.ClearBlacklist(account, symbol); err != nil {
		return err
	}
	if d.mirror != nil {
		if err := d.mirror.Remove(ctx, account, symbol); err != nil {
			return fmt.Errorf("app: clearing dust mirror: %w", err)
		}
	}
	return nil
}
