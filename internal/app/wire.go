package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/cyclebot/internal/blob/s3"
	"github.com/alanyoungcy/cyclebot/internal/cache/redis"
	"github.com/alanyoungcy/cyclebot/internal/config"
	"github.com/alanyoungcy/cyclebot/internal/domain"
	"github.com/alanyoungcy/cyclebot/internal/notify"
	"github.com/alanyoungcy/cyclebot/internal/signal"
	"github.com/alanyoungcy/cyclebot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the engine and the status server
// need to operate. Optional backends stay nil when their config section is
// disabled; consumers treat nil as "run in-memory only".
type Dependencies struct {
	// Persistence (nil when postgres is disabled).
	Checkpoint domain.CheckpointStore
	Journal    domain.JournalStore

	// Redis-backed surfaces (nil when redis is disabled).
	Bus     domain.EventBus
	DustSet *redis.DustSet

	// Signals is never nil: the external feed when a signal channel is
	// configured, the built-in momentum evaluator otherwise.
	Signals domain.SignalSource

	// Archiver is non-nil only when both postgres and s3 are enabled.
	Archiver *s3blob.Archiver

	// Notifier is never nil; with no senders configured it only logs.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL: position checkpoint and trade journal ---
	var journal *postgres.JournalStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Checkpoint = postgres.NewCheckpointStore(pool)
		journal = postgres.NewJournalStore(pool)
		deps.Journal = journal
	}

	// --- Redis: dust mirror, status event bus, external signal feed ---
	var bus *redis.EventBus
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus = redis.NewEventBus(redisClient)
		deps.Bus = bus
		deps.DustSet = redis.NewDustSet(redisClient)
	}

	// --- Signal source ---
	if cfg.Engine.SignalChannel != "" && bus != nil {
		feed, err := redis.NewSignalFeed(ctx, bus, cfg.Engine.SignalChannel, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signal feed: %w", err)
		}
		deps.Signals = feed
	} else {
		deps.Signals = signal.NewMomentum()
	}

	// --- S3: journal archiver ---
	if cfg.S3.Enabled && journal != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		retention := time.Duration(cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			journal,
			retention,
			cfg.S3.ArchiveInterval.Duration,
			logger,
		)
	}

	// --- Notifications ---
	senders := notify.SendersFromConfig(
		cfg.Notify.TelegramToken,
		cfg.Notify.TelegramChatID,
		cfg.Notify.DiscordWebhookURL,
	)
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
