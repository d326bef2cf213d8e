// Package config defines the top-level configuration for cyclebot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CYCLEBOT_* environment
// variables.
type Config struct {
	Accounts []AccountConfig `toml:"account"`
	Engine   EngineConfig    `toml:"engine"`
	Postgres PostgresConfig  `toml:"postgres"`
	Redis    RedisConfig     `toml:"redis"`
	S3       S3Config        `toml:"s3"`
	Server   ServerConfig    `toml:"server"`
	Notify   NotifyConfig    `toml:"notify"`
	LogLevel string          `toml:"log_level"`
}

// AccountConfig holds one trading account: its role, broker, credentials,
// and the symbols its loop tracks. Each account gets its own broker
// connection even when two accounts use the same broker.
type AccountConfig struct {
	Name   string `toml:"name"`
	Role   string `toml:"role"`   // "master" or "delegated_user"
	Broker string `toml:"broker"` // "kraken" or "coinbase"

	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`

	// EncryptedSecretPath points at a JSON blob produced by the keymanager;
	// when set, SecretPassword is required and ApiSecret is ignored.
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`

	QuoteCurrency string   `toml:"quote_currency"`
	Symbols       []string `toml:"symbols"`
}

// EngineConfig holds the per-account loop parameters. All accounts share
// these limits; credentials and symbols differ per account.
type EngineConfig struct {
	CycleInterval  duration `toml:"cycle_interval"`
	CandleInterval duration `toml:"candle_interval"`
	CandleCount    int      `toml:"candle_count"`

	MaxPositions        int     `toml:"max_positions"`
	RiskFraction        float64 `toml:"risk_fraction"` // fraction of balance per entry
	MinPositionNotional float64 `toml:"min_position_notional"`
	MaxPositionNotional float64 `toml:"max_position_notional"`

	DustFloorUSD     float64  `toml:"dust_floor_usd"`
	CooldownDuration duration `toml:"cooldown_duration"`

	// BalanceFloorUSD is the circuit-breaker floor: below it no new entries
	// are placed, but open positions keep being monitored and closed.
	BalanceFloorUSD float64 `toml:"balance_floor_usd"`

	SlippageThreshold float64 `toml:"slippage_threshold"` // e.g. 0.005 = 0.5%

	StopLossPct     float64 `toml:"stop_loss_pct"`
	TakeProfitPct   float64 `toml:"take_profit_pct"`
	TrailingStopPct float64 `toml:"trailing_stop_pct"`

	// SignalChannel, when non-empty, switches the engine to externally
	// published signals on this Redis channel instead of the built-in
	// momentum evaluator.
	SignalChannel string `toml:"signal_channel"`
}

// PostgresConfig holds PostgreSQL connection parameters for the position
// checkpoint and trade journal. Disabled means the engine runs purely
// in-memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the dust mirror, the
// status event bus, and the external signal feed.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the journal
// archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveInterval      duration `toml:"archive_interval"`
}

// ServerConfig holds the status HTTP/WebSocket server parameters. APIKey,
// when set, gates the admin endpoints (dust clearing); the read-only status
// surface stays open.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			CycleInterval:       duration{3 * time.Minute},
			CandleInterval:      duration{5 * time.Minute},
			CandleCount:         50,
			MaxPositions:        5,
			RiskFraction:        0.05,
			MinPositionNotional: 10.0,
			MaxPositionNotional: 500.0,
			DustFloorUSD:        1.0,
			CooldownDuration:    duration{30 * time.Minute},
			BalanceFloorUSD:     50.0,
			SlippageThreshold:   0.005,
			StopLossPct:         0.05,
			TakeProfitPct:       0.10,
			TrailingStopPct:     0.03,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "cyclebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "cyclebot-archive",
			UseSSL:               false,
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
			ArchiveInterval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"account_halted", "auth_failure", "slippage_reversal", "position_closed"},
		},
		LogLevel: "info",
	}
}

// validRoles enumerates the accepted values for AccountConfig.Role.
var validRoles = map[string]bool{
	"master":         true,
	"delegated_user": true,
}

// validBrokers enumerates the accepted values for AccountConfig.Broker.
var validBrokers = map[string]bool{
	"kraken":   true,
	"coinbase": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Accounts
	if len(c.Accounts) == 0 {
		errs = append(errs, "at least one [[account]] must be configured")
	}
	seen := make(map[string]bool, len(c.Accounts))
	masters := 0
	for i, a := range c.Accounts {
		prefix := fmt.Sprintf("account[%d] %q", i, a.Name)
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("account[%d]: name must not be empty", i))
		}
		if seen[a.Name] {
			errs = append(errs, prefix+": duplicate account name")
		}
		seen[a.Name] = true
		if !validRoles[a.Role] {
			errs = append(errs, fmt.Sprintf("%s: unknown role %q (valid: master, delegated_user)", prefix, a.Role))
		}
		if a.Role == "master" {
			masters++
		}
		if !validBrokers[a.Broker] {
			errs = append(errs, fmt.Sprintf("%s: unknown broker %q (valid: kraken, coinbase)", prefix, a.Broker))
		}
		if a.ApiKey == "" {
			errs = append(errs, prefix+": api_key must not be empty")
		}
		if a.ApiSecret == "" && a.EncryptedSecretPath == "" {
			errs = append(errs, prefix+": either api_secret or encrypted_secret_path must be set")
		}
		if a.EncryptedSecretPath != "" && a.SecretPassword == "" {
			errs = append(errs, prefix+": secret_password is required when encrypted_secret_path is set")
		}
		if a.QuoteCurrency == "" {
			errs = append(errs, prefix+": quote_currency must not be empty")
		}
		if len(a.Symbols) == 0 {
			errs = append(errs, prefix+": at least one tracked symbol is required")
		}
	}
	if len(c.Accounts) > 0 && masters != 1 {
		errs = append(errs, fmt.Sprintf("exactly one account must have role master, got %d", masters))
	}

	// Engine
	e := c.Engine
	if e.CycleInterval.Duration <= 0 {
		errs = append(errs, "engine: cycle_interval must be > 0")
	}
	if e.CandleInterval.Duration <= 0 {
		errs = append(errs, "engine: candle_interval must be > 0")
	}
	if e.CandleCount < 20 {
		errs = append(errs, "engine: candle_count must be >= 20")
	}
	if e.MaxPositions < 1 {
		errs = append(errs, "engine: max_positions must be >= 1")
	}
	if e.RiskFraction <= 0 || e.RiskFraction > 1 {
		errs = append(errs, "engine: risk_fraction must be in (0, 1]")
	}
	if e.MinPositionNotional <= 0 {
		errs = append(errs, "engine: min_position_notional must be > 0")
	}
	if e.MaxPositionNotional < e.MinPositionNotional {
		errs = append(errs, "engine: max_position_notional must not be below min_position_notional")
	}
	if e.DustFloorUSD < 0 {
		errs = append(errs, "engine: dust_floor_usd must be >= 0")
	}
	if e.CooldownDuration.Duration <= 0 {
		errs = append(errs, "engine: cooldown_duration must be > 0")
	}
	if e.BalanceFloorUSD < 0 {
		errs = append(errs, "engine: balance_floor_usd must be >= 0")
	}
	if e.SlippageThreshold <= 0 || e.SlippageThreshold >= 1 {
		errs = append(errs, "engine: slippage_threshold must be in (0, 1)")
	}
	if e.StopLossPct <= 0 || e.TakeProfitPct <= 0 {
		errs = append(errs, "engine: stop_loss_pct and take_profit_pct must be > 0")
	}
	if e.TrailingStopPct < 0 {
		errs = append(errs, "engine: trailing_stop_pct must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Engine.SignalChannel != "" && !c.Redis.Enabled {
		errs = append(errs, "engine: signal_channel requires redis.enabled = true")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: journal archiving requires postgres.enabled = true")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
