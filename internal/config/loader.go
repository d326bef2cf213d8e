package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CYCLEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CYCLEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file. Per-account credentials are addressed by the
// account name, upper-cased: CYCLEBOT_ACCOUNT_<NAME>_API_KEY.
func applyEnvOverrides(cfg *Config) {
	// ── Accounts ──
	for i := range cfg.Accounts {
		name := strings.ToUpper(strings.ReplaceAll(cfg.Accounts[i].Name, "-", "_"))
		setStr(&cfg.Accounts[i].ApiKey, "CYCLEBOT_ACCOUNT_"+name+"_API_KEY")
		setStr(&cfg.Accounts[i].ApiSecret, "CYCLEBOT_ACCOUNT_"+name+"_API_SECRET")
		setStr(&cfg.Accounts[i].EncryptedSecretPath, "CYCLEBOT_ACCOUNT_"+name+"_ENCRYPTED_SECRET_PATH")
		setStr(&cfg.Accounts[i].SecretPassword, "CYCLEBOT_ACCOUNT_"+name+"_SECRET_PASSWORD")
	}

	// ── Engine ──
	setDuration(&cfg.Engine.CycleInterval, "CYCLEBOT_ENGINE_CYCLE_INTERVAL")
	setDuration(&cfg.Engine.CandleInterval, "CYCLEBOT_ENGINE_CANDLE_INTERVAL")
	setInt(&cfg.Engine.CandleCount, "CYCLEBOT_ENGINE_CANDLE_COUNT")
	setInt(&cfg.Engine.MaxPositions, "CYCLEBOT_ENGINE_MAX_POSITIONS")
	setFloat64(&cfg.Engine.RiskFraction, "CYCLEBOT_ENGINE_RISK_FRACTION")
	setFloat64(&cfg.Engine.MinPositionNotional, "CYCLEBOT_ENGINE_MIN_POSITION_NOTIONAL")
	setFloat64(&cfg.Engine.MaxPositionNotional, "CYCLEBOT_ENGINE_MAX_POSITION_NOTIONAL")
	setFloat64(&cfg.Engine.DustFloorUSD, "CYCLEBOT_ENGINE_DUST_FLOOR_USD")
	setDuration(&cfg.Engine.CooldownDuration, "CYCLEBOT_ENGINE_COOLDOWN_DURATION")
	setFloat64(&cfg.Engine.BalanceFloorUSD, "CYCLEBOT_ENGINE_BALANCE_FLOOR_USD")
	setFloat64(&cfg.Engine.SlippageThreshold, "CYCLEBOT_ENGINE_SLIPPAGE_THRESHOLD")
	setFloat64(&cfg.Engine.StopLossPct, "CYCLEBOT_ENGINE_STOP_LOSS_PCT")
	setFloat64(&cfg.Engine.TakeProfitPct, "CYCLEBOT_ENGINE_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Engine.TrailingStopPct, "CYCLEBOT_ENGINE_TRAILING_STOP_PCT")
	setStr(&cfg.Engine.SignalChannel, "CYCLEBOT_ENGINE_SIGNAL_CHANNEL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CYCLEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CYCLEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CYCLEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CYCLEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CYCLEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CYCLEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CYCLEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CYCLEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CYCLEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CYCLEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CYCLEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CYCLEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CYCLEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CYCLEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CYCLEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CYCLEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CYCLEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CYCLEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CYCLEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CYCLEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CYCLEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CYCLEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CYCLEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CYCLEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CYCLEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CYCLEBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "CYCLEBOT_S3_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.S3.ArchiveInterval, "CYCLEBOT_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CYCLEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CYCLEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CYCLEBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CYCLEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CYCLEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CYCLEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CYCLEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CYCLEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
