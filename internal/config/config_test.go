package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Accounts = []AccountConfig{
		{
			Name:          "alpha",
			Role:          "master",
			Broker:        "kraken",
			ApiKey:        "key",
			ApiSecret:     "secret",
			QuoteCurrency: "USD",
			Symbols:       []string{"BTC-USD"},
		},
	}
	return cfg
}

func TestDefaultsWithAccountValidates(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Engine.RiskFraction = 1.5
	cfg.Engine.SlippageThreshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "risk_fraction")
	assert.Contains(t, err.Error(), "slippage_threshold")
	assert.Contains(t, err.Error(), "at least one [[account]]")
}

func TestValidateRequiresExactlyOneMaster(t *testing.T) {
	cfg := validConfig()
	second := cfg.Accounts[0]
	second.Name = "beta"
	second.Role = "master"
	cfg.Accounts = append(cfg.Accounts, second)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one account must have role master")
}

func TestValidateSignalChannelNeedsRedis(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.SignalChannel = "signals:ext"
	cfg.Redis.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal_channel requires redis.enabled")
}

func TestValidateArchiverNeedsPostgres(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Enabled = true
	cfg.Postgres.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal archiving requires postgres.enabled")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
log_level = "debug"

[[account]]
name = "alpha"
role = "master"
broker = "coinbase"
api_key = "k"
api_secret = "s"
quote_currency = "USD"
symbols = ["ETH-USD"]

[engine]
cycle_interval = "90s"
max_positions = 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.Engine.CycleInterval.Duration)
	assert.Equal(t, 3, cfg.Engine.MaxPositions)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.05, cfg.Engine.RiskFraction)
	assert.Equal(t, 50, cfg.Engine.CandleCount)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "coinbase", cfg.Accounts[0].Broker)
}

func TestEnvOverrides(t *testing.T) {
	cfg := validConfig()
	t.Setenv("CYCLEBOT_ACCOUNT_ALPHA_API_KEY", "env-key")
	t.Setenv("CYCLEBOT_ENGINE_RISK_FRACTION", "0.02")
	t.Setenv("CYCLEBOT_ENGINE_CYCLE_INTERVAL", "45s")
	t.Setenv("CYCLEBOT_SERVER_API_KEY", "admin-token")
	t.Setenv("CYCLEBOT_REDIS_ENABLED", "true")

	applyEnvOverrides(&cfg)

	assert.Equal(t, "env-key", cfg.Accounts[0].ApiKey)
	assert.Equal(t, 0.02, cfg.Engine.RiskFraction)
	assert.Equal(t, 45*time.Second, cfg.Engine.CycleInterval.Duration)
	assert.Equal(t, "admin-token", cfg.Server.APIKey)
	assert.True(t, cfg.Redis.Enabled)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pgpass"
	cfg.Server.APIKey = "admin-token"
	cfg.Notify.TelegramToken = "bot-token"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Accounts[0].ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// The original stays intact.
	assert.Equal(t, "secret", cfg.Accounts[0].ApiSecret)
}
