package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields
// replaced by the redaction placeholder "***". Use this when logging or
// printing the active configuration so secrets are never accidentally
// exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Accounts carry broker credentials; copy the slice so callers cannot
	// mutate the original through the redacted copy.
	out.Accounts = make([]AccountConfig, len(cfg.Accounts))
	copy(out.Accounts, cfg.Accounts)
	for i := range out.Accounts {
		redact(&out.Accounts[i].ApiKey)
		redact(&out.Accounts[i].ApiSecret)
		redact(&out.Accounts[i].SecretPassword)
		if cfg.Accounts[i].Symbols != nil {
			out.Accounts[i].Symbols = make([]string, len(cfg.Accounts[i].Symbols))
			copy(out.Accounts[i].Symbols, cfg.Accounts[i].Symbols)
		}
	}

	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
