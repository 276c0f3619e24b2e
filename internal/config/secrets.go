package config

const redacted = "***"

// RedactedConfig returns a copy of cfg with secrets masked, for logging.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Store.DSN)
	redact(&out.Store.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Discovery.MarketSlugs = cloneStrings(cfg.Discovery.MarketSlugs)
	out.Discovery.EnabledLeagues = cloneStrings(cfg.Discovery.EnabledLeagues)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
