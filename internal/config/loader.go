package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the config: defaults, then the TOML file at path (a missing
// file keeps the defaults), then .env, then environment overrides. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	return &cfg, nil
}

// applyEnvOverrides applies POLYARB_* variables, then the short variables
// older deployments set (DRY_RUN, POLY_*, CB_*, ...), which win.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "POLYARB_MODE")

	setStr(&cfg.Wallet.PrivateKey, "POLYARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.Funder, "POLYARB_WALLET_FUNDER")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYARB_WALLET_KEY_PASSWORD")

	setStr(&cfg.Polymarket.ClobHost, "POLYARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYARB_POLYMARKET_WS_HOST")
	setInt64(&cfg.Polymarket.ChainID, "POLYARB_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYARB_POLYMARKET_SIGNATURE_TYPE")
	setInt64(&cfg.Polymarket.APIKeyNonce, "POLYARB_POLYMARKET_API_KEY_NONCE")

	setStringSlice(&cfg.Discovery.MarketSlugs, "POLYARB_DISCOVERY_MARKET_SLUGS")
	setStringSlice(&cfg.Discovery.EnabledLeagues, "POLYARB_DISCOVERY_ENABLED_LEAGUES")
	setStr(&cfg.Discovery.CacheBackend, "POLYARB_DISCOVERY_CACHE_BACKEND")
	setDuration(&cfg.Discovery.CacheTTL, "POLYARB_DISCOVERY_CACHE_TTL")
	setBool(&cfg.Discovery.Force, "POLYARB_DISCOVERY_FORCE")

	setFloat64(&cfg.Arbitrage.Threshold, "POLYARB_ARBITRAGE_THRESHOLD")
	setInt(&cfg.Arbitrage.MaxContracts, "POLYARB_ARBITRAGE_MAX_CONTRACTS")
	setBool(&cfg.Arbitrage.DryRun, "POLYARB_ARBITRAGE_DRY_RUN")
	setBool(&cfg.Arbitrage.TestArb, "POLYARB_ARBITRAGE_TEST_ARB")

	setStr(&cfg.Unwind.Mode, "POLYARB_UNWIND_MODE")
	setInt(&cfg.Unwind.LimitSlippageCents, "POLYARB_UNWIND_LIMIT_SLIPPAGE_CENTS")
	setInt(&cfg.Unwind.MaxAttempts, "POLYARB_UNWIND_MAX_ATTEMPTS")

	setStr(&cfg.Positions.Dir, "POLYARB_POSITIONS_DIR")
	setInt(&cfg.Positions.FillBuffer, "POLYARB_POSITIONS_FILL_BUFFER")

	setBool(&cfg.Store.Enabled, "POLYARB_STORE_ENABLED")
	setStr(&cfg.Store.DSN, "POLYARB_STORE_DSN")
	setStr(&cfg.Store.Host, "POLYARB_STORE_HOST")
	setInt(&cfg.Store.Port, "POLYARB_STORE_PORT")
	setStr(&cfg.Store.Database, "POLYARB_STORE_DATABASE")
	setStr(&cfg.Store.User, "POLYARB_STORE_USER")
	setStr(&cfg.Store.Password, "POLYARB_STORE_PASSWORD")
	setStr(&cfg.Store.SSLMode, "POLYARB_STORE_SSL_MODE")

	setBool(&cfg.Redis.Enabled, "POLYARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "POLYARB_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "POLYARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "POLYARB_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Notify.TelegramToken, "POLYARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYARB_NOTIFY_EVENTS")

	setStr(&cfg.Log.Level, "POLYARB_LOG_LEVEL")
	setStr(&cfg.Log.File, "POLYARB_LOG_FILE")

	// Short names.
	setFlag(&cfg.Arbitrage.DryRun, "DRY_RUN")
	setFlag(&cfg.Arbitrage.TestArb, "TEST_ARB")
	setFlag(&cfg.Discovery.Force, "FORCE_DISCOVERY")
	setStr(&cfg.Wallet.PrivateKey, "POLY_PRIVATE_KEY")
	setStr(&cfg.Wallet.Funder, "POLY_FUNDER")
	setStringSlice(&cfg.Discovery.MarketSlugs, "POLY_MARKET_SLUGS")

	setFlag(&cfg.CircuitBreaker.Enabled, "CB_ENABLED")
	setInt(&cfg.CircuitBreaker.MaxPositionPerMarket, "CB_MAX_POSITION_PER_MARKET")
	setInt(&cfg.CircuitBreaker.MaxTotalPosition, "CB_MAX_TOTAL_POSITION")
	setFloat64(&cfg.CircuitBreaker.MaxDailyLoss, "CB_MAX_DAILY_LOSS")
	setInt(&cfg.CircuitBreaker.MaxConsecutiveErrors, "CB_MAX_CONSECUTIVE_ERRORS")
	setSeconds(&cfg.CircuitBreaker.Cooldown, "CB_COOLDOWN_SECS")
}

// Each setter changes dst only when the variable is set, non-empty, and
// parses.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

// setFlag treats "1" and "true" as on and any other value as off.
func setFlag(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		v = strings.ToLower(strings.TrimSpace(v))
		*dst = v == "1" || v == "true"
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setSeconds(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dst.Duration = time.Duration(n) * time.Second
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
