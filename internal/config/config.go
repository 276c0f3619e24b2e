// Package config defines the bot's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by environment variables.
type Config struct {
	Mode           string               `toml:"mode"`
	Wallet         WalletConfig         `toml:"wallet"`
	Polymarket     PolymarketConfig     `toml:"polymarket"`
	Discovery      DiscoveryConfig      `toml:"discovery"`
	Arbitrage      ArbitrageConfig      `toml:"arbitrage"`
	Unwind         UnwindConfig         `toml:"unwind"`
	CircuitBreaker CircuitBreakerConfig `toml:"circuit_breaker"`
	Positions      PositionsConfig      `toml:"positions"`
	Store          StoreConfig          `toml:"store"`
	Redis          RedisConfig          `toml:"redis"`
	S3             S3Config             `toml:"s3"`
	Notify         NotifyConfig         `toml:"notify"`
	Log            LogConfig            `toml:"log"`
}

// Modes.
const (
	ModeArbitrage = "arbitrage"
	ModeDiscover  = "discover"
)

// WalletConfig holds the trading key. Either PrivateKey or
// EncryptedKeyPath is needed for live trading.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	Funder           string `toml:"funder"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int64  `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	// APIKeyNonce is the nonce used to derive the L2 API key.
	APIKeyNonce    int64    `toml:"api_key_nonce"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	PingInterval   duration `toml:"ping_interval"`
}

// DiscoveryConfig controls which markets are traded.
type DiscoveryConfig struct {
	MarketSlugs    []string `toml:"market_slugs"`
	EnabledLeagues []string `toml:"enabled_leagues"`
	Concurrency    int      `toml:"concurrency"`
	CacheTTL       duration `toml:"cache_ttl"`
	// CacheBackend is "file" or "redis".
	CacheBackend string `toml:"cache_backend"`
	CacheFile    string `toml:"cache_file"`
	Force        bool   `toml:"force"`
	SearchPages  int    `toml:"search_pages"`
	// Capacity is the number of market slots reserved at startup.
	Capacity int `toml:"capacity"`
}

// ArbitrageConfig holds detection and execution parameters.
type ArbitrageConfig struct {
	// Threshold is the total YES+NO cost in dollars below which a market
	// signals, e.g. 0.995.
	Threshold         float64  `toml:"threshold"`
	MaxContracts      int      `toml:"max_contracts"`
	DryRun            bool     `toml:"dry_run"`
	DryRunLatency     duration `toml:"dry_run_latency"`
	QueueSize         int      `toml:"queue_size"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	TestArb           bool     `toml:"test_arb"`
	TestArbDelay      duration `toml:"test_arb_delay"`
}

// UnwindConfig controls how an over-filled leg is sold back.
type UnwindConfig struct {
	Mode               string   `toml:"mode"`
	LimitSlippageCents int      `toml:"limit_slippage_cents"`
	MaxAttempts        int      `toml:"max_attempts"`
	RetryDelay         duration `toml:"retry_delay"`
}

// CircuitBreakerConfig holds the risk limits. Positions are contracts.
type CircuitBreakerConfig struct {
	Enabled              bool     `toml:"enabled"`
	MaxPositionPerMarket int      `toml:"max_position_per_market"`
	MaxTotalPosition     int      `toml:"max_total_position"`
	MaxDailyLoss         float64  `toml:"max_daily_loss"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	Cooldown             duration `toml:"cooldown"`
}

// PositionsConfig controls the fill channel and tracker persistence.
type PositionsConfig struct {
	Dir          string   `toml:"dir"`
	FillBuffer   int      `toml:"fill_buffer"`
	SaveInterval duration `toml:"save_interval"`
}

// StoreConfig holds PostgreSQL parameters.
type StoreConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds object storage parameters for the fill archive.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	FlushInterval  duration `toml:"flush_interval"`
}

// NotifyConfig holds alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig controls logging. File enables a rotating log file next to
// stdout.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// duration decodes TOML strings such as "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the shipped configuration: dry run, every league, no
// external stores.
func Defaults() Config {
	return Config{
		Mode: ModeArbitrage,
		Polymarket: PolymarketConfig{
			ClobHost:       "https://clob.polymarket.com",
			GammaHost:      "https://gamma-api.polymarket.com",
			WsHost:         "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:        137,
			SignatureType:  0,
			ReconnectDelay: duration{5 * time.Second},
			PingInterval:   duration{30 * time.Second},
		},
		Discovery: DiscoveryConfig{
			Concurrency:  20,
			CacheTTL:     duration{2 * time.Hour},
			CacheBackend: "file",
			CacheFile:    ".discovery_cache.json",
			Capacity:     1024,
		},
		Arbitrage: ArbitrageConfig{
			Threshold:         0.995,
			DryRun:            true,
			QueueSize:         256,
			HeartbeatInterval: duration{60 * time.Second},
			TestArbDelay:      duration{10 * time.Second},
		},
		Unwind: UnwindConfig{
			Mode:        "market",
			MaxAttempts: 1,
			RetryDelay:  duration{500 * time.Millisecond},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:              true,
			MaxPositionPerMarket: 50000,
			MaxTotalPosition:     100000,
			MaxDailyLoss:         500,
			MaxConsecutiveErrors: 5,
			Cooldown:             duration{5 * time.Minute},
		},
		Positions: PositionsConfig{
			Dir:          ".",
			FillBuffer:   1024,
			SaveInterval: duration{5 * time.Second},
		},
		Store: StoreConfig{
			Port:          5432,
			SSLMode:       "disable",
			MaxConns:      5,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "polyarb:",
			StreamMaxLen: 10000,
			LockTTL:      duration{30 * time.Second},
		},
		S3: S3Config{
			Region:        "us-east-1",
			Prefix:        "polyarb",
			FlushInterval: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"startup", "shutdown", "breaker_trip", "unwind_failed"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Live reports whether orders go to the exchange.
func (c *Config) Live() bool {
	return c.Mode == ModeArbitrage && !c.Arbitrage.DryRun
}

// Validate checks the whole config and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch strings.ToLower(c.Mode) {
	case ModeArbitrage, ModeDiscover:
	default:
		add("unknown mode %q (valid: arbitrage, discover)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		add("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level)
	}

	if c.Live() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: private_key or encrypted_key_path is required when dry_run is off")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Polymarket.ClobHost == "" || c.Polymarket.GammaHost == "" || c.Polymarket.WsHost == "" {
		add("polymarket: clob_host, gamma_host, and ws_host must be set")
	}
	if c.Polymarket.ChainID <= 0 {
		add("polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		add("polymarket: signature_type must be 0 (EOA), 1 (proxy), or 2 (Safe), got %d", c.Polymarket.SignatureType)
	}

	if c.Discovery.Concurrency < 1 {
		add("discovery: concurrency must be >= 1")
	}
	if c.Discovery.Capacity < 1 || c.Discovery.Capacity > 1<<16 {
		add("discovery: capacity must be 1-65536, got %d", c.Discovery.Capacity)
	}
	switch c.Discovery.CacheBackend {
	case "file":
	case "redis":
		if !c.Redis.Enabled {
			add("discovery: cache_backend redis needs redis.enabled")
		}
	default:
		add("discovery: unknown cache_backend %q (valid: file, redis)", c.Discovery.CacheBackend)
	}

	if c.Arbitrage.Threshold <= 0 || c.Arbitrage.Threshold > 1 {
		add("arbitrage: threshold must be in (0, 1], got %g", c.Arbitrage.Threshold)
	}
	if c.Arbitrage.MaxContracts < 0 {
		add("arbitrage: max_contracts must be >= 0")
	}
	if c.Arbitrage.QueueSize < 1 {
		add("arbitrage: queue_size must be >= 1")
	}
	if c.Arbitrage.HeartbeatInterval.Duration <= 0 {
		add("arbitrage: heartbeat_interval must be positive")
	}

	switch strings.ToLower(c.Unwind.Mode) {
	case "market", "limit", "":
	default:
		add("unwind: unknown mode %q (valid: market, limit)", c.Unwind.Mode)
	}
	if c.Unwind.LimitSlippageCents < 0 || c.Unwind.LimitSlippageCents > 99 {
		add("unwind: limit_slippage_cents must be 0-99")
	}
	if c.Unwind.MaxAttempts < 1 {
		add("unwind: max_attempts must be >= 1")
	}

	if cb := c.CircuitBreaker; cb.Enabled {
		if cb.MaxPositionPerMarket < 1 || cb.MaxTotalPosition < 1 {
			add("circuit_breaker: position limits must be >= 1")
		}
		if cb.MaxDailyLoss <= 0 {
			add("circuit_breaker: max_daily_loss must be > 0")
		}
		if cb.MaxConsecutiveErrors < 1 {
			add("circuit_breaker: max_consecutive_errors must be >= 1")
		}
	}

	if c.Positions.FillBuffer < 1 {
		add("positions: fill_buffer must be >= 1")
	}

	if c.Store.Enabled {
		if strings.TrimSpace(c.Store.DSN) == "" && (c.Store.Host == "" || c.Store.Database == "") {
			add("store: dsn or host and database are required when enabled")
		}
		if c.Store.MinConns > c.Store.MaxConns {
			add("store: min_conns must not exceed max_conns")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr is required when enabled")
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Region == "") {
		add("s3: bucket and region are required when enabled")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
