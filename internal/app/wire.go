package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	s3blob "github.com/alanyoungcy/polyarb/internal/blob/s3"
	"github.com/alanyoungcy/polyarb/internal/cache/redis"
	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/discovery"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/notify"
	"github.com/alanyoungcy/polyarb/internal/position"
	"github.com/alanyoungcy/polyarb/internal/store/postgres"
)

// discoveryKeyTTL bounds how long a shared discovery snapshot survives in
// Redis. It is longer than the cache TTL so stale snapshots can still be
// refreshed incrementally.
const discoveryKeyTTL = 24 * time.Hour

// Dependencies bundles the optional infrastructure the modes use. Nil
// fields mean the backend is not configured.
type Dependencies struct {
	// Stores
	Fills     domain.FillStore
	Audit     domain.AuditStore
	Snapshots domain.SnapshotStore

	// Caches
	Bus            domain.SignalBus
	Locks          *redis.LockManager
	DiscoveryCache domain.DiscoveryCache

	// Blob storage
	Archiver *s3blob.FillArchiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs the configured backends and returns them together with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if cfg.Store.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Store.DSN,
			Host:     cfg.Store.Host,
			Port:     cfg.Store.Port,
			Database: cfg.Store.Database,
			User:     cfg.Store.User,
			Password: cfg.Store.Password,
			SSLMode:  cfg.Store.SSLMode,
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Store.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Fills = postgres.NewFillStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Snapshots = postgres.NewSnapshotStore(pool)
	} else {
		files, err := position.NewFileStore(cfg.Positions.Dir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: position store: %w", err)
		}
		deps.Snapshots = files
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- Discovery cache ---
	switch cfg.Discovery.CacheBackend {
	case "redis":
		if redisClient == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: discovery cache: redis backend without redis")
		}
		deps.DiscoveryCache = redis.NewDiscoveryCache(redisClient, discoveryKeyTTL)
	default:
		files, err := position.NewFileStore(filepath.Dir(cfg.Discovery.CacheFile))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: discovery cache: %w", err)
		}
		deps.DiscoveryCache = discovery.NewSnapshotCache(files, filepath.Base(cfg.Discovery.CacheFile))
	}

	// --- S3 fill archive ---
	if cfg.S3.Enabled {
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
		if err := s3Client.Health(ctx); err != nil {
			logger.Warn("s3 bucket not reachable, archive uploads will retry", slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewFillArchiver(s3blob.ArchiverConfig{
			Writer:   s3blob.NewWriter(s3Client, cfg.S3.Prefix, 0),
			Audit:    deps.Audit,
			Interval: cfg.S3.FlushInterval.Duration,
			Logger:   logger,
		})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.Info("dependencies wired",
		slog.Bool("postgres", deps.Fills != nil),
		slog.Bool("redis", redisClient != nil),
		slog.Bool("s3", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
		slog.String("discovery_cache", cfg.Discovery.CacheBackend),
	)
	return deps, cleanup, nil
}
