package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const discoveryKey = "discovery:snapshot"

// DiscoveryCache keeps the discovery snapshot as a JSON string so several
// instances can share one discovery run. Entries expire after ttl; the
// snapshot's own timestamp still drives the freshness check.
type DiscoveryCache struct {
	c   *Client
	ttl time.Duration
}

// NewDiscoveryCache creates the cache. ttl <= 0 stores without expiry.
func NewDiscoveryCache(c *Client, ttl time.Duration) *DiscoveryCache {
	return &DiscoveryCache{c: c, ttl: ttl}
}

// Load returns domain.ErrNotFound when no snapshot is stored.
func (dc *DiscoveryCache) Load(ctx context.Context) (domain.DiscoverySnapshot, error) {
	data, err := dc.c.rdb.Get(ctx, dc.c.Key(discoveryKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.DiscoverySnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DiscoverySnapshot{}, fmt.Errorf("redis: load discovery: %w", err)
	}
	var snap domain.DiscoverySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.DiscoverySnapshot{}, fmt.Errorf("redis: decode discovery: %w", err)
	}
	return snap, nil
}

func (dc *DiscoveryCache) Save(ctx context.Context, snap domain.DiscoverySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode discovery: %w", err)
	}
	ttl := dc.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := dc.c.rdb.Set(ctx, dc.c.Key(discoveryKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: save discovery: %w", err)
	}
	return nil
}

var _ domain.DiscoveryCache = (*DiscoveryCache)(nil)
