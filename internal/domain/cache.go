package domain

import (
	"context"
	"time"
)

// StreamMessage is one entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides ephemeral pub/sub and durable stream messaging.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides exclusive locks with a TTL.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// DiscoveryCache stores the last discovery snapshot between runs.
type DiscoveryCache interface {
	Load(ctx context.Context) (DiscoverySnapshot, error)
	Save(ctx context.Context, snap DiscoverySnapshot) error
}

// DiscoverySnapshot is the cached output of a discovery run.
type DiscoverySnapshot struct {
	TimestampSecs int64        `json:"timestamp_secs"`
	Pairs         []MarketPair `json:"pairs"`
	KnownSlugs    []string     `json:"known_poly_slugs"`
}

// Age returns how long ago the snapshot was taken.
func (s DiscoverySnapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(s.TimestampSecs, 0))
}

// HasSlug reports whether slug was resolved in this snapshot.
func (s DiscoverySnapshot) HasSlug(slug string) bool {
	for _, k := range s.KnownSlugs {
		if k == slug {
			return true
		}
	}
	return false
}
