package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// CacheName is the snapshot key of the file-backed discovery cache.
const CacheName = ".discovery_cache.json"

// SnapshotCache stores the discovery snapshot as JSON in a snapshot store,
// a directory of files by default.
type SnapshotCache struct {
	store domain.SnapshotStore
	name  string
}

// NewSnapshotCache creates a cache saved under name. An empty name uses
// CacheName.
func NewSnapshotCache(store domain.SnapshotStore, name string) *SnapshotCache {
	if name == "" {
		name = CacheName
	}
	return &SnapshotCache{store: store, name: name}
}

// Load returns domain.ErrNotFound when nothing was saved yet.
func (c *SnapshotCache) Load(ctx context.Context) (domain.DiscoverySnapshot, error) {
	data, err := c.store.Load(ctx, c.name)
	if err != nil {
		return domain.DiscoverySnapshot{}, err
	}
	var snap domain.DiscoverySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.DiscoverySnapshot{}, fmt.Errorf("discovery: decode cache: %w", err)
	}
	return snap, nil
}

func (c *SnapshotCache) Save(ctx context.Context, snap domain.DiscoverySnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("discovery: encode cache: %w", err)
	}
	return c.store.Save(ctx, c.name, data)
}

var _ domain.DiscoveryCache = (*SnapshotCache)(nil)
