package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// SnapshotStore keeps named blobs, one row per name.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) Save(ctx context.Context, name string, data []byte) error {
	const query = `
		INSERT INTO snapshots (name, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, name, data); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", name, err)
	}
	return nil
}

// Load returns domain.ErrNotFound for an unknown name.
func (s *SnapshotStore) Load(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM snapshots WHERE name = $1`, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load snapshot %s: %w", name, err)
	}
	return data, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
