package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// FillStore implements domain.FillStore.
type FillStore struct {
	pool *pgxpool.Pool
}

func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillCols = `execution_id, market_id, pair_id, description, side, action,
	price_cents, quantity, cost_cents, order_id, pnl_cents, filled_at`

func (s *FillStore) Insert(ctx context.Context, f domain.FillRecord) error {
	const query = `INSERT INTO fills (` + fillCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.pool.Exec(ctx, query,
		f.ExecutionID, int32(f.MarketID), f.PairID, f.Description,
		f.Side.String(), string(f.Action),
		f.PriceCents, int32(f.Quantity), f.CostCents, f.OrderID, f.PnLCents, f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ExecutionID, err)
	}
	return nil
}

// InsertBatch writes fills in one round trip.
func (s *FillStore) InsertBatch(ctx context.Context, fills []domain.FillRecord) error {
	if len(fills) == 0 {
		return nil
	}
	const query = `INSERT INTO fills (` + fillCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	batch := &pgx.Batch{}
	for _, f := range fills {
		batch.Queue(query,
			f.ExecutionID, int32(f.MarketID), f.PairID, f.Description,
			f.Side.String(), string(f.Action),
			f.PriceCents, int32(f.Quantity), f.CostCents, f.OrderID, f.PnLCents, f.Timestamp,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListSince returns fills at or after since, oldest first.
func (s *FillStore) ListSince(ctx context.Context, since time.Time) ([]domain.FillRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillCols+` FROM fills WHERE filled_at >= $1 ORDER BY filled_at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	var out []domain.FillRecord
	for rows.Next() {
		var (
			f             domain.FillRecord
			marketID, qty int32
			side, action  string
		)
		if err := rows.Scan(
			&f.ExecutionID, &marketID, &f.PairID, &f.Description, &side, &action,
			&f.PriceCents, &qty, &f.CostCents, &f.OrderID, &f.PnLCents, &f.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.MarketID = uint16(marketID)
		f.Quantity = int(qty)
		f.Side = domain.ParseSide(side)
		f.Action = domain.OrderSide(action)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return out, nil
}

var _ domain.FillStore = (*FillStore)(nil)
