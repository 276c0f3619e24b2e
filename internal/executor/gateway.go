package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Gateway places immediate-or-cancel orders. limitCents is the worst price
// accepted and qty is in whole contracts. Implementations must be safe for
// concurrent use; the engine calls PlaceIOCBuy for both legs at once.
type Gateway interface {
	PlaceIOCBuy(ctx context.Context, tokenID string, limitCents uint16, qty int) (domain.Fill, error)
	PlaceIOCSell(ctx context.Context, tokenID string, limitCents uint16, qty int) (domain.Fill, error)
}

// DryRunGateway fills every order in full at its limit price without
// touching the network.
type DryRunGateway struct {
	// Latency, when set, is slept before each fill.
	Latency time.Duration

	orders atomic.Uint64
}

// NewDryRunGateway returns a gateway that simulates full fills.
func NewDryRunGateway(latency time.Duration) *DryRunGateway {
	return &DryRunGateway{Latency: latency}
}

func (g *DryRunGateway) PlaceIOCBuy(ctx context.Context, tokenID string, limitCents uint16, qty int) (domain.Fill, error) {
	return g.fill(ctx, tokenID, limitCents, qty)
}

func (g *DryRunGateway) PlaceIOCSell(ctx context.Context, tokenID string, limitCents uint16, qty int) (domain.Fill, error) {
	return g.fill(ctx, tokenID, limitCents, qty)
}

func (g *DryRunGateway) fill(ctx context.Context, tokenID string, limitCents uint16, qty int) (domain.Fill, error) {
	if tokenID == "" || qty <= 0 {
		return domain.Fill{}, fmt.Errorf("dry run: %w: token=%q qty=%d", domain.ErrInvalidOrder, tokenID, qty)
	}
	if g.Latency > 0 {
		t := time.NewTimer(g.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.Fill{}, ctx.Err()
		case <-t.C:
		}
	}
	g.orders.Add(1)
	return domain.Fill{
		Filled:    qty,
		CostCents: int64(limitCents) * int64(qty),
		OrderID:   "dry-" + uuid.NewString(),
	}, nil
}

// Orders returns the number of simulated orders.
func (g *DryRunGateway) Orders() uint64 {
	return g.orders.Load()
}
