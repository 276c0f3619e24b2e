package domain

import "time"

// FillRecord is one executed order, as reported by the execution engine to
// the accounting side. Prices are in cents, quantities in whole contracts.
// CostCents is the exact amount paid for a buy or received for a sell;
// PriceCents is its truncated average.
type FillRecord struct {
	ExecutionID string    `json:"execution_id"`
	MarketID    uint16    `json:"market_id"`
	PairID      string    `json:"pair_id"`
	Description string    `json:"description"`
	Side        Side      `json:"side"`
	Action      OrderSide `json:"action"`
	PriceCents  int64     `json:"price_cents"`
	Quantity    int       `json:"quantity"`
	CostCents   int64     `json:"cost_cents"`
	OrderID     string    `json:"order_id"`
	PnLCents    int64     `json:"pnl_cents"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notional returns the cents exchanged. Records without CostCents fall back
// to price * quantity.
func (f FillRecord) Notional() int64 {
	if f.CostCents != 0 {
		return f.CostCents
	}
	return f.PriceCents * int64(f.Quantity)
}
