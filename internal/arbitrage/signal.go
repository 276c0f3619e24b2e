// Package arbitrage evaluates per-market snapshots for same-venue arbitrage
// and hands qualifying opportunities to the execution engine.
package arbitrage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/orderbook"
)

// Signal is a bitmask of arbitrage kinds detected on one snapshot.
type Signal uint8

const (
	// SignalSameVenue is set when buying YES and NO on the same venue costs
	// less than the threshold.
	SignalSameVenue Signal = 1 << iota
)

// Has reports whether every bit of s2 is set in s.
func (s Signal) Has(s2 Signal) bool {
	return s2 != 0 && s&s2 == s2
}

// ArbType names the execution path for a request.
type ArbType uint8

const (
	ArbTypeSameVenue ArbType = iota
)

func (a ArbType) String() string {
	switch a {
	case ArbTypeSameVenue:
		return "same_venue"
	default:
		return "unknown"
	}
}

// Evaluate checks a snapshot against thresholdCents. An unknown price on
// either side never signals.
func Evaluate(snap orderbook.Snapshot, thresholdCents uint16) Signal {
	if !snap.HasPrices() {
		return 0
	}
	var sig Signal
	if snap.Cost() < thresholdCents {
		sig |= SignalSameVenue
	}
	return sig
}

// ThresholdCents converts a dollar threshold such as 0.995 to whole cents,
// rounding to nearest and never going below 1.
func ThresholdCents(dollars float64) uint16 {
	c := int(decimal.NewFromFloat(dollars).Shift(2).Round(0).IntPart())
	if c < 1 {
		c = 1
	}
	if c > int(orderbook.MaxPrice)*2 {
		c = int(orderbook.MaxPrice) * 2
	}
	return uint16(c)
}

// ExecutionRequest is a detected opportunity. Prices and sizes are as seen
// at detection time; the engine re-reads the live book before acting.
type ExecutionRequest struct {
	MarketID   uint16
	YesPrice   uint16
	NoPrice    uint16
	YesSize    uint16
	NoSize     uint16
	ArbType    ArbType
	DetectedAt time.Time
}

// NewRequest builds a same-venue request from a snapshot.
func NewRequest(id uint16, snap orderbook.Snapshot, at time.Time) ExecutionRequest {
	return ExecutionRequest{
		MarketID:   id,
		YesPrice:   snap.YesPrice,
		NoPrice:    snap.NoPrice,
		YesSize:    snap.YesSize,
		NoSize:     snap.NoSize,
		ArbType:    ArbTypeSameVenue,
		DetectedAt: at,
	}
}

// EstimatedFeeCents is zero: same-venue buys on Polymarket carry no taker fee.
func (r ExecutionRequest) EstimatedFeeCents() int {
	return 0
}

// ProfitCents is the per-contract edge at the detected prices.
func (r ExecutionRequest) ProfitCents() int {
	return int(orderbook.MaxPrice) - int(r.YesPrice) - int(r.NoPrice) - r.EstimatedFeeCents()
}

// Snapshot returns the detected prices and sizes as a snapshot.
func (r ExecutionRequest) Snapshot() orderbook.Snapshot {
	return orderbook.Snapshot{YesPrice: r.YesPrice, NoPrice: r.NoPrice, YesSize: r.YesSize, NoSize: r.NoSize}
}
