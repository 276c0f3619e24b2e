package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/market"
)

// UnwindMode selects how excess contracts on the over-filled leg are sold.
type UnwindMode string

const (
	// UnwindMarket sells at the 1¢ floor, taking whatever bids exist.
	UnwindMarket UnwindMode = "market"
	// UnwindLimit sells no lower than entry price minus a slippage allowance.
	UnwindLimit UnwindMode = "limit"
)

// ParseUnwindMode accepts "market" or "limit", case-insensitively.
func ParseUnwindMode(s string) (UnwindMode, error) {
	switch m := UnwindMode(strings.ToLower(strings.TrimSpace(s))); m {
	case UnwindMarket, UnwindLimit:
		return m, nil
	case "":
		return UnwindMarket, nil
	default:
		return "", fmt.Errorf("executor: unknown unwind mode %q", s)
	}
}

// floorPriceCents is the lowest price a sell may be posted at.
const floorPriceCents = 1

// UnwindPolicy configures excess-leg closing.
type UnwindPolicy struct {
	Mode               UnwindMode
	LimitSlippageCents uint16
	MaxAttempts        int
	RetryDelay         time.Duration
}

// DefaultUnwindPolicy closes immediately at market with one attempt.
func DefaultUnwindPolicy() UnwindPolicy {
	return UnwindPolicy{Mode: UnwindMarket, MaxAttempts: 1, RetryDelay: 500 * time.Millisecond}
}

// LimitPrice returns the sell limit for an excess bought at entryCents.
func (p UnwindPolicy) LimitPrice(entryCents uint16) uint16 {
	if p.Mode != UnwindLimit {
		return floorPriceCents
	}
	if entryCents <= p.LimitSlippageCents+floorPriceCents {
		return floorPriceCents
	}
	return entryCents - p.LimitSlippageCents
}

// unwindJob is one excess position to close.
type unwindJob struct {
	execID     string
	market     *market.Market
	side       domain.Side
	qty        int
	entryCents uint16
}

// unwindOutcome summarises a finished unwind.
type unwindOutcome struct {
	Sold          int
	ProceedsCents int64
	Remaining     int
	Attempts      int
	LastErr       error
}

// runUnwind sells job.qty contracts, retrying per policy. Every sell that
// fills anything produces a fill record and a P&L update.
func (e *Engine) runUnwind(ctx context.Context, job unwindJob) unwindOutcome {
	pol := e.unwind
	attempts := max(pol.MaxAttempts, 1)
	limit := pol.LimitPrice(job.entryCents)
	token := job.market.YesToken
	if job.side == domain.SideNo {
		token = job.market.NoToken
	}

	log := e.logger.With(
		slog.String("execution_id", job.execID),
		slog.String("pair_id", job.market.PairID),
		slog.String("side", job.side.String()),
	)

	out := unwindOutcome{Remaining: job.qty}
	for out.Attempts < attempts && out.Remaining > 0 {
		if out.Attempts > 0 && pol.RetryDelay > 0 {
			time.Sleep(pol.RetryDelay)
		}
		out.Attempts++

		fill, err := e.gw.PlaceIOCSell(ctx, token, limit, out.Remaining)
		if err != nil {
			out.LastErr = err
			log.Warn("unwind sell failed",
				slog.Int("attempt", out.Attempts),
				slog.Int("qty", out.Remaining),
				slog.String("error", err.Error()),
			)
			continue
		}
		if fill.Filled <= 0 {
			continue
		}
		if fill.Filled > out.Remaining {
			fill.Filled = out.Remaining
		}
		out.Sold += fill.Filled
		out.Remaining -= fill.Filled
		out.ProceedsCents += fill.CostCents

		e.sendFill(domain.FillRecord{
			ExecutionID: job.execID,
			MarketID:    job.market.ID,
			PairID:      job.market.PairID,
			Description: job.market.Description,
			Side:        job.side,
			Action:      domain.OrderSideSell,
			PriceCents:  fill.AvgPriceCents(),
			Quantity:    fill.Filled,
			CostCents:   fill.CostCents,
			OrderID:     fill.OrderID,
			PnLCents:    fill.CostCents,
			Timestamp:   e.now(),
		})
		e.breaker.RecordPnL(fill.CostCents)
	}

	if out.Remaining > 0 {
		log.Error("unwind incomplete, exposure left open",
			slog.Int("remaining", out.Remaining),
			slog.Int("sold", out.Sold),
			slog.Int("attempts", out.Attempts),
		)
		if e.onUnwindFailure != nil {
			e.onUnwindFailure(job.market.PairID, job.side, out.Remaining, out.LastErr)
		}
	} else {
		log.Info("unwind complete",
			slog.Int("sold", out.Sold),
			slog.Int64("proceeds_cents", out.ProceedsCents),
		)
	}
	e.stats.unwound.Add(uint64(out.Sold))
	return out
}
