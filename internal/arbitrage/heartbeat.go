package arbitrage

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyarb/internal/market"
	"github.com/alanyoungcy/polyarb/internal/orderbook"
)

// efficientGap is the distance above threshold, in cents, beyond which the
// best market is reported as efficient.
const efficientGap = 10

// HeartbeatReport is one scan of the registry.
type HeartbeatReport struct {
	Markets    int
	WithPrices int
	Threshold  uint16

	// Best is set when at least one market has both prices.
	Best     *market.Market
	BestSnap orderbook.Snapshot
	Gap      int
}

// Efficient reports whether the cheapest market is well above threshold.
func (h HeartbeatReport) Efficient() bool {
	return h.Best != nil && h.Gap > efficientGap
}

// Heartbeat periodically logs registry coverage and the closest market to
// an opportunity.
type Heartbeat struct {
	reg       *market.Registry
	threshold uint16
	interval  time.Duration
	logger    *slog.Logger
}

// NewHeartbeat creates a heartbeat. A zero interval selects one minute.
func NewHeartbeat(reg *market.Registry, thresholdCents uint16, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Heartbeat{
		reg:       reg,
		threshold: thresholdCents,
		interval:  interval,
		logger:    logger.With(slog.String("component", "heartbeat")),
	}
}

// Scan walks every market once.
func (h *Heartbeat) Scan() HeartbeatReport {
	rep := HeartbeatReport{Markets: h.reg.Len(), Threshold: h.threshold}
	h.reg.Each(func(m *market.Market) {
		s := m.Book.Load()
		if s.YesPrice != orderbook.NoPrice || s.NoPrice != orderbook.NoPrice {
			rep.WithPrices++
		}
		if !s.HasPrices() {
			return
		}
		if rep.Best == nil || s.Cost() < rep.BestSnap.Cost() {
			rep.Best = m
			rep.BestSnap = s
		}
	})
	if rep.Best != nil {
		rep.Gap = int(rep.BestSnap.Cost()) - int(h.threshold)
	}
	return rep
}

// Run logs a report every interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.log(h.Scan())
		}
	}
}

func (h *Heartbeat) log(rep HeartbeatReport) {
	h.logger.Info("heartbeat",
		slog.Int("markets", rep.Markets),
		slog.Int("with_prices", rep.WithPrices),
		slog.Int("threshold", int(rep.Threshold)),
	)
	switch {
	case rep.Best != nil:
		h.logger.Info("best market",
			slog.String("description", rep.Best.Description),
			slog.Int("yes", int(rep.BestSnap.YesPrice)),
			slog.Int("no", int(rep.BestSnap.NoPrice)),
			slog.Int("cost", int(rep.BestSnap.Cost())),
			slog.Int("gap", rep.Gap),
			slog.Bool("efficient", rep.Efficient()),
		)
	case rep.WithPrices == 0:
		h.logger.Warn("no markets with prices, check the websocket connection")
	}
}
