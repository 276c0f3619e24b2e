// Package feed turns market-channel events into book updates and runs the
// arbitrage check right behind each one.
package feed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/market"
	"github.com/alanyoungcy/polyarb/internal/orderbook"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
)

// DefaultReconnectDelay is the pause between a dropped connection and the
// next attempt.
const DefaultReconnectDelay = 5 * time.Second

// Streamer runs one market-channel session.
type Streamer interface {
	Stream(ctx context.Context, assetIDs []string, handle polymarket.EventHandler) error
}

// Updater is told about every market whose book changed.
type Updater interface {
	OnUpdate(id uint16) arbitrage.Signal
}

// Stats counts feed activity.
type Stats struct {
	Events     uint64
	Dispatched uint64
	Unknown    uint64
	Signals    uint64
	Sessions   uint64
}

// Polymarket feeds the registry from the Polymarket market channel. Events
// are applied and evaluated inline, one at a time, on the goroutine that
// calls Run.
type Polymarket struct {
	stream         Streamer
	reg            *market.Registry
	updater        Updater
	reconnectDelay time.Duration
	logger         *slog.Logger

	events     atomic.Uint64
	dispatched atomic.Uint64
	unknown    atomic.Uint64
	signals    atomic.Uint64
	sessions   atomic.Uint64
}

// NewPolymarket creates a feed. reconnectDelay <= 0 uses the default.
func NewPolymarket(stream Streamer, reg *market.Registry, updater Updater, reconnectDelay time.Duration, logger *slog.Logger) *Polymarket {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Polymarket{
		stream:         stream,
		reg:            reg,
		updater:        updater,
		reconnectDelay: reconnectDelay,
		logger:         logger.With(slog.String("component", "polymarket_feed")),
	}
}

// Run subscribes to every registered token and keeps the session alive
// until ctx is cancelled, reconnecting after each drop.
func (f *Polymarket) Run(ctx context.Context) error {
	assets := f.reg.TokenIDs()
	if len(assets) == 0 {
		f.logger.Info("no asset IDs to subscribe, exiting")
		return nil
	}
	for {
		f.sessions.Add(1)
		err := f.stream.Stream(ctx, assets, f.handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Error("polymarket disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", f.reconnectDelay),
		)
		t := time.NewTimer(f.reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (f *Polymarket) handle(ev polymarket.PriceEvent) {
	f.Apply(ev)
}

// Apply writes one price event into the owning market's book and runs the
// arbitrage check. It reports the market id and whether the token is
// registered.
//
// A size of zero at an unchanged price means the event did not say how
// deep the ask is, so the last known size is kept.
func (f *Polymarket) Apply(ev polymarket.PriceEvent) (uint16, bool) {
	f.events.Add(1)
	fp := market.Fingerprint(ev.AssetID)
	id, side, ok := f.reg.Lookup(fp)
	if !ok {
		f.unknown.Add(1)
		return 0, false
	}

	size := ev.SizeCents
	if size == 0 && ev.PriceCents != orderbook.NoPrice {
		if snap, ok := f.reg.Snapshot(id); ok {
			if side == domain.SideYes && snap.YesPrice == ev.PriceCents {
				size = snap.YesSize
			} else if side == domain.SideNo && snap.NoPrice == ev.PriceCents {
				size = snap.NoSize
			}
		}
	}

	f.reg.Dispatch(fp, side, ev.PriceCents, size)
	f.dispatched.Add(1)
	if f.updater != nil && f.updater.OnUpdate(id) != 0 {
		f.signals.Add(1)
	}
	return id, true
}

// Stats returns a snapshot of the counters.
func (f *Polymarket) Stats() Stats {
	return Stats{
		Events:     f.events.Load(),
		Dispatched: f.dispatched.Load(),
		Unknown:    f.unknown.Load(),
		Signals:    f.signals.Load(),
		Sessions:   f.sessions.Load(),
	}
}

func errString(err error) string {
	if err == nil {
		return "stream ended"
	}
	return err.Error()
}
