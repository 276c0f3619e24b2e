package arbitrage

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polyarb/internal/market"
)

// Sink receives detected requests. Offer must not block; it reports whether
// the request was accepted.
type Sink interface {
	Offer(req ExecutionRequest) bool
}

// ChannelSink is a bounded request queue. A full queue drops the request;
// the opportunity surfaces again on the next update to that market.
type ChannelSink struct {
	ch      chan ExecutionRequest
	dropped atomic.Uint64
}

// NewChannelSink returns a sink buffering up to size requests.
func NewChannelSink(size int) *ChannelSink {
	if size <= 0 {
		size = 1
	}
	return &ChannelSink{ch: make(chan ExecutionRequest, size)}
}

func (s *ChannelSink) Offer(req ExecutionRequest) bool {
	select {
	case s.ch <- req:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// C returns the receive side for the engine.
func (s *ChannelSink) C() <-chan ExecutionRequest { return s.ch }

// Dropped returns how many requests were discarded on a full queue.
func (s *ChannelSink) Dropped() uint64 { return s.dropped.Load() }

// Detector runs on the feed goroutine, right after each dispatch.
type Detector struct {
	reg       *market.Registry
	threshold uint16
	sink      Sink
	now       func() time.Time
	logger    *slog.Logger

	signals atomic.Uint64
}

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	Registry       *market.Registry
	ThresholdCents uint16
	Sink           Sink
	Logger         *slog.Logger
	Now            func() time.Time
}

// NewDetector creates a detector.
func NewDetector(cfg DetectorConfig) *Detector {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		reg:       cfg.Registry,
		threshold: cfg.ThresholdCents,
		sink:      cfg.Sink,
		now:       now,
		logger:    logger.With(slog.String("component", "arb_detector")),
	}
}

// Threshold returns the configured threshold in cents.
func (d *Detector) Threshold() uint16 { return d.threshold }

// Signals returns the number of signals seen, accepted or not.
func (d *Detector) Signals() uint64 { return d.signals.Load() }

// OnUpdate evaluates market id after a price change and offers a request to
// the sink when it signals. It returns the signal for the caller's stats.
func (d *Detector) OnUpdate(id uint16) Signal {
	snap, ok := d.reg.Snapshot(id)
	if !ok {
		return 0
	}
	sig := Evaluate(snap, d.threshold)
	if !sig.Has(SignalSameVenue) {
		return sig
	}
	d.signals.Add(1)

	req := NewRequest(id, snap, d.now())
	if !d.sink.Offer(req) {
		d.logger.Debug("execution queue full, signal dropped",
			slog.Int("market_id", int(id)),
			slog.Int("cost", int(snap.Cost())),
		)
		return sig
	}
	d.logger.Info("arb signal",
		slog.Int("market_id", int(id)),
		slog.Int("yes", int(snap.YesPrice)),
		slog.Int("no", int(snap.NoPrice)),
		slog.Int("cost", int(snap.Cost())),
		slog.Int("profit_cents", req.ProfitCents()),
	)
	return sig
}
