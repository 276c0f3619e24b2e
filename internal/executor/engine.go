// Package executor turns detected opportunities into paired IOC orders. It
// gates each market to one execution at a time, re-validates against the live
// book, sizes against both asks, asks the circuit breaker, places both legs
// concurrently, and closes any excess on a mismatched fill.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/market"
	"github.com/alanyoungcy/polyarb/internal/risk"
)

// Breaker is the subset of risk.Breaker the engine needs.
type Breaker interface {
	CanExecute(pair string, size int) error
	RecordResult(r risk.Record)
	RecordPnL(cents int64)
}

// FillSink receives fill records without blocking. Send reports whether the
// record was accepted.
type FillSink interface {
	Send(rec domain.FillRecord) bool
}

// Config holds the engine's static parameters.
type Config struct {
	ThresholdCents uint16
	// MaxContracts caps a single execution; zero means no cap.
	MaxContracts int
	Unwind       UnwindPolicy
}

// Engine executes requests. One Engine serves every market.
type Engine struct {
	reg      *market.Registry
	gw       Gateway
	breaker  Breaker
	fills    FillSink
	inflight *InFlight

	threshold    uint16
	maxContracts int
	unwind       UnwindPolicy

	now             func() time.Time
	logger          *slog.Logger
	onResult        func(Result)
	onUnwindFailure func(pairID string, side domain.Side, remaining int, err error)

	wg    sync.WaitGroup
	stats engineStats
}

type engineStats struct {
	processed  atomic.Uint64
	executed   atomic.Uint64
	mismatched atomic.Uint64
	rejected   atomic.Uint64
	skipped    atomic.Uint64
	unwound    atomic.Uint64
	fillDrops  atomic.Uint64
	profit     atomic.Int64
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Processed        uint64
	Executed         uint64
	Mismatched       uint64
	Rejected         uint64
	Skipped          uint64
	UnwoundContracts uint64
	FillDrops        uint64
	ProfitCents      int64
	InFlight         int
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithResultHook is called with every Result, on the execution goroutine.
func WithResultHook(fn func(Result)) Option { return func(e *Engine) { e.onResult = fn } }

// WithUnwindFailureHook is called when an unwind leaves exposure open.
func WithUnwindFailureHook(fn func(pairID string, side domain.Side, remaining int, err error)) Option {
	return func(e *Engine) { e.onUnwindFailure = fn }
}

// New creates an engine.
func New(reg *market.Registry, gw Gateway, breaker Breaker, fills FillSink, cfg Config, opts ...Option) *Engine {
	pol := cfg.Unwind
	if pol.Mode == "" {
		pol.Mode = UnwindMarket
	}
	if pol.MaxAttempts <= 0 {
		pol.MaxAttempts = 1
	}
	e := &Engine{
		reg:          reg,
		gw:           gw,
		breaker:      breaker,
		fills:        fills,
		inflight:     NewInFlight(reg.Cap()),
		threshold:    cfg.ThresholdCents,
		maxContracts: cfg.MaxContracts,
		unwind:       pol,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With(slog.String("component", "executor"))
	return e
}

// Run starts one execution per request until ctx is cancelled or reqs is
// closed. It does not wait for executions to finish; call Wait for that.
func (e *Engine) Run(ctx context.Context, reqs <-chan arbitrage.ExecutionRequest) error {
	e.logger.Info("execution engine started",
		slog.Int("threshold", int(e.threshold)),
		slog.Int("max_contracts", e.maxContracts),
		slog.String("unwind_mode", string(e.unwind.Mode)),
	)
	defer e.logger.Info("execution engine stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-reqs:
			if !ok {
				return nil
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.Process(ctx, req)
			}()
		}
	}
}

// Wait blocks until every started execution and unwind has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Process runs one request to completion. Once both legs are submitted the
// execution no longer observes ctx cancellation.
func (e *Engine) Process(ctx context.Context, req arbitrage.ExecutionRequest) Result {
	start := e.now()
	res := e.process(ctx, req)
	res.Latency = e.now().Sub(start)
	e.stats.processed.Add(1)
	e.account(res)
	e.report(res)
	return res
}

func (e *Engine) process(ctx context.Context, req arbitrage.ExecutionRequest) Result {
	res := Result{MarketID: req.MarketID, DetectedAt: req.DetectedAt}

	m := e.reg.Get(req.MarketID)
	if m == nil {
		return e.fail(res, StatusUnknownMarket, nil)
	}
	res.PairID = m.PairID

	if !e.inflight.TryAcquire(m.ID) {
		return e.fail(res, StatusDuplicateInFlight, nil)
	}
	defer e.inflight.Release(m.ID)

	snap := m.Book.Load()
	if !snap.HasPrices() || snap.Cost() >= e.threshold {
		return e.fail(res, StatusStalePrice, fmt.Errorf("live %d+%d vs threshold %d", snap.YesPrice, snap.NoPrice, e.threshold))
	}

	contracts := snap.MaxContracts()
	if e.maxContracts > 0 && contracts > e.maxContracts {
		contracts = e.maxContracts
	}
	if contracts <= 0 {
		return e.fail(res, StatusInsufficientLiquidity, fmt.Errorf("sizes %d/%d at %d/%d", snap.YesSize, snap.NoSize, snap.YesPrice, snap.NoPrice))
	}
	res.Contracts = contracts

	if err := e.breaker.CanExecute(m.PairID, contracts); err != nil {
		return e.fail(res, StatusBreakerRefusal, err)
	}

	res.ExecutionID = uuid.NewString()
	res.Yes = Leg{Side: domain.SideYes, TokenID: m.YesToken, LimitCents: snap.YesPrice}
	res.No = Leg{Side: domain.SideNo, TokenID: m.NoToken, LimitCents: snap.NoPrice}

	// From here the execution runs to completion regardless of shutdown.
	legCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, leg := range []*Leg{&res.Yes, &res.No} {
		g.Go(func() error {
			leg.Fill, leg.Err = e.gw.PlaceIOCBuy(legCtx, leg.TokenID, leg.LimitCents, contracts)
			return nil
		})
	}
	_ = g.Wait()

	// A leg that errored is treated as unfilled.
	if res.Yes.Err != nil {
		res.Yes.Fill = domain.Fill{}
	}
	if res.No.Err != nil {
		res.No.Fill = domain.Fill{}
	}
	yesFilled, noFilled := res.Yes.Fill.Filled, res.No.Fill.Filled
	res.Matched = min(yesFilled, noFilled)
	res.ProfitCents = int64(res.Matched)*100 - res.Yes.Fill.CostCents - res.No.Fill.CostCents

	switch {
	case yesFilled > noFilled:
		res.UnwindSide, res.UnwindQty = domain.SideYes, yesFilled-noFilled
	case noFilled > yesFilled:
		res.UnwindSide, res.UnwindQty = domain.SideNo, noFilled-yesFilled
	}
	if res.UnwindQty > 0 {
		entry := res.Yes.LimitCents
		if res.UnwindSide == domain.SideNo {
			entry = res.No.LimitCents
		}
		job := unwindJob{execID: res.ExecutionID, market: m, side: res.UnwindSide, qty: res.UnwindQty, entryCents: entry}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runUnwind(legCtx, job)
		}()
	}

	switch {
	case res.Yes.Err != nil || res.No.Err != nil || yesFilled == 0 || noFilled == 0:
		res.Status = StatusGatewayRejection
		res.Err = fmt.Errorf("%w: %w", ErrGatewayRejection, errors.Join(legErr(res.Yes), legErr(res.No)))
	case yesFilled != noFilled:
		res.Status = StatusPartialFillMismatch
		res.Err = fmt.Errorf("%w: yes %d no %d", ErrPartialFillMismatch, yesFilled, noFilled)
	default:
		res.Status = StatusExecuted
	}

	e.recordLeg(res, m, res.Yes)
	e.recordLeg(res, m, res.No)
	e.breaker.RecordResult(risk.Record{
		Pair:      m.PairID,
		Success:   res.Status != StatusGatewayRejection,
		Contracts: res.Matched,
		Reserved:  contracts,
		PnLCents:  res.ProfitCents,
	})
	return res
}

func legErr(l Leg) error {
	switch {
	case l.Err != nil:
		return fmt.Errorf("%s leg: %w", l.Side, l.Err)
	case l.Fill.Filled == 0:
		return fmt.Errorf("%s leg: no fill", l.Side)
	}
	return nil
}

func (e *Engine) fail(res Result, st Status, detail error) Result {
	res.Status = st
	if detail != nil {
		res.Err = fmt.Errorf("%w: %w", st.Err(), detail)
	} else {
		res.Err = st.Err()
	}
	return res
}

func (e *Engine) recordLeg(res Result, m *market.Market, l Leg) {
	if l.Fill.Filled <= 0 {
		return
	}
	e.sendFill(domain.FillRecord{
		ExecutionID: res.ExecutionID,
		MarketID:    m.ID,
		PairID:      m.PairID,
		Description: m.Description,
		Side:        l.Side,
		Action:      domain.OrderSideBuy,
		PriceCents:  l.Fill.AvgPriceCents(),
		Quantity:    l.Fill.Filled,
		CostCents:   l.Fill.CostCents,
		OrderID:     l.Fill.OrderID,
		Timestamp:   e.now(),
	})
}

func (e *Engine) sendFill(rec domain.FillRecord) {
	if e.fills == nil {
		return
	}
	if !e.fills.Send(rec) {
		e.stats.fillDrops.Add(1)
	}
}

func (e *Engine) account(res Result) {
	switch res.Status {
	case StatusExecuted:
		e.stats.executed.Add(1)
		e.stats.profit.Add(res.ProfitCents)
	case StatusPartialFillMismatch:
		e.stats.mismatched.Add(1)
		e.stats.profit.Add(res.ProfitCents)
	case StatusGatewayRejection:
		e.stats.rejected.Add(1)
		e.stats.profit.Add(res.ProfitCents)
	default:
		e.stats.skipped.Add(1)
	}
}

func (e *Engine) report(res Result) {
	if e.onResult != nil {
		e.onResult(res)
	}
	attrs := []any{
		slog.Int("market_id", int(res.MarketID)),
		slog.String("pair_id", res.PairID),
		slog.String("status", res.Status.String()),
		slog.Duration("latency", res.Latency),
	}
	if !res.Accepted() {
		if res.Err != nil {
			attrs = append(attrs, slog.String("reason", res.Err.Error()))
		}
		e.logger.Debug("execution skipped", attrs...)
		return
	}
	attrs = append(attrs,
		slog.String("execution_id", res.ExecutionID),
		slog.Int("contracts", res.Contracts),
		slog.Int("yes_filled", res.Yes.Fill.Filled),
		slog.Int("no_filled", res.No.Fill.Filled),
		slog.Int("matched", res.Matched),
		slog.Int64("profit_cents", res.ProfitCents),
	)
	switch res.Status {
	case StatusExecuted:
		e.logger.Info("arb executed", attrs...)
	case StatusPartialFillMismatch:
		attrs = append(attrs, slog.String("unwind_side", res.UnwindSide.String()), slog.Int("unwind_qty", res.UnwindQty))
		e.logger.Warn("partial fill mismatch", attrs...)
	default:
		attrs = append(attrs, slog.String("error", res.Err.Error()))
		e.logger.Error("execution failed", attrs...)
	}
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Processed:        e.stats.processed.Load(),
		Executed:         e.stats.executed.Load(),
		Mismatched:       e.stats.mismatched.Load(),
		Rejected:         e.stats.rejected.Load(),
		Skipped:          e.stats.skipped.Load(),
		UnwoundContracts: e.stats.unwound.Load(),
		FillDrops:        e.stats.fillDrops.Load(),
		ProfitCents:      e.stats.profit.Load(),
		InFlight:         e.inflight.Count(),
	}
}
