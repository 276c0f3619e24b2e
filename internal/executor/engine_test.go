package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/market"
	"github.com/alanyoungcy/polyarb/internal/risk"
)

// fakeGateway fills buys per token from a table and can hold every call
// until release is closed.
type fakeGateway struct {
	mu      sync.Mutex
	buyQty  map[string]int
	buyErr  map[string]error
	buyCost map[string]int64
	sellQty map[string]int
	buys    []call
	sells   []call
	entered chan struct{}
	release chan struct{}
}

type call struct {
	token string
	limit uint16
	qty   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		buyQty:  map[string]int{},
		buyErr:  map[string]error{},
		buyCost: map[string]int64{},
		sellQty: map[string]int{},
	}
}

func (g *fakeGateway) PlaceIOCBuy(ctx context.Context, token string, limit uint16, qty int) (domain.Fill, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.release != nil {
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buys = append(g.buys, call{token, limit, qty})
	if err := g.buyErr[token]; err != nil {
		return domain.Fill{}, err
	}
	filled := qty
	if n, ok := g.buyQty[token]; ok {
		filled = min(n, qty)
	}
	cost := int64(filled) * int64(limit)
	if c, ok := g.buyCost[token]; ok {
		cost = c
	}
	return domain.Fill{Filled: filled, CostCents: cost, OrderID: "buy-" + token}, nil
}

func (g *fakeGateway) PlaceIOCSell(ctx context.Context, token string, limit uint16, qty int) (domain.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sells = append(g.sells, call{token, limit, qty})
	filled := qty
	if n, ok := g.sellQty[token]; ok {
		filled = min(n, qty)
	}
	// Bids sit at 43 for these tests.
	return domain.Fill{Filled: filled, CostCents: int64(filled) * 43, OrderID: "sell-" + token}, nil
}

func (g *fakeGateway) sellCalls() []call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]call(nil), g.sells...)
}

type fakeBreaker struct {
	mu      sync.Mutex
	refuse  error
	checks  []int
	records []risk.Record
	pnl     []int64
}

func (b *fakeBreaker) CanExecute(pair string, size int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checks = append(b.checks, size)
	return b.refuse
}

func (b *fakeBreaker) RecordResult(r risk.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, r)
}

func (b *fakeBreaker) RecordPnL(c int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pnl = append(b.pnl, c)
}

type sliceSink struct {
	mu   sync.Mutex
	recs []domain.FillRecord
}

func (s *sliceSink) Send(r domain.FillRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, r)
	return true
}

func (s *sliceSink) all() []domain.FillRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FillRecord(nil), s.recs...)
}

type fixture struct {
	reg     *market.Registry
	gw      *fakeGateway
	breaker *fakeBreaker
	sink    *sliceSink
	engine  *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg := market.NewRegistry(8)
	if _, err := reg.Register(domain.MarketPair{
		PairID: "poly-test", Description: "Test Match", YesToken: "yes-tok", NoToken: "no-tok",
	}); err != nil {
		t.Fatal(err)
	}
	reg.Seal()
	if cfg.ThresholdCents == 0 {
		cfg.ThresholdCents = 100
	}
	f := &fixture{reg: reg, gw: newFakeGateway(), breaker: &fakeBreaker{}, sink: &sliceSink{}}
	f.engine = New(reg, f.gw, f.breaker, f.sink, cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return f
}

func (f *fixture) setBook(yes, no, yesSize, noSize uint16) {
	f.reg.Dispatch(market.Fingerprint("yes-tok"), domain.SideYes, yes, yesSize)
	f.reg.Dispatch(market.Fingerprint("no-tok"), domain.SideNo, no, noSize)
}

func request(yes, no uint16) arbitrage.ExecutionRequest {
	return arbitrage.ExecutionRequest{MarketID: 0, YesPrice: yes, NoPrice: no, YesSize: 1000, NoSize: 1000, DetectedAt: time.Now()}
}

func TestProcessFullFill(t *testing.T) {
	f := newFixture(t, Config{MaxContracts: 10})
	f.setBook(45, 50, 1000, 1000)

	res := f.engine.Process(context.Background(), request(45, 50))
	f.engine.Wait()

	if res.Status != StatusExecuted || res.Err != nil {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	if res.Matched != 10 || res.ProfitCents != 50 {
		t.Errorf("matched = %d profit = %d, want 10 and 50", res.Matched, res.ProfitCents)
	}
	if len(f.breaker.records) != 1 {
		t.Fatalf("breaker records = %d", len(f.breaker.records))
	}
	if r := f.breaker.records[0]; !r.Success || r.Contracts != 10 || r.PnLCents != 50 || r.Pair != "poly-test" {
		t.Errorf("breaker record = %+v", r)
	}
	recs := f.sink.all()
	if len(recs) != 2 {
		t.Fatalf("fill records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Action != domain.OrderSideBuy || r.Quantity != 10 || r.PnLCents != 0 || r.OrderID == "" {
			t.Errorf("fill record = %+v", r)
		}
	}
	if len(f.gw.sellCalls()) != 0 {
		t.Error("no unwind expected on equal fills")
	}
	if f.engine.inflight.Busy(0) {
		t.Error("in-flight flag not released")
	}
}

func TestProcessSizesFromLiveBook(t *testing.T) {
	f := newFixture(t, Config{})
	// 900/45 = 20 YES, 500/50 = 10 NO.
	f.setBook(45, 50, 900, 500)
	res := f.engine.Process(context.Background(), request(45, 50))
	if res.Contracts != 10 {
		t.Fatalf("contracts = %d, want 10", res.Contracts)
	}
	if f.breaker.checks[0] != 10 {
		t.Errorf("breaker asked for %d", f.breaker.checks[0])
	}
}

func TestProcessStalePrice(t *testing.T) {
	f := newFixture(t, Config{})
	f.setBook(52, 50, 1000, 1000)

	res := f.engine.Process(context.Background(), request(45, 50))
	if res.Status != StatusStalePrice || !errors.Is(res.Err, ErrStalePrice) {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	if len(f.gw.buys) != 0 || len(f.breaker.records) != 0 {
		t.Error("stale request must not reach gateway or breaker")
	}
}

func TestProcessUnknownPriceIsStale(t *testing.T) {
	f := newFixture(t, Config{})
	f.reg.Dispatch(market.Fingerprint("yes-tok"), domain.SideYes, 40, 1000)
	res := f.engine.Process(context.Background(), request(40, 50))
	if res.Status != StatusStalePrice {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestProcessInsufficientLiquidity(t *testing.T) {
	f := newFixture(t, Config{})
	f.setBook(45, 50, 40, 1000)
	res := f.engine.Process(context.Background(), request(45, 50))
	if res.Status != StatusInsufficientLiquidity || !errors.Is(res.Err, ErrInsufficientLiquidity) {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	if len(f.breaker.checks) != 0 {
		t.Error("breaker consulted without size")
	}
}

func TestProcessBreakerRefusal(t *testing.T) {
	f := newFixture(t, Config{})
	f.breaker.refuse = &risk.TripError{Reason: risk.ReasonMaxTotalPosition}
	f.setBook(45, 50, 1000, 1000)

	res := f.engine.Process(context.Background(), request(45, 50))
	if res.Status != StatusBreakerRefusal {
		t.Fatalf("status = %s", res.Status)
	}
	if !errors.Is(res.Err, ErrBreakerRefusal) || !errors.Is(res.Err, risk.ErrTripped) {
		t.Errorf("err = %v", res.Err)
	}
	if len(f.gw.buys) != 0 {
		t.Error("refused request reached the gateway")
	}
}

func TestProcessDuplicateInFlight(t *testing.T) {
	f := newFixture(t, Config{MaxContracts: 5})
	f.setBook(45, 50, 1000, 1000)
	f.gw.entered = make(chan struct{}, 2)
	f.gw.release = make(chan struct{})

	done := make(chan Result, 1)
	go func() { done <- f.engine.Process(context.Background(), request(45, 50)) }()
	<-f.gw.entered
	<-f.gw.entered

	second := f.engine.Process(context.Background(), request(45, 50))
	if second.Status != StatusDuplicateInFlight || !errors.Is(second.Err, ErrDuplicateInFlight) {
		t.Fatalf("second status = %s", second.Status)
	}

	close(f.gw.release)
	if first := <-done; first.Status != StatusExecuted {
		t.Fatalf("first status = %s", first.Status)
	}

	f.gw.entered = nil
	third := f.engine.Process(context.Background(), request(45, 50))
	if third.Status != StatusExecuted {
		t.Fatalf("third status = %s", third.Status)
	}
	f.engine.Wait()
}

func TestProcessMismatchUnwindsExcess(t *testing.T) {
	f := newFixture(t, Config{MaxContracts: 10})
	f.setBook(45, 50, 1000, 1000)
	f.gw.buyQty["no-tok"] = 7

	res := f.engine.Process(context.Background(), request(45, 50))
	f.engine.Wait()

	if res.Status != StatusPartialFillMismatch || !errors.Is(res.Err, ErrPartialFillMismatch) {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	if res.Matched != 7 || res.UnwindSide != domain.SideYes || res.UnwindQty != 3 {
		t.Errorf("matched=%d unwind=%s/%d", res.Matched, res.UnwindSide, res.UnwindQty)
	}
	// 7*100 - 10*45 - 7*50
	if res.ProfitCents != -100 {
		t.Errorf("profit = %d, want -100", res.ProfitCents)
	}

	sells := f.gw.sellCalls()
	if len(sells) != 1 || sells[0].token != "yes-tok" || sells[0].qty != 3 || sells[0].limit != 1 {
		t.Fatalf("sells = %+v", sells)
	}
	if len(f.breaker.pnl) != 1 || f.breaker.pnl[0] != 129 {
		t.Errorf("late pnl = %v, want [129]", f.breaker.pnl)
	}
	if r := f.breaker.records[0]; !r.Success || r.Contracts != 7 {
		t.Errorf("breaker record = %+v", r)
	}

	var sold *domain.FillRecord
	for _, r := range f.sink.all() {
		if r.Action == domain.OrderSideSell {
			sold = &r
		}
	}
	if sold == nil || sold.Quantity != 3 || sold.PnLCents != 129 || sold.Side != domain.SideYes {
		t.Errorf("sell record = %+v", sold)
	}
}

func TestProcessLimitUnwindRetries(t *testing.T) {
	f := newFixture(t, Config{
		MaxContracts: 10,
		Unwind:       UnwindPolicy{Mode: UnwindLimit, LimitSlippageCents: 2, MaxAttempts: 3},
	})
	var failures []int
	f.engine.onUnwindFailure = func(_ string, _ domain.Side, remaining int, _ error) {
		failures = append(failures, remaining)
	}
	f.setBook(45, 50, 1000, 1000)
	f.gw.buyQty["yes-tok"] = 4
	f.gw.sellQty["no-tok"] = 2

	res := f.engine.Process(context.Background(), request(45, 50))
	f.engine.Wait()

	if res.UnwindSide != domain.SideNo || res.UnwindQty != 6 {
		t.Fatalf("unwind = %s/%d", res.UnwindSide, res.UnwindQty)
	}
	sells := f.gw.sellCalls()
	if len(sells) != 3 {
		t.Fatalf("sell attempts = %d, want 3", len(sells))
	}
	wantQty := []int{6, 4, 2}
	for i, s := range sells {
		if s.limit != 48 || s.qty != wantQty[i] {
			t.Errorf("sell %d = %+v", i, s)
		}
	}
	if len(failures) != 0 {
		t.Errorf("unexpected unwind failure: %v", failures)
	}
}

func TestProcessGatewayRejection(t *testing.T) {
	t.Run("leg error", func(t *testing.T) {
		f := newFixture(t, Config{MaxContracts: 10})
		f.setBook(45, 50, 1000, 1000)
		f.gw.buyErr["no-tok"] = domain.ErrRateLimited

		res := f.engine.Process(context.Background(), request(45, 50))
		f.engine.Wait()

		if res.Status != StatusGatewayRejection {
			t.Fatalf("status = %s", res.Status)
		}
		if !errors.Is(res.Err, ErrGatewayRejection) || !errors.Is(res.Err, domain.ErrRateLimited) {
			t.Errorf("err = %v", res.Err)
		}
		if r := f.breaker.records[0]; r.Success || r.PnLCents != -450 {
			t.Errorf("breaker record = %+v", r)
		}
		// The filled YES leg is closed out.
		if sells := f.gw.sellCalls(); len(sells) != 1 || sells[0].qty != 10 {
			t.Errorf("sells = %+v", sells)
		}
	})

	t.Run("zero fill both", func(t *testing.T) {
		f := newFixture(t, Config{MaxContracts: 10})
		f.setBook(45, 50, 1000, 1000)
		f.gw.buyQty["yes-tok"] = 0
		f.gw.buyQty["no-tok"] = 0

		res := f.engine.Process(context.Background(), request(45, 50))
		f.engine.Wait()
		if res.Status != StatusGatewayRejection || res.ProfitCents != 0 {
			t.Fatalf("status = %s profit = %d", res.Status, res.ProfitCents)
		}
		if len(f.sink.all()) != 0 || len(f.gw.sellCalls()) != 0 {
			t.Error("nothing filled, nothing to record or unwind")
		}
	})
}

func TestRunSpawnsPerRequest(t *testing.T) {
	f := newFixture(t, Config{MaxContracts: 1})
	f.setBook(45, 50, 1000, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	reqs := make(chan arbitrage.ExecutionRequest, 4)
	reqs <- request(45, 50)
	close(reqs)

	if err := f.engine.Run(ctx, reqs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cancel()
	f.engine.Wait()

	st := f.engine.Stats()
	if st.Processed != 1 || st.Executed != 1 || st.InFlight != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDryRunGateway(t *testing.T) {
	gw := NewDryRunGateway(0)
	fill, err := gw.PlaceIOCBuy(context.Background(), "tok", 45, 10)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Filled != 10 || fill.CostCents != 450 || fill.OrderID == "" {
		t.Errorf("fill = %+v", fill)
	}
	if _, err := gw.PlaceIOCSell(context.Background(), "", 1, 1); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("err = %v, want ErrInvalidOrder", err)
	}
	if gw.Orders() != 1 {
		t.Errorf("orders = %d", gw.Orders())
	}
}

func TestConcurrentMarketsShareTotalCap(t *testing.T) {
	reg := market.NewRegistry(4)
	for _, p := range []domain.MarketPair{
		{PairID: "poly-a", YesToken: "a-yes", NoToken: "a-no"},
		{PairID: "poly-b", YesToken: "b-yes", NoToken: "b-no"},
	} {
		if _, err := reg.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	reg.Seal()
	for _, tok := range []string{"a", "b"} {
		reg.Dispatch(market.Fingerprint(tok+"-yes"), domain.SideYes, 45, 1000)
		reg.Dispatch(market.Fingerprint(tok+"-no"), domain.SideNo, 50, 1000)
	}

	cfg := risk.DefaultConfig()
	cfg.MaxPositionPerMarket = 10
	cfg.MaxTotalPosition = 10
	breaker := risk.New(cfg, risk.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	gw := newFakeGateway()
	gw.entered = make(chan struct{})
	gw.release = make(chan struct{})
	engine := New(reg, gw, breaker, &sliceSink{}, Config{ThresholdCents: 100, MaxContracts: 10},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	first := make(chan Result, 1)
	go func() {
		req := request(45, 50)
		first <- engine.Process(context.Background(), req)
	}()
	// Both legs of market 0 are at the gateway, unsettled.
	<-gw.entered
	<-gw.entered

	req := request(45, 50)
	req.MarketID = 1
	second := engine.Process(context.Background(), req)
	close(gw.release)
	res := <-first
	engine.Wait()

	if res.Status != StatusExecuted {
		t.Fatalf("first status = %s err = %v", res.Status, res.Err)
	}
	if second.Status != StatusBreakerRefusal {
		t.Fatalf("second status = %s, want breaker refusal", second.Status)
	}
	var te *risk.TripError
	if !errors.As(second.Err, &te) || te.Reason != risk.ReasonMaxTotalPosition {
		t.Errorf("second err = %v", second.Err)
	}
	if got := breaker.Status().TotalPosition; got != 10 {
		t.Errorf("total position = %d, want 10", got)
	}
}

func TestFillRecordsCarryExactCost(t *testing.T) {
	f := newFixture(t, Config{MaxContracts: 3})
	f.setBook(46, 50, 1000, 1000)
	// Price improvement across levels.
	f.gw.buyCost["yes-tok"] = 137
	f.gw.buyCost["no-tok"] = 149

	res := f.engine.Process(context.Background(), request(46, 50))
	f.engine.Wait()

	if res.Status != StatusExecuted || res.ProfitCents != 14 {
		t.Fatalf("status = %s profit = %d", res.Status, res.ProfitCents)
	}
	var total int64
	for _, r := range f.sink.all() {
		if r.CostCents != int64(r.Quantity)*r.PriceCents+r.CostCents%int64(r.Quantity) {
			t.Errorf("record %s: cost %d does not match average %d", r.Side, r.CostCents, r.PriceCents)
		}
		total += r.CostCents
	}
	if total != 286 {
		t.Errorf("recorded cost = %d, want 286", total)
	}
}
