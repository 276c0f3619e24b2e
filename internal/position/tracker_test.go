package position

import (
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func fill(side domain.Side, action domain.OrderSide, qty int, price int64) domain.FillRecord {
	rec := domain.FillRecord{
		PairID:      "TEST-MARKET",
		Description: "Test Match",
		Side:        side,
		Action:      action,
		PriceCents:  price,
		Quantity:    qty,
		OrderID:     "order",
		Timestamp:   time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if action == domain.OrderSideSell {
		rec.PnLCents = price * int64(qty)
	}
	return rec
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestRecordFillsUpdatesPosition(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(fill(domain.SideYes, domain.OrderSideBuy, 10, 45))
	tr.Apply(fill(domain.SideNo, domain.OrderSideBuy, 10, 50))

	s := tr.Summary()
	if s.OpenPositions != 1 || s.TotalContracts != 20 {
		t.Errorf("summary = %+v", s)
	}
	if s.TotalCostBasisCents != 950 {
		t.Errorf("cost basis = %d, want 950", s.TotalCostBasisCents)
	}
	if s.GuaranteedProfitCents != 50 {
		t.Errorf("guaranteed = %d, want 50", s.GuaranteedProfitCents)
	}
}

func TestMatchedArbGuaranteedProfit(t *testing.T) {
	p := NewArbPosition("TEST-MARKET", "Test")
	p.Yes.Add(10, 450)
	p.No.Add(10, 500)

	if p.TotalCost() != 950 || p.MatchedContracts() != 10 || p.GuaranteedProfit() != 50 {
		t.Errorf("cost=%d matched=%d profit=%d", p.TotalCost(), p.MatchedContracts(), p.GuaranteedProfit())
	}
}

func TestPartialFillCreatesExposure(t *testing.T) {
	p := NewArbPosition("TEST-MARKET", "Test")
	p.Yes.Add(10, 450)
	p.No.Add(7, 350)
	if p.MatchedContracts() != 7 || p.UnmatchedExposure() != 3 {
		t.Errorf("matched=%d exposure=%d", p.MatchedContracts(), p.UnmatchedExposure())
	}
}

func TestPositionResolution(t *testing.T) {
	p := NewArbPosition("TEST-MARKET", "Test")
	p.Yes.Add(10, 450)
	p.No.Add(10, 500)

	if pnl := p.Resolve(true); pnl != 50 {
		t.Errorf("pnl = %d, want 50", pnl)
	}
	if p.Status != StatusResolved || p.RealizedPnLCents != 50 {
		t.Errorf("position = %+v", p)
	}
}

func TestTrackerResolve(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(fill(domain.SideYes, domain.OrderSideBuy, 10, 45))
	tr.Apply(fill(domain.SideNo, domain.OrderSideBuy, 10, 50))

	pnl, err := tr.Resolve("TEST-MARKET", false)
	if err != nil || pnl != 50 {
		t.Fatalf("Resolve = %d, %v", pnl, err)
	}
	if _, err := tr.Resolve("TEST-MARKET", false); err == nil {
		t.Error("second resolve should fail")
	}
	if _, err := tr.Resolve("missing", true); err == nil {
		t.Error("resolving unknown pair should fail")
	}
	s := tr.Summary()
	if s.OpenPositions != 0 || s.ResolvedPositions != 1 || s.DailyRealizedPnLCents != 50 {
		t.Errorf("summary = %+v", s)
	}
}

func TestWeightedAverage(t *testing.T) {
	var l Leg
	l.Add(5, 225)
	l.Add(5, 235)
	if l.Contracts != 10 || l.CostBasisCents != 460 || l.AvgPriceCents() != 46 {
		t.Errorf("leg = %+v avg %.2f", l, l.AvgPriceCents())
	}
}

func TestApplyUsesExactFillCost(t *testing.T) {
	// 3 contracts swept across levels: truncated averages are 45 and 49.
	yes := fill(domain.SideYes, domain.OrderSideBuy, 3, 45)
	yes.CostCents = 137
	no := fill(domain.SideNo, domain.OrderSideBuy, 3, 49)
	no.CostCents = 149

	tr := NewTracker(nil)
	tr.Apply(yes)
	tr.Apply(no)

	p, _ := tr.Get("TEST-MARKET")
	if p.TotalCost() != 286 {
		t.Errorf("cost basis = %d, want 286", p.TotalCost())
	}
	if p.GuaranteedProfit() != 14 {
		t.Errorf("guaranteed = %d, want 14", p.GuaranteedProfit())
	}
}

func TestUnwindSellBalancesPosition(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(fill(domain.SideNo, domain.OrderSideBuy, 8, 50))
	tr.Apply(fill(domain.SideYes, domain.OrderSideBuy, 10, 45))
	realized := tr.Apply(fill(domain.SideYes, domain.OrderSideSell, 2, 43))

	// Sold 2 bought at 45 for 43 each.
	if realized != -4 {
		t.Errorf("realized = %d, want -4", realized)
	}
	p, _ := tr.Get("TEST-MARKET")
	if p.Yes.Contracts != 8 || p.No.Contracts != 8 || p.UnmatchedExposure() != 0 {
		t.Errorf("position = %+v", p)
	}
	if p.Yes.CostBasisCents != 360 {
		t.Errorf("yes basis = %d, want 360", p.Yes.CostBasisCents)
	}
	if tr.DailyPnL() != -4 || tr.AllTimePnL() != -4 {
		t.Errorf("daily=%d all=%d", tr.DailyPnL(), tr.AllTimePnL())
	}
}

func TestEmergencyCloseGoesFlat(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(fill(domain.SideYes, domain.OrderSideBuy, 10, 45))
	tr.Apply(fill(domain.SideYes, domain.OrderSideSell, 10, 40))
	p, _ := tr.Get("TEST-MARKET")
	if p.Yes.Contracts != 0 || p.Yes.CostBasisCents != 0 {
		t.Errorf("yes leg = %+v", p.Yes)
	}
	if p.RealizedPnLCents != -50 {
		t.Errorf("realized = %d, want -50", p.RealizedPnLCents)
	}
}

func TestResetDailyKeepsAllTime(t *testing.T) {
	tr := NewTracker(nil)
	tr.Apply(fill(domain.SideYes, domain.OrderSideBuy, 10, 45))
	tr.Apply(fill(domain.SideYes, domain.OrderSideSell, 10, 50))
	tr.ResetDaily()
	if tr.DailyPnL() != 0 || tr.AllTimePnL() != 50 {
		t.Errorf("daily=%d all=%d", tr.DailyPnL(), tr.AllTimePnL())
	}
}

func TestStateRoundTripAcrossDays(t *testing.T) {
	day1 := time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)
	tr := NewTracker(fixedClock(day1))
	tr.Apply(fill(domain.SideYes, domain.OrderSideBuy, 10, 45))
	tr.Apply(fill(domain.SideYes, domain.OrderSideSell, 5, 50))

	data, err := tr.MarshalState()
	if err != nil {
		t.Fatal(err)
	}

	same := NewTracker(fixedClock(day1))
	if err := same.UnmarshalState(data); err != nil {
		t.Fatal(err)
	}
	if same.DailyPnL() != 25 || same.AllTimePnL() != 25 {
		t.Errorf("same day: daily=%d all=%d", same.DailyPnL(), same.AllTimePnL())
	}

	next := NewTracker(fixedClock(day1.Add(2 * time.Hour)))
	if err := next.UnmarshalState(data); err != nil {
		t.Fatal(err)
	}
	if next.DailyPnL() != 0 || next.AllTimePnL() != 25 {
		t.Errorf("next day: daily=%d all=%d", next.DailyPnL(), next.AllTimePnL())
	}
	p, ok := next.Get("TEST-MARKET")
	if !ok || p.Yes.Contracts != 5 {
		t.Errorf("restored position = %+v", p)
	}
}
