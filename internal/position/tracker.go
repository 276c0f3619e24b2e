package position

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Leg is the holding on one outcome. Money is in cents.
type Leg struct {
	Contracts      int   `json:"contracts"`
	CostBasisCents int64 `json:"cost_basis_cents"`
}

// Add records a buy of qty contracts for costCents in total.
func (l *Leg) Add(qty int, costCents int64) {
	if qty <= 0 {
		return
	}
	l.Contracts += qty
	l.CostBasisCents += costCents
}

// Reduce records a sale of up to qty contracts for proceedsCents in total and
// returns the realized P&L against the average cost.
func (l *Leg) Reduce(qty int, proceedsCents int64) int64 {
	if qty <= 0 || l.Contracts == 0 {
		return proceedsCents
	}
	q := min(qty, l.Contracts)
	removed := l.CostBasisCents * int64(q) / int64(l.Contracts)
	l.Contracts -= q
	l.CostBasisCents -= removed
	if l.Contracts == 0 {
		l.CostBasisCents = 0
	}
	return proceedsCents - removed
}

// AvgPriceCents is the weighted average entry price.
func (l Leg) AvgPriceCents() float64 {
	if l.Contracts == 0 {
		return 0
	}
	return float64(l.CostBasisCents) / float64(l.Contracts)
}

// costOf returns the cost basis attributable to n contracts.
func (l Leg) costOf(n int) int64 {
	if l.Contracts == 0 {
		return 0
	}
	return l.CostBasisCents * int64(n) / int64(l.Contracts)
}

// Status of an ArbPosition.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// ArbPosition is the combined YES/NO holding on one market.
type ArbPosition struct {
	PairID           string    `json:"pair_id"`
	Description      string    `json:"description"`
	Yes              Leg       `json:"yes"`
	No               Leg       `json:"no"`
	FeesCents        int64     `json:"fees_cents"`
	RealizedPnLCents int64     `json:"realized_pnl_cents"`
	Status           Status    `json:"status"`
	OpenedAt         time.Time `json:"opened_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewArbPosition returns an empty open position.
func NewArbPosition(pairID, description string) *ArbPosition {
	return &ArbPosition{PairID: pairID, Description: description, Status: StatusOpen}
}

// TotalCost is what is currently tied up in both legs, fees included.
func (p *ArbPosition) TotalCost() int64 {
	return p.Yes.CostBasisCents + p.No.CostBasisCents + p.FeesCents
}

// MatchedContracts is the number of complete YES+NO pairs held.
func (p *ArbPosition) MatchedContracts() int {
	return min(p.Yes.Contracts, p.No.Contracts)
}

// UnmatchedExposure is the contracts held on one side without a partner.
func (p *ArbPosition) UnmatchedExposure() int {
	d := p.Yes.Contracts - p.No.Contracts
	if d < 0 {
		return -d
	}
	return d
}

// GuaranteedProfit is the payout of the matched pairs minus their cost.
func (p *ArbPosition) GuaranteedProfit() int64 {
	m := p.MatchedContracts()
	return int64(m)*100 - p.Yes.costOf(m) - p.No.costOf(m) - p.FeesCents
}

// Resolve settles the position and returns the P&L of the settlement.
func (p *ArbPosition) Resolve(yesWon bool) int64 {
	payout := int64(p.No.Contracts) * 100
	if yesWon {
		payout = int64(p.Yes.Contracts) * 100
	}
	pnl := payout - p.TotalCost()
	p.RealizedPnLCents += pnl
	p.Status = StatusResolved
	return pnl
}

// Summary aggregates all positions.
type Summary struct {
	OpenPositions           int   `json:"open_positions"`
	ResolvedPositions       int   `json:"resolved_positions"`
	TotalContracts          int   `json:"total_contracts"`
	TotalCostBasisCents     int64 `json:"total_cost_basis_cents"`
	GuaranteedProfitCents   int64 `json:"guaranteed_profit_cents"`
	UnmatchedExposure       int   `json:"unmatched_exposure"`
	DailyRealizedPnLCents   int64 `json:"daily_realized_pnl_cents"`
	AllTimeRealizedPnLCents int64 `json:"all_time_pnl_cents"`
}

// State is the persisted form of a Tracker.
type State struct {
	Positions        map[string]*ArbPosition `json:"positions"`
	DailyRealizedPnL int64                   `json:"daily_realized_pnl_cents"`
	AllTimePnL       int64                   `json:"all_time_pnl_cents"`
	TradingDate      string                  `json:"trading_date"`
}

// Tracker holds every position. It is safe for concurrent use, though in the
// app only the Writer mutates it.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*ArbPosition
	daily     int64
	allTime   int64
	day       string
	now       func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		positions: make(map[string]*ArbPosition),
		now:       now,
		day:       now().UTC().Format(time.DateOnly),
	}
}

// Apply folds one fill into its position and returns the P&L it realized.
// For sells, PnLCents carries the sale proceeds.
func (t *Tracker) Apply(rec domain.FillRecord) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollLocked(now)

	p, ok := t.positions[rec.PairID]
	if !ok {
		p = NewArbPosition(rec.PairID, rec.Description)
		p.OpenedAt = rec.Timestamp
		t.positions[rec.PairID] = p
	}
	p.UpdatedAt = rec.Timestamp

	leg := &p.Yes
	if rec.Side == domain.SideNo {
		leg = &p.No
	}

	var realized int64
	switch rec.Action {
	case domain.OrderSideSell:
		realized = leg.Reduce(rec.Quantity, rec.PnLCents)
		p.RealizedPnLCents += realized
	default:
		leg.Add(rec.Quantity, rec.Notional())
		realized = rec.PnLCents
	}
	t.daily += realized
	t.allTime += realized
	return realized
}

// Resolve settles pairID and books the P&L.
func (t *Tracker) Resolve(pairID string, yesWon bool) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[pairID]
	if !ok {
		return 0, fmt.Errorf("position: %s: %w", pairID, domain.ErrNotFound)
	}
	if p.Status == StatusResolved {
		return 0, fmt.Errorf("position: %s: already resolved", pairID)
	}
	t.rollLocked(t.now())
	pnl := p.Resolve(yesWon)
	t.daily += pnl
	t.allTime += pnl
	return pnl, nil
}

// Get returns a copy of the position for pairID.
func (t *Tracker) Get(pairID string) (ArbPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[pairID]
	if !ok {
		return ArbPosition{}, false
	}
	return *p, true
}

// Positions returns copies of all positions sorted by pair id.
func (t *Tracker) Positions() []ArbPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ArbPosition, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairID < out[j].PairID })
	return out
}

// Summary aggregates the open and resolved positions.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Summary{DailyRealizedPnLCents: t.daily, AllTimeRealizedPnLCents: t.allTime}
	for _, p := range t.positions {
		if p.Status == StatusResolved {
			s.ResolvedPositions++
			continue
		}
		s.OpenPositions++
		s.TotalContracts += p.Yes.Contracts + p.No.Contracts
		s.TotalCostBasisCents += p.TotalCost()
		s.GuaranteedProfitCents += p.GuaranteedProfit()
		s.UnmatchedExposure += p.UnmatchedExposure()
	}
	return s
}

// DailyPnL returns today's realized P&L in cents.
func (t *Tracker) DailyPnL() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.daily
}

// AllTimePnL returns realized P&L since the state was first created.
func (t *Tracker) AllTimePnL() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allTime
}

// ResetDaily zeroes the daily P&L; all-time P&L is kept.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.daily = 0
	t.day = t.now().UTC().Format(time.DateOnly)
}

func (t *Tracker) rollLocked(now time.Time) {
	d := now.UTC().Format(time.DateOnly)
	if d != t.day {
		t.day = d
		t.daily = 0
	}
}

// State returns a deep copy suitable for persistence.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := State{
		Positions:        make(map[string]*ArbPosition, len(t.positions)),
		DailyRealizedPnL: t.daily,
		AllTimePnL:       t.allTime,
		TradingDate:      t.day,
	}
	for k, p := range t.positions {
		cp := *p
		st.Positions[k] = &cp
	}
	return st
}

// Restore replaces the tracker contents. A state from an earlier trading day
// keeps its positions but starts the daily P&L at zero.
func (t *Tracker) Restore(st State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]*ArbPosition, len(st.Positions))
	for k, p := range st.Positions {
		if p == nil {
			continue
		}
		cp := *p
		t.positions[k] = &cp
	}
	t.allTime = st.AllTimePnL
	t.daily = st.DailyRealizedPnL
	t.day = st.TradingDate
	t.rollLocked(t.now())
}

// MarshalState encodes the tracker as JSON.
func (t *Tracker) MarshalState() ([]byte, error) {
	return json.MarshalIndent(t.State(), "", "  ")
}

// UnmarshalState decodes and restores a JSON state.
func (t *Tracker) UnmarshalState(data []byte) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("position: decode state: %w", err)
	}
	t.Restore(st)
	return nil
}
