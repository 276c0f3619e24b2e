// Package risk implements the trading circuit breaker: position caps, a
// daily loss cap and a consecutive-error cap, with a cooldown after a trip.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Reason identifies why the breaker refused or tripped.
type Reason string

const (
	ReasonMaxPositionPerMarket Reason = "max_position_per_market"
	ReasonMaxTotalPosition     Reason = "max_total_position"
	ReasonMaxDailyLoss         Reason = "max_daily_loss"
	ReasonConsecutiveErrors    Reason = "consecutive_errors"
	ReasonManualHalt           Reason = "manual_halt"
)

// TripError is returned by CanExecute when trading is refused.
type TripError struct {
	Reason Reason
	Detail string
	// Until is the end of the cooldown; zero for refusals raised by the
	// check that tripped the breaker in the same call.
	Until time.Time
}

func (e *TripError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("circuit breaker: %s", e.Reason)
	}
	return fmt.Sprintf("circuit breaker: %s: %s", e.Reason, e.Detail)
}

// Is lets errors.Is match any TripError with the same reason.
func (e *TripError) Is(target error) bool {
	t, ok := target.(*TripError)
	return ok && (t.Reason == "" || t.Reason == e.Reason)
}

// ErrTripped matches every TripError under errors.Is.
var ErrTripped = &TripError{}

// Config holds the breaker limits. Positions are in contracts and losses in
// cents.
type Config struct {
	MaxPositionPerMarket int
	MaxTotalPosition     int
	MaxDailyLossCents    int64
	MaxConsecutiveErrors int
	Cooldown             time.Duration
	Enabled              bool
}

// DefaultConfig mirrors the bot's shipped limits.
func DefaultConfig() Config {
	return Config{
		MaxPositionPerMarket: 50000,
		MaxTotalPosition:     100000,
		MaxDailyLossCents:    50000,
		MaxConsecutiveErrors: 5,
		Cooldown:             5 * time.Minute,
		Enabled:              true,
	}
}

// Record is the outcome of one execution as seen by the breaker. Reserved is
// the size admitted by CanExecute for this execution; it is released and
// replaced by Contracts when the record is applied.
type Record struct {
	Pair      string
	Success   bool
	Contracts int
	Reserved  int
	PnLCents  int64
}

// Status is a point-in-time view of the breaker.
type Status struct {
	Enabled           bool
	Halted            bool
	TripReason        Reason
	TripDetail        string
	TrippedAt         time.Time
	CooldownUntil     time.Time
	ConsecutiveErrors int
	DailyLossCents    int64
	DailyPnLCents     int64
	TotalPosition     int
	Positions         map[string]int
	Day               string
}

// Breaker guards execution. All methods are safe for concurrent use.
type Breaker struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
	onTrip func(Status)

	mu            sync.Mutex
	halted        bool
	reason        Reason
	detail        string
	trippedAt     time.Time
	cooldownUntil time.Time
	errors        int
	dailyLoss     int64
	dailyPnL      int64
	positions     map[string]int
	total         int
	day           string
}

// Option customises a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithOnTrip registers a hook called after every trip, outside the lock.
func WithOnTrip(fn func(Status)) Option {
	return func(b *Breaker) { b.onTrip = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// New creates a breaker in the OPEN state.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default(),
		positions: make(map[string]int),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With(slog.String("component", "circuit_breaker"))
	b.day = dayKey(b.now())
	return b
}

func dayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// rollDay resets the daily counters on a UTC date change. Caller holds mu.
func (b *Breaker) rollDay(now time.Time) {
	d := dayKey(now)
	if d == b.day {
		return
	}
	b.logger.Info("new trading day, daily counters reset",
		slog.String("day", d),
		slog.Int64("prev_daily_pnl_cents", b.dailyPnL),
	)
	b.day = d
	b.dailyLoss = 0
	b.dailyPnL = 0
}

// CanExecute reports whether size contracts may be opened on pair. The first
// failing check trips the breaker. On success size is reserved against the
// pair and total positions until RecordResult settles it.
func (b *Breaker) CanExecute(pair string, size int) error {
	if !b.cfg.Enabled {
		return nil
	}

	b.mu.Lock()
	now := b.now()
	b.rollDay(now)

	if b.halted {
		if now.Before(b.cooldownUntil) {
			err := &TripError{Reason: b.reason, Detail: b.detail, Until: b.cooldownUntil}
			b.mu.Unlock()
			return err
		}
		b.logger.Info("cooldown elapsed, breaker re-opened", slog.String("reason", string(b.reason)))
		b.halted = false
		b.reason = ""
		b.detail = ""
		b.errors = 0
	}

	var reason Reason
	var detail string
	switch {
	case b.dailyLoss >= b.cfg.MaxDailyLossCents:
		reason = ReasonMaxDailyLoss
		detail = fmt.Sprintf("loss %d >= %d cents", b.dailyLoss, b.cfg.MaxDailyLossCents)
	case b.errors >= b.cfg.MaxConsecutiveErrors:
		reason = ReasonConsecutiveErrors
		detail = fmt.Sprintf("%d >= %d", b.errors, b.cfg.MaxConsecutiveErrors)
	case b.positions[pair]+size > b.cfg.MaxPositionPerMarket:
		reason = ReasonMaxPositionPerMarket
		detail = fmt.Sprintf("%s: %d + %d > %d", pair, b.positions[pair], size, b.cfg.MaxPositionPerMarket)
	case b.total+size > b.cfg.MaxTotalPosition:
		reason = ReasonMaxTotalPosition
		detail = fmt.Sprintf("%d + %d > %d", b.total, size, b.cfg.MaxTotalPosition)
	default:
		b.positions[pair] += size
		b.total += size
		b.mu.Unlock()
		return nil
	}

	st := b.tripLocked(now, reason, detail)
	b.mu.Unlock()
	b.fireTrip(st)
	return &TripError{Reason: reason, Detail: detail}
}

// tripLocked halts trading. Caller holds mu.
func (b *Breaker) tripLocked(now time.Time, reason Reason, detail string) Status {
	b.halted = true
	b.reason = reason
	b.detail = detail
	b.trippedAt = now
	b.cooldownUntil = now.Add(b.cfg.Cooldown)
	b.logger.Warn("circuit breaker tripped",
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
		slog.Time("cooldown_until", b.cooldownUntil),
	)
	return b.statusLocked()
}

func (b *Breaker) fireTrip(st Status) {
	if b.onTrip != nil {
		b.onTrip(st)
	}
}

// RecordResult folds one execution outcome into the counters. Reaching the
// error or loss cap trips immediately.
func (b *Breaker) RecordResult(r Record) {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	now := b.now()
	b.rollDay(now)

	held := 0
	if r.Success {
		b.errors = 0
		held = max(r.Contracts, 0)
	} else {
		b.errors++
	}
	b.settleLocked(r.Pair, held-r.Reserved)
	b.applyPnLLocked(r.PnLCents)

	st, tripped := b.checkCapsLocked(now)
	b.mu.Unlock()
	if tripped {
		b.fireTrip(st)
	}
}

// RecordPnL applies realized P&L that arrives after the execution, such as
// unwind proceeds. It does not touch the error counter.
func (b *Breaker) RecordPnL(cents int64) {
	if !b.cfg.Enabled || cents == 0 {
		return
	}
	b.mu.Lock()
	now := b.now()
	b.rollDay(now)
	b.applyPnLLocked(cents)
	st, tripped := b.checkCapsLocked(now)
	b.mu.Unlock()
	if tripped {
		b.fireTrip(st)
	}
}

// settleLocked moves the pair and total positions by delta, never below
// zero. Caller holds mu.
func (b *Breaker) settleLocked(pair string, delta int) {
	if delta == 0 {
		return
	}
	cur := b.positions[pair]
	next := max(cur+delta, 0)
	b.total = max(b.total+next-cur, 0)
	if next == 0 {
		delete(b.positions, pair)
	} else {
		b.positions[pair] = next
	}
}

func (b *Breaker) applyPnLLocked(cents int64) {
	b.dailyPnL += cents
	if cents < 0 {
		b.dailyLoss += -cents
	}
}

func (b *Breaker) checkCapsLocked(now time.Time) (Status, bool) {
	if b.halted {
		return Status{}, false
	}
	switch {
	case b.errors >= b.cfg.MaxConsecutiveErrors:
		return b.tripLocked(now, ReasonConsecutiveErrors,
			fmt.Sprintf("%d >= %d", b.errors, b.cfg.MaxConsecutiveErrors)), true
	case b.dailyLoss >= b.cfg.MaxDailyLossCents:
		return b.tripLocked(now, ReasonMaxDailyLoss,
			fmt.Sprintf("loss %d >= %d cents", b.dailyLoss, b.cfg.MaxDailyLossCents)), true
	}
	return Status{}, false
}

// Halt trips the breaker by hand.
func (b *Breaker) Halt(detail string) {
	b.mu.Lock()
	st := b.tripLocked(b.now(), ReasonManualHalt, detail)
	b.mu.Unlock()
	b.fireTrip(st)
}

// Reset clears a trip and the error counter. Positions and daily P&L stay.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
	b.reason = ""
	b.detail = ""
	b.cooldownUntil = time.Time{}
	b.errors = 0
	b.logger.Info("circuit breaker reset")
}

// IsTradingAllowed reports whether the breaker is enabled and OPEN. A trip
// whose cooldown has elapsed counts as allowed.
func (b *Breaker) IsTradingAllowed() bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.halted || !b.now().Before(b.cooldownUntil)
}

// Status returns a copy of the current state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay(b.now())
	return b.statusLocked()
}

func (b *Breaker) statusLocked() Status {
	pos := make(map[string]int, len(b.positions))
	for k, v := range b.positions {
		pos[k] = v
	}
	return Status{
		Enabled:           b.cfg.Enabled,
		Halted:            b.halted,
		TripReason:        b.reason,
		TripDetail:        b.detail,
		TrippedAt:         b.trippedAt,
		CooldownUntil:     b.cooldownUntil,
		ConsecutiveErrors: b.errors,
		DailyLossCents:    b.dailyLoss,
		DailyPnLCents:     b.dailyPnL,
		TotalPosition:     b.total,
		Positions:         pos,
		Day:               b.day,
	}
}
