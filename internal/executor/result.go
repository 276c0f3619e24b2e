package executor

import (
	"errors"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Status is the outcome class of one Process call.
type Status uint8

const (
	StatusExecuted Status = iota
	StatusPartialFillMismatch
	StatusDuplicateInFlight
	StatusStalePrice
	StatusInsufficientLiquidity
	StatusBreakerRefusal
	StatusGatewayRejection
	StatusUnknownMarket
)

var statusNames = [...]string{
	StatusExecuted:              "executed",
	StatusPartialFillMismatch:   "partial_fill_mismatch",
	StatusDuplicateInFlight:     "duplicate_in_flight",
	StatusStalePrice:            "stale_price",
	StatusInsufficientLiquidity: "insufficient_liquidity",
	StatusBreakerRefusal:        "breaker_refusal",
	StatusGatewayRejection:      "gateway_rejection",
	StatusUnknownMarket:         "unknown_market",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Sentinel errors carried in Result.Err, one per non-executed status.
var (
	ErrPartialFillMismatch   = errors.New("executor: partial fill mismatch")
	ErrDuplicateInFlight     = errors.New("executor: execution already in flight")
	ErrStalePrice            = errors.New("executor: price no longer clears threshold")
	ErrInsufficientLiquidity = errors.New("executor: no size at the ask")
	ErrBreakerRefusal        = errors.New("executor: circuit breaker refused")
	ErrGatewayRejection      = errors.New("executor: order gateway rejected a leg")
	ErrUnknownMarket         = errors.New("executor: unknown market")
)

var statusErrs = [...]error{
	StatusExecuted:              nil,
	StatusPartialFillMismatch:   ErrPartialFillMismatch,
	StatusDuplicateInFlight:     ErrDuplicateInFlight,
	StatusStalePrice:            ErrStalePrice,
	StatusInsufficientLiquidity: ErrInsufficientLiquidity,
	StatusBreakerRefusal:        ErrBreakerRefusal,
	StatusGatewayRejection:      ErrGatewayRejection,
	StatusUnknownMarket:         ErrUnknownMarket,
}

// Err returns the sentinel for s, nil for StatusExecuted.
func (s Status) Err() error {
	if int(s) < len(statusErrs) {
		return statusErrs[s]
	}
	return nil
}

// Leg is the outcome of one side's order.
type Leg struct {
	Side       domain.Side
	TokenID    string
	LimitCents uint16
	Fill       domain.Fill
	Err        error
}

// Result describes one Process call. Fields after Status are filled in as
// far as the execution got.
type Result struct {
	ExecutionID string
	MarketID    uint16
	PairID      string
	Status      Status
	// Err wraps Status.Err() with detail; nil when executed.
	Err error

	Contracts   int
	Yes         Leg
	No          Leg
	Matched     int
	ProfitCents int64

	// UnwindSide and UnwindQty describe the excess handed to the unwinder.
	UnwindSide domain.Side
	UnwindQty  int

	DetectedAt time.Time
	Latency    time.Duration
}

// Accepted reports whether the execution reached the order gateway.
func (r Result) Accepted() bool {
	switch r.Status {
	case StatusExecuted, StatusPartialFillMismatch, StatusGatewayRejection:
		return true
	}
	return false
}
