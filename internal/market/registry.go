// Package market owns the fixed arena of tracked binary markets and the
// token-fingerprint maps the feed uses to route price events.
package market

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/orderbook"
)

// DefaultCapacity is the number of market slots allocated when no capacity is
// given.
const DefaultCapacity = 1024

var (
	ErrFull           = errors.New("market: registry full")
	ErrSealed         = errors.New("market: registry sealed")
	ErrDuplicateToken = errors.New("market: token already registered")
)

// ID is a market's stable index in the registry arena.
type ID = uint16

// Market is one tracked binary market. Everything except Book is immutable
// after registration.
type Market struct {
	ID          ID
	PairID      string
	Description string
	Slug        string
	YesToken    string
	NoToken     string
	Category    string
	MarketType  domain.MarketType
	NegRisk     bool

	Book orderbook.Book
}

// Fingerprint hashes an outcome token identifier for map lookups.
func Fingerprint(token string) uint64 {
	return xxhash.Sum64String(token)
}

// Registry is an append-only arena of markets. Register runs only during
// startup; after Seal the slot slice and both maps are read-only, so lookups
// and dispatch need no locking.
type Registry struct {
	slots  []Market
	n      int
	yes    map[uint64]ID
	no     map[uint64]ID
	sealed atomic.Bool
}

// NewRegistry allocates capacity slots up front. A non-positive capacity
// selects DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity > 1<<16 {
		capacity = 1 << 16
	}
	return &Registry{
		slots: make([]Market, capacity),
		yes:   make(map[uint64]ID, capacity),
		no:    make(map[uint64]ID, capacity),
	}
}

// Register appends a market and returns its id.
func (r *Registry) Register(pair domain.MarketPair) (ID, error) {
	if r.sealed.Load() {
		return 0, ErrSealed
	}
	if r.n >= len(r.slots) {
		return 0, fmt.Errorf("%w: capacity %d", ErrFull, len(r.slots))
	}

	yfp, nfp := Fingerprint(pair.YesToken), Fingerprint(pair.NoToken)
	if r.known(yfp) || r.known(nfp) || yfp == nfp {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateToken, pair.PairID)
	}

	id := ID(r.n)
	m := &r.slots[r.n]
	m.ID = id
	m.PairID = pair.PairID
	m.Description = pair.Description
	m.Slug = pair.Slug
	m.YesToken = pair.YesToken
	m.NoToken = pair.NoToken
	m.Category = pair.League
	m.MarketType = pair.MarketType
	m.NegRisk = pair.NegRisk
	m.Book.Reset()

	r.yes[yfp] = id
	r.no[nfp] = id
	r.n++
	return id, nil
}

func (r *Registry) known(fp uint64) bool {
	_, y := r.yes[fp]
	_, n := r.no[fp]
	return y || n
}

// Seal ends the registration phase. It must happen before the feed starts.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	return r.n
}

// Cap returns the fixed slot capacity.
func (r *Registry) Cap() int {
	return len(r.slots)
}

// Get returns the market for id, or nil if id is not registered.
func (r *Registry) Get(id ID) *Market {
	if int(id) >= r.n {
		return nil
	}
	return &r.slots[id]
}

// Snapshot loads the current book of market id.
func (r *Registry) Snapshot(id ID) (orderbook.Snapshot, bool) {
	m := r.Get(id)
	if m == nil {
		return orderbook.Snapshot{}, false
	}
	return m.Book.Load(), true
}

// Lookup resolves a token fingerprint to its market and side.
func (r *Registry) Lookup(fp uint64) (ID, domain.Side, bool) {
	if id, ok := r.yes[fp]; ok {
		return id, domain.SideYes, true
	}
	if id, ok := r.no[fp]; ok {
		return id, domain.SideNo, true
	}
	return 0, 0, false
}

// Dispatch applies a best-ask update to the market owning fp on the given
// side. Unknown fingerprints are dropped and reported with ok == false.
func (r *Registry) Dispatch(fp uint64, side domain.Side, price, size uint16) (ID, bool) {
	idx := r.yes
	if side == domain.SideNo {
		idx = r.no
	}
	id, ok := idx[fp]
	if !ok {
		return 0, false
	}
	m := &r.slots[id]
	if side == domain.SideNo {
		m.Book.UpdateNo(price, size)
	} else {
		m.Book.UpdateYes(price, size)
	}
	return id, true
}

// Each calls fn for every registered market in id order.
func (r *Registry) Each(fn func(m *Market)) {
	for i := 0; i < r.n; i++ {
		fn(&r.slots[i])
	}
}

// TokenIDs returns every registered outcome token, YES then NO per market.
func (r *Registry) TokenIDs() []string {
	out := make([]string, 0, 2*r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.slots[i].YesToken, r.slots[i].NoToken)
	}
	return out
}
