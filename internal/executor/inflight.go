package executor

import "sync/atomic"

// InFlight marks markets with an execution underway. It is a fixed bitmap
// indexed by market id; acquire and release are single atomic operations.
type InFlight struct {
	words []atomic.Uint64
}

// NewInFlight sizes the bitmap for ids in [0, capacity).
func NewInFlight(capacity int) *InFlight {
	return &InFlight{words: make([]atomic.Uint64, (capacity+63)/64)}
}

// TryAcquire sets the flag for id and reports whether it was previously
// clear. Ids beyond capacity are never acquired.
func (f *InFlight) TryAcquire(id uint16) bool {
	w := int(id) >> 6
	if w >= len(f.words) {
		return false
	}
	bit := uint64(1) << (id & 63)
	return f.words[w].Or(bit)&bit == 0
}

// Release clears the flag for id.
func (f *InFlight) Release(id uint16) {
	w := int(id) >> 6
	if w >= len(f.words) {
		return
	}
	f.words[w].And(^(uint64(1) << (id & 63)))
}

// Busy reports whether id is currently flagged.
func (f *InFlight) Busy(id uint16) bool {
	w := int(id) >> 6
	if w >= len(f.words) {
		return false
	}
	return f.words[w].Load()&(uint64(1)<<(id&63)) != 0
}

// Count returns the number of flagged markets.
func (f *InFlight) Count() int {
	n := 0
	for i := range f.words {
		v := f.words[i].Load()
		for v != 0 {
			v &= v - 1
			n++
		}
	}
	return n
}
