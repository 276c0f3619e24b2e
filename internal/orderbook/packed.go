// Package orderbook holds the per-market best-ask cell that the feed writes
// and the detector and execution engine read without locks.
package orderbook

import (
	"fmt"
	"sync/atomic"
)

// Bit layout of the packed word, most significant first:
//
//	63..48  YES ask price (cents, or NoPrice)
//	47..32  NO ask price  (cents, or NoPrice)
//	31..16  YES size      (cents of notional at the ask)
//	15..0   NO size       (cents of notional at the ask)
const (
	yesPriceShift = 48
	noPriceShift  = 32
	yesSizeShift  = 16
	noSizeShift   = 0

	fieldMask = 0xFFFF

	yesMask = uint64(fieldMask)<<yesPriceShift | uint64(fieldMask)<<yesSizeShift
	noMask  = uint64(fieldMask)<<noPriceShift | uint64(fieldMask)<<noSizeShift
)

const (
	// NoPrice marks a side whose best ask is unknown. It is outside the
	// valid 0..MaxPrice range and is the initial state of both sides.
	NoPrice uint16 = 0xFFFF

	// MaxPrice is the $1.00 payout of a binary contract in cents.
	MaxPrice uint16 = 100
)

// Snapshot is one decoded state of a Book.
type Snapshot struct {
	YesPrice uint16
	NoPrice  uint16
	YesSize  uint16
	NoSize   uint16
}

// HasPrices reports whether both sides carry a known price.
func (s Snapshot) HasPrices() bool {
	return s.YesPrice != NoPrice && s.NoPrice != NoPrice
}

// Cost returns yes + no in cents. Only meaningful when HasPrices is true.
func (s Snapshot) Cost() uint16 {
	return s.YesPrice + s.NoPrice
}

// MaxContracts returns the whole number of contracts both legs can absorb at
// the current asks: floor(min(yesSize/yesPrice, noSize/noPrice)). It is zero
// when either price is zero or unknown.
func (s Snapshot) MaxContracts() int {
	if !s.HasPrices() || s.YesPrice == 0 || s.NoPrice == 0 {
		return 0
	}
	yes := int(s.YesSize) / int(s.YesPrice)
	no := int(s.NoSize) / int(s.NoPrice)
	return min(yes, no)
}

// Pack encodes four fields into one word.
func Pack(yesPrice, noPrice, yesSize, noSize uint16) uint64 {
	return uint64(yesPrice)<<yesPriceShift |
		uint64(noPrice)<<noPriceShift |
		uint64(yesSize)<<yesSizeShift |
		uint64(noSize)<<noSizeShift
}

// Unpack decodes a word produced by Pack.
func Unpack(w uint64) Snapshot {
	return Snapshot{
		YesPrice: uint16(w >> yesPriceShift & fieldMask),
		NoPrice:  uint16(w >> noPriceShift & fieldMask),
		YesSize:  uint16(w >> yesSizeShift & fieldMask),
		NoSize:   uint16(w >> noSizeShift & fieldMask),
	}
}

// Book is a lock-free best-ask cell for one binary market. A single feed
// goroutine writes it; any number of goroutines may Load concurrently.
type Book struct {
	word atomic.Uint64
}

// New returns a Book with both prices unknown and zero size.
func New() *Book {
	b := &Book{}
	b.Reset()
	return b
}

// Reset puts the book back in its initial state.
func (b *Book) Reset() {
	b.word.Store(Pack(NoPrice, NoPrice, 0, 0))
}

// UpdateYes replaces the YES price and size, leaving the NO fields as they
// are at the moment the swap succeeds.
func (b *Book) UpdateYes(price, size uint16) {
	checkPrice(price)
	b.swap(yesMask, uint64(price)<<yesPriceShift|uint64(size)<<yesSizeShift)
}

// UpdateNo replaces the NO price and size, leaving the YES fields as they
// are at the moment the swap succeeds.
func (b *Book) UpdateNo(price, size uint16) {
	checkPrice(price)
	b.swap(noMask, uint64(price)<<noPriceShift|uint64(size)<<noSizeShift)
}

// swap merges bits into the word under mask. A plain masked store would race
// with an update to the other side and revert it, so every failed CAS
// re-reads the current word.
func (b *Book) swap(mask, bits uint64) {
	for {
		old := b.word.Load()
		next := old&^mask | bits
		if b.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// Load returns a consistent snapshot of the whole word.
func (b *Book) Load() Snapshot {
	s := Unpack(b.word.Load())
	checkPrice(s.YesPrice)
	checkPrice(s.NoPrice)
	return s
}

// Raw returns the packed word as stored.
func (b *Book) Raw() uint64 {
	return b.word.Load()
}

func checkPrice(p uint16) {
	if p > MaxPrice && p != NoPrice {
		panic(fmt.Sprintf("orderbook: price %d outside 0..%d", p, MaxPrice))
	}
}
