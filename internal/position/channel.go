// Package position is the accounting side of execution: a bounded fill
// channel fed by the engine, an in-memory position tracker, and a writer that
// persists and publishes every fill.
package position

import (
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// DefaultBuffer is the fill channel capacity when none is configured.
const DefaultBuffer = 1024

// Channel carries fill records from execution to accounting. Send never
// blocks: when the buffer is full the newest record is dropped, counted, and
// logged.
type Channel struct {
	ch      chan domain.FillRecord
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewChannel creates a channel with the given buffer size.
func NewChannel(size int, logger *slog.Logger) *Channel {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Channel{
		ch:     make(chan domain.FillRecord, size),
		logger: logger.With(slog.String("component", "fill_channel")),
	}
}

// Send enqueues rec, or drops it if the buffer is full.
func (c *Channel) Send(rec domain.FillRecord) bool {
	select {
	case c.ch <- rec:
		return true
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("fill channel full, record dropped",
			slog.String("execution_id", rec.ExecutionID),
			slog.String("pair_id", rec.PairID),
			slog.String("side", rec.Side.String()),
			slog.Int("quantity", rec.Quantity),
			slog.Uint64("dropped_total", n),
		)
		return false
	}
}

// C returns the receive side.
func (c *Channel) C() <-chan domain.FillRecord { return c.ch }

// Dropped returns the number of records discarded so far.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Len returns the number of buffered records.
func (c *Channel) Len() int { return len(c.ch) }
