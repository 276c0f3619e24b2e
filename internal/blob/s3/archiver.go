package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const (
	// DefaultFlushInterval is how often buffered fills are uploaded.
	DefaultFlushInterval = 5 * time.Minute
	// DefaultMaxBuffer caps fills held between uploads.
	DefaultMaxBuffer = 50_000
	flushTimeout     = 30 * time.Second
)

// ArchiverConfig configures a FillArchiver. Writer is required.
type ArchiverConfig struct {
	Writer    domain.BlobWriter
	Audit     domain.AuditStore
	Interval  time.Duration
	MaxBuffer int
	Logger    *slog.Logger
	Now       func() time.Time
}

// FillArchiver buffers fill records and uploads them as JSONL, one object
// per UTC day per flush:
//
//	fills/2026-01-02/150405-000001.jsonl
//
// Records from a failed upload stay buffered for the next flush.
type FillArchiver struct {
	w        domain.BlobWriter
	audit    domain.AuditStore
	interval time.Duration
	max      int
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	buf     []domain.FillRecord
	seq     int
	dropped int
}

// NewFillArchiver creates an archiver.
func NewFillArchiver(cfg ArchiverConfig) *FillArchiver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlushInterval
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FillArchiver{
		w:        cfg.Writer,
		audit:    cfg.Audit,
		interval: cfg.Interval,
		max:      cfg.MaxBuffer,
		now:      cfg.Now,
		logger:   cfg.Logger.With(slog.String("component", "fill_archiver")),
	}
}

// Add buffers rec. When the buffer is full the record is dropped and
// counted.
func (a *FillArchiver) Add(rec domain.FillRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) >= a.max {
		a.dropped++
		return
	}
	a.buf = append(a.buf, rec)
}

// Pending returns the number of buffered records.
func (a *FillArchiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Dropped returns the number of records lost to a full buffer.
func (a *FillArchiver) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Run flushes every interval and once more on shutdown.
func (a *FillArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			if err := a.Flush(fctx); err != nil {
				a.logger.Error("final archive flush failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Warn("archive flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush uploads everything buffered, grouped by UTC day of the fill
// timestamp.
func (a *FillArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.buf
	a.buf = nil
	a.seq++
	seq := a.seq
	a.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	byDay := make(map[string][]domain.FillRecord)
	for _, rec := range pending {
		day := rec.Timestamp.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], rec)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	stamp := a.now().UTC().Format("150405")
	var failed []domain.FillRecord
	var firstErr error
	for _, day := range days {
		recs := byDay[day]
		key := fmt.Sprintf("fills/%s/%s-%06d.jsonl", day, stamp, seq)
		if err := a.upload(ctx, key, recs); err != nil {
			failed = append(failed, recs...)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.logger.Info("archived fills", slog.String("key", key), slog.Int("count", len(recs)))
		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.fills", map[string]any{"key": key, "count": len(recs)}); err != nil {
				a.logger.Warn("audit log failed", slog.String("error", err.Error()))
			}
		}
	}

	if len(failed) > 0 {
		a.requeue(failed)
	}
	return firstErr
}

func (a *FillArchiver) upload(ctx context.Context, key string, recs []domain.FillRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode fill %d: %w", i, err)
		}
	}
	return a.w.Put(ctx, key, &buf, "application/x-ndjson")
}

// requeue puts failed records back in front of anything added meanwhile.
func (a *FillArchiver) requeue(recs []domain.FillRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	merged := append(recs, a.buf...)
	if over := len(merged) - a.max; over > 0 {
		a.dropped += over
		merged = merged[:a.max]
	}
	a.buf = merged
}
