package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// SnapshotName is the key the tracker state is saved under.
const SnapshotName = "positions.json"

// Archiver buffers fills for batch upload.
type Archiver interface {
	Add(rec domain.FillRecord)
}

// WriterConfig wires the writer. Only Tracker is required.
type WriterConfig struct {
	Tracker   *Tracker
	Fills     domain.FillStore
	Bus       domain.SignalBus
	Archive   Archiver
	Snapshots domain.SnapshotStore
	// SaveInterval is how often a changed tracker is persisted.
	SaveInterval time.Duration
	// StoreTimeout bounds each store or bus call.
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// Writer consumes the fill channel. It is the only mutator of the tracker.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger
	dirty  bool
}

// NewWriter creates a writer.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = 5 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{cfg: cfg, logger: cfg.Logger.With(slog.String("component", "position_writer"))}
}

// Restore loads the last saved tracker state, if any.
func (w *Writer) Restore(ctx context.Context) error {
	if w.cfg.Snapshots == nil {
		return nil
	}
	data, err := w.cfg.Snapshots.Load(ctx, SnapshotName)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("position writer: load snapshot: %w", err)
	}
	if err := w.cfg.Tracker.UnmarshalState(data); err != nil {
		return err
	}
	s := w.cfg.Tracker.Summary()
	w.logger.Info("positions restored",
		slog.Int("open", s.OpenPositions),
		slog.Int64("all_time_pnl_cents", s.AllTimeRealizedPnLCents),
	)
	return nil
}

// Run applies records until ctx is cancelled, then drains what is already
// buffered and saves a final snapshot.
func (w *Writer) Run(ctx context.Context, fills <-chan domain.FillRecord) error {
	w.logger.Info("position writer started")
	defer w.logger.Info("position writer stopped")

	ticker := time.NewTicker(w.cfg.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain(fills)
			w.save(context.WithoutCancel(ctx))
			return ctx.Err()
		case rec, ok := <-fills:
			if !ok {
				w.save(ctx)
				return nil
			}
			w.Handle(ctx, rec)
		case <-ticker.C:
			w.save(ctx)
		}
	}
}

func (w *Writer) drain(fills <-chan domain.FillRecord) {
	ctx := context.Background()
	for {
		select {
		case rec, ok := <-fills:
			if !ok {
				return
			}
			w.Handle(ctx, rec)
		default:
			return
		}
	}
}

// Handle applies and persists one record. Store failures are logged; the
// tracker is always updated.
func (w *Writer) Handle(ctx context.Context, rec domain.FillRecord) {
	realized := w.cfg.Tracker.Apply(rec)
	w.dirty = true

	w.logger.Info("fill recorded",
		slog.String("execution_id", rec.ExecutionID),
		slog.String("pair_id", rec.PairID),
		slog.String("side", rec.Side.String()),
		slog.String("action", string(rec.Action)),
		slog.Int("quantity", rec.Quantity),
		slog.Int64("price_cents", rec.PriceCents),
		slog.Int64("realized_cents", realized),
	)

	if w.cfg.Fills != nil {
		sctx, cancel := context.WithTimeout(ctx, w.cfg.StoreTimeout)
		if err := w.cfg.Fills.Insert(sctx, rec); err != nil {
			w.logger.Warn("fill store insert failed",
				slog.String("execution_id", rec.ExecutionID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	if w.cfg.Bus != nil {
		payload, err := EncodeFill(rec)
		if err == nil {
			sctx, cancel := context.WithTimeout(ctx, w.cfg.StoreTimeout)
			err = w.cfg.Bus.StreamAppend(sctx, FillStream, payload)
			cancel()
		}
		if err != nil {
			w.logger.Warn("fill stream append failed", slog.String("error", err.Error()))
		}
	}

	if w.cfg.Archive != nil {
		w.cfg.Archive.Add(rec)
	}
}

func (w *Writer) save(ctx context.Context) {
	if !w.dirty || w.cfg.Snapshots == nil {
		return
	}
	data, err := w.cfg.Tracker.MarshalState()
	if err != nil {
		w.logger.Error("encode positions failed", slog.String("error", err.Error()))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, w.cfg.StoreTimeout)
	defer cancel()
	if err := w.cfg.Snapshots.Save(sctx, SnapshotName, data); err != nil {
		w.logger.Warn("save positions failed", slog.String("error", err.Error()))
		return
	}
	w.dirty = false
}
