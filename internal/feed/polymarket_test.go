package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/market"
	"github.com/alanyoungcy/polyarb/internal/orderbook"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T) *market.Registry {
	t.Helper()
	r := market.NewRegistry(4)
	if _, err := r.Register(domain.MarketPair{PairID: "poly-a", YesToken: "ya", NoToken: "na"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(domain.MarketPair{PairID: "poly-b", YesToken: "yb", NoToken: "nb"}); err != nil {
		t.Fatal(err)
	}
	r.Seal()
	return r
}

type recorder struct {
	ids []uint16
}

func (r *recorder) OnUpdate(id uint16) arbitrage.Signal {
	r.ids = append(r.ids, id)
	return 0
}

func TestApplyRoutesBySide(t *testing.T) {
	reg := newRegistry(t)
	rec := &recorder{}
	f := NewPolymarket(nil, reg, rec, 0, discard())

	if id, ok := f.Apply(polymarket.PriceEvent{AssetID: "nb", PriceCents: 52, SizeCents: 800}); !ok || id != 1 {
		t.Fatalf("Apply(nb) = %d, %v", id, ok)
	}
	if _, ok := f.Apply(polymarket.PriceEvent{AssetID: "unknown", PriceCents: 10}); ok {
		t.Fatal("unknown token applied")
	}

	snap, _ := reg.Snapshot(1)
	if snap.NoPrice != 52 || snap.NoSize != 800 || snap.YesPrice != orderbook.NoPrice {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(rec.ids) != 1 || rec.ids[0] != 1 {
		t.Errorf("OnUpdate calls = %v", rec.ids)
	}
	st := f.Stats()
	if st.Events != 2 || st.Dispatched != 1 || st.Unknown != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestApplyKeepsSizeAtUnchangedPrice(t *testing.T) {
	tests := []struct {
		name     string
		price    uint16
		size     uint16
		wantSize uint16
	}{
		{"same price unknown size", 45, 0, 900},
		{"same price new size", 45, 300, 300},
		{"new price unknown size", 46, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(t)
			f := NewPolymarket(nil, reg, nil, 0, discard())
			f.Apply(polymarket.PriceEvent{AssetID: "ya", PriceCents: 45, SizeCents: 900})
			f.Apply(polymarket.PriceEvent{AssetID: "ya", PriceCents: tt.price, SizeCents: tt.size})

			snap, _ := reg.Snapshot(0)
			if snap.YesPrice != tt.price || snap.YesSize != tt.wantSize {
				t.Errorf("snapshot = %+v, want price %d size %d", snap, tt.price, tt.wantSize)
			}
		})
	}
}

func TestApplyFeedsDetector(t *testing.T) {
	reg := newRegistry(t)
	sink := arbitrage.NewChannelSink(4)
	det := arbitrage.NewDetector(arbitrage.DetectorConfig{
		Registry: reg, ThresholdCents: 100, Sink: sink, Logger: discard(),
	})
	f := NewPolymarket(nil, reg, det, 0, discard())

	f.Apply(polymarket.PriceEvent{AssetID: "ya", PriceCents: 48, SizeCents: 1000})
	f.Apply(polymarket.PriceEvent{AssetID: "na", PriceCents: 50, SizeCents: 1000})

	select {
	case req := <-sink.C():
		if req.MarketID != 0 || req.YesPrice != 48 || req.NoPrice != 50 {
			t.Errorf("request = %+v", req)
		}
	default:
		t.Fatal("no execution request")
	}
	if f.Stats().Signals != 1 {
		t.Errorf("signals = %d", f.Stats().Signals)
	}
}

type scriptedStream struct {
	mu     sync.Mutex
	calls  int
	assets []string
	events []polymarket.PriceEvent
}

func (s *scriptedStream) Stream(ctx context.Context, assetIDs []string, handle polymarket.EventHandler) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.assets = assetIDs
	s.mu.Unlock()

	if n == 1 {
		for _, ev := range s.events {
			handle(ev)
		}
		return domain.ErrWSDisconnect
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunReconnects(t *testing.T) {
	reg := newRegistry(t)
	stream := &scriptedStream{events: []polymarket.PriceEvent{{AssetID: "yb", PriceCents: 30, SizeCents: 10}}}
	f := NewPolymarket(stream, reg, nil, time.Millisecond, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.Stats().Sessions < 2 {
		if time.Now().After(deadline) {
			t.Fatal("feed did not reconnect")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.assets) != 4 || stream.assets[0] != "ya" || stream.assets[3] != "nb" {
		t.Errorf("subscribed assets = %v", stream.assets)
	}
	if snap, _ := reg.Snapshot(1); snap.YesPrice != 30 {
		t.Errorf("event not applied: %+v", snap)
	}
}

func TestRunWithoutMarkets(t *testing.T) {
	reg := market.NewRegistry(1)
	reg.Seal()
	f := NewPolymarket(&scriptedStream{}, reg, nil, 0, discard())
	if err := f.Run(context.Background()); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestApplyEmptiedAskStopsSignalling(t *testing.T) {
	reg := newRegistry(t)
	det := arbitrage.NewDetector(arbitrage.DetectorConfig{Registry: reg, ThresholdCents: 100, Sink: arbitrage.NewChannelSink(4)})
	f := NewPolymarket(nil, reg, det, 0, discard())

	frame := `{"event_type":"price_change","price_changes":[{"asset_id":"ya","price":"0.45","size":"1","side":"BUY","best_ask":"0"}]}`
	f.Apply(polymarket.PriceEvent{AssetID: "ya", PriceCents: 45, SizeCents: 900})
	f.Apply(polymarket.PriceEvent{AssetID: "na", PriceCents: 50, SizeCents: 900})
	evs, err := polymarket.ParseMarketFrame([]byte(frame), nil)
	if err != nil || len(evs) != 1 {
		t.Fatalf("ParseMarketFrame = %+v, %v", evs, err)
	}
	f.Apply(evs[0])

	snap, _ := reg.Snapshot(0)
	if snap.YesPrice != orderbook.NoPrice || snap.YesSize != 0 || snap.NoPrice != 50 {
		t.Errorf("snapshot = %+v", snap)
	}
	if sig := arbitrage.Evaluate(snap, 100); sig != 0 {
		t.Errorf("emptied ask still signals: %v", sig)
	}
}
