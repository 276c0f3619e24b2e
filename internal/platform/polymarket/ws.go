package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/orderbook"
)

// DefaultWSURL is the CLOB market-channel endpoint.
const DefaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between frames before the connection is
	// considered dead.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = 30 * time.Second
)

// EventHandler receives decoded price events. It runs on the reading
// goroutine, one event at a time.
type EventHandler func(PriceEvent)

// WSClient is a WebSocket client for the Polymarket CLOB market channel.
// Each call to Stream owns one connection; reconnecting is the caller's job.
type WSClient struct {
	wsURL      string
	dialer     websocket.Dialer
	pingPeriod time.Duration
	logger     *slog.Logger

	frames       atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewWSClient creates a new WebSocket client for the given WebSocket URL.
//
// wsURL is the CLOB WebSocket endpoint, e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		wsURL:      wsURL,
		dialer:     websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		pingPeriod: pingPeriod,
		logger:     logger.With(slog.String("component", "polymarket_ws")),
	}
}

// SetPingPeriod changes the keepalive interval for later sessions. Values
// outside (0, pongWait) are ignored.
func (w *WSClient) SetPingPeriod(d time.Duration) {
	if d > 0 && d < pongWait {
		w.pingPeriod = d
	}
}

// Frames returns the number of frames read across all sessions.
func (w *WSClient) Frames() uint64 { return w.frames.Load() }

// DecodeErrors returns the number of frames that failed to decode.
func (w *WSClient) DecodeErrors() uint64 { return w.decodeErrors.Load() }

// Stream connects, subscribes to assetIDs and calls handle for every price
// event until the connection fails or ctx is done. It always returns a
// non-nil error: ctx.Err() on shutdown, otherwise one wrapping
// domain.ErrWSDisconnect.
func (w *WSClient) Stream(ctx context.Context, assetIDs []string, handle EventHandler) error {
	conn, _, err := w.dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w: %v", domain.ErrWSDisconnect, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(messageType, data)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub, err := json.Marshal(MarketSubscription{AssetIDs: assetIDs, Type: "market"})
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscription: %w", err)
	}
	if err := write(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w: %v", domain.ErrWSDisconnect, err)
	}
	w.logger.Info("subscribed", slog.Int("assets", len(assetIDs)))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go w.pingLoop(done, write)

	var events []PriceEvent
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		w.frames.Add(1)

		events, err = ParseMarketFrame(message, events[:0])
		if err != nil {
			w.decodeErrors.Add(1)
			w.logger.Debug("undecodable frame", slog.String("error", err.Error()))
			continue
		}
		for _, ev := range events {
			handle(ev)
		}
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop(done <-chan struct{}, write func(int, []byte) error) {
	ticker := time.NewTicker(w.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ParseMarketFrame decodes one market-channel frame and appends its price
// events to dst. Frames that are not JSON objects or arrays (the server's
// text "PONG", for example) yield no events and no error.
func ParseMarketFrame(raw []byte, dst []PriceEvent) ([]PriceEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return dst, nil
	}
	switch raw[0] {
	case '[':
		var batch []MarketEvent
		if err := sonnet.Unmarshal(raw, &batch); err != nil {
			return dst, fmt.Errorf("decode batch: %w", err)
		}
		for i := range batch {
			dst = appendPriceEvents(dst, &batch[i])
		}
	case '{':
		var ev MarketEvent
		if err := sonnet.Unmarshal(raw, &ev); err != nil {
			return dst, fmt.Errorf("decode event: %w", err)
		}
		dst = appendPriceEvents(dst, &ev)
	}
	return dst, nil
}

func appendPriceEvents(dst []PriceEvent, ev *MarketEvent) []PriceEvent {
	switch ev.EventType {
	case "book":
		if ev.AssetID == "" {
			return dst
		}
		best, size := orderbook.NoPrice, uint16(0)
		for _, lvl := range ev.Asks {
			p := ParsePrice(lvl.Price)
			if p == 0 {
				continue
			}
			n := NotionalCents(lvl.Size, p)
			if n == 0 {
				continue
			}
			if best == orderbook.NoPrice || p < best {
				best, size = p, n
			}
		}
		dst = append(dst, PriceEvent{AssetID: ev.AssetID, PriceCents: best, SizeCents: size})

	case "price_change":
		for _, pc := range ev.PriceChanges {
			asset := pc.AssetID
			if asset == "" {
				asset = ev.AssetID
			}
			if asset == "" {
				continue
			}
			best := ParsePrice(pc.BestAsk)
			if best == 0 {
				if askEmptied(pc.BestAsk) {
					dst = append(dst, PriceEvent{AssetID: asset, PriceCents: orderbook.NoPrice})
				}
				continue
			}
			var size uint16
			if pc.Side == "SELL" && ParsePrice(pc.Price) == best {
				size = NotionalCents(pc.Size, best)
			}
			dst = append(dst, PriceEvent{AssetID: asset, PriceCents: best, SizeCents: size})
		}
	}
	return dst
}
