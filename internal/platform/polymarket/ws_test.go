package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/orderbook"
)

func TestParseMarketFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []PriceEvent
	}{
		{
			name: "book snapshot picks lowest ask",
			raw: `[{"event_type":"book","asset_id":"111","market":"0x1",
				"bids":[{"price":"0.40","size":"10"}],
				"asks":[{"price":"0.55","size":"10"},{"price":"0.48","size":"100"},{"price":"0.50","size":"5"}]}]`,
			want: []PriceEvent{{AssetID: "111", PriceCents: 48, SizeCents: 4800}},
		},
		{
			name: "book without asks clears the side",
			raw:  `{"event_type":"book","asset_id":"111","bids":[],"asks":[]}`,
			want: []PriceEvent{{AssetID: "111", PriceCents: orderbook.NoPrice}},
		},
		{
			name: "book skips empty levels",
			raw:  `{"event_type":"book","asset_id":"111","asks":[{"price":"0.30","size":"0"},{"price":"0.31","size":"2"}]}`,
			want: []PriceEvent{{AssetID: "111", PriceCents: 31, SizeCents: 62}},
		},
		{
			name: "price change at the best ask carries size",
			raw: `{"event_type":"price_change","market":"0x1","price_changes":[
				{"asset_id":"111","price":"0.47","size":"20","side":"SELL","best_bid":"0.45","best_ask":"0.47"},
				{"asset_id":"222","price":"0.40","size":"30","side":"BUY","best_bid":"0.40","best_ask":"0.52"}]}`,
			want: []PriceEvent{
				{AssetID: "111", PriceCents: 47, SizeCents: 940},
				{AssetID: "222", PriceCents: 52, SizeCents: 0},
			},
		},
		{
			name: "price change that empties the ask side clears the price",
			raw: `{"event_type":"price_change","price_changes":[
				{"asset_id":"111","price":"0.4","size":"1","side":"BUY","best_ask":"0"},
				{"asset_id":"222","price":"0.4","size":"1","side":"SELL","best_ask":""}]}`,
			want: []PriceEvent{
				{AssetID: "111", PriceCents: orderbook.NoPrice},
				{AssetID: "222", PriceCents: orderbook.NoPrice},
			},
		},
		{
			name: "price change with malformed best ask is dropped",
			raw:  `{"event_type":"price_change","price_changes":[{"asset_id":"111","price":"0.4","size":"1","side":"BUY","best_ask":"abc"}]}`,
		},
		{
			name: "other events ignored",
			raw:  `{"event_type":"last_trade_price","asset_id":"111","price":"0.5"}`,
		},
		{
			name: "text pong ignored",
			raw:  `PONG`,
		},
		{
			name: "empty batch",
			raw:  `[]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMarketFrame([]byte(tt.raw), nil)
			if err != nil {
				t.Fatalf("ParseMarketFrame: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseMarketFrameInvalid(t *testing.T) {
	if _, err := ParseMarketFrame([]byte(`{"event_type":`), nil); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestParseMarketFrameReusesBuffer(t *testing.T) {
	buf := make([]PriceEvent, 0, 4)
	out, err := ParseMarketFrame([]byte(`{"event_type":"book","asset_id":"1","asks":[{"price":"0.5","size":"1"}]}`), buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || &out[0] != &buf[:1][0] {
		t.Error("expected events appended into the caller's buffer")
	}
}

func TestWSClientStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan MarketSubscription, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub MarketSubscription
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		conn.WriteMessage(websocket.TextMessage, []byte(`[{"event_type":"book","asset_id":"111","asks":[{"price":"0.48","size":"10"}]}]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"price_change","price_changes":[{"asset_id":"222","price":"0.50","size":"4","side":"SELL","best_ask":"0.50"}]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":`))
		// Close without a handshake to look like a dropped connection.
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewWSClient(wsURL, nil)

	var got []PriceEvent
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Stream(ctx, []string{"111", "222"}, func(ev PriceEvent) {
		got = append(got, ev)
	})
	if !errors.Is(err, domain.ErrWSDisconnect) {
		t.Fatalf("Stream err = %v, want ErrWSDisconnect", err)
	}

	sub := <-subscribed
	if sub.Type != "market" || len(sub.AssetIDs) != 2 {
		t.Errorf("subscription = %+v", sub)
	}
	want := []PriceEvent{
		{AssetID: "111", PriceCents: 48, SizeCents: 480},
		{AssetID: "222", PriceCents: 50, SizeCents: 200},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if client.DecodeErrors() != 1 {
		t.Errorf("DecodeErrors = %d, want 1", client.DecodeErrors())
	}
	if client.Frames() != 3 {
		t.Errorf("Frames = %d, want 3", client.Frames())
	}
}

func TestWSClientStreamCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	err := client.Stream(ctx, []string{"1"}, func(PriceEvent) {})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream err = %v, want context.Canceled", err)
	}
}

func TestWSClientDialFailure(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:1/ws", nil)
	err := client.Stream(context.Background(), nil, func(PriceEvent) {})
	if !errors.Is(err, domain.ErrWSDisconnect) {
		t.Fatalf("err = %v, want ErrWSDisconnect", err)
	}
}
