package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/risk"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type captured struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]string
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestDiscordSender(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL + "/hook").Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(c.bodies) != 1 || c.bodies[0]["content"] != "**Title**\nbody" {
		t.Errorf("bodies = %v", c.bodies)
	}

	long := strings.Repeat("x", 3000)
	if err := NewDiscordSender(srv.URL).Send(context.Background(), "T", long); err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(c.bodies[1]["content"])); n != discordMaxContent {
		t.Errorf("content length = %d, want %d", n, discordMaxContent)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status 429", err)
	}
}

func TestTelegramSender(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "123:abc", "-100")
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.paths[0] != "/bot123:abc/sendMessage" {
		t.Errorf("path = %q", c.paths[0])
	}
	b := c.bodies[0]
	if b["chat_id"] != "-100" || b["text"] != "*Title*\nbody" || b["parse_mode"] != "Markdown" {
		t.Errorf("body = %v", b)
	}
}

type fakeSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestNotifierFiltersAndFansOut(t *testing.T) {
	ok := &fakeSender{name: "ok"}
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{bad, ok}, []string{EventBreakerTrip, " "}, quiet())

	if err := n.Notify(context.Background(), EventArbExecuted, "t", "m"); err != nil {
		t.Fatalf("filtered Notify: %v", err)
	}
	if ok.count() != 0 {
		t.Fatal("filtered event was delivered")
	}

	err := n.Notify(context.Background(), EventBreakerTrip, "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: down") {
		t.Errorf("err = %v", err)
	}
	if ok.count() != 1 || bad.count() != 1 {
		t.Errorf("deliveries ok=%d bad=%d", ok.count(), bad.count())
	}

	n.Go(EventBreakerTrip, "async", "m")
	n.Wait()
	if ok.count() != 2 {
		t.Errorf("async delivery missing, ok=%d", ok.count())
	}
}

func TestNotifierWithoutSenders(t *testing.T) {
	var nilNotifier *Notifier
	if nilNotifier.Enabled() {
		t.Error("nil notifier enabled")
	}
	nilNotifier.Wait()

	n := NewNotifier(nil, nil, quiet())
	if err := n.Notify(context.Background(), EventStartup, "t", "m"); err != nil {
		t.Errorf("Notify = %v", err)
	}
	n.Go(EventStartup, "t", "m")
	n.Wait()
}

func TestAlertText(t *testing.T) {
	title, msg := BreakerTrip(risk.Status{
		TripReason:     risk.ReasonMaxDailyLoss,
		DailyLossCents: 5025,
		TotalPosition:  40,
		CooldownUntil:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if title != "Circuit breaker tripped" || !strings.Contains(msg, "max_daily_loss") ||
		!strings.Contains(msg, "$50.25") || !strings.Contains(msg, "03:04:05") {
		t.Errorf("BreakerTrip = %q / %q", title, msg)
	}

	_, msg = UnwindFailed("poly-epl-a", domain.SideNo, 7, errors.New("no bids"))
	if !strings.Contains(msg, "NO") || !strings.Contains(msg, "7") || !strings.Contains(msg, "no bids") {
		t.Errorf("UnwindFailed = %q", msg)
	}
}
