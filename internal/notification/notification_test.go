package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading-botv1/internal/model"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Send(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestAlertFromEvent_Levels(t *testing.T) {
	cases := map[model.EventType]AlertLevel{
		model.EventEntry:         AlertInfo,
		model.EventExit:          AlertInfo,
		model.EventEntryFailed:   AlertWarning,
		model.EventBracketFailed: AlertWarning,
		model.EventExchangeFlat:  AlertWarning,
		model.EventExitFailed:    AlertCritical,
		model.EventHalted:        AlertCritical,
	}
	for typ, want := range cases {
		a, ok := AlertFromEvent(model.TradeEvent{Type: typ, Symbol: "BTCUSDT", TradeID: "BTCUSDT-1"})
		if !ok {
			t.Errorf("%s: expected an alert", typ)
			continue
		}
		if a.Level != want || a.Symbol != "BTCUSDT" || a.TradeID != "BTCUSDT-1" || a.Title == "" {
			t.Errorf("%s: unexpected alert %+v", typ, a)
		}
	}

	for _, typ := range []model.EventType{model.EventStopRatchet, model.EventBreakeven} {
		if _, ok := AlertFromEvent(model.TradeEvent{Type: typ}); ok {
			t.Errorf("%s should not alert", typ)
		}
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("down")}
	m := Multi{ok, bad, NewLogNotifier()}

	err := m.Send(context.Background(), Alert{Level: AlertInfo, Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.count() != 1 || bad.count() != 1 {
		t.Error("every notifier should receive the alert")
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "exit failed", Message: "m", Symbol: "BTCUSDT", TradeID: "id-1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["level"] != "CRITICAL" || got["title"] != "exit failed" || got["symbol"] != "BTCUSDT" || got["trade_id"] != "id-1" {
		t.Errorf("unexpected payload: %v", got)
	}
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	if err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "BTCUSDT entry failed", Message: "rate-limit", TradeID: "BTCUSDT-1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if body["chat_id"] != "42" || body["parse_mode"] != "MarkdownV2" {
		t.Errorf("unexpected body: %v", body)
	}
	text, _ := body["text"].(string)
	if !strings.Contains(text, `rate\-limit`) || !strings.Contains(text, "`BTCUSDT-1`") {
		t.Errorf("text not escaped or missing trade id: %q", text)
	}
	if !strings.HasPrefix(text, "⚠️ *BTCUSDT entry failed*") {
		t.Errorf("text should lead with level marker and bold title: %q", text)
	}
}

func TestTelegramNotifier_RetriesAfterRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":0}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	if err := n.Send(context.Background(), Alert{Title: "halted"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestTelegramNotifier_RejectsLongRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":60}}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	err := n.Send(context.Background(), Alert{Title: "halted"})
	if err == nil || !strings.Contains(err.Error(), "Too Many Requests") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b.c!"); got != `a\_b\.c\!` {
		t.Errorf("escapeMarkdown = %q", got)
	}
	if got := escapeCode("a`b\\c"); got != "a\\`b\\\\c" {
		t.Errorf("escapeCode = %q", got)
	}
}

func TestDispatcher_DeliversAndDrops(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 1)

	d.Notify(Alert{Title: "one"})
	d.Notify(Alert{Title: "two"}) // queue full
	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d", d.Dropped())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() != 1 || rec.alerts[0].Title != "one" {
		t.Errorf("unexpected deliveries: %+v", rec.alerts)
	}
}
