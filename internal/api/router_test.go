package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"trading-botv1/internal/model"
	"trading-botv1/internal/portfolio"
)

type fakeStatus struct {
	pos    *portfolio.Position
	halted string
	trades []portfolio.ClosedTrade
}

func (f *fakeStatus) Snapshot() (portfolio.Position, bool) {
	if f.pos == nil {
		return portfolio.Position{}, false
	}
	return *f.pos, true
}

func (f *fakeStatus) Halted() (bool, string) { return f.halted != "", f.halted }

func (f *fakeStatus) Summary() portfolio.PnLSummary {
	return portfolio.PnLSummary{RealizedPnL: 4, TotalPnL: 4, TotalTrades: len(f.trades), Wins: len(f.trades)}
}

func (f *fakeStatus) Trades() []portfolio.ClosedTrade { return f.trades }

func get(t *testing.T, mux *http.ServeMux, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil && rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec.Code
}

func TestPosition_FlatAndOpen(t *testing.T) {
	st := &fakeStatus{}
	mux := NewRouter(st)

	var flat positionResponse
	if code := get(t, mux, "/api/v1/position", &flat); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if flat.Open || flat.Position != nil {
		t.Errorf("expected flat, got %+v", flat)
	}

	st.pos = &portfolio.Position{TradeID: "BTCUSDT-1", Side: model.SideBuy, EntryPrice: 100, StopLoss: 99.5}
	var open positionResponse
	get(t, mux, "/api/v1/position", &open)
	if !open.Open || open.Position == nil || open.Position.StopLoss != 99.5 {
		t.Errorf("expected open position, got %+v", open)
	}
}

func TestPosition_Halted(t *testing.T) {
	mux := NewRouter(&fakeStatus{halted: "opposite venue position"})
	var resp positionResponse
	get(t, mux, "/api/v1/position", &resp)
	if !resp.Halted || resp.HaltReason != "opposite venue position" {
		t.Errorf("unexpected %+v", resp)
	}
}

func TestTrades_EmptyIsArray(t *testing.T) {
	mux := NewRouter(&fakeStatus{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestPnL(t *testing.T) {
	mux := NewRouter(&fakeStatus{trades: []portfolio.ClosedTrade{{TradeID: "a", PnL: 4}}})
	var sum portfolio.PnLSummary
	get(t, mux, "/api/v1/pnl", &sum)
	if sum.RealizedPnL != 4 || sum.TotalTrades != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := NewRouter(&fakeStatus{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/position", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
