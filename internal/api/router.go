// Package api provides read-only HTTP handlers for the bot's position and
// trade state.
package api

import (
	"encoding/json"
	"net/http"

	"trading-botv1/internal/portfolio"
)

// Status is the read side of the risk manager.
type Status interface {
	Snapshot() (portfolio.Position, bool)
	Halted() (bool, string)
	Summary() portfolio.PnLSummary
	Trades() []portfolio.ClosedTrade
}

var _ Status = (*portfolio.RiskManager)(nil)

type positionResponse struct {
	Open       bool                `json:"open"`
	Halted     bool                `json:"halted"`
	HaltReason string              `json:"halt_reason,omitempty"`
	Position   *portfolio.Position `json:"position,omitempty"`
}

// NewRouter sets up the API routes.
func NewRouter(st Status) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// GET /api/v1/position
	mux.HandleFunc("/api/v1/position", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		resp := positionResponse{}
		resp.Halted, resp.HaltReason = st.Halted()
		if pos, open := st.Snapshot(); open {
			resp.Open = true
			resp.Position = &pos
		}
		writeJSON(w, resp)
	})

	// GET /api/v1/trades
	mux.HandleFunc("/api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		trades := st.Trades()
		if trades == nil {
			trades = []portfolio.ClosedTrade{}
		}
		writeJSON(w, trades)
	})

	// GET /api/v1/pnl
	mux.HandleFunc("/api/v1/pnl", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		writeJSON(w, st.Summary())
	})

	return mux
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
