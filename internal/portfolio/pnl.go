package portfolio

import (
	"sync"
	"time"

	"trading-botv1/internal/model"
)

const maxTradeHistory = 500

// ClosedTrade is a round trip kept in memory for the session summary.
type ClosedTrade struct {
	TradeID    string     `json:"trade_id"`
	Side       model.Side `json:"side"`
	Qty        float64    `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	PnL        float64    `json:"pnl"`
	Reason     string     `json:"reason"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   time.Time  `json:"closed_at"`
}

// PnLTracker tracks realized P&L for the process lifetime.
type PnLTracker struct {
	mu     sync.RWMutex
	trades []ClosedTrade

	realizedPnL float64
	wins        int
	losses      int
	total       int
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades: make([]ClosedTrade, 0, 64),
	}
}

// RecordTrade records a closed trade and returns its realized P&L.
// Only the most recent trades are retained.
func (p *PnLTracker) RecordTrade(t ClosedTrade) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.realizedPnL += t.PnL
	p.total++
	if t.PnL > 0 {
		p.wins++
	} else if t.PnL < 0 {
		p.losses++
	}

	p.trades = append(p.trades, t)
	if len(p.trades) > maxTradeHistory {
		p.trades = p.trades[len(p.trades)-maxTradeHistory:]
	}
	return t.PnL
}

// GetRealizedPnL returns total realized P&L in quote currency.
func (p *PnLTracker) GetRealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// GetTrades returns a snapshot of retained trades.
func (p *PnLTracker) GetTrades() []ClosedTrade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]ClosedTrade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// PnLSummary is a point-in-time P&L view.
type PnLSummary struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
}

// GetSummary returns the current P&L summary. unrealized is supplied by the
// caller since only it knows the open position and the mark price.
func (p *PnLTracker) GetSummary(unrealized float64) PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PnLSummary{
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: unrealized,
		TotalPnL:      p.realizedPnL + unrealized,
		TotalTrades:   p.total,
		Wins:          p.wins,
		Losses:        p.losses,
	}
}
