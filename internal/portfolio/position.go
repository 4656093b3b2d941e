// Package portfolio owns the single position the bot may hold and the
// state machine that moves it between Flat and Open.
package portfolio

import (
	"fmt"
	"strings"
	"time"

	"trading-botv1/internal/model"
)

// TrailBasis selects what the trailing offset percentage is applied to.
type TrailBasis string

const (
	// TrailBasisEntry computes the offset from the entry price. The
	// distance between price and stop is constant for the life of a trade.
	TrailBasisEntry TrailBasis = "entry"
	// TrailBasisPrice computes the offset from the current tick price.
	TrailBasisPrice TrailBasis = "price"
)

// ParseTrailBasis accepts "entry" or "price" (case-insensitive).
func ParseTrailBasis(s string) (TrailBasis, error) {
	switch TrailBasis(strings.ToLower(strings.TrimSpace(s))) {
	case TrailBasisEntry, "":
		return TrailBasisEntry, nil
	case TrailBasisPrice:
		return TrailBasisPrice, nil
	default:
		return "", fmt.Errorf("unknown trail basis %q", s)
	}
}

// Position is the open trade. There is at most one.
type Position struct {
	TradeID    string     `json:"trade_id"`
	Symbol     string     `json:"symbol"`
	Side       model.Side `json:"side"`
	Qty        float64    `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	OpenedAt   time.Time  `json:"opened_at"`

	TrailingActive  bool `json:"trailing_active"`
	BreakevenActive bool `json:"breakeven_active"`

	// ExitPending is set once exit retries are exhausted. Every later tick
	// retries the exit before anything else.
	ExitPending bool   `json:"exit_pending"`
	ExitReason  string `json:"exit_reason,omitempty"`
}

// Unrealized returns the open PnL at the given mark price.
func (p Position) Unrealized(mark float64) float64 {
	return realized(p.Side, p.EntryPrice, mark, p.Qty)
}

func realized(side model.Side, entry, exit, qty float64) float64 {
	if side == model.SideSell {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}
