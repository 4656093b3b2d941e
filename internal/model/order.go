package model

import (
	"fmt"
	"time"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType is the execution type requested from the gateway.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderAck is the gateway's confirmation of an accepted order.
type OrderAck struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Type     OrderType `json:"type"`
	Qty      float64   `json:"qty"`
	AvgPrice float64   `json:"avg_price"` // 0 when the venue does not report a fill price
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

// TradeProposal is a candidate entry produced by the signal evaluator.
// It is consumed once by the risk manager and then discarded.
type TradeProposal struct {
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"` // reference price (close of the signal candle)
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// Validate checks that the stop and target straddle the entry on the correct sides.
func (p TradeProposal) Validate() error {
	switch p.Side {
	case SideBuy:
		if p.StopLoss >= p.EntryPrice || p.TakeProfit <= p.EntryPrice {
			return fmt.Errorf("invalid BUY proposal: sl=%.4f entry=%.4f tp=%.4f", p.StopLoss, p.EntryPrice, p.TakeProfit)
		}
	case SideSell:
		if p.StopLoss <= p.EntryPrice || p.TakeProfit >= p.EntryPrice {
			return fmt.Errorf("invalid SELL proposal: sl=%.4f entry=%.4f tp=%.4f", p.StopLoss, p.EntryPrice, p.TakeProfit)
		}
	default:
		return fmt.Errorf("invalid proposal side %q", p.Side)
	}
	return nil
}
