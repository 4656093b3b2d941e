// Package execution defines the Order Gateway capability the trading core uses
// to place entry, exit and bracket orders, plus a paper-trading implementation.
//
// The core never talks to an exchange directly: it depends on Gateway and, when
// the venue offers them, on the optional BracketGateway and PositionReader.
package execution

import (
	"context"
	"fmt"

	"trading-botv1/internal/model"
)

// Gateway submits market orders.
type Gateway interface {
	// SubmitMarketOrder places a market order. reduceOnly orders may only shrink
	// an existing exchange position.
	SubmitMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64, reduceOnly bool) (model.OrderAck, error)
}

// BracketGateway is implemented by venues with exchange-native stop and
// take-profit orders.
type BracketGateway interface {
	Gateway

	// SubmitStopOrder places a stop-market order that closes the position at stopPrice.
	SubmitStopOrder(ctx context.Context, symbol string, side model.Side, qty, stopPrice float64, reduceOnly bool) (model.OrderAck, error)

	// SubmitTakeProfitOrder places a take-profit-market order at stopPrice.
	SubmitTakeProfitOrder(ctx context.Context, symbol string, side model.Side, qty, stopPrice float64, reduceOnly bool) (model.OrderAck, error)

	// CancelOpenOrders cancels all resting orders for symbol.
	CancelOpenOrders(ctx context.Context, symbol string) error
}

// PositionReader reports the venue's view of the position.
type PositionReader interface {
	// PositionAmount returns the signed position size: positive long, negative short, 0 flat.
	PositionAmount(ctx context.Context, symbol string) (float64, error)
}

// OrderError reports a rejected or unsubmittable order.
type OrderError struct {
	Op     string // "entry", "exit", "stop", "take_profit", "cancel"
	Symbol string
	Side   model.Side
	Err    error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %s %s %s: %v", e.Op, e.Symbol, e.Side, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// NewOrderError wraps err as an OrderError unless it already is one.
func NewOrderError(op, symbol string, side model.Side, err error) error {
	if err == nil {
		return nil
	}
	if oe, ok := err.(*OrderError); ok {
		return oe
	}
	return &OrderError{Op: op, Symbol: symbol, Side: side, Err: err}
}
