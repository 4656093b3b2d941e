package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trading-botv1/internal/model"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       model.Side      `json:"side"`
	Type       model.OrderType `json:"type"`
	Qty        float64         `json:"qty"`
	Price      float64         `json:"price"`    // 0 when no mark price was known
	Slippage   float64         `json:"slippage"` // simulated slippage in price units
	ReduceOnly bool            `json:"reduce_only"`
	FilledAt   time.Time       `json:"filled_at"`
}

// PaperGateway simulates order execution without real exchange calls.
// Market orders fill immediately; bracket orders are acknowledged and parked.
type PaperGateway struct {
	mu       sync.RWMutex
	fills    []Fill
	resting  map[string][]Fill // symbol → acknowledged stop/take-profit orders
	position map[string]float64
	orderSeq int64

	// Simulation parameters
	slippageBps float64 // basis points of slippage (e.g., 5 = 0.05%)
	mark        func() float64
	log         *slog.Logger
}

// NewPaperGateway creates a paper gateway. mark, when non-nil, supplies the
// price used for simulated fills.
func NewPaperGateway(slippageBps float64, mark func() float64, logger *slog.Logger) *PaperGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaperGateway{
		fills:       make([]Fill, 0, 256),
		resting:     make(map[string][]Fill),
		position:    make(map[string]float64),
		slippageBps: slippageBps,
		mark:        mark,
		log:         logger.With(slog.String("component", "paper")),
	}
}

// SubmitMarketOrder fills at the current mark price adjusted for slippage.
func (p *PaperGateway) SubmitMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64, reduceOnly bool) (model.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return model.OrderAck{}, err
	}
	if qty <= 0 {
		return model.OrderAck{}, fmt.Errorf("paper: invalid quantity %v", qty)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	signed := qty
	if side == model.SideSell {
		signed = -qty
	}
	cur := p.position[symbol]
	if reduceOnly && (cur == 0 || (cur > 0) == (signed > 0)) {
		return model.OrderAck{}, fmt.Errorf("paper: reduce-only %s rejected, position %v", side, cur)
	}

	price := 0.0
	if p.mark != nil {
		price = p.mark()
	}
	slippage := 0.0
	if price > 0 && p.slippageBps > 0 {
		slippage = price * p.slippageBps / 10000
		if side == model.SideBuy {
			price += slippage // buy higher
		} else {
			price -= slippage // sell lower
		}
	}

	fill := p.record(symbol, side, model.OrderTypeMarket, qty, price, reduceOnly)
	fill.Slippage = slippage
	p.fills[len(p.fills)-1] = fill

	next := cur + signed
	if reduceOnly && (next > 0) != (cur > 0) {
		next = 0
	}
	p.position[symbol] = next
	if next == 0 {
		// Flat: resting brackets are void
		delete(p.resting, symbol)
	}

	p.log.Info("paper fill",
		slog.String("order_id", fill.OrderID),
		slog.String("side", string(side)),
		slog.Float64("qty", qty),
		slog.Float64("price", price),
		slog.Float64("slippage", slippage),
		slog.Bool("reduce_only", reduceOnly),
	)

	return model.OrderAck{
		OrderID:  fill.OrderID,
		Symbol:   symbol,
		Side:     side,
		Type:     model.OrderTypeMarket,
		Qty:      qty,
		AvgPrice: price,
		Status:   "FILLED",
		At:       fill.FilledAt,
	}, nil
}

// SubmitStopOrder acknowledges a stop-market order without simulating triggers.
func (p *PaperGateway) SubmitStopOrder(ctx context.Context, symbol string, side model.Side, qty, stopPrice float64, reduceOnly bool) (model.OrderAck, error) {
	return p.park(ctx, symbol, side, model.OrderTypeStopMarket, qty, stopPrice, reduceOnly)
}

// SubmitTakeProfitOrder acknowledges a take-profit-market order without simulating triggers.
func (p *PaperGateway) SubmitTakeProfitOrder(ctx context.Context, symbol string, side model.Side, qty, stopPrice float64, reduceOnly bool) (model.OrderAck, error) {
	return p.park(ctx, symbol, side, model.OrderTypeTakeProfitMarket, qty, stopPrice, reduceOnly)
}

// CancelOpenOrders drops all parked bracket orders for symbol.
func (p *PaperGateway) CancelOpenOrders(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.resting, symbol)
	p.mu.Unlock()
	return nil
}

// PositionAmount returns the simulated net position.
func (p *PaperGateway) PositionAmount(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position[symbol], nil
}

// GetFills returns a snapshot of all market fills.
func (p *PaperGateway) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// RestingOrders returns the parked bracket orders for symbol.
func (p *PaperGateway) RestingOrders(symbol string) []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.resting[symbol]))
	copy(cp, p.resting[symbol])
	return cp
}

func (p *PaperGateway) park(ctx context.Context, symbol string, side model.Side, typ model.OrderType, qty, stopPrice float64, reduceOnly bool) (model.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return model.OrderAck{}, err
	}
	if stopPrice <= 0 {
		return model.OrderAck{}, fmt.Errorf("paper: invalid stop price %v", stopPrice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderSeq++
	order := Fill{
		OrderID:    fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Qty:        qty,
		Price:      stopPrice,
		ReduceOnly: reduceOnly,
		FilledAt:   time.Now(),
	}
	p.resting[symbol] = append(p.resting[symbol], order)

	return model.OrderAck{
		OrderID: order.OrderID,
		Symbol:  symbol,
		Side:    side,
		Type:    typ,
		Qty:     qty,
		Status:  "NEW",
		At:      order.FilledAt,
	}, nil
}

// record appends a fill; callers hold p.mu.
func (p *PaperGateway) record(symbol string, side model.Side, typ model.OrderType, qty, price float64, reduceOnly bool) Fill {
	p.orderSeq++
	fill := Fill{
		OrderID:    fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Qty:        qty,
		Price:      price,
		ReduceOnly: reduceOnly,
		FilledAt:   time.Now(),
	}
	p.fills = append(p.fills, fill)
	return fill
}
