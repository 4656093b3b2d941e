package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"trading-botv1/internal/execution"
	"trading-botv1/internal/logger"
	"trading-botv1/internal/model"
)

var (
	// ErrPositionOpen is returned by Accept when a position is already open.
	ErrPositionOpen = errors.New("position already open")
	// ErrHalted is returned by Accept after an invariant violation halted trading.
	ErrHalted = errors.New("trading halted")
)

// Exit and event reasons.
const (
	ReasonStopLoss     = "stop_loss"
	ReasonTakeProfit   = "take_profit"
	ReasonExchangeFlat = "exchange_flat"
)

// EventSink receives every lifecycle event. It is called with the
// position lock held and must not block.
type EventSink func(model.TradeEvent)

// RiskConfig defines how the open position is protected and closed.
type RiskConfig struct {
	Symbol   string
	Quantity float64

	TrailOffsetPct     float64 // percent, 0.5 = 0.5%
	TrailBasis         TrailBasis
	BreakevenBufferPct float64 // percent of entry price

	NativeBrackets bool // also rest stop and take-profit orders on the venue

	// ExitRetries attempts with doubling ExitBackoff run under the manager's
	// lock on the first exit tick. Once the exit is pending each later tick
	// makes a single attempt without sleeping, so the lock is held at most
	// ExitRetries order timeouts plus the backoffs, then one order timeout
	// per tick.
	ExitRetries int
	ExitBackoff time.Duration

	// StrictInvariants panics on an invariant violation instead of halting.
	StrictInvariants bool
}

// DefaultRiskConfig returns the stock protection parameters.
func DefaultRiskConfig(symbol string, qty float64) RiskConfig {
	return RiskConfig{
		Symbol:             symbol,
		Quantity:           qty,
		TrailOffsetPct:     0.5,
		TrailBasis:         TrailBasisEntry,
		BreakevenBufferPct: 0.2,
		ExitRetries:        3,
		ExitBackoff:        500 * time.Millisecond,
	}
}

// TickResult reports what a single tick did to the position.
type TickResult struct {
	Open      bool
	Ratcheted bool
	Breakeven bool
	Exited    bool
	Reason    string
	StopLoss  float64
	PnL       float64
}

// RiskManager owns the single position. Entries, tick evaluation and
// reconciliation all serialize on one mutex, so the check for Flat and the
// transition to Open happen atomically with the entry order.
type RiskManager struct {
	mu  sync.Mutex
	cfg RiskConfig
	gw  execution.Gateway

	pos        *Position // nil when flat
	halted     bool
	haltReason string
	lastPrice  float64

	pnl  *PnLTracker
	sink EventSink
	log  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRiskManager creates a RiskManager that trades through gw.
// sink may be nil.
func NewRiskManager(cfg RiskConfig, gw execution.Gateway, sink EventSink, log *slog.Logger) *RiskManager {
	if cfg.ExitRetries < 1 {
		cfg.ExitRetries = 1
	}
	if cfg.TrailBasis == "" {
		cfg.TrailBasis = TrailBasisEntry
	}
	if sink == nil {
		sink = func(model.TradeEvent) {}
	}
	if log == nil {
		log = slog.Default()
	}
	return &RiskManager{
		cfg:   cfg,
		gw:    gw,
		pnl:   NewPnLTracker(),
		sink:  sink,
		log:   log.With(slog.String("component", "risk"), slog.String("symbol", cfg.Symbol)),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Accept opens a position for the proposal. It returns ErrPositionOpen or
// ErrHalted without touching the gateway when no entry is allowed, and an
// *execution.OrderError when the entry order fails, in which case the
// position stays Flat.
func (rm *RiskManager) Accept(ctx context.Context, p model.TradeProposal) error {
	if err := p.Validate(); err != nil {
		return err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.halted {
		return ErrHalted
	}
	if rm.pos != nil {
		return ErrPositionOpen
	}

	now := rm.now()
	tradeID := logger.NewTradeID(rm.cfg.Symbol, now)
	ctx = logger.WithTradeID(ctx, tradeID)
	log := rm.log.With(logger.TradeAttrs(ctx)...)

	ack, err := rm.gw.SubmitMarketOrder(ctx, rm.cfg.Symbol, p.Side, rm.cfg.Quantity, false)
	if err != nil {
		oerr := execution.NewOrderError("entry", rm.cfg.Symbol, p.Side, err)
		log.Error("entry order failed", slog.String("side", string(p.Side)), slog.String("error", oerr.Error()))
		rm.emit(model.TradeEvent{
			Type: model.EventEntryFailed, TradeID: tradeID, Side: p.Side,
			Price: p.EntryPrice, StopLoss: p.StopLoss, TakeProfit: p.TakeProfit, Err: oerr.Error(),
		})
		return oerr
	}

	entry := p.EntryPrice
	if ack.AvgPrice > 0 {
		entry = ack.AvgPrice
	}
	rm.pos = &Position{
		TradeID:         tradeID,
		Symbol:          rm.cfg.Symbol,
		Side:            p.Side,
		Qty:             rm.cfg.Quantity,
		EntryPrice:      entry,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		OpenedAt:        now,
		TrailingActive:  true,
		BreakevenActive: true,
	}
	log.Info("position opened",
		slog.String("side", string(p.Side)),
		slog.Float64("entry", entry),
		slog.Float64("stop_loss", p.StopLoss),
		slog.Float64("take_profit", p.TakeProfit),
		slog.String("order_id", ack.OrderID),
	)
	rm.emit(rm.positionEvent(model.EventEntry, entry, ""))

	if rm.cfg.NativeBrackets {
		rm.placeBrackets(ctx, log)
	}
	return nil
}

// placeBrackets rests the stop and target on the venue. Failures are
// reported but leave the position Open under software protection.
func (rm *RiskManager) placeBrackets(ctx context.Context, log *slog.Logger) {
	pos := rm.pos
	bg, ok := rm.gw.(execution.BracketGateway)
	if !ok {
		log.Warn("native brackets requested but gateway has no bracket support")
		return
	}
	closeSide := pos.Side.Opposite()
	if _, err := bg.SubmitStopOrder(ctx, pos.Symbol, closeSide, pos.Qty, pos.StopLoss, true); err != nil {
		rm.bracketFailed(log, "stop", closeSide, err)
	}
	if _, err := bg.SubmitTakeProfitOrder(ctx, pos.Symbol, closeSide, pos.Qty, pos.TakeProfit, true); err != nil {
		rm.bracketFailed(log, "take_profit", closeSide, err)
	}
}

func (rm *RiskManager) bracketFailed(log *slog.Logger, op string, side model.Side, err error) {
	oerr := execution.NewOrderError(op, rm.cfg.Symbol, side, err)
	log.Error("bracket order failed", slog.String("op", op), slog.String("error", oerr.Error()))
	ev := rm.positionEvent(model.EventBracketFailed, rm.pos.EntryPrice, op)
	ev.Err = oerr.Error()
	rm.emit(ev)
}

// OnTick applies the trailing stop, the breakeven move and the exit check,
// in that order, to the open position. It is a no-op while Flat.
func (rm *RiskManager) OnTick(ctx context.Context, price float64) (TickResult, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.lastPrice = price
	pos := rm.pos
	if pos == nil {
		return TickResult{}, nil
	}
	ctx = logger.WithTradeID(ctx, pos.TradeID)
	res := TickResult{Open: true, StopLoss: pos.StopLoss}

	if pos.ExitPending {
		return rm.exit(ctx, price, pos.ExitReason, res)
	}

	if pos.TrailingActive {
		basis := pos.EntryPrice
		if rm.cfg.TrailBasis == TrailBasisPrice {
			basis = price
		}
		offset := basis * rm.cfg.TrailOffsetPct / 100
		if pos.Side == model.SideBuy {
			if candidate := price - offset; candidate > pos.StopLoss {
				pos.StopLoss = candidate
				res.Ratcheted = true
			}
		} else {
			if candidate := price + offset; candidate < pos.StopLoss {
				pos.StopLoss = candidate
				res.Ratcheted = true
			}
		}
		if res.Ratcheted {
			rm.emit(rm.positionEvent(model.EventStopRatchet, price, ""))
		}
	}

	if pos.BreakevenActive {
		buffer := pos.EntryPrice * rm.cfg.BreakevenBufferPct / 100
		triggered := false
		if pos.Side == model.SideBuy {
			if price >= pos.EntryPrice+buffer {
				pos.StopLoss = math.Max(pos.StopLoss, pos.EntryPrice)
				triggered = true
			}
		} else {
			if price <= pos.EntryPrice-buffer {
				pos.StopLoss = math.Min(pos.StopLoss, pos.EntryPrice)
				triggered = true
			}
		}
		if triggered {
			pos.BreakevenActive = false
			res.Breakeven = true
			rm.emit(rm.positionEvent(model.EventBreakeven, price, ""))
		}
	}
	res.StopLoss = pos.StopLoss

	reason := ""
	if pos.Side == model.SideBuy {
		switch {
		case price <= pos.StopLoss:
			reason = ReasonStopLoss
		case price >= pos.TakeProfit:
			reason = ReasonTakeProfit
		}
	} else {
		switch {
		case price >= pos.StopLoss:
			reason = ReasonStopLoss
		case price <= pos.TakeProfit:
			reason = ReasonTakeProfit
		}
	}
	if reason == "" {
		return res, nil
	}
	return rm.exit(ctx, price, reason, res)
}

// exit submits the closing order with retries. When retries are exhausted
// it checks whether the venue already closed the position, and otherwise
// leaves it Open with ExitPending set. A pending exit gets one attempt per tick.
func (rm *RiskManager) exit(ctx context.Context, price float64, reason string, res TickResult) (TickResult, error) {
	pos := rm.pos
	log := rm.log.With(logger.TradeAttrs(ctx)...)
	closeSide := pos.Side.Opposite()
	backoff := rm.cfg.ExitBackoff
	attempts := rm.cfg.ExitRetries
	if pos.ExitPending {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ack, err := rm.gw.SubmitMarketOrder(ctx, pos.Symbol, closeSide, pos.Qty, true)
		if err == nil {
			fill := price
			if ack.AvgPrice > 0 {
				fill = ack.AvgPrice
			}
			rm.cancelBrackets(ctx, log)
			return rm.close(log, fill, reason, res), nil
		}
		lastErr = err
		log.Warn("exit order failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if attempt < attempts {
			if rm.sleep(ctx, backoff) != nil {
				break
			}
			backoff *= 2
		}
	}

	if pr, ok := rm.gw.(execution.PositionReader); ok {
		amt, err := pr.PositionAmount(ctx, pos.Symbol)
		if err == nil && amt == 0 {
			log.Warn("exit failed but venue reports flat, clearing position")
			rm.cancelBrackets(ctx, log)
			rm.emit(rm.positionEvent(model.EventExchangeFlat, price, reason))
			return rm.close(log, price, ReasonExchangeFlat, res), nil
		}
	}

	oerr := execution.NewOrderError("exit", pos.Symbol, closeSide, lastErr)
	if !pos.ExitPending {
		pos.ExitPending = true
		pos.ExitReason = reason
		log.Error("exit retries exhausted, position left open",
			slog.String("reason", reason),
			slog.String("error", oerr.Error()),
		)
		ev := rm.positionEvent(model.EventExitFailed, price, reason)
		ev.Err = oerr.Error()
		rm.emit(ev)
	} else {
		log.Error("pending exit still failing", slog.String("error", oerr.Error()))
	}
	res.Reason = reason
	return res, oerr
}

func (rm *RiskManager) cancelBrackets(ctx context.Context, log *slog.Logger) {
	if !rm.cfg.NativeBrackets {
		return
	}
	bg, ok := rm.gw.(execution.BracketGateway)
	if !ok {
		return
	}
	if err := bg.CancelOpenOrders(ctx, rm.cfg.Symbol); err != nil {
		log.Warn("cancel bracket orders failed", slog.String("error", err.Error()))
	}
}

// close records the round trip and moves to Flat.
func (rm *RiskManager) close(log *slog.Logger, fill float64, reason string, res TickResult) TickResult {
	pos := rm.pos
	pnl := realized(pos.Side, pos.EntryPrice, fill, pos.Qty)
	rm.pnl.RecordTrade(ClosedTrade{
		TradeID:    pos.TradeID,
		Side:       pos.Side,
		Qty:        pos.Qty,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill,
		PnL:        pnl,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   rm.now(),
	})

	ev := rm.positionEvent(model.EventExit, fill, reason)
	ev.PnL = pnl
	rm.pos = nil
	ev.Open = false
	rm.emit(ev)

	log.Info("position closed",
		slog.String("reason", reason),
		slog.Float64("exit", fill),
		slog.Float64("pnl", pnl),
	)

	res.Open = false
	res.Exited = true
	res.Reason = reason
	res.PnL = pnl
	return res
}

// Reconcile compares the local position with the venue's. A position the
// venue already closed is cleared. A venue position the bot does not know
// about is an invariant violation.
func (rm *RiskManager) Reconcile(ctx context.Context) error {
	pr, ok := rm.gw.(execution.PositionReader)
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.halted {
		return nil
	}

	amt, err := pr.PositionAmount(ctx, rm.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", rm.cfg.Symbol, err)
	}

	switch {
	case rm.pos == nil && amt != 0:
		rm.violate(fmt.Sprintf("venue position %.8f while flat", amt))
	case rm.pos != nil && amt == 0:
		log := rm.log.With(slog.String("trade_id", rm.pos.TradeID))
		log.Warn("venue reports flat, clearing position")
		rm.cancelBrackets(ctx, log)
		rm.emit(rm.positionEvent(model.EventExchangeFlat, rm.lastPrice, ReasonExchangeFlat))
		price := rm.lastPrice
		if price == 0 {
			price = rm.pos.EntryPrice
		}
		rm.close(log, price, ReasonExchangeFlat, TickResult{})
	case rm.pos != nil && (amt > 0) != (rm.pos.Side == model.SideBuy):
		rm.violate(fmt.Sprintf("venue position %.8f opposite to local %s", amt, rm.pos.Side))
	}
	return nil
}

// violate handles a broken position invariant: panic in strict mode,
// otherwise force Flat and refuse further entries.
func (rm *RiskManager) violate(reason string) {
	if rm.cfg.StrictInvariants {
		panic("portfolio: invariant violated: " + reason)
	}
	rm.log.Error("invariant violated, halting", slog.String("reason", reason))
	rm.pos = nil
	rm.halted = true
	rm.haltReason = reason
	rm.emit(model.TradeEvent{Type: model.EventHalted, Reason: reason, Price: rm.lastPrice})
}

func (rm *RiskManager) positionEvent(t model.EventType, price float64, reason string) model.TradeEvent {
	pos := rm.pos
	return model.TradeEvent{
		Type:       t,
		TradeID:    pos.TradeID,
		Side:       pos.Side,
		Price:      price,
		EntryPrice: pos.EntryPrice,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		Reason:     reason,
		Open:       true,
	}
}

func (rm *RiskManager) emit(ev model.TradeEvent) {
	ev.Symbol = rm.cfg.Symbol
	if ev.TS.IsZero() {
		ev.TS = rm.now()
	}
	rm.sink(ev)
}

// Snapshot returns a copy of the open position, if any.
func (rm *RiskManager) Snapshot() (Position, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.pos == nil {
		return Position{}, false
	}
	return *rm.pos, true
}

// IsOpen reports whether a position is open.
func (rm *RiskManager) IsOpen() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.pos != nil
}

// Halted reports whether trading was halted and why.
func (rm *RiskManager) Halted() (bool, string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.halted, rm.haltReason
}

// Summary returns realized P&L plus the open position marked at the last tick.
func (rm *RiskManager) Summary() PnLSummary {
	rm.mu.Lock()
	unrealized := 0.0
	if rm.pos != nil && rm.lastPrice > 0 {
		unrealized = rm.pos.Unrealized(rm.lastPrice)
	}
	rm.mu.Unlock()
	return rm.pnl.GetSummary(unrealized)
}

// Trades returns recently closed trades.
func (rm *RiskManager) Trades() []ClosedTrade {
	return rm.pnl.GetTrades()
}
