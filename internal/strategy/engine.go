package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trading-botv1/internal/execution"
	"trading-botv1/internal/indicator"
	"trading-botv1/internal/marketdata"
	"trading-botv1/internal/model"
	"trading-botv1/internal/portfolio"
)

// ErrStaleBuffer is returned when the candle buffer is empty or too old to
// trade on.
var ErrStaleBuffer = fmt.Errorf("candle buffer stale: %w", marketdata.ErrDataUnavailable)

// Cadence controls how often the same candle may be evaluated.
type Cadence string

const (
	// CadenceEvery evaluates on every cycle.
	CadenceEvery Cadence = "every"
	// CadenceCandle evaluates each candle open time at most once.
	CadenceCandle Cadence = "candle"
)

// ParseCadence accepts "every" or "candle".
func ParseCadence(s string) (Cadence, error) {
	switch Cadence(strings.ToLower(strings.TrimSpace(s))) {
	case CadenceEvery, "":
		return CadenceEvery, nil
	case CadenceCandle:
		return CadenceCandle, nil
	}
	return "", fmt.Errorf("unknown evaluation cadence %q (want every|candle)", s)
}

// Outcome labels the result of one evaluation cycle.
type Outcome string

const (
	OutcomePositionOpen Outcome = "position_open"
	OutcomeHalted       Outcome = "halted"
	OutcomeStale        Outcome = "stale"
	OutcomeInsufficient Outcome = "insufficient_data"
	OutcomeSeen         Outcome = "already_evaluated"
	OutcomeNoSignal     Outcome = "no_signal"
	OutcomeInvalid      Outcome = "invalid_proposal"
	OutcomeEntered      Outcome = "entered"
	OutcomeEntryFailed  Outcome = "entry_failed"
	OutcomeRejected     Outcome = "rejected"
)

// Entrant is the side of the risk manager the entry loop needs.
type Entrant interface {
	Accept(ctx context.Context, p model.TradeProposal) error
	IsOpen() bool
	Halted() (bool, string)
}

var _ Entrant = (*portfolio.RiskManager)(nil)

// EngineConfig holds the entry loop parameters.
type EngineConfig struct {
	Params     indicator.Params
	Thresholds Thresholds
	Cadence    Cadence
	ClosedOnly bool // drop the still-forming last candle
	StaleAfter time.Duration
	Every      time.Duration
}

// Engine periodically evaluates the candle buffer and submits at most one
// proposal per qualifying cycle.
type Engine struct {
	cfg  EngineConfig
	buf  *marketdata.Buffer
	risk Entrant
	log  *slog.Logger

	lastEvaluated time.Time

	// Optional metrics hooks.
	OnOutcome  func(Outcome)
	OnProposal func(model.TradeProposal)

	now func() time.Time
}

// NewEngine creates an entry engine reading buf and entering through risk.
func NewEngine(cfg EngineConfig, buf *marketdata.Buffer, risk Entrant, log *slog.Logger) *Engine {
	if cfg.Cadence == "" {
		cfg.Cadence = CadenceEvery
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:  cfg,
		buf:  buf,
		risk: risk,
		log:  log.With(slog.String("component", "strategy")),
		now:  time.Now,
	}
}

// Step runs one evaluation cycle. The returned error is non-nil for stale
// data, insufficient data and failed entries; none of them is fatal.
func (e *Engine) Step(ctx context.Context) (Outcome, error) {
	outcome, err := e.step(ctx)
	if e.OnOutcome != nil {
		e.OnOutcome(outcome)
	}
	return outcome, err
}

func (e *Engine) step(ctx context.Context) (Outcome, error) {
	if halted, _ := e.risk.Halted(); halted {
		return OutcomeHalted, nil
	}
	if e.risk.IsOpen() {
		return OutcomePositionOpen, nil
	}

	age, ok := e.buf.Age(e.now())
	if !ok || (e.cfg.StaleAfter > 0 && age > e.cfg.StaleAfter) {
		return OutcomeStale, ErrStaleBuffer
	}

	candles := e.buf.Candles()
	if e.cfg.ClosedOnly && len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}
	snap, err := indicator.BuildSnapshot(candles, e.cfg.Params)
	if err != nil {
		return OutcomeInsufficient, err
	}

	if e.cfg.Cadence == CadenceCandle && snap.OpenTime.Equal(e.lastEvaluated) {
		return OutcomeSeen, nil
	}

	proposal, ok := Evaluate(snap, e.cfg.Thresholds)
	if !ok {
		e.lastEvaluated = snap.OpenTime
		return OutcomeNoSignal, nil
	}
	if err := proposal.Validate(); err != nil {
		e.lastEvaluated = snap.OpenTime
		e.log.Warn("skipping invalid proposal", slog.String("error", err.Error()))
		return OutcomeInvalid, nil
	}
	if e.OnProposal != nil {
		e.OnProposal(proposal)
	}

	e.log.Info("confluence signal",
		slog.String("side", string(proposal.Side)),
		slog.Float64("entry", proposal.EntryPrice),
		slog.Float64("stop_loss", proposal.StopLoss),
		slog.Float64("take_profit", proposal.TakeProfit),
		slog.Float64("rsi", snap.RSI),
		slog.Float64("ema", snap.EMA),
		slog.Time("candle", snap.OpenTime),
	)

	err = e.risk.Accept(ctx, proposal)
	var oerr *execution.OrderError
	switch {
	case err == nil:
		e.lastEvaluated = snap.OpenTime
		return OutcomeEntered, nil
	case errors.As(err, &oerr):
		// Left unmarked so the next cycle retries from fresh data.
		return OutcomeEntryFailed, err
	default:
		e.lastEvaluated = snap.OpenTime
		return OutcomeRejected, err
	}
}

// Run evaluates every cfg.Every until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := e.Step(ctx)
			if err == nil || ctx.Err() != nil {
				continue
			}
			switch outcome {
			case OutcomeStale, OutcomeInsufficient:
				e.log.Debug("evaluation skipped", slog.String("outcome", string(outcome)), slog.String("error", err.Error()))
			default:
				e.log.Warn("evaluation failed", slog.String("outcome", string(outcome)), slog.String("error", err.Error()))
			}
		}
	}
}
