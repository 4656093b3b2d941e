package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-botv1/internal/execution"
	"trading-botv1/internal/indicator"
	"trading-botv1/internal/marketdata"
	"trading-botv1/internal/model"
	"trading-botv1/internal/portfolio"
)

type fakeEntrant struct {
	open     bool
	halted   bool
	errs     []error // returned by successive Accept calls, nil once exhausted
	accepted []model.TradeProposal
}

func (f *fakeEntrant) Accept(ctx context.Context, p model.TradeProposal) error {
	f.accepted = append(f.accepted, p)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeEntrant) IsOpen() bool           { return f.open }
func (f *fakeEntrant) Halted() (bool, string) { return f.halted, "" }

var barStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c, v float64) model.Candle {
	return model.Candle{OpenTime: barStart.Add(time.Duration(i) * time.Minute), Open: o, High: h, Low: l, Close: c, Volume: v}
}

// signalCandles ends in a bullish candle that passes every confluence test
// with testParams: RSI 66.7, EMA 101.17, stop 96.9, target 109.
func signalCandles() []model.Candle {
	return []model.Candle{
		bar(0, 100, 101.2, 99.8, 101, 10),
		bar(1, 101, 101.2, 99.8, 100, 10),
		bar(2, 100, 101.2, 99.8, 101, 10),
		bar(3, 101, 101.1, 97.9, 98, 10),
		bar(4, 100, 103.2, 99.9, 103, 30),
	}
}

func testParams() indicator.Params {
	return indicator.Params{RSIPeriod: 3, EMAPeriod: 3, AvgWindow: 3, EMAWindow: indicator.EMAWindowAll}
}

func newTestEngine(candles []model.Candle, risk Entrant, cfg EngineConfig) (*Engine, *marketdata.Buffer) {
	buf := marketdata.NewBuffer()
	at := time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC)
	if candles != nil {
		buf.Replace(candles, at)
	}
	cfg.Params = testParams()
	cfg.Thresholds = DefaultThresholds()
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = time.Minute
	}
	e := NewEngine(cfg, buf, risk, nil)
	e.now = func() time.Time { return at.Add(5 * time.Second) }
	return e, buf
}

func TestEngine_EntersOnSignal(t *testing.T) {
	risk := &fakeEntrant{}
	e, _ := newTestEngine(signalCandles(), risk, EngineConfig{})

	var outcomes []Outcome
	e.OnOutcome = func(o Outcome) { outcomes = append(outcomes, o) }

	out, err := e.Step(context.Background())
	if err != nil || out != OutcomeEntered {
		t.Fatalf("Step = %v, %v", out, err)
	}
	if len(risk.accepted) != 1 {
		t.Fatalf("expected one proposal, got %d", len(risk.accepted))
	}
	p := risk.accepted[0]
	if p.Side != model.SideBuy || p.EntryPrice != 103 {
		t.Errorf("unexpected proposal: %+v", p)
	}
	if d := p.StopLoss - 96.9; d > 1e-9 || d < -1e-9 {
		t.Errorf("stop = %v, want 96.9", p.StopLoss)
	}
	if p.TakeProfit != 109 {
		t.Errorf("target = %v, want 109", p.TakeProfit)
	}
	if len(outcomes) != 1 || outcomes[0] != OutcomeEntered {
		t.Errorf("hook saw %v", outcomes)
	}
}

func TestEngine_SkipsWhenOpenOrHalted(t *testing.T) {
	risk := &fakeEntrant{open: true}
	e, _ := newTestEngine(signalCandles(), risk, EngineConfig{})
	if out, _ := e.Step(context.Background()); out != OutcomePositionOpen {
		t.Errorf("expected position_open, got %v", out)
	}

	risk = &fakeEntrant{halted: true}
	e, _ = newTestEngine(signalCandles(), risk, EngineConfig{})
	if out, _ := e.Step(context.Background()); out != OutcomeHalted {
		t.Errorf("expected halted, got %v", out)
	}
	if len(risk.accepted) != 0 {
		t.Error("no proposal may be submitted while halted")
	}
}

func TestEngine_StaleBuffer(t *testing.T) {
	risk := &fakeEntrant{}
	e, _ := newTestEngine(nil, risk, EngineConfig{})
	out, err := e.Step(context.Background())
	if out != OutcomeStale || !errors.Is(err, ErrStaleBuffer) {
		t.Fatalf("empty buffer: %v %v", out, err)
	}

	e, _ = newTestEngine(signalCandles(), risk, EngineConfig{StaleAfter: time.Second})
	out, err = e.Step(context.Background())
	if out != OutcomeStale || !errors.Is(err, marketdata.ErrDataUnavailable) {
		t.Fatalf("old buffer: %v %v", out, err)
	}
	if len(risk.accepted) != 0 {
		t.Error("stale data must not produce proposals")
	}
}

func TestEngine_InsufficientData(t *testing.T) {
	risk := &fakeEntrant{}
	e, _ := newTestEngine(signalCandles()[:2], risk, EngineConfig{})
	out, err := e.Step(context.Background())
	if out != OutcomeInsufficient || !errors.Is(err, indicator.ErrInsufficientData) {
		t.Fatalf("Step = %v, %v", out, err)
	}
}

func TestEngine_ClosedOnlyDropsFormingCandle(t *testing.T) {
	candles := append(signalCandles(), bar(5, 103, 103.1, 102.9, 103, 1))

	risk := &fakeEntrant{}
	e, _ := newTestEngine(candles, risk, EngineConfig{})
	if out, _ := e.Step(context.Background()); out != OutcomeNoSignal {
		t.Errorf("forming doji should give no signal, got %v", out)
	}

	e, _ = newTestEngine(candles, risk, EngineConfig{ClosedOnly: true})
	if out, _ := e.Step(context.Background()); out != OutcomeEntered {
		t.Errorf("closed candle should enter, got %v", out)
	}
}

func TestEngine_CandleCadence(t *testing.T) {
	entryErr := &execution.OrderError{Op: "entry", Symbol: "BTCUSDT", Side: model.SideBuy, Err: errors.New("503")}
	risk := &fakeEntrant{errs: []error{entryErr}}
	e, _ := newTestEngine(signalCandles(), risk, EngineConfig{Cadence: CadenceCandle})

	out, err := e.Step(context.Background())
	var oerr *execution.OrderError
	if out != OutcomeEntryFailed || !errors.As(err, &oerr) {
		t.Fatalf("first Step = %v, %v", out, err)
	}

	// Failed entries leave the candle unmarked.
	if out, _ := e.Step(context.Background()); out != OutcomeEntered {
		t.Fatalf("second Step = %v, want entered", out)
	}
	if out, _ := e.Step(context.Background()); out != OutcomeSeen {
		t.Fatalf("third Step = %v, want already_evaluated", out)
	}
	if len(risk.accepted) != 2 {
		t.Errorf("expected 2 Accept calls, got %d", len(risk.accepted))
	}
}

func TestEngine_EveryCadenceReevaluates(t *testing.T) {
	risk := &fakeEntrant{}
	e, _ := newTestEngine(signalCandles(), risk, EngineConfig{Cadence: CadenceEvery})
	e.Step(context.Background())
	e.Step(context.Background())
	if len(risk.accepted) != 2 {
		t.Errorf("expected 2 Accept calls, got %d", len(risk.accepted))
	}
}

func TestEngine_RejectedProposalMarksCandle(t *testing.T) {
	risk := &fakeEntrant{errs: []error{portfolio.ErrPositionOpen}}
	e, _ := newTestEngine(signalCandles(), risk, EngineConfig{Cadence: CadenceCandle})

	if out, err := e.Step(context.Background()); out != OutcomeRejected || !errors.Is(err, portfolio.ErrPositionOpen) {
		t.Fatalf("Step = %v, %v", out, err)
	}
	if out, _ := e.Step(context.Background()); out != OutcomeSeen {
		t.Errorf("rejected candle should not be re-evaluated, got %v", out)
	}
}

func TestParseCadence(t *testing.T) {
	if c, err := ParseCadence("candle"); err != nil || c != CadenceCandle {
		t.Errorf("got %v %v", c, err)
	}
	if c, err := ParseCadence(""); err != nil || c != CadenceEvery {
		t.Errorf("got %v %v", c, err)
	}
	if _, err := ParseCadence("hourly"); err == nil {
		t.Error("expected error")
	}
}
