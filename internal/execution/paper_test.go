package execution

import (
	"context"
	"errors"
	"math"
	"testing"

	"trading-botv1/internal/model"
)

func TestPaperGateway_FillsWithSlippage(t *testing.T) {
	pg := NewPaperGateway(10, func() float64 { return 100 }, nil) // 10 bps
	ctx := context.Background()

	ack, err := pg.SubmitMarketOrder(ctx, "BTCUSDT", model.SideBuy, 0.5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.OrderID != "PAPER-1" || ack.Status != "FILLED" {
		t.Errorf("unexpected ack: %+v", ack)
	}
	if math.Abs(ack.AvgPrice-100.1) > 1e-9 {
		t.Errorf("expected buy fill at 100.1, got %v", ack.AvgPrice)
	}

	amt, _ := pg.PositionAmount(ctx, "BTCUSDT")
	if amt != 0.5 {
		t.Errorf("expected position 0.5, got %v", amt)
	}

	ack, err = pg.SubmitMarketOrder(ctx, "BTCUSDT", model.SideSell, 0.5, true)
	if err != nil {
		t.Fatalf("unexpected error on close: %v", err)
	}
	if math.Abs(ack.AvgPrice-99.9) > 1e-9 {
		t.Errorf("expected sell fill at 99.9, got %v", ack.AvgPrice)
	}
	amt, _ = pg.PositionAmount(ctx, "BTCUSDT")
	if amt != 0 {
		t.Errorf("expected flat position, got %v", amt)
	}
	if len(pg.GetFills()) != 2 {
		t.Errorf("expected 2 fills, got %d", len(pg.GetFills()))
	}
}

func TestPaperGateway_ReduceOnlyRejectedWhenFlat(t *testing.T) {
	pg := NewPaperGateway(0, nil, nil)
	_, err := pg.SubmitMarketOrder(context.Background(), "BTCUSDT", model.SideSell, 1, true)
	if err == nil {
		t.Fatal("expected reduce-only rejection on flat position")
	}
}

func TestPaperGateway_BracketsClearedOnFlat(t *testing.T) {
	pg := NewPaperGateway(0, func() float64 { return 100 }, nil)
	ctx := context.Background()

	pg.SubmitMarketOrder(ctx, "BTCUSDT", model.SideBuy, 1, false)
	if _, err := pg.SubmitStopOrder(ctx, "BTCUSDT", model.SideSell, 1, 95, true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := pg.SubmitTakeProfitOrder(ctx, "BTCUSDT", model.SideSell, 1, 110, true); err != nil {
		t.Fatalf("take profit: %v", err)
	}
	if n := len(pg.RestingOrders("BTCUSDT")); n != 2 {
		t.Fatalf("expected 2 resting orders, got %d", n)
	}

	pg.SubmitMarketOrder(ctx, "BTCUSDT", model.SideSell, 1, true)
	if n := len(pg.RestingOrders("BTCUSDT")); n != 0 {
		t.Errorf("expected brackets voided on flat, got %d", n)
	}
}

func TestPaperGateway_RespectsCancelledContext(t *testing.T) {
	pg := NewPaperGateway(0, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pg.SubmitMarketOrder(ctx, "BTCUSDT", model.SideBuy, 1, false); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOrderError_Unwrap(t *testing.T) {
	base := errors.New("insufficient margin")
	err := NewOrderError("entry", "BTCUSDT", model.SideBuy, base)

	var oe *OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OrderError, got %T", err)
	}
	if oe.Op != "entry" || !errors.Is(err, base) {
		t.Errorf("unexpected order error: %+v", oe)
	}
	if NewOrderError("exit", "BTCUSDT", model.SideSell, nil) != nil {
		t.Error("expected nil for nil error")
	}
	// Already-typed errors are not double wrapped.
	if again := NewOrderError("exit", "X", model.SideSell, err); again != err {
		t.Error("expected existing OrderError to pass through")
	}
}
