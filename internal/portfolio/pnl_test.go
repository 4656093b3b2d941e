package portfolio

import (
	"testing"

	"trading-botv1/internal/model"
)

func TestPnLTracker_Summary(t *testing.T) {
	p := NewPnLTracker()
	p.RecordTrade(ClosedTrade{TradeID: "a", Side: model.SideBuy, PnL: 5})
	p.RecordTrade(ClosedTrade{TradeID: "b", Side: model.SideSell, PnL: -2})
	p.RecordTrade(ClosedTrade{TradeID: "c", Side: model.SideBuy, PnL: 0})

	s := p.GetSummary(1.5)
	if s.RealizedPnL != 3 || s.UnrealizedPnL != 1.5 || s.TotalPnL != 4.5 {
		t.Errorf("unexpected pnl: %+v", s)
	}
	if s.TotalTrades != 3 || s.Wins != 1 || s.Losses != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
}

func TestPnLTracker_HistoryCapped(t *testing.T) {
	p := NewPnLTracker()
	for i := 0; i < maxTradeHistory+10; i++ {
		p.RecordTrade(ClosedTrade{PnL: 1})
	}
	if got := len(p.GetTrades()); got != maxTradeHistory {
		t.Errorf("retained %d trades, want %d", got, maxTradeHistory)
	}
	if got := p.GetSummary(0).TotalTrades; got != maxTradeHistory+10 {
		t.Errorf("total trades %d should count evicted trades", got)
	}
}

func TestPosition_Unrealized(t *testing.T) {
	long := Position{Side: model.SideBuy, EntryPrice: 100, Qty: 2}
	if got := long.Unrealized(103); got != 6 {
		t.Errorf("long unrealized = %v", got)
	}
	short := Position{Side: model.SideSell, EntryPrice: 100, Qty: 2}
	if got := short.Unrealized(103); got != -6 {
		t.Errorf("short unrealized = %v", got)
	}
}
