package model

import (
	"encoding/json"
	"time"
)

// EventType classifies a risk-manager lifecycle event.
type EventType string

const (
	EventEntry         EventType = "entry"
	EventEntryFailed   EventType = "entry_failed"
	EventBracketFailed EventType = "bracket_failed"
	EventStopRatchet   EventType = "stop_ratchet"
	EventBreakeven     EventType = "breakeven"
	EventExit          EventType = "exit"
	EventExitFailed    EventType = "exit_failed"
	EventExchangeFlat  EventType = "exchange_flat"
	EventHalted        EventType = "halted"
)

// TradeEvent describes one state change of the single managed position.
type TradeEvent struct {
	Type       EventType `json:"type"`
	Symbol     string    `json:"symbol"`
	TradeID    string    `json:"trade_id,omitempty"`
	Side       Side      `json:"side,omitempty"`
	Price      float64   `json:"price,omitempty"` // tick or reference price that triggered the event
	EntryPrice float64   `json:"entry_price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	PnL        float64   `json:"pnl,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Err        string    `json:"error,omitempty"`
	Open       bool      `json:"open"` // position state after the event
	TS         time.Time `json:"ts"`
}

// JSON returns the JSON-encoded event.
func (e *TradeEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
