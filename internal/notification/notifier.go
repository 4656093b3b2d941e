// Package notification delivers operator alerts for trade lifecycle events
// to Telegram, webhooks or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"trading-botv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
	TradeID string     `json:"trade_id,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. It is always present so alerts are never silent.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertFromEvent maps a lifecycle event to an alert. Stop ratchets and
// breakeven moves are too frequent to alert on and return false.
func AlertFromEvent(ev model.TradeEvent) (Alert, bool) {
	a := Alert{Symbol: ev.Symbol, TradeID: ev.TradeID}
	switch ev.Type {
	case model.EventEntry:
		a.Level = AlertInfo
		a.Title = fmt.Sprintf("%s %s opened", ev.Symbol, ev.Side)
		a.Message = fmt.Sprintf("entry %.4f stop %.4f target %.4f", ev.EntryPrice, ev.StopLoss, ev.TakeProfit)
	case model.EventExit:
		a.Level = AlertInfo
		a.Title = fmt.Sprintf("%s %s closed (%s)", ev.Symbol, ev.Side, ev.Reason)
		a.Message = fmt.Sprintf("exit %.4f entry %.4f pnl %.4f", ev.Price, ev.EntryPrice, ev.PnL)
	case model.EventEntryFailed:
		a.Level = AlertWarning
		a.Title = fmt.Sprintf("%s entry failed", ev.Symbol)
		a.Message = ev.Err
	case model.EventBracketFailed:
		a.Level = AlertWarning
		a.Title = fmt.Sprintf("%s %s bracket order failed", ev.Symbol, ev.Reason)
		a.Message = ev.Err + "; position still managed locally"
	case model.EventExchangeFlat:
		a.Level = AlertWarning
		a.Title = fmt.Sprintf("%s closed on exchange", ev.Symbol)
		a.Message = "exchange reports no position; local position cleared"
	case model.EventExitFailed:
		a.Level = AlertCritical
		a.Title = fmt.Sprintf("%s EXIT FAILED (%s)", ev.Symbol, ev.Reason)
		a.Message = fmt.Sprintf("position still open at %.4f, retrying every tick: %s", ev.Price, ev.Err)
	case model.EventHalted:
		a.Level = AlertCritical
		a.Title = fmt.Sprintf("%s trading halted", ev.Symbol)
		a.Message = ev.Reason
	default:
		return Alert{}, false
	}
	return a, true
}
