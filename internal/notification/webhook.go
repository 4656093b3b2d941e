package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient(), now: time.Now}
}

type webhookPayload struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
	TradeID string     `json:"trade_id,omitempty"`
	TS      string     `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Symbol:  alert.Symbol,
		TradeID: alert.TradeID,
		TS:      w.now().UTC().Format(time.RFC3339Nano),
	}

	status, _, err := postJSON(ctx, w.client, w.url, payload)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", status)
	}

	log.Printf("[webhook] delivered %s alert: %s", alert.Level, alert.Title)
	return nil
}
