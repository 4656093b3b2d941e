package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// TelegramNotifier sends alerts through the Telegram Bot API sendMessage call.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client

	// MaxRetryAfter caps how long a 429 retry_after is honoured.
	MaxRetryAfter time.Duration
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken:      botToken,
		chatID:        chatID,
		apiBase:       "https://api.telegram.org",
		client:        newHTTPClient(),
		MaxRetryAfter: 5 * time.Second,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{ChatID: t.chatID, Text: formatTelegram(alert), ParseMode: "MarkdownV2"}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	// One retry when Telegram rate-limits us.
	for attempt := 0; ; attempt++ {
		status, body, err := postJSON(ctx, t.client, url, msg)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		if status == http.StatusOK {
			log.Printf("[telegram] sent alert: %s", alert.Title)
			return nil
		}

		var tr telegramResponse
		json.Unmarshal(body, &tr)
		wait := time.Duration(tr.Parameters.RetryAfter) * time.Second
		if status != http.StatusTooManyRequests || attempt > 0 || wait > t.MaxRetryAfter {
			return fmt.Errorf("telegram: status %d: %s", status, tr.Description)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// formatTelegram renders an alert as MarkdownV2: level marker, bold title,
// message, and the trade id in monospace.
func formatTelegram(alert Alert) string {
	marker := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		marker = "⚠️"
	case AlertCritical:
		marker = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", marker, escapeMarkdown(alert.Title))
	if alert.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(escapeMarkdown(alert.Message))
	}
	if alert.TradeID != "" {
		b.WriteString("\n\ntrade `")
		b.WriteString(escapeCode(alert.TradeID))
		b.WriteString("`")
	}
	return b.String()
}

const markdownSpecials = "_*[]()~`>#+-=|{}.!\\"

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeCode escapes the two characters MarkdownV2 reserves inside code spans.
func escapeCode(s string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(s)
}
