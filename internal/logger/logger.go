// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and provides
// trade ID propagation through context.Context so that an entry, its stop
// updates and its exit can be correlated in the logs.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const tradeIDKey ctxKey = "trade_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTradeID stores a trade ID in the context for downstream propagation.
func WithTradeID(ctx context.Context, tradeID string) context.Context {
	return context.WithValue(ctx, tradeIDKey, tradeID)
}

// TradeID extracts the trade ID from context. Returns "" if not set.
func TradeID(ctx context.Context) string {
	if v, ok := ctx.Value(tradeIDKey).(string); ok {
		return v
	}
	return ""
}

// NewTradeID creates a trade ID from a symbol and the entry timestamp.
// Format: "{symbol}-{unixNano}".
func NewTradeID(symbol string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", symbol, ts.UnixNano())
}

// TradeAttrs returns slog attributes including the trade ID from context.
// Usage: log.Info("msg", logger.TradeAttrs(ctx)...)
func TradeAttrs(ctx context.Context) []any {
	tid := TradeID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trade_id", tid)}
}
