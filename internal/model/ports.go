package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the trading core from concrete storage
// implementations (Redis, SQLite).

// CandleArchive records refreshed candle windows.
type CandleArchive interface {
	// SaveCandles upserts candles keyed by symbol, interval and open time.
	SaveCandles(symbol, interval string, candles []Candle) error

	// LoadCandles returns the newest limit candles, oldest first.
	LoadCandles(symbol, interval string, limit int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// EventPublisher mirrors trade events to an external bus.
// Implementations must not block the caller for long; failures are theirs to absorb.
type EventPublisher interface {
	Publish(ctx context.Context, ev TradeEvent)

	// Close releases underlying resources.
	Close() error
}
