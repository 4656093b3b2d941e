// Package marketdata keeps the rolling candle buffer fresh and turns mark
// price observations into ticks for the risk manager.
package marketdata

import (
	"context"
	"errors"
	"fmt"

	"trading-botv1/internal/model"
)

// ErrDataUnavailable reports that candles or a price could not be obtained.
var ErrDataUnavailable = errors.New("market data unavailable")

// Source is a provider of candles and mark prices.
type Source interface {
	// FetchCandles returns up to limit candles, oldest first. The last
	// candle may still be forming.
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	// FetchMarkPrice returns the current mark price.
	FetchMarkPrice(ctx context.Context, symbol string) (float64, error)
}

// TickHandler consumes one price observation.
type TickHandler func(model.Tick)

// unavailable wraps err with ErrDataUnavailable unless it already is one.
func unavailable(op string, err error) error {
	if errors.Is(err, ErrDataUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrDataUnavailable, err)
}
