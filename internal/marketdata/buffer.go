package marketdata

import (
	"sync"
	"time"

	"trading-botv1/internal/model"
)

// Buffer holds the most recent candles for the traded symbol. A refresh
// replaces the whole window; readers always get a consistent copy.
type Buffer struct {
	mu        sync.RWMutex
	candles   []model.Candle
	updatedAt time.Time
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Replace swaps in a new candle window stamped at.
func (b *Buffer) Replace(candles []model.Candle, at time.Time) {
	cp := make([]model.Candle, len(candles))
	copy(cp, candles)

	b.mu.Lock()
	b.candles = cp
	b.updatedAt = at
	b.mu.Unlock()
}

// Candles returns a copy of the current window, oldest first.
func (b *Buffer) Candles() []model.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp := make([]model.Candle, len(b.candles))
	copy(cp, b.candles)
	return cp
}

// Len returns the number of buffered candles.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles)
}

// UpdatedAt returns when the window was last replaced. Zero if never.
func (b *Buffer) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Age returns how old the window is at now. An empty buffer reports ok=false.
func (b *Buffer) Age(now time.Time) (time.Duration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.candles) == 0 || b.updatedAt.IsZero() {
		return 0, false
	}
	return now.Sub(b.updatedAt), true
}
