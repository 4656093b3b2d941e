package marketdata

import (
	"context"
	"log"
	"time"

	"trading-botv1/internal/model"
)

// Poller polls the mark price over REST and hands each observation to the
// tick handler. It is the fallback for venues or networks without the
// websocket stream.
type Poller struct {
	src     Source
	symbol  string
	every   time.Duration
	handler TickHandler

	// Optional metrics hook for failed polls.
	OnError func(error)
}

// NewPoller creates a mark-price poller.
func NewPoller(src Source, symbol string, every time.Duration, handler TickHandler) *Poller {
	return &Poller{src: src, symbol: symbol, every: every, handler: handler}
}

// Poll fetches one price and delivers it.
func (p *Poller) Poll(ctx context.Context) error {
	price, err := p.src.FetchMarkPrice(ctx, p.symbol)
	if err == nil && price <= 0 {
		err = ErrDataUnavailable
	}
	if err != nil {
		err = unavailable("poll mark price", err)
		if p.OnError != nil {
			p.OnError(err)
		}
		return err
	}
	p.handler(model.Tick{Symbol: p.symbol, Price: price, TS: time.Now()})
	return nil
}

// Run polls every interval until ctx is cancelled. Failed polls are logged
// and skipped.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[poller] %v", err)
			}
		}
	}
}
