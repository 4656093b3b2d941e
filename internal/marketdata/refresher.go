package marketdata

import (
	"context"
	"log"
	"time"

	"trading-botv1/internal/model"
)

// RefresherConfig holds configuration for the candle refresh loop.
type RefresherConfig struct {
	Symbol   string
	Interval string // candle interval, e.g. "1m"
	Limit    int
	Every    time.Duration
}

// Refresher periodically fetches the candle window and replaces the buffer.
// On failure the previous window is kept and ages until StaleAfter.
type Refresher struct {
	cfg     RefresherConfig
	src     Source
	buf     *Buffer
	archive model.CandleArchive // optional

	// Optional metrics hook, called after every attempt.
	OnRefresh func(n int, err error)

	now func() time.Time
}

// NewRefresher creates a refresher. archive may be nil.
func NewRefresher(cfg RefresherConfig, src Source, buf *Buffer, archive model.CandleArchive) *Refresher {
	return &Refresher{
		cfg:     cfg,
		src:     src,
		buf:     buf,
		archive: archive,
		now:     time.Now,
	}
}

// Seed fills an empty buffer from the archive so evaluation can start
// before the first fetch. The seeded window keeps its archive age: it is
// stamped with the open time of its newest candle.
func (r *Refresher) Seed() (int, error) {
	if r.archive == nil || r.buf.Len() > 0 {
		return 0, nil
	}
	candles, err := r.archive.LoadCandles(r.cfg.Symbol, r.cfg.Interval, r.cfg.Limit)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	r.buf.Replace(candles, candles[len(candles)-1].OpenTime)
	return len(candles), nil
}

// Refresh performs one fetch-and-replace.
func (r *Refresher) Refresh(ctx context.Context) error {
	candles, err := r.src.FetchCandles(ctx, r.cfg.Symbol, r.cfg.Interval, r.cfg.Limit)
	if err == nil && len(candles) == 0 {
		err = ErrDataUnavailable
	}
	if err != nil {
		err = unavailable("refresh candles", err)
		if r.OnRefresh != nil {
			r.OnRefresh(0, err)
		}
		return err
	}

	r.buf.Replace(candles, r.now())
	if r.OnRefresh != nil {
		r.OnRefresh(len(candles), nil)
	}

	if r.archive != nil {
		if aerr := r.archive.SaveCandles(r.cfg.Symbol, r.cfg.Interval, candles); aerr != nil {
			log.Printf("[refresher] archive save failed: %v", aerr)
		}
	}
	return nil
}

// Run refreshes immediately, then every cfg.Every until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[refresher] %v", err)
	}

	ticker := time.NewTicker(r.cfg.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[refresher] %v (keeping %d candles)", err, r.buf.Len())
			}
		}
	}
}
