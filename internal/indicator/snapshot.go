package indicator

import (
	"fmt"
	"time"

	"trading-botv1/internal/model"
)

// EMAWindow selects which closes feed the EMA.
type EMAWindow string

const (
	// EMAWindowAll seeds the EMA from the oldest closes in the buffer and folds in every later close.
	EMAWindowAll EMAWindow = "all"
	// EMAWindowRecent computes the EMA over only the last EMAPeriod closes.
	EMAWindowRecent EMAWindow = "recent"
)

// ParseEMAWindow maps a config string to an EMAWindow.
func ParseEMAWindow(s string) (EMAWindow, error) {
	switch EMAWindow(s) {
	case EMAWindowAll, EMAWindowRecent:
		return EMAWindow(s), nil
	}
	return "", fmt.Errorf("unknown EMA window %q (want all|recent)", s)
}

// Params configures snapshot derivation.
type Params struct {
	RSIPeriod int
	EMAPeriod int
	AvgWindow int // window for average body and average volume
	EMAWindow EMAWindow
}

// DefaultParams mirrors the periods used by the live bot.
func DefaultParams() Params {
	return Params{
		RSIPeriod: 14,
		EMAPeriod: 50,
		AvgWindow: 20,
		EMAWindow: EMAWindowAll,
	}
}

// MinCandles returns the shortest buffer for which every indicator is defined.
func (p Params) MinCandles() int {
	n := p.RSIPeriod + 1
	if p.EMAPeriod > n {
		n = p.EMAPeriod
	}
	if p.AvgWindow > n {
		n = p.AvgWindow
	}
	return n
}

// Snapshot is the indicator view of the latest candle in a buffer.
// It is a pure function of the buffer at one instant and is never persisted.
type Snapshot struct {
	OpenTime  time.Time `json:"open_time"`
	Close     float64   `json:"close"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    float64   `json:"volume"`
	Body      float64   `json:"body"`
	AvgBody   float64   `json:"avg_body"`
	AvgVolume float64   `json:"avg_volume"`
	UpperWick float64   `json:"upper_wick"`
	LowerWick float64   `json:"lower_wick"`
	RSI       float64   `json:"rsi"`
	EMA       float64   `json:"ema"`
}

// BuildSnapshot derives the Snapshot for the last candle of candles (oldest first).
// Any window that cannot be filled yields an error wrapping ErrInsufficientData.
func BuildSnapshot(candles []model.Candle, p Params) (Snapshot, error) {
	if len(candles) == 0 {
		return Snapshot{}, insufficient("snapshot", 0, 1)
	}

	closes := model.Closes(candles)

	avgBody, err := SMA(model.Bodies(candles), p.AvgWindow)
	if err != nil {
		return Snapshot{}, fmt.Errorf("avg body: %w", err)
	}
	avgVolume, err := SMA(model.Volumes(candles), p.AvgWindow)
	if err != nil {
		return Snapshot{}, fmt.Errorf("avg volume: %w", err)
	}
	rsi, err := RSI(closes, p.RSIPeriod)
	if err != nil {
		return Snapshot{}, err
	}

	emaInput := closes
	if p.EMAWindow == EMAWindowRecent && len(closes) > p.EMAPeriod && p.EMAPeriod > 0 {
		emaInput = closes[len(closes)-p.EMAPeriod:]
	}
	ema, err := EMA(emaInput, p.EMAPeriod)
	if err != nil {
		return Snapshot{}, err
	}

	last := candles[len(candles)-1]
	return Snapshot{
		OpenTime:  last.OpenTime,
		Close:     last.Close,
		Open:      last.Open,
		High:      last.High,
		Low:       last.Low,
		Volume:    last.Volume,
		Body:      last.Body(),
		AvgBody:   avgBody,
		AvgVolume: avgVolume,
		UpperWick: last.UpperWick(),
		LowerWick: last.LowerWick(),
		RSI:       rsi,
		EMA:       ema,
	}, nil
}
