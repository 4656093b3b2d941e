package model

import "time"

// Candle is one fixed-interval OHLCV bar for the traded symbol.
// Candles are never mutated after they are stored in a buffer.
type Candle struct {
	OpenTime time.Time `json:"open_time"` // bucket start time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Body returns the absolute open-to-close distance.
func (c *Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// UpperWick returns the distance from the top of the body to the high.
func (c *Candle) UpperWick() float64 {
	return c.High - maxf(c.Open, c.Close)
}

// LowerWick returns the distance from the low to the bottom of the body.
func (c *Candle) LowerWick() float64 {
	return minf(c.Open, c.Close) - c.Low
}

// Closes extracts the close series of candles, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Volumes extracts the volume series of candles, oldest first.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Volume
	}
	return out
}

// Bodies extracts the body-size series of candles, oldest first.
func Bodies(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Body()
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
