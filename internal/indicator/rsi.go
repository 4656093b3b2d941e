package indicator

// RSI returns the Relative Strength Index over the last period price deltas.
//
// Gains and losses are simple averages (not Wilder-smoothed) over the window.
// A window with no losses is maximally overbought and returns 100.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period+1 {
		return 0, insufficient("RSI", len(closes), period+1)
	}

	start := len(closes) - period
	gain, loss := 0.0, 0.0
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}

	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100.0, nil
	}

	rs := avgGain / avgLoss
	rsi := 100.0 - (100.0 / (1.0 + rs))

	// Guard against float noise at the bounds
	if rsi < 0 {
		rsi = 0
	} else if rsi > 100 {
		rsi = 100
	}
	return rsi, nil
}
