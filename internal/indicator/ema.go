package indicator

// EMA returns the final Exponential Moving Average of values.
//
// The seed is the simple average of the FIRST period values; every later value
// is folded in with multiplier 2/(period+1). Pass the slice aligned to the
// window you intend: the result depends on where the slice starts.
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, insufficient("EMA", len(values), period)
	}

	multiplier := 2.0 / float64(period+1)

	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	current := sum / float64(period)

	for _, v := range values[period:] {
		current = (v-current)*multiplier + current
	}
	return current, nil
}
