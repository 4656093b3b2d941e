// Package indicator provides technical indicator calculations over candle data.
//
// Every function is pure: it reads an ordered series (oldest first) and returns a
// single value, or ErrInsufficientData when the series is shorter than the window.
// Callers treat ErrInsufficientData as "no signal yet" and skip the cycle.
package indicator

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when a series is too short for the requested window.
var ErrInsufficientData = errors.New("insufficient data")

func insufficient(name string, have, need int) error {
	return fmt.Errorf("%s: have %d values, need %d: %w", name, have, need, ErrInsufficientData)
}
