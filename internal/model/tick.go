package model

import "time"

// Tick is a single live mark-price observation for a symbol.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"` // exchange event time, or receive time when absent
}
