// Package strategy decides when to enter. Evaluate is a pure confluence
// predicate over an indicator snapshot; Engine runs it on a schedule and
// hands proposals to the risk manager.
package strategy

import (
	"fmt"
	"strings"

	"trading-botv1/internal/indicator"
	"trading-botv1/internal/model"
)

// wickRatio bounds the rejection wick relative to the body.
const wickRatio = 0.25

// StopAnchor selects how the initial stop is placed.
type StopAnchor string

const (
	// StopAnchorWick places the stop one body beyond the candle extreme.
	StopAnchorWick StopAnchor = "wick"
	// StopAnchorClose places the stop StopMult bodies from the close.
	StopAnchorClose StopAnchor = "close"
)

// ParseStopAnchor accepts "wick" or "close".
func ParseStopAnchor(s string) (StopAnchor, error) {
	switch StopAnchor(strings.ToLower(strings.TrimSpace(s))) {
	case StopAnchorWick, "":
		return StopAnchorWick, nil
	case StopAnchorClose:
		return StopAnchorClose, nil
	}
	return "", fmt.Errorf("unknown stop anchor %q (want wick|close)", s)
}

// Band is an inclusive RSI range.
type Band struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the band.
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Thresholds are the confluence parameters for one symbol.
type Thresholds struct {
	BodyStrengthMult   float64
	VolumeStrengthMult float64
	RSIBuy             Band
	RSISell            Band
	RiskReward         float64
	StopAnchor         StopAnchor
	StopMult           float64 // used with StopAnchorClose
}

// DefaultThresholds returns the stock confluence parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BodyStrengthMult:   1.0,
		VolumeStrengthMult: 1.0,
		RSIBuy:             Band{Min: 40, Max: 70},
		RSISell:            Band{Min: 30, Max: 60},
		RiskReward:         2.0,
		StopAnchor:         StopAnchorWick,
		StopMult:           1.0,
	}
}

// Evaluate checks the latest candle for bullish or bearish confluence.
// It returns a proposal and true when one side qualifies. The two sides
// need opposite candle colours, so at most one can match.
func Evaluate(s indicator.Snapshot, th Thresholds) (model.TradeProposal, bool) {
	strong := s.Body > s.AvgBody*th.BodyStrengthMult &&
		s.Volume > s.AvgVolume*th.VolumeStrengthMult
	if !strong {
		return model.TradeProposal{}, false
	}

	switch {
	case s.Close > s.Open &&
		s.UpperWick < s.Body*wickRatio &&
		th.RSIBuy.Contains(s.RSI) &&
		s.Close > s.EMA:
		return model.TradeProposal{
			Side:       model.SideBuy,
			EntryPrice: s.Close,
			StopLoss:   stopFor(model.SideBuy, s, th),
			TakeProfit: s.Close + s.Body*th.RiskReward,
		}, true

	case s.Close < s.Open &&
		s.LowerWick < s.Body*wickRatio &&
		th.RSISell.Contains(s.RSI) &&
		s.Close < s.EMA:
		return model.TradeProposal{
			Side:       model.SideSell,
			EntryPrice: s.Close,
			StopLoss:   stopFor(model.SideSell, s, th),
			TakeProfit: s.Close - s.Body*th.RiskReward,
		}, true
	}
	return model.TradeProposal{}, false
}

func stopFor(side model.Side, s indicator.Snapshot, th Thresholds) float64 {
	if th.StopAnchor == StopAnchorClose {
		if side == model.SideBuy {
			return s.Close - s.Body*th.StopMult
		}
		return s.Close + s.Body*th.StopMult
	}
	if side == model.SideBuy {
		return s.Low - s.Body
	}
	return s.High + s.Body
}
