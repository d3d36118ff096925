package memory

import (
	"math"
	"time"
)

// Status is derived from confidence alone; it is never set independently.
type Status string

const (
	StatusActive    Status = "active"
	StatusFaded     Status = "faded"
	StatusForgotten Status = "forgotten"
)

const week = 7 * 24 * time.Hour

// statusEps absorbs float drift at the fade/forget boundaries so that a
// confidence of exactly 0.3 reads as faded and exactly 0.1 as faded, not
// forgotten.
const statusEps = 1e-9

// Policy holds the confidence lifecycle constants.
type Policy struct {
	DecayPerWeek       float64
	ReinforcementBoost float64
	FadeThreshold      float64
	ForgetThreshold    float64
}

// DefaultPolicy returns the standard lifecycle constants.
func DefaultPolicy() Policy {
	return Policy{
		DecayPerWeek:       0.1,
		ReinforcementBoost: 0.2,
		FadeThreshold:      0.3,
		ForgetThreshold:    0.1,
	}
}

// Clamp forces a confidence value into [0, 1]. Out-of-range writes are
// clamped, never rejected.
func Clamp(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// round snaps confidence to a 1e-9 grid so repeated decay arithmetic
// stays comparable against the thresholds.
func round(c float64) float64 {
	return math.Round(c*1e9) / 1e9
}

// StatusFor maps a confidence value to its lifecycle status. The fade
// boundary is inclusive (0.3 is faded); the forget boundary is exclusive
// (0.1 is still faded).
func (p Policy) StatusFor(c float64) Status {
	switch {
	case c < p.ForgetThreshold-statusEps:
		return StatusForgotten
	case c < p.FadeThreshold+statusEps:
		return StatusFaded
	default:
		return StatusActive
	}
}

// WholeWeeks returns the number of complete weeks between base and now.
// Negative spans count as zero.
func WholeWeeks(base, now time.Time) int {
	if !now.After(base) {
		return 0
	}
	return int(now.Sub(base) / week)
}

// Decayed subtracts DecayPerWeek for each whole elapsed week, floored at 0.
func (p Policy) Decayed(confidence float64, weeks int) float64 {
	if weeks <= 0 {
		return confidence
	}
	return round(Clamp(confidence - p.DecayPerWeek*float64(weeks)))
}

// Reinforced applies the reinforcement boost, ceilinged at 1.
func (p Policy) Reinforced(confidence float64) float64 {
	return round(Clamp(confidence + p.ReinforcementBoost))
}
