// Package clock provides an injectable time source so decay, sweep and
// consolidation stay pure functions of (state, now).
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual is a hand-advanced clock for tests.
type Manual struct {
	t time.Time
}

// NewManual creates a manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{t: t}
}

func (m *Manual) Now() time.Time { return m.t }

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.t = m.t.Add(d)
}

// Set jumps the clock to t.
func (m *Manual) Set(t time.Time) {
	m.t = t
}
