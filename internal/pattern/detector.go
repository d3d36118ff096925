// Package pattern accumulates recurring sensor observations into
// behavioral pattern candidates and promotes qualifying ones into fact
// store routines. Promotion is a one-way state machine transition:
// observing -> promotable -> promoted.
package pattern

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Shape describes when a pattern occurs: a set of weekdays and a time
// window in minutes since midnight.
type Shape struct {
	Days        []time.Weekday `json:"days"`
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`
}

// Normalize returns the shape with days sorted and deduplicated and the
// window ordered.
func (s Shape) Normalize() Shape {
	seen := make(map[time.Weekday]bool, len(s.Days))
	days := make([]time.Weekday, 0, len(s.Days))
	for _, d := range s.Days {
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	s.Days = days
	if s.EndMinute < s.StartMinute {
		s.StartMinute, s.EndMinute = s.EndMinute, s.StartMinute
	}
	return s
}

// Compatible reports whether two shapes describe the same recurrence:
// identical day sets with overlapping time windows.
func (s Shape) Compatible(o Shape) bool {
	if len(s.Days) != len(o.Days) {
		return false
	}
	for i := range s.Days {
		if s.Days[i] != o.Days[i] {
			return false
		}
	}
	return s.StartMinute <= o.EndMinute && o.StartMinute <= s.EndMinute
}

// merge widens the window to cover both shapes.
func (s Shape) merge(o Shape) Shape {
	if o.StartMinute < s.StartMinute {
		s.StartMinute = o.StartMinute
	}
	if o.EndMinute > s.EndMinute {
		s.EndMinute = o.EndMinute
	}
	return s
}

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
var weekendDays = []time.Weekday{time.Sunday, time.Saturday}

// DayLabel renders the day set as prose: "weekdays", "weekends", "daily"
// or a joined list of short day names.
func (s Shape) DayLabel() string {
	if equalDays(s.Days, weekdays) {
		return "weekdays"
	}
	if equalDays(s.Days, weekendDays) {
		return "weekends"
	}
	if len(s.Days) == 7 {
		return "daily"
	}
	names := make([]string, len(s.Days))
	for i, d := range s.Days {
		names[i] = d.String()[:3]
	}
	return strings.Join(names, "/")
}

// MidpointClock renders the window midpoint as HH:MM.
func (s Shape) MidpointClock() string {
	mid := (s.StartMinute + s.EndMinute) / 2
	return fmt.Sprintf("%02d:%02d", mid/60, mid%60)
}

func equalDays(a, b []time.Weekday) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Pattern is one behavioral pattern candidate or promoted routine source.
type Pattern struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	Description      string    `json:"description"`
	Confidence       float64   `json:"confidence"`
	ObservationCount int       `json:"observation_count"`
	FirstObserved    time.Time `json:"first_observed"`
	LastObserved     time.Time `json:"last_observed"`
	Promoted         bool      `json:"promoted"`
	PromotedAt       time.Time `json:"promoted_at,omitzero"`
	Shape            Shape     `json:"shape"`
}

// RoutineKey derives the fact store routine key for this pattern.
func (p Pattern) RoutineKey() string {
	label := strings.ToLower(strings.ReplaceAll(p.Shape.DayLabel(), "/", "_"))
	clock := strings.ReplaceAll(p.Shape.MidpointClock(), ":", "")
	return fmt.Sprintf("%s_%s_%s", p.Kind, label, clock)
}

// RoutineSink receives promoted patterns, typically the routines store.
type RoutineSink interface {
	SetRoutine(key, value, source string, observations int, now time.Time)
}

// Detector owns all pattern candidates. Not safe for concurrent use; the
// engine serializes writers.
type Detector struct {
	minObservations int
	minConfidence   float64
	newID           func() string

	patterns []*Pattern
	byID     map[string]*Pattern
}

// NewDetector creates an empty detector with the promotion thresholds.
func NewDetector(minObservations int, minConfidence float64, newID func() string) *Detector {
	return &Detector{
		minObservations: minObservations,
		minConfidence:   minConfidence,
		newID:           newID,
		byID:            make(map[string]*Pattern),
	}
}

// confidenceFor is the saturating growth curve 1 - e^(-n/4): monotone in
// the observation count and bounded in [0, 1]. Five observations land at
// about 0.71, clearing the default promotion threshold.
func confidenceFor(observations int) float64 {
	c := 1 - math.Exp(-float64(observations)/4)
	return math.Round(c*1e9) / 1e9
}

// RecordObservation matches the event against existing patterns of the
// same kind with a compatible shape. A match updates bookkeeping and
// recomputes confidence; otherwise a new observing-state pattern is born.
// Promoted patterns keep accumulating observations but are otherwise
// immutable.
func (d *Detector) RecordObservation(kind string, shape Shape, now time.Time) Pattern {
	shape = shape.Normalize()

	for _, p := range d.patterns {
		if p.Kind != kind || !p.Shape.Compatible(shape) {
			continue
		}
		p.ObservationCount++
		p.LastObserved = now
		p.Confidence = confidenceFor(p.ObservationCount)
		if !p.Promoted {
			p.Shape = p.Shape.merge(shape)
			p.Description = describe(kind, p.Shape)
		}
		return *p
	}

	p := &Pattern{
		ID:               d.newID(),
		Kind:             kind,
		Confidence:       confidenceFor(1),
		ObservationCount: 1,
		FirstObserved:    now,
		LastObserved:     now,
		Shape:            shape,
	}
	p.Description = describe(kind, shape)
	d.patterns = append(d.patterns, p)
	d.byID[p.ID] = p
	return *p
}

func describe(kind string, shape Shape) string {
	return fmt.Sprintf("%s around %s on %s", kind, shape.MidpointClock(), shape.DayLabel())
}

// Promotable returns copies of patterns that qualify for promotion:
// enough observations, confidence above threshold, not yet promoted.
func (d *Detector) Promotable() []Pattern {
	var out []Pattern
	for _, p := range d.patterns {
		if !p.Promoted && p.ObservationCount >= d.minObservations && p.Confidence > d.minConfidence {
			out = append(out, *p)
		}
	}
	return out
}

// Promote transitions a pattern to promoted and writes the derived
// routine into the sink. Promoting an already-promoted pattern is a
// no-op, not an error; patterns never un-promote.
func (d *Detector) Promote(id string, sink RoutineSink, now time.Time) (Pattern, error) {
	p, ok := d.byID[id]
	if !ok {
		return Pattern{}, fmt.Errorf("promote pattern %s: %w", id, errNotFound)
	}
	if p.Promoted {
		return *p, nil
	}
	p.Promoted = true
	p.PromotedAt = now
	sink.SetRoutine(p.RoutineKey(), p.Description, "pattern", p.ObservationCount, now)
	return *p, nil
}

// PromoteAll promotes every currently promotable pattern and returns the
// promoted copies.
func (d *Detector) PromoteAll(sink RoutineSink, now time.Time) []Pattern {
	var promoted []Pattern
	for _, cand := range d.Promotable() {
		p, err := d.Promote(cand.ID, sink, now)
		if err != nil {
			continue
		}
		promoted = append(promoted, p)
	}
	return promoted
}

// Get returns a copy of the pattern with the given id.
func (d *Detector) Get(id string) (Pattern, error) {
	p, ok := d.byID[id]
	if !ok {
		return Pattern{}, fmt.Errorf("pattern %s: %w", id, errNotFound)
	}
	return *p, nil
}

// Promoted returns copies of all promoted patterns.
func (d *Detector) Promoted() []Pattern {
	var out []Pattern
	for _, p := range d.patterns {
		if p.Promoted {
			out = append(out, *p)
		}
	}
	return out
}

// All returns copies of every pattern.
func (d *Detector) All() []Pattern {
	out := make([]Pattern, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, *p)
	}
	return out
}

// Export returns the serializable state of the detector.
func (d *Detector) Export() []Pattern {
	return d.All()
}

// Restore replaces the detector's contents from a persisted document.
// Confidence is recomputed from the observation count so the curve stays
// the single source of truth.
func (d *Detector) Restore(patterns []Pattern) error {
	byID := make(map[string]*Pattern, len(patterns))
	list := make([]*Pattern, 0, len(patterns))
	for i := range patterns {
		p := patterns[i]
		if p.ID == "" {
			return fmt.Errorf("pattern with empty id: %w", errCorruptState)
		}
		if _, dup := byID[p.ID]; dup {
			return fmt.Errorf("duplicate pattern id %s: %w", p.ID, errCorruptState)
		}
		if p.ObservationCount < 1 {
			return fmt.Errorf("pattern %s has observation count %d: %w", p.ID, p.ObservationCount, errCorruptState)
		}
		p.Shape = p.Shape.Normalize()
		p.Confidence = confidenceFor(p.ObservationCount)
		cp := p
		byID[p.ID] = &cp
		list = append(list, &cp)
	}
	d.patterns = list
	d.byID = byID
	return nil
}
