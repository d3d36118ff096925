package pattern

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/internal/memory"
)

var t0 = time.Date(2025, 3, 3, 8, 15, 0, 0, time.UTC) // a Monday

func newTestDetector() *Detector {
	n := 0
	return NewDetector(5, 0.6, func() string {
		n++
		return fmt.Sprintf("pat-%04d", n)
	})
}

func weekdayShape(start, end int) Shape {
	return Shape{
		Days:        []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartMinute: start,
		EndMinute:   end,
	}
}

type sinkCall struct {
	key, value, source string
	observations       int
}

type recordingSink struct {
	calls []sinkCall
}

func (r *recordingSink) SetRoutine(key, value, source string, observations int, now time.Time) {
	r.calls = append(r.calls, sinkCall{key, value, source, observations})
}

func TestRecordObservationCreatesThenMatches(t *testing.T) {
	d := newTestDetector()

	p1 := d.RecordObservation("departure", weekdayShape(8*60, 8*60+30), t0)
	assert.Equal(t, 1, p1.ObservationCount)
	assert.False(t, p1.Promoted)

	// Overlapping window on the same day set matches the existing pattern.
	p2 := d.RecordObservation("departure", weekdayShape(8*60+15, 8*60+45), t0.Add(24*time.Hour))
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, 2, p2.ObservationCount)
	assert.Equal(t, t0.Add(24*time.Hour), p2.LastObserved)
	assert.Equal(t, t0, p2.FirstObserved)
	// Window widened to cover both observations.
	assert.Equal(t, 8*60, p2.Shape.StartMinute)
	assert.Equal(t, 8*60+45, p2.Shape.EndMinute)

	// A different kind never matches.
	p3 := d.RecordObservation("arrival", weekdayShape(8*60, 8*60+30), t0)
	assert.NotEqual(t, p1.ID, p3.ID)

	// A disjoint window starts a new pattern.
	p4 := d.RecordObservation("departure", weekdayShape(18*60, 18*60+30), t0)
	assert.NotEqual(t, p1.ID, p4.ID)
	assert.Len(t, d.All(), 3)
}

func TestConfidenceCurveIsMonotoneAndBounded(t *testing.T) {
	d := newTestDetector()
	prev := 0.0
	var p Pattern
	for i := 0; i < 40; i++ {
		p = d.RecordObservation("departure", weekdayShape(8*60, 8*60+30), t0.Add(time.Duration(i)*24*time.Hour))
		assert.Greater(t, p.Confidence, prev)
		assert.LessOrEqual(t, p.Confidence, 1.0)
		prev = p.Confidence
	}
}

func TestFiveObservationsBecomePromotable(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 4; i++ {
		d.RecordObservation("departure", weekdayShape(8*60, 8*60+30), t0.Add(time.Duration(i)*24*time.Hour))
		assert.Empty(t, d.Promotable(), "not promotable before 5 observations")
	}
	p := d.RecordObservation("departure", weekdayShape(8*60, 8*60+30), t0.Add(4*24*time.Hour))
	assert.Greater(t, p.Confidence, 0.6)

	cands := d.Promotable()
	require.Len(t, cands, 1)
	assert.Equal(t, 5, cands[0].ObservationCount)
}

func TestPromoteCreatesRoutineAndIsIdempotent(t *testing.T) {
	d := newTestDetector()
	var p Pattern
	for i := 0; i < 5; i++ {
		p = d.RecordObservation("departure", weekdayShape(8*60, 8*60+30), t0.Add(time.Duration(i)*24*time.Hour))
	}

	sink := &recordingSink{}
	promoted, err := d.Promote(p.ID, sink, t0.Add(5*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, promoted.Promoted)
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "departure_weekdays_0815", sink.calls[0].key)
	assert.Equal(t, "departure around 08:15 on weekdays", sink.calls[0].value)
	assert.Equal(t, 5, sink.calls[0].observations)

	// Re-promoting is a no-op, not an error, and writes nothing.
	again, err := d.Promote(p.ID, sink, t0.Add(6*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, promoted.PromotedAt, again.PromotedAt)
	assert.Len(t, sink.calls, 1)

	// Promotable no longer lists it.
	assert.Empty(t, d.Promotable())
}

func TestPromotedPatternKeepsBookkeepingOnly(t *testing.T) {
	d := newTestDetector()
	var p Pattern
	for i := 0; i < 5; i++ {
		p = d.RecordObservation("departure", weekdayShape(8*60, 8*60+30), t0.Add(time.Duration(i)*24*time.Hour))
	}
	sink := &recordingSink{}
	_, err := d.Promote(p.ID, sink, t0)
	require.NoError(t, err)

	before, _ := d.Get(p.ID)
	after := d.RecordObservation("departure", weekdayShape(8*60-30, 8*60+30), t0.Add(10*24*time.Hour))
	assert.Equal(t, p.ID, after.ID)
	assert.Equal(t, 6, after.ObservationCount)
	assert.True(t, after.Promoted)
	// Shape and description are frozen after promotion.
	assert.Equal(t, before.Shape, after.Shape)
	assert.Equal(t, before.Description, after.Description)
}

func TestPromoteUnknownPattern(t *testing.T) {
	d := newTestDetector()
	_, err := d.Promote("missing", &recordingSink{}, t0)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestDayLabels(t *testing.T) {
	tests := []struct {
		days  []time.Weekday
		label string
	}{
		{[]time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, "weekdays"},
		{[]time.Weekday{time.Saturday, time.Sunday}, "weekends"},
		{[]time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}, "daily"},
		{[]time.Weekday{time.Tuesday, time.Thursday}, "Tue/Thu"},
	}
	for _, tt := range tests {
		s := Shape{Days: tt.days, StartMinute: 0, EndMinute: 60}.Normalize()
		assert.Equal(t, tt.label, s.DayLabel())
	}
}

func TestRestoreRecomputesConfidence(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 5; i++ {
		d.RecordObservation("departure", weekdayShape(8*60, 8*60+30), t0.Add(time.Duration(i)*24*time.Hour))
	}
	exported := d.Export()
	// Tamper with the stored confidence; restore must recompute it.
	exported[0].Confidence = 0.01

	fresh := newTestDetector()
	require.NoError(t, fresh.Restore(exported))
	got, err := fresh.Get(exported[0].ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.713495, got.Confidence, 1e-5)

	err = fresh.Restore([]Pattern{{ID: "x", ObservationCount: 0}})
	assert.ErrorIs(t, err, memory.ErrCorruptState)
}
