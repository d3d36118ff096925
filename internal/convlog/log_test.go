package convlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/internal/memory"
)

var t0 = time.Date(2025, 3, 3, 20, 0, 0, 0, time.UTC)

func newTestLog() *Log {
	n := 0
	return New(DefaultRetention(), func() string {
		n++
		return fmt.Sprintf("conv-%04d", n)
	})
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestAppendDefaultsToNormal(t *testing.T) {
	l := newTestLog()
	rec, err := l.Append(Record{Summary: "Chatted about the weekend"}, t0)
	require.NoError(t, err)
	assert.Equal(t, "conv-0001", rec.ID)
	assert.Equal(t, Normal, rec.Importance)
	assert.Equal(t, t0, rec.Timestamp)
	assert.Zero(t, rec.ReferencedCount)

	_, err = l.Append(Record{Summary: "x", Importance: "urgent"}, t0)
	assert.ErrorIs(t, err, memory.ErrPrecondition)
}

func TestSweepRetentionMatrix(t *testing.T) {
	tests := []struct {
		importance Importance
		age        time.Duration
		kept       bool
	}{
		{Trivial, days(6), true},
		{Trivial, days(8), false},
		{Normal, days(29), true},
		{Normal, days(31), false},
		{Important, days(89), true},
		{Important, days(91), false},
		{Pinned, days(365 * 5), true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%dh", tt.importance, int(tt.age.Hours())), func(t *testing.T) {
			l := newTestLog()
			rec, err := l.Append(Record{Summary: "s", Importance: tt.importance}, t0)
			require.NoError(t, err)

			removed, err := l.Sweep(t0.Add(tt.age))
			require.NoError(t, err)

			_, getErr := l.Get(rec.ID)
			if tt.kept {
				assert.Zero(t, removed)
				assert.NoError(t, getErr)
			} else {
				assert.Equal(t, 1, removed)
				assert.ErrorIs(t, getErr, memory.ErrNotFound)
			}
		})
	}
}

func TestSweepIgnoresReferenceCount(t *testing.T) {
	l := newTestLog()
	rec, err := l.Append(Record{Summary: "much cited chatter", Importance: Trivial}, t0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		l.MarkReferenced(rec.ID)
	}

	removed, err := l.Sweep(t0.Add(days(8)))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestSweepRejectsNonMonotonicNow(t *testing.T) {
	l := newTestLog()
	_, err := l.Sweep(t0.Add(days(2)))
	require.NoError(t, err)
	_, err = l.Sweep(t0.Add(days(1)))
	assert.ErrorIs(t, err, memory.ErrPrecondition)
}

func TestPinAndUnpinRevert(t *testing.T) {
	l := newTestLog()
	rec, err := l.Append(Record{Summary: "s", Importance: Important}, t0)
	require.NoError(t, err)

	pinned, err := l.Pin(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, Pinned, pinned.Importance)

	// Pinned records survive any age.
	removed, err := l.Sweep(t0.Add(days(400)))
	require.NoError(t, err)
	assert.Zero(t, removed)

	reverted, err := l.Unpin(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, Important, reverted.Importance)

	_, err = l.Pin("missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = l.Unpin("missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestRecentAndByTopic(t *testing.T) {
	l := newTestLog()
	for i := 0; i < 5; i++ {
		_, err := l.Append(Record{
			Summary: fmt.Sprintf("conversation %d", i),
			Topics:  []string{"cooking", fmt.Sprintf("topic-%d", i)},
		}, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	recent := l.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "conversation 4", recent[0].Summary)
	assert.Equal(t, "conversation 2", recent[2].Summary)

	byTopic := l.ByTopic("Cooking")
	assert.Len(t, byTopic, 5)
	assert.Equal(t, "conversation 4", byTopic[0].Summary)
	assert.Len(t, l.ByTopic("topic-1"), 1)

	// Queries alone never bump reference counts.
	for _, r := range l.Recent(5) {
		assert.Zero(t, r.ReferencedCount)
	}

	l.MarkReferenced(recent[0].ID, "unknown-id")
	got, err := l.Get(recent[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReferencedCount)
}

func TestRecentAboveFiltersTrivial(t *testing.T) {
	l := newTestLog()
	_, err := l.Append(Record{Summary: "trivia", Importance: Trivial}, t0)
	require.NoError(t, err)
	_, err = l.Append(Record{Summary: "normal", Importance: Normal}, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = l.Append(Record{Summary: "big", Importance: Important}, t0.Add(2*time.Hour))
	require.NoError(t, err)

	out := l.RecentAbove(Normal, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "big", out[0].Summary)
	assert.Equal(t, "normal", out[1].Summary)
}

func TestRestoreRoundTrip(t *testing.T) {
	l := newTestLog()
	_, err := l.Append(Record{Summary: "s", Topics: []string{"a"}, Mood: "relaxed"}, t0)
	require.NoError(t, err)

	exported := l.Export()
	fresh := newTestLog()
	require.NoError(t, fresh.Restore(exported))
	assert.Equal(t, exported, fresh.Export())

	assert.ErrorIs(t, fresh.Restore([]Record{{ID: ""}}), memory.ErrCorruptState)
	assert.ErrorIs(t, fresh.Restore([]Record{{ID: "x", Importance: "bogus"}}), memory.ErrCorruptState)
}
