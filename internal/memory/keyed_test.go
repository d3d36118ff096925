package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetUpdatesInPlace(t *testing.T) {
	s := NewKeyedStore(DefaultPolicy(), KindPreference)

	s.Set("coffee", "black, no sugar", 0.7, "conversation", t0)
	e := s.Set("coffee", "flat white", 0.8, "conversation", t0.Add(time.Hour))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "flat white", e.Value)
	assert.Equal(t, 0.8, e.Confidence)
	// Original learned time survives an update.
	assert.Equal(t, t0, e.LearnedAt)
	assert.Equal(t, t0.Add(time.Hour), e.DecayBase)
}

func TestKeyedReinforceMatchesFactContract(t *testing.T) {
	s := NewKeyedStore(DefaultPolicy(), KindRoutine)
	s.Set("morning_departure", "leaves around 08:30 on weekdays", 0.6, "door_pattern", t0)

	later := t0.Add(48 * time.Hour)
	e, err := s.Reinforce("morning_departure", later)
	require.NoError(t, err)
	assert.Equal(t, 0.8, e.Confidence)
	assert.Equal(t, 1, e.ReinforcementCount)
	assert.Equal(t, later, e.DecayBase)

	_, err = s.Reinforce("unknown", later)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyedDecayLifecycle(t *testing.T) {
	s := NewKeyedStore(DefaultPolicy(), KindRoutine)
	s.Set("evening_arrival", "arrives around 18:15 on weekdays", 0.7, "door_pattern", t0)

	_, err := s.ApplyDecay(t0.Add(weeks(5)))
	require.NoError(t, err)

	e, err := s.Get("evening_arrival")
	require.NoError(t, err)
	assert.Equal(t, 0.2, e.Confidence)
	assert.Equal(t, StatusFaded, e.Status)
	assert.Empty(t, s.Active())

	// Idempotent for the same now.
	changed, err := s.ApplyDecay(t0.Add(weeks(5)))
	require.NoError(t, err)
	assert.Zero(t, changed)

	_, err = s.ApplyDecay(t0.Add(weeks(4)))
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestKeyedPrune(t *testing.T) {
	s := NewKeyedStore(DefaultPolicy(), KindPreference)
	s.Set("keep", "v", 0.9, "test", t0)
	s.Set("drop", "v", 0.05, "test", t0)

	removed := s.Prune()
	require.Len(t, removed, 1)
	assert.Equal(t, "drop", removed[0].Key)
	assert.Equal(t, 1, s.Len())
}

func TestKeyedRestore(t *testing.T) {
	s := NewKeyedStore(DefaultPolicy(), KindPreference)
	s.Set("coffee", "black", 0.7, "conversation", t0)
	s.SetObserved("lights", "dim after 22:00", 0.8, "observed", 6, t0)

	exported := s.Export()
	fresh := NewKeyedStore(DefaultPolicy(), KindPreference)
	require.NoError(t, fresh.Restore(exported))
	assert.Equal(t, exported, fresh.Export())

	err := fresh.Restore([]Entry{{Key: ""}})
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestStatusBoundaries(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		confidence float64
		status     Status
	}{
		{1.0, StatusActive},
		{0.31, StatusActive},
		{0.3, StatusFaded},  // fade boundary inclusive
		{0.11, StatusFaded},
		{0.1, StatusFaded},  // forget boundary exclusive
		{0.09, StatusForgotten},
		{0.0, StatusForgotten},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, p.StatusFor(tt.confidence), "confidence %v", tt.confidence)
	}
}
