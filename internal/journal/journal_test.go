package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 3, 22, 0, 0, 0, time.UTC)

func TestAppendAndRecent(t *testing.T) {
	j, err := OpenMemory()
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(KindFactLearned, map[string]string{"id": "f1"}, t0))
	require.NoError(t, j.Append(KindDecayPass, nil, t0.Add(time.Hour)))

	events, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, KindDecayPass, events[0].Kind)
	assert.Empty(t, events[0].Detail)
	assert.Equal(t, t0.Add(time.Hour), events[0].Timestamp)

	assert.Equal(t, KindFactLearned, events[1].Kind)
	assert.JSONEq(t, `{"id":"f1"}`, events[1].Detail)
}

func TestRecentHonorsLimit(t *testing.T) {
	j, err := OpenMemory()
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(KindObservation, nil, t0))
	}
	events, err := j.Recent(3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestCountByKind(t *testing.T) {
	j, err := OpenMemory()
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(KindObservation, nil, t0))
	require.NoError(t, j.Append(KindObservation, nil, t0))
	require.NoError(t, j.Append(KindConsolidation, nil, t0))

	counts, err := j.CountByKind()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{KindObservation: 2, KindConsolidation: 1}, counts)
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(KindSweepPass, nil, t0))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	events, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindSweepPass, events[0].Kind)
}
