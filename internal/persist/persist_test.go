package persist

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/internal/memory"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteThenRead(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	in := doc{Name: "profile", Count: 3}
	require.NoError(t, s.Write(ProfileDoc, in))
	assert.True(t, s.Exists(ProfileDoc))

	var out doc
	require.NoError(t, s.Read(ProfileDoc, &out))
	assert.Equal(t, in, out)
}

func TestReadMissingDocument(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	var out doc
	assert.ErrorIs(t, s.Read(PatternsDoc, &out), fs.ErrNotExist)
	assert.False(t, s.Exists(PatternsDoc))
}

func TestReadCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, UnderstandingDoc), []byte("{not json"), 0o644))

	var out doc
	assert.ErrorIs(t, s.Read(UnderstandingDoc, &out), memory.ErrCorruptState)
}

func TestWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(PeopleDoc, doc{Name: "v1"}))
	require.NoError(t, s.Write(PeopleDoc, doc{Name: "v2"}))

	var out doc
	require.NoError(t, s.Read(PeopleDoc, &out))
	assert.Equal(t, "v2", out.Name)

	// No staging files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, PeopleDoc, entries[0].Name())
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	_, err := NewStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
