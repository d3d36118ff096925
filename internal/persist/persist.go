// Package persist reads and writes the on-disk state documents. Every
// write goes to a temporary file in the same directory and is renamed
// into place, so a crash mid-write leaves the previous document intact.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hearthd/hearth/internal/memory"
)

// Well-known document names under the state directory.
const (
	ProfileDoc       = "profile.json"
	PatternsDoc      = "patterns.json"
	ConversationsDoc = "conversations.json"
	UnderstandingDoc = "understanding.json"
	PeopleDoc        = "people.json"
)

// Store reads and writes named JSON documents under a single directory.
type Store struct {
	dir string
}

// NewStore creates the state directory if needed and returns a store
// rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path of a named document.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Write marshals v and atomically replaces the named document.
func (s *Store) Write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("stage %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("stage %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// Read unmarshals the named document into v. A missing document is
// reported via os.ErrNotExist; a document that exists but does not parse
// is corrupt state.
func (s *Store) Read(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("document %s: %w", name, fs.ErrNotExist)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", name, err, memory.ErrCorruptState)
	}
	return nil
}

// Exists reports whether the named document is present on disk.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}
