package pattern

import "github.com/hearthd/hearth/internal/memory"

// The detector reuses the engine-wide error taxonomy.
var (
	errNotFound     = memory.ErrNotFound
	errCorruptState = memory.ErrCorruptState
)
