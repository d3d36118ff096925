package memory

import "errors"

// Shared error taxonomy for all engine stores. Callers check these with
// errors.Is; every store wraps them with identifying detail.
var (
	// ErrNotFound means an operation referenced an unknown id or key.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateFact means learning was rejected because an equivalent
	// active fact already exists. Callers usually reinforce instead.
	ErrDuplicateFact = errors.New("duplicate fact")

	// ErrPrecondition means an operation was invoked in a state it cannot
	// run in, e.g. consolidating empty stores or passing a non-monotonic now.
	ErrPrecondition = errors.New("precondition failed")

	// ErrCorruptState means a persisted document failed to parse or violates
	// a store invariant. Fatal for that store's load; never auto-repaired.
	ErrCorruptState = errors.New("corrupt state")
)
