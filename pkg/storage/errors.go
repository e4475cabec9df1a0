package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Index lookups for unknown capture IDs.
var ErrNotFound = errors.New("capture not found")

// ErrAmbiguousID is returned when an abbreviated ID matches several
// captures.
var ErrAmbiguousID = errors.New("capture id prefix is ambiguous")

// PersistenceError reports a failed storage operation. It never reaches
// clients; the persister logs and counts it.
type PersistenceError struct {
	// Op is the failed operation: "save", "dump", "index", "load", "remove".
	Op   string
	Path string
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persistence error [op=%s]: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("persistence error [op=%s, path=%s]: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
