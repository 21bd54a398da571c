// Package apperr defines the pipeline error taxonomy.
//
// Failures are local to the note or observer they occur on: observer faults
// and merge conflicts never propagate past the dispatch they happened in.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrMergeConflict indicates the on-disk file changed underneath the
	// pipeline between dispatch start and persistence. The event is
	// discarded and the path re-queued; the external edit is preserved.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrNotFound indicates a note does not exist in the vault.
	ErrNotFound = errors.New("not found")
)

// ObserverError records a single observer's fault during a dispatch. It is
// surfaced through logs and notifications, never as a dispatch failure.
type ObserverError struct {
	Observer string
	Reason   string
	Timeout  bool
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %s: %s", e.Observer, e.Reason)
}
