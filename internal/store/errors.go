package store

import "fmt"

// The store converts every persistence-layer failure into one of three error
// kinds before it reaches a rendering surface: a LoadError for failed initial
// fetches, a SaveError for failed mutations, and a ValidationError for input
// rejected before any persistence call is made.

// LoadError reports a failed fetch of the event collection. The collection is
// left empty; callers render an empty grid rather than crashing.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load events: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SaveError reports a failed create/update/reschedule/delete. Any optimistic
// local change has been rolled back by the time a SaveError is returned.
type SaveError struct {
	Op  string
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("%s event: %v", e.Op, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// ValidationError reports input rejected locally, before the backing store
// was contacted. It is surfaced inline on the editing form.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
