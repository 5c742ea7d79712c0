package hierarchy

import (
	"errors"
	"fmt"

	"github.com/jacentio/arbor/store"
)

var (
	// ErrNotFound is returned when a resource is missing or not reachable
	// through every ancestor on its path.
	ErrNotFound = store.ErrNotFound

	// ErrLengthMismatch is returned when the number of ids doesn't fit the path.
	ErrLengthMismatch = errors.New("arbor: resource id count does not match path depth")

	// ErrCreateFailed is returned when a create transaction was rolled back,
	// typically because the parent is missing or the id is taken.
	ErrCreateFailed = errors.New("arbor: create failed")

	// ErrHasChildren is returned when an orphan-protected delete targets a
	// resource that still has children.
	ErrHasChildren = errors.New("arbor: resource has children")

	// ErrManagedField is returned when a document or update touches a field
	// the coordinator maintains itself.
	ErrManagedField = errors.New("arbor: field is managed by the coordinator")

	// ErrInvalidUpdate is returned when an update is empty or malformed.
	ErrInvalidUpdate = store.ErrInvalidUpdate

	// ErrInvalidPath is returned when a path definition is unusable.
	ErrInvalidPath = errors.New("arbor: invalid resource path")
)

// PathLengthError reports a resource id count that doesn't fit the path.
type PathLengthError struct {
	Op       string
	Path     string
	Expected int
	Actual   int
}

func (e *PathLengthError) Error() string {
	return fmt.Sprintf("%s %s: expected %d resource ids, got %d", e.Op, e.Path, e.Expected, e.Actual)
}

func (e *PathLengthError) Unwrap() error {
	return ErrLengthMismatch
}

// ResourceError carries the operation and resource ids alongside the cause.
type ResourceError struct {
	Op         string
	Collection string
	IDs        []string
	Err        error
}

func (e *ResourceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.Collection, e.IDs, e.Err)
}

func (e *ResourceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
