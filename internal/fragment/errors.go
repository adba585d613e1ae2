package fragment

import (
	"errors"
	"fmt"
)

// IntegrityError reports a query that references an entity slot that
// cannot be found. It means the cache was mutated inconsistently and is
// not recoverable by the caller.
type IntegrityError struct {
	Path     string
	Fragment string
	ID       string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("fragment cache corrupted: query %q references %q which is missing from fragment %q",
		e.Path, e.ID, e.Fragment)
}

// ShapeError reports collection data that cannot be normalised into
// entity slots. Nothing is written when it is returned.
type ShapeError struct {
	Index  int
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("collection element %d: %s", e.Index, e.Reason)
}

// IsIntegrityError returns true if err is or wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsShapeError returns true if err is or wraps a ShapeError.
func IsShapeError(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}
