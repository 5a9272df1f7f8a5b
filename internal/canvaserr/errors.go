// Package canvaserr defines the error taxonomy shared by the canvas engine.
//
//   - StoreError: a store or channel call failed (network, permission). Surfaced to the caller.
//   - ValidationError: a command parameter is out of bounds or malformed. Consumed by the
//     command interpreter's repair ladder, reported only when repair is exhausted.
//   - Conflict: a lock held by someone else, a selector that matched nothing, a cap that was hit.
//     Reported as a readable message, never treated as fatal.
package canvaserr

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store wraps err as a StoreError for op. A nil err stays nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func Invalid(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

type Conflict struct {
	Message string
}

func (e *Conflict) Error() string { return e.Message }

func Conflictf(format string, args ...any) *Conflict {
	return &Conflict{Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is, or wraps, a Conflict.
func IsConflict(err error) bool {
	var c *Conflict
	return errors.As(err, &c)
}

// IsStore reports whether err is, or wraps, a StoreError.
func IsStore(err error) bool {
	var s *StoreError
	return errors.As(err, &s)
}
