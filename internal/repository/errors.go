package repository

import (
	"errors"
	"fmt"
)

// PersistenceError wraps a failure from one of the backing stores so
// callers can tell which subsystem misbehaved.
type PersistenceError struct {
	// Subsystem is "metadata" or "analytics".
	Subsystem string
	Op        string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Subsystem, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err is a backing-store failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func metadataErr(op string, err error) error {
	return &PersistenceError{Subsystem: "metadata", Op: op, Err: err}
}

func analyticsErr(op string, err error) error {
	return &PersistenceError{Subsystem: "analytics", Op: op, Err: err}
}
