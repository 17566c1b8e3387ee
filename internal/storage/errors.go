package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence classifies every PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrSessionNotFound indicates no projection exists for the session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates CreateSession found a live session.
	ErrSessionExists = errors.New("session already exists")
)

// PersistenceError wraps a backend failure. Nothing from the failed
// operation was committed, so the caller may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
