package event

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies every rejection produced while checking a raw payload.
	ErrValidation = errors.New("event validation failed")
	// ErrUnknownType indicates the payload named an unregistered event type.
	ErrUnknownType = errors.New("event type is not registered")
	// ErrTypeRequired indicates the payload carried no type.
	ErrTypeRequired = errors.New("event type is required")
)

// ValidationError describes why a raw payload was rejected. It is never
// fatal to a batch: callers skip the payload and continue.
type ValidationError struct {
	Type   Type
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	prefix := "invalid event"
	if e.Type != "" {
		prefix = fmt.Sprintf("invalid %s event", e.Type)
	}
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: field %s: %s", prefix, e.Field, e.Reason)
	case e.Err != nil && e.Reason == "":
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Reason)
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
