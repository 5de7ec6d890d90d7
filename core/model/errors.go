package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the coordination engine. Callers compare them with
// errors.Is; every component wraps them with context.
var (
	ErrValidation             = errors.New("validation error")
	ErrResourceUnavailable    = errors.New("resource unavailable")
	ErrConflictUnresolved     = errors.New("conflict unresolved")
	ErrNoRespondersAvailable  = errors.New("no responders available")
	ErrOverload               = errors.New("overload")
	ErrStrategyNotImplemented = errors.New("strategy not implemented")
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrUnauthorized           = errors.New("unauthorized")
)

// Validationf returns an ErrValidation wrapping the formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unavailablef returns an ErrResourceUnavailable wrapping the formatted message.
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResourceUnavailable, fmt.Sprintf(format, args...))
}

// ConflictError is returned when an airspace reservation could not be
// separated from the slots already admitted.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, strings.Join(c.SlotIDs, "/"))
	}
	return fmt.Sprintf("%v: %d conflicts (%s)", ErrConflictUnresolved, len(e.Conflicts), strings.Join(ids, ", "))
}

// Unwrap makes errors.Is(err, ErrConflictUnresolved) work.
func (e *ConflictError) Unwrap() error { return ErrConflictUnresolved }
