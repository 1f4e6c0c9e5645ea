package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced user, quest, or badge does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySpunToday rejects a second daily spin on the same calendar date.
	ErrAlreadySpunToday = errors.New("already spun today")
	// ErrPersistence marks failures of the storage collaborator.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidRule marks malformed badge unlock rules.
	ErrInvalidRule = errors.New("invalid unlock rule")
	// ErrInvalidInput marks caller-supplied identifiers or filters that fail validation.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError for kind/id.
func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// InputError names the rejected field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// InvalidInput builds an InputError for field with a formatted reason.
func InvalidInput(field, format string, args ...any) error {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Persistence wraps err unless it is nil or already a domain error callers must see as-is.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadySpunToday) || errors.Is(err, ErrInvalidInput) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// RuleError is a diagnostic for a badge whose rule could not be evaluated.
type RuleError struct {
	BadgeID BadgeID
	Err     error
}

func (e *RuleError) Error() string { return fmt.Sprintf("badge %s: %v", e.BadgeID, e.Err) }

func (e *RuleError) Unwrap() error { return e.Err }
