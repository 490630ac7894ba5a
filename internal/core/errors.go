package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict matches every StateConflictError.
	ErrStateConflict = errors.New("import state conflict")

	// ErrInvalidInput marks caller mistakes such as a missing project id.
	ErrInvalidInput = errors.New("invalid input")
)

// StateConflictError is returned when an operation is attempted against an
// import that is not in the state the operation requires.
type StateConflictError struct {
	ImportLogID string
	Operation   string
	Current     ImportStatus
	Required    ImportStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("import state conflict: %s requires status %q, import %s is %q",
		e.Operation, e.Required, e.ImportLogID, e.Current)
}

func (e *StateConflictError) Is(target error) bool { return target == ErrStateConflict }

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// requireStatus guards a lifecycle transition.
func requireStatus(log ImportLog, op string, required ImportStatus) error {
	if log.Status == required {
		return nil
	}
	return &StateConflictError{
		ImportLogID: log.ID,
		Operation:   op,
		Current:     log.Status,
		Required:    required,
	}
}
