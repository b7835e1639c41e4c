package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the store rejected a write, e.g. a duplicate email.
	ErrConflict = errors.New("conflict")
	// ErrUnauthenticated is the single error reported for any session failure.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials is returned when an email/password pair does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Kind names a resource type in error messages.
type Kind string

const (
	KindAccount  Kind = "Account"
	KindBoard    Kind = "Board"
	KindWorkflow Kind = "Workflow"
	KindCard     Kind = "Card"
)

// NotFoundError reports a missing Account, Board or Workflow.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Kind)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a *NotFoundError.
func NotFound(kind Kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds a *ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError carries the kind of record whose creation failed.
type ConflictError struct {
	Kind Kind
	Err  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s creation failed", e.Kind)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
