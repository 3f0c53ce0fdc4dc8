package model

import (
	"errors"
	"fmt"
)

// Sentinel kinds for errors.Is matching.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service failed")
	ErrPersistence     = errors.New("persistence failed")
)

// ValidationError reports malformed command input. Nothing is written.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown identity.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ConflictReason string

const (
	ConflictAlreadyApproved        ConflictReason = "already_approved"
	ConflictAlreadyRejected        ConflictReason = "already_rejected"
	ConflictRollbackAlreadyPending ConflictReason = "rollback_already_pending"
	ConflictInvalidTransition      ConflictReason = "invalid_transition"
)

// ConflictError reports a command that is well-formed but clashes with current state.
type ConflictError struct {
	Reason  ConflictReason
	Message string
}

func NewConflictError(reason ConflictReason, message string) *ConflictError {
	return &ConflictError{Reason: reason, Message: message}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%s): %s", e.Reason, e.Message)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ExternalServiceError reports a failed or timed-out collaborator call.
type ExternalServiceError struct {
	Service string
	Timeout bool
	Err     error
}

func NewExternalServiceError(service string, timeout bool, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Timeout: timeout, Err: err}
}

func (e *ExternalServiceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// PersistenceError reports a store failure. It must reach the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// IsConflict reports whether err is a ConflictError with the given reason.
func IsConflict(err error, reason ConflictReason) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Reason == reason
}
