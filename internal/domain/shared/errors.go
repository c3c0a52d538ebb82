// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockNotAcquired        = errors.New("lock not acquired")

	// External collaborator errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "achievement"
	Op      string // Operation that failed, e.g., "Award", "Evaluate"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// StoreError wraps a collaborator failure as ErrStoreUnavailable.
// Errors that already carry a domain kind (not found, validation, conflict) pass through.
func StoreError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsValidation(err) ||
		errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConcurrentModification) {
		return err
	}
	return WrapError(domain, op, ErrStoreUnavailable, "store call failed", err)
}

// Progression domain errors
var (
	ErrUserNotFound      = NewDomainError("progression", "Find", ErrNotFound, "user progress not found")
	ErrNonPositiveAmount = NewDomainError("progression", "Award", ErrInvalidInput, "xp amount must be positive")
	ErrInvalidRPE        = NewDomainError("progression", "Validate", ErrValueOutOfRange, "rpe must be between 1 and 10")
	ErrNegativeDuration  = NewDomainError("progression", "Validate", ErrNegativeValue, "duration cannot be negative")
	ErrEmptyUserID       = NewDomainError("progression", "Validate", ErrInvalidID, "user id is required")
	ErrInvalidTable      = NewDomainError("progression", "NewTable", ErrInvalidInput, "invalid progression table")
)

// Achievement domain errors
var (
	ErrAchievementNotFound = NewDomainError("achievement", "Lookup", ErrNotFound, "achievement not found")
	ErrInvalidCatalog      = NewDomainError("achievement", "Validate", ErrInvalidInput, "invalid achievement catalog")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsStoreUnavailable checks if the error came from a consumed collaborator.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the whole operation can be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockNotAcquired)
}
