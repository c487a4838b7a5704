// Package domain contains the core business entities for hostbot.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken indicates another user already holds the email address.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUserBanned indicates the user is banned.
	ErrUserBanned = errors.New("user is banned")

	// ===========================================
	// Hosting Account Errors
	// ===========================================

	// ErrAccountNotFound indicates the requested hosting account does not exist.
	ErrAccountNotFound = errors.New("hosting account not found")

	// ErrAccountAlreadyExists indicates an account with the same remote id exists.
	ErrAccountAlreadyExists = errors.New("hosting account already exists")

	// ErrInvalidAccountStatus indicates an unknown account status value.
	ErrInvalidAccountStatus = errors.New("invalid hosting account status")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., user id, remote id).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
