package dispatch

import (
	"errors"
	"fmt"
)

// Error represents a dispatch library error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for dispatch operations.
const (
	// ErrCodeNotFound indicates an id or token does not resolve to a live row.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeValidation indicates a malformed request or candidate.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates a storage operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"

	// ErrCodeTransport indicates the Notifier call failed or timed out.
	ErrCodeTransport = "TRANSPORT_ERROR"
)

// Common errors.
var (
	// ErrNotFound is returned when a lookup matches no live row.
	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "not found",
	}

	// ErrInvalidConfiguration is returned when coordinator configuration is invalid.
	ErrInvalidConfiguration = &Error{
		Code:    ErrCodeConfiguration,
		Message: "invalid coordinator configuration",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// IsNotFound checks if an error carries the NOT_FOUND code anywhere in its chain.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsValidation checks if an error carries the VALIDATION_ERROR code.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

func hasCode(err error, code string) bool {
	for err != nil {
		var dispatchErr *Error
		if !errors.As(err, &dispatchErr) {
			return false
		}
		if dispatchErr.Code == code {
			return true
		}
		err = dispatchErr.Err
	}
	return false
}
