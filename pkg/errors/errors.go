package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates bad or missing mandatory input
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"

	// ErrorTypeTransientBackend indicates a timeout or unavailable reasoning backend
	ErrorTypeTransientBackend ErrorType = "TRANSIENT_BACKEND"

	// ErrorTypeNoBackendAvailable indicates every backend in a fallback chain failed
	ErrorTypeNoBackendAvailable ErrorType = "NO_BACKEND_AVAILABLE"

	// ErrorTypeInvalidConcentration indicates a zero, negative or missing concentration value
	ErrorTypeInvalidConcentration ErrorType = "INVALID_CONCENTRATION"

	// ErrorTypeUnreadableDocument indicates the lab report could not be extracted
	ErrorTypeUnreadableDocument ErrorType = "UNREADABLE_DOCUMENT"

	// ErrorTypeCitationMissing indicates a prescription field has no supporting evidence
	ErrorTypeCitationMissing ErrorType = "CITATION_MISSING"

	// ErrorTypeCancelled indicates the run was cancelled by the caller
	ErrorTypeCancelled ErrorType = "CANCELLED"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// NewTransientBackendError creates an error that the orchestrator may retry
func NewTransientBackendError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeTransientBackend,
		Message: message,
		Err:     err,
	}
}

// NewNoBackendAvailableError creates an error for an exhausted fallback chain
func NewNoBackendAvailableError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeNoBackendAvailable,
		Message: message,
		Err:     err,
	}
}

// NewInvalidConcentrationError creates a data-quality error for trend input
func NewInvalidConcentrationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeInvalidConcentration,
		Message: message,
	}
}

// NewUnreadableDocumentError creates an extraction failure error
func NewUnreadableDocumentError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeUnreadableDocument,
		Message: message,
		Err:     err,
	}
}

// NewCitationMissingError creates an evidence invariant violation
func NewCitationMissingError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeCitationMissing,
		Message: message,
	}
}

// NewCancelledError creates a cancellation error
func NewCancelledError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeCancelled,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the type of the outermost AppError in the chain, or INTERNAL
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// Is reports whether err carries an AppError of the given type
func Is(err error, t ErrorType) bool {
	if err == nil {
		return false
	}
	return TypeOf(err) == t
}

// IsRetryable reports whether err is a transient backend failure
func IsRetryable(err error) bool {
	return Is(err, ErrorTypeTransientBackend)
}
