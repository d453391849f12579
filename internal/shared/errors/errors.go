package errors

import (
	"errors"
	"fmt"
)

// Error types for the failure classes the collaboration engine distinguishes
type ErrorType string

const (
	// ErrorTypeUserInput covers user-correctable mistakes such as a bad share code.
	ErrorTypeUserInput ErrorType = "USER_INPUT_ERROR"
	// ErrorTypeHost covers host operations (create/update/delete) the host rejected.
	ErrorTypeHost ErrorType = "HOST_OPERATION_ERROR"
	// ErrorTypeStore covers failures talking to the realtime store.
	ErrorTypeStore      ErrorType = "STORE_OPERATION_ERROR"
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeConflict   ErrorType = "CONFLICT_ERROR"
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"
)

// Common application errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")
	ErrNoSession     = errors.New("no store session attached")
	ErrSessionClosed = errors.New("store session closed")
)

// Collaboration-specific errors
var (
	// ErrShareNotFound is the expected, frequent join failure: the entered code does
	// not name a joinable share. Callers surface it as a user-correctable input error.
	ErrShareNotFound = errors.New("share not found or no longer joinable")
	// ErrShareInProgress rejects a re-entrant initiate/join while one is in flight.
	ErrShareInProgress = errors.New("share operation already in progress")
	ErrNotSharing      = errors.New("no active share")
	ErrSchemaNotFound  = errors.New("table schema not found")
	ErrSchemaRefused   = errors.New("host refused schema creation")
	ErrInvalidPath     = errors.New("invalid store path")
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

// NewUserInputError creates an error for user-correctable input
func NewUserInputError(message string) *AppError {
	return NewAppError(ErrorTypeUserInput, message)
}

// NewHostError creates an error for a rejected host operation
func NewHostError(message string) *AppError {
	return NewAppError(ErrorTypeHost, message)
}

// NewStoreError creates an error for a failed store operation
func NewStoreError(message string) *AppError {
	return NewAppError(ErrorTypeStore, message)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message)
}

// Helper functions for common error scenarios

// WrapError wraps an error with context
func WrapError(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// IsUserInput checks if an error is a user input error
func IsUserInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeUserInput
	}
	return errors.Is(err, ErrShareNotFound) || errors.Is(err, ErrInvalidInput)
}

// IsHost checks if an error is a host operation error
func IsHost(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeHost
	}
	return errors.Is(err, ErrSchemaRefused)
}

// IsStore checks if an error is a store operation error
func IsStore(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeStore
	}
	return errors.Is(err, ErrNoSession) || errors.Is(err, ErrSessionClosed)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeNotFound
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrShareNotFound) || errors.Is(err, ErrSchemaNotFound)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeConflict
	}
	return errors.Is(err, ErrShareInProgress)
}
