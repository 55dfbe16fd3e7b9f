package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized      ErrorType = "UNAUTHORIZED"
	ErrorTypeTimeout           ErrorType = "TIMEOUT"
	ErrorTypeLLM               ErrorType = "LLM"
	ErrorTypeExtraction        ErrorType = "EXTRACTION"
	ErrorTypeVectorStore       ErrorType = "VECTOR_STORE_UNAVAILABLE"
	ErrorTypeGraphStore        ErrorType = "GRAPH_STORE_UNAVAILABLE"
	ErrorTypeExecution         ErrorType = "EXECUTION"
	ErrorTypeBlocked           ErrorType = "BLOCKED"
	ErrorTypeInvalidFormat     ErrorType = "INVALID_FORMAT"
	ErrorTypeUniqueViolation   ErrorType = "UNIQUE_VIOLATION"
	ErrorTypeUnsupportedEngine ErrorType = "UNSUPPORTED_ENGINE"
	ErrorTypeInternal          ErrorType = "INTERNAL"
)

// AppError is the custom error type for the application
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

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for different error types

// NewValidation creates a validation error
func NewValidation(message string) error {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFound creates a not found error
func NewNotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewUnauthorized creates an unauthorized error
func NewUnauthorized(message string) error {
	return &AppError{Type: ErrorTypeUnauthorized, Message: message}
}

// NewTimeout creates a timeout error
func NewTimeout(message string, err error) error {
	return &AppError{Type: ErrorTypeTimeout, Message: message, Err: err}
}

// NewLLM creates an error for a failed language-model call
func NewLLM(message string, err error) error {
	return &AppError{Type: ErrorTypeLLM, Message: message, Err: err}
}

// NewExtraction creates an error for a failed schema extraction
func NewExtraction(message string, err error) error {
	return &AppError{Type: ErrorTypeExtraction, Message: message, Err: err}
}

// NewVectorUnavailable creates an error for an unreachable vector store
func NewVectorUnavailable(message string, err error) error {
	return &AppError{Type: ErrorTypeVectorStore, Message: message, Err: err}
}

// NewGraphUnavailable creates an error for an unreachable graph store
func NewGraphUnavailable(message string, err error) error {
	return &AppError{Type: ErrorTypeGraphStore, Message: message, Err: err}
}

// NewExecution creates an error for a failed query execution
func NewExecution(message string, err error) error {
	return &AppError{Type: ErrorTypeExecution, Message: message, Err: err}
}

// NewBlocked creates an error for a query rejected by the sanitizer.
// The message is the human-readable rejection reason.
func NewBlocked(reason string) error {
	return &AppError{Type: ErrorTypeBlocked, Message: reason}
}

// NewInvalidFormat creates an error for a malformed document-engine query
func NewInvalidFormat(message string) error {
	return &AppError{Type: ErrorTypeInvalidFormat, Message: message}
}

// NewUniqueViolation creates an error for a duplicate registration
func NewUniqueViolation(message string) error {
	return &AppError{Type: ErrorTypeUniqueViolation, Message: message}
}

// NewUnsupportedEngine creates an error for an unknown engine kind
func NewUnsupportedEngine(message string) error {
	return &AppError{Type: ErrorTypeUnsupportedEngine, Message: message}
}

// NewInternal creates an internal error
func NewInternal(message string, err error) error {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve the type
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the error category, or ErrorTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// MessageOf returns the human-readable message without the type prefix, or
// the plain error text for non-application errors.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func is(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// Type checking functions

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool { return is(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return is(err, ErrorTypeNotFound) }

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool { return is(err, ErrorTypeTimeout) }

// IsLLM checks if an error came from the language model
func IsLLM(err error) bool { return is(err, ErrorTypeLLM) }

// IsBlocked checks if an error is a sanitizer rejection
func IsBlocked(err error) bool { return is(err, ErrorTypeBlocked) }

// IsExecution checks if an error is an engine execution failure
func IsExecution(err error) bool { return is(err, ErrorTypeExecution) }

// IsVectorUnavailable checks if the vector store was unreachable
func IsVectorUnavailable(err error) bool { return is(err, ErrorTypeVectorStore) }

// IsGraphUnavailable checks if the graph store was unreachable
func IsGraphUnavailable(err error) bool { return is(err, ErrorTypeGraphStore) }

// IsUniqueViolation checks if an error is a duplicate registration
func IsUniqueViolation(err error) bool { return is(err, ErrorTypeUniqueViolation) }

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool { return is(err, ErrorTypeInternal) }
