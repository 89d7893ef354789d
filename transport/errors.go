package transport

import (
	"errors"
	"fmt"
)

// ErrorType defines the category of a request construction failure
type ErrorType string

const (
	ValidationError  ErrorType = "validation"
	InterceptorError ErrorType = "interceptor"
)

// RequestError is returned when an attempt could not be put on the wire at all.
// It is never caused by the network and retrying it cannot help.
type RequestError struct {
	kind    ErrorType
	message string
	field   string
	wrapped error
}

func (e *RequestError) Error() string {
	switch {
	case e.wrapped != nil:
		return fmt.Sprintf("%s error: %s: %v", e.kind, e.message, e.wrapped)
	case e.field != "":
		return fmt.Sprintf("%s error: %s (field: %s)", e.kind, e.message, e.field)
	default:
		return fmt.Sprintf("%s error: %s", e.kind, e.message)
	}
}

// Type returns the error category
func (e *RequestError) Type() ErrorType {
	return e.kind
}

func (e *RequestError) Unwrap() error {
	return e.wrapped
}

// NewValidationError creates a new validation error
func NewValidationError(message, field string) *RequestError {
	return &RequestError{kind: ValidationError, message: message, field: field}
}

// NewInterceptorError creates a new interceptor error
func NewInterceptorError(message string, wrapped error) *RequestError {
	return &RequestError{kind: InterceptorError, message: message, wrapped: wrapped}
}

// IsErrorType checks if an error is a RequestError of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.kind == errorType
	}
	return false
}
