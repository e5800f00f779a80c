package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable machine-readable tag returned to clients.
type ErrorKind string

const (
	ErrValidation         ErrorKind = "validation_error"
	ErrAuth               ErrorKind = "auth_error"
	ErrForbidden          ErrorKind = "forbidden"
	ErrNotFound           ErrorKind = "not_found"
	ErrConflict           ErrorKind = "conflict"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrInternal           ErrorKind = "internal_error"
	ErrServiceUnavailable ErrorKind = "service_unavailable"
)

// APIError carries the error taxonomy through service layers. Handlers
// translate it to an HTTP status exactly once, at the edge.
type APIError struct {
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
	// Fields carries field-level validation errors (e.g. password rules)
	Fields []string `json:"errors,omitempty"`
	// RetryAfter is set on rate-limit errors, in seconds
	RetryAfter int   `json:"retryAfter,omitempty"`
	Cause      error `json:"-"`
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Status maps the error kind to an HTTP status code.
func (e *APIError) Status() int {
	switch e.Kind {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrAuth:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func NewValidationError(message string, fields ...string) *APIError {
	return &APIError{Kind: ErrValidation, Message: message, Fields: fields}
}

func NewAuthError(message string) *APIError {
	return &APIError{Kind: ErrAuth, Message: message}
}

func NewForbiddenError(message string) *APIError {
	return &APIError{Kind: ErrForbidden, Message: message}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{Kind: ErrNotFound, Message: message}
}

func NewConflictError(message string) *APIError {
	return &APIError{Kind: ErrConflict, Message: message}
}

func NewRateLimitedError(message string, retryAfter int) *APIError {
	return &APIError{Kind: ErrRateLimited, Message: message, RetryAfter: retryAfter}
}

func NewInternalError(cause error) *APIError {
	return &APIError{Kind: ErrInternal, Message: "Internal server error", Cause: cause}
}

func NewServiceUnavailableError(message string, cause error) *APIError {
	return &APIError{Kind: ErrServiceUnavailable, Message: message, Cause: cause}
}

// AsAPIError extracts an APIError from an error chain, wrapping unknown
// errors as internal.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError(err)
}
