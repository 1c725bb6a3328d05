// Package errors defines the typed application error shared by the engine
// and its transports.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeAuth       ErrorType = "unauthorized"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
)

// classes maps each error type to its HTTP status and whether a retry of the
// failed operation may succeed.
var classes = map[ErrorType]struct {
	status    int
	retryable bool
}{
	ErrorTypeValidation: {http.StatusBadRequest, false},
	ErrorTypeNotFound:   {http.StatusNotFound, false},
	ErrorTypeConflict:   {http.StatusConflict, false},
	ErrorTypeAuth:       {http.StatusUnauthorized, false},
	ErrorTypeRateLimit:  {http.StatusTooManyRequests, true},
	ErrorTypeInternal:   {http.StatusInternalServerError, true},
	ErrorTypeExternal:   {http.StatusBadGateway, true},
}

// AppError is an error with a machine readable code and a transport status.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func newError(t ErrorType, code, message string) *AppError {
	c := classes[t]
	return &AppError{
		Type:       t,
		Code:       code,
		Message:    message,
		Retryable:  c.retryable,
		StatusCode: c.status,
	}
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails attaches extra fields reported to the client.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func NewValidationError(code, message string) *AppError {
	return newError(ErrorTypeValidation, code, message)
}

// NewNotFoundError reports a missing resource, e.g. NewNotFoundError("auction").
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, "RESOURCE_NOT_FOUND", resource+" not found")
}

func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, "CONFLICT", message)
}

func NewUnauthorizedError(message string) *AppError {
	return newError(ErrorTypeAuth, "UNAUTHORIZED", message)
}

func NewRateLimitError(message string) *AppError {
	return newError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", message)
}

func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// NewExternalError reports a failing downstream such as a database, a queue
// or a notification relay.
func NewExternalError(service, message string) *AppError {
	err := newError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", fmt.Sprintf("%s service error: %s", service, message))
	return err.WithDetails(map[string]interface{}{"service": service})
}

// Wrap annotates err, keeping it reachable through errors.As.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func as(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

func IsType(err error, t ErrorType) bool {
	appErr, ok := as(err)
	return ok && appErr.Type == t
}

// IsRetryable reports whether err is an AppError marked retryable. Plain
// errors are not.
func IsRetryable(err error) bool {
	appErr, ok := as(err)
	return ok && appErr.Retryable
}

// GetStatusCode returns the HTTP status for err, 500 for anything that is not
// an AppError.
func GetStatusCode(err error) int {
	if appErr, ok := as(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
