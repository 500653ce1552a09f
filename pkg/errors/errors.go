package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// ErrCodeNotAuthenticated means no candidate credential source yielded
	// a usable token. Fatal to any connect or request attempt.
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"

	// ErrCodeConnectionUnavailable means a publish/subscribe was attempted
	// with no open handle. Logged and dropped, never retried automatically.
	ErrCodeConnectionUnavailable ErrorCode = "CONNECTION_UNAVAILABLE"

	// ErrCodeRequestFailed covers non-2xx responses and transport-level
	// failures on request/response calls. Retryable at the caller's discretion.
	ErrCodeRequestFailed ErrorCode = "REQUEST_FAILED"

	// ErrCodeRateLimited is the notification poller's backoff trigger.
	// Recovered locally by waiting, never surfaced as a hard error.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeSessionState means a call-session operation was attempted from
	// an invalid state. Rejected locally without a network call.
	ErrCodeSessionState ErrorCode = "SESSION_STATE"

	// ErrCodeMediaAccessDenied is local-only: camera/microphone capture was
	// refused. Moves the session to errored but does not end signaling.
	ErrCodeMediaAccessDenied ErrorCode = "MEDIA_ACCESS_DENIED"

	// ErrCodeInvalidInput covers locally rejected arguments (malformed
	// conference links, bad pagination values).
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// AppError represents a structured application error with code, message,
// and the HTTP-equivalent status when one is available.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NotAuthenticatedError means no credential source resolved
func NotAuthenticatedError() *AppError {
	return &AppError{
		Code:       ErrCodeNotAuthenticated,
		Message:    "no usable credential found, please sign in",
		StatusCode: http.StatusUnauthorized,
	}
}

// ConnectionUnavailableError means no push-transport handle is open
func ConnectionUnavailableError(operation string) *AppError {
	return &AppError{
		Code:       ErrCodeConnectionUnavailable,
		Message:    fmt.Sprintf("no open connection for %s", operation),
		StatusCode: http.StatusServiceUnavailable,
	}
}

// RequestFailedError carries the HTTP status of a failed request/response call
func RequestFailedError(statusCode int, message string, err error) *AppError {
	if statusCode == 0 {
		statusCode = http.StatusBadGateway
	}
	return &AppError{
		Code:       ErrCodeRequestFailed,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// RateLimitedError signals a 429 from the server
func RateLimitedError() *AppError {
	return &AppError{
		Code:       ErrCodeRateLimited,
		Message:    "rate limit exceeded",
		StatusCode: http.StatusTooManyRequests,
	}
}

// SessionStateError means a call-session transition was attempted from an
// invalid state; no request is issued for these.
func SessionStateError(message string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionState,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// MediaAccessDeniedError wraps a local media-capture refusal
func MediaAccessDeniedError(err error) *AppError {
	return &AppError{
		Code:       ErrCodeMediaAccessDenied,
		Message:    "camera or microphone access denied",
		StatusCode: http.StatusForbidden,
		Err:        err,
	}
}

// InvalidInputError covers locally rejected arguments
func InvalidInputError(message string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidInput,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// IsCode reports whether err is an AppError carrying the given code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts AppError from an error, wrapping everything else
// as a generic request failure
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return RequestFailedError(0, err.Error(), err)
}
