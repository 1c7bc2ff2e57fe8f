package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the HTTP status and machine-readable code alongside the
// underlying cause. Handlers map it straight into the error envelope.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Engine taxonomy. "generating" is not in this list on purpose: it is a
// retryable signal (202), not a failure.
func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, "unauthorized", err)
}
func NoSubject(err error) *Error {
	return New(http.StatusBadRequest, "no_subject", err)
}
func NotReady(err error) *Error {
	return New(http.StatusConflict, "not_ready", err)
}
func UsageLimit(err error) *Error {
	return New(http.StatusForbidden, "usage_limit_exceeded", err)
}
func Server(err error) *Error {
	return New(http.StatusInternalServerError, "server_error", err)
}

// From extracts an *Error if err wraps one, else wraps it as server_error.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Server(err)
}
