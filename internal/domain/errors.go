package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorises failures crossing the persistence boundary.
type ErrorKind string

const (
	KindBadRequest   ErrorKind = "BAD_REQUEST"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindForbidden    ErrorKind = "FORBIDDEN"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindConflict     ErrorKind = "CONFLICT"
	KindServerError  ErrorKind = "SERVER_ERROR"
	// KindMalformed marks a response that failed schema validation.
	KindMalformed ErrorKind = "MALFORMED"
	// KindValidation marks input rejected locally before any call was made.
	KindValidation ErrorKind = "VALIDATION"
)

// Error is a classified failure with an optional cause.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a classified error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ErrorFromStatus maps an HTTP status from the backend to an error. The body
// message is kept verbatim so a 400 can be shown to the user as-is.
func ErrorFromStatus(status int, message string) *Error {
	kind := KindServerError
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		kind = KindBadRequest
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusConflict, status == http.StatusMethodNotAllowed:
		kind = KindConflict
	case status >= 500:
		kind = KindServerError
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Status: status, Message: message}
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a failure is transient.
func Retryable(err error) bool {
	return IsKind(err, KindServerError)
}

// IsAuth reports whether err requires the user to re-authenticate or lacks permission.
func IsAuth(err error) bool {
	k := KindOf(err)
	return k == KindUnauthorized || k == KindForbidden
}

// StatusFor maps a kind back to an HTTP status for the reference backend.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	switch KindOf(err) {
	case KindBadRequest, KindValidation, KindMalformed:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
