package identity

import (
	"errors"
	"fmt"
)

// Kind classifies identity failures; the HTTP layer maps kinds to status codes.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindReservedName    Kind = "reserved_name"
	KindConflict        Kind = "conflict"
	KindPrecondition    Kind = "precondition"
	KindNotFound        Kind = "not_found"
	KindExternalService Kind = "external_service"
	KindLimitExceeded   Kind = "limit_exceeded"
	KindForbidden       Kind = "forbidden"
)

// Error is a typed identity failure. Two Errors match under errors.Is when their kinds match.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is
var (
	ErrValidation      = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrReservedName    = &Error{Kind: KindReservedName, Message: "reserved name"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrPrecondition    = &Error{Kind: KindPrecondition, Message: "precondition failed"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrExternalService = &Error{Kind: KindExternalService, Message: "external service failure"}
	ErrLimitExceeded   = &Error{Kind: KindLimitExceeded, Message: "limit exceeded"}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "forbidden"}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" when err is not an identity error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether retrying the same call later may succeed
func Retryable(err error) bool {
	return KindOf(err) == KindExternalService
}
