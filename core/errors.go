package core

import "github.com/pkg/errors"

// Kind classifies the errors the domain services return.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindDeadlinePassed
	KindInvalidCredentials
	KindTokenExpired
	KindTokenInvalid
	KindRefreshRateLimited
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindNotFound:           "not found",
	KindForbidden:          "forbidden",
	KindConflict:           "conflict",
	KindDeadlinePassed:     "deadline has passed",
	KindInvalidCredentials: "invalid credentials",
	KindTokenExpired:       "token expired",
	KindTokenInvalid:       "invalid token",
	KindRefreshRateLimited: "refresh rate limited",
	KindUnavailable:        "service unavailable",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Error is a domain error of a given Kind.
// Two Errors match under errors.Is when their kinds are equal (and messages, when the target has one).
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func NewError(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Unavailable wraps a downstream I/O failure.
func Unavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindUnavailable, cause: errors.Wrap(err, msg)}
}

// ErrUnavailable matches any error of KindUnavailable.
var ErrUnavailable = &Error{Kind: KindUnavailable}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return "validation failed"
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
