package types

import (
	"errors"
	"fmt"
)

// Kind classifies why an analysis produced no records
type Kind int

const (
	// KindTransport covers network failures and non-auth upstream errors.
	KindTransport Kind = iota + 1
	// KindAuth means the credential is missing or was rejected.
	KindAuth
	// KindParse means the reply could not be decoded into records.
	KindParse
	// KindInput means the caller's image or variables were unusable.
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindParse:
		return "parse"
	case KindInput:
		return "input"
	default:
		return "unknown"
	}
}

// Error is a classified analysis failure
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call may succeed
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport
}

// KindOf returns the kind of the first *Error in err's chain, or 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
