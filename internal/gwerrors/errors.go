// Package gwerrors defines the gateway error taxonomy.
//
// Every fallible operation in the gateway returns a value-or-error pair;
// subsystem boundaries are crossed with *Error so callers can branch on
// Kind without string matching. Validation failures never panic.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing to the right client surface.
type Kind string

const (
	KindConfig     Kind = "config"     // invalid configuration; fatal at startup
	KindValidation Kind = "validation" // malformed inbound message; session continues
	KindAuth       Kind = "auth"       // credential or policy rejection
	KindNetwork    Kind = "network"    // DNS / connection refused / unreachable
	KindTimeout    Kind = "timeout"    // handshake or idle exceeded
	KindSSH        Kind = "ssh"        // post-handshake SSH failure
	KindTransport  Kind = "transport"  // log transport backpressure overflow
	KindUnknown    Kind = "unknown"    // unclassified
)

// Error is the single gateway error type. Code is a stable machine-readable
// identifier (e.g. "auth_method_disabled"); Message is human-readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error without a wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with a wrapped cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown when err carries no *Error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of err, or "" when err carries no *Error.
func CodeOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) has the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
