// Package authzerr defines the gateway's error taxonomy (spec §7) and the
// mapping from each kind to its surface behavior.
package authzerr

import "fmt"

// Kind classifies an error into one of the taxonomy's fixed buckets.
type Kind string

const (
	KindBadRequest        Kind = "bad_request"
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindBindingMismatch   Kind = "binding_mismatch"
	KindExpired           Kind = "expired"
	KindUpstreamTransient Kind = "upstream_transient"
	KindInternal          Kind = "internal"
)

// Error wraps an underlying cause with a Kind the HTTP adapter uses to
// pick a status code, and a human-readable reason safe to return to a
// caller. Per spec §7, denials and expirations are *decisions*, not
// errors -- this type is for genuine faults and for errors the HTTP layer
// must translate into a 4xx/5xx outside the authorize decision body.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind and reason with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// HTTPStatus returns the status code the HTTP adapter should use for
// management APIs (the authorize endpoint itself maps differently --
// see spec §7 "Propagation policy").
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return 400
	case KindUnauthorized:
		return 401
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindBindingMismatch:
		return 200 // authorize endpoint: decision IS the response
	case KindExpired:
		return 200
	case KindUpstreamTransient:
		return 200 // never surfaces; evaluator/notifier fall back
	case KindInternal:
		return 500
	default:
		return 500
	}
}
