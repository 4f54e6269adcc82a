// Package coreerr defines the core's closed error taxonomy. Every exported
// function in the core returns errors that satisfy one of these kinds so
// callers can branch with errors.Is/errors.As instead of string matching.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the core returns.
type Kind int

const (
	// KindNotFound: target key/entity/claim/decision is missing.
	KindNotFound Kind = iota
	// KindInvalidArgument: status outside the closed set, missing policy
	// key, malformed confidence triple, etc.
	KindInvalidArgument
	// KindTimeout: an underlying I/O deadline expired.
	KindTimeout
	// KindBackend: store/provider/audit error surfaced opaquely.
	KindBackend
	// KindConflict: a write could not be serialized (e.g. lost CAS).
	KindConflict
	// KindDegraded: a provider call returned empty/invalid and the core
	// fell back to its heuristic path. Never fatal.
	KindDegraded
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTimeout:
		return "timeout"
	case KindBackend:
		return "backend"
	case KindConflict:
		return "conflict"
	case KindDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Error is the concrete type returned across the core's exported API.
type Error struct {
	Kind    Kind
	Op      string // component/operation that produced the error, e.g. "memory.Store"
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, coreerr.NotFound("", "")) match by Kind alone: the
// target's Op and Message are ignored, so any *Error of the same Kind
// matches. The package-level Is(err, kind) helper is the shorter form.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

func newErr(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// NotFound constructs a KindNotFound error.
func NotFound(op, msg string) *Error { return newErr(KindNotFound, op, msg, nil) }

// Invalid constructs a KindInvalidArgument error.
func Invalid(op, msg string) *Error { return newErr(KindInvalidArgument, op, msg, nil) }

// Timeout constructs a KindTimeout error, wrapping the underlying cause.
func Timeout(op string, err error) *Error {
	return newErr(KindTimeout, op, "deadline exceeded", err)
}

// Backend constructs a KindBackend error, wrapping the opaque backend cause.
func Backend(op string, err error) *Error {
	return newErr(KindBackend, op, "backend error", err)
}

// Conflict constructs a KindConflict error.
func Conflict(op, msg string) *Error { return newErr(KindConflict, op, msg, nil) }

// Degraded constructs a KindDegraded error. It is informational, not fatal:
// the caller succeeded via the heuristic fallback.
func Degraded(op, msg string, err error) *Error {
	return newErr(KindDegraded, op, msg, err)
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning (KindBackend, false) if err
// does not carry one (treating unclassified errors as opaque backend
// failures is the conservative default for HTTP status mapping).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindBackend, false
}
