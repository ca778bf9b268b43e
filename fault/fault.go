// Package fault carries the workflow error taxonomy: every rejected operation
// maps to a stable machine-readable kind plus a human-readable reason so the
// API layer can render an accurate message without re-deriving the rule.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Conflict means the requested transition is illegal from the entity's
	// current status. Never retried automatically.
	Conflict Kind = "conflict"
	// NotFound means a referenced pet, request, or profile does not exist.
	NotFound Kind = "not_found"
	// Forbidden means the actor is not allowed to perform the operation.
	Forbidden Kind = "forbidden"
	// InvalidOperation means the request is structurally valid but violates a
	// policy, e.g. removing an owner through the non-owner removal path.
	InvalidOperation Kind = "invalid_operation"
)

// Error pairs a kind with the precondition that failed.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf unwraps err looking for a fault. Returns "" when err carries none.
func KindOf(err error) Kind {
	var f *Error
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
