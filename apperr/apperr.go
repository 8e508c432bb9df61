// Package apperr defines the business-error vocabulary shared by the
// property and contract workflow engines. Every rejected transition is
// reported as an *Error carrying one of the kinds below; the presentation
// layer maps kinds to transport status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule failure.
type Kind string

const (
	// KindValidation signals malformed or incomplete input.
	KindValidation Kind = "validation"
	// KindNotFound signals a referenced entity id that does not exist.
	KindNotFound Kind = "not_found"
	// KindAuthorization signals a caller lacking the required role or
	// ownership relationship.
	KindAuthorization Kind = "authorization"
	// KindInvalidState signals a transition that is not legal from the
	// entity's current state.
	KindInvalidState Kind = "invalid_state"
	// KindConflict signals a concurrent mutation that invalidated the
	// expected prior state, or a property that already has a live contract.
	KindConflict Kind = "conflict"
	// KindPrecondition signals an unmet transition-specific requirement,
	// such as a missing identity document at signing time.
	KindPrecondition Kind = "precondition"
	// KindInternal covers infrastructure failures surfaced by the data
	// store; callers should not treat these as business rejections.
	KindInternal Kind = "internal"
)

// Error is the structured error object returned by workflow operations.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind while keeping it reachable via errors.Is/As.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return New(KindAuthorization, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Precondition(format string, args ...any) *Error {
	return New(KindPrecondition, format, args...)
}

// KindOf extracts the kind from err. Unrecognized errors, including wrapped
// persistence failures, report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
