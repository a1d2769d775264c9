// Package apperr defines the local error kinds raised before any backend call
// is made, and maps arbitrary errors onto the single status line shown to the
// user.
package apperr

import (
	"errors"
)

// DefaultMessage is shown when an error carries no usable text.
const DefaultMessage = "Something went wrong"

// ValidationError reports bad local input. It is always returned before any
// network call is issued.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PreconditionError reports missing prior state, such as an active patient or
// a capability the current role does not hold.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

// Validation returns a new ValidationError.
func Validation(msg string) error {
	return &ValidationError{Msg: msg}
}

// Precondition returns a new PreconditionError.
func Precondition(msg string) error {
	return &PreconditionError{Msg: msg}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPrecondition reports whether err is or wraps a PreconditionError.
func IsPrecondition(err error) bool {
	var p *PreconditionError
	return errors.As(err, &p)
}

// Messager is implemented by errors that carry a user-facing message distinct
// from their Error() text.
type Messager interface {
	UserMessage() string
}

// Message extracts the status-line text for err. Typed errors contribute their
// message verbatim; anything else falls back to its Error() text, and an empty
// message becomes DefaultMessage.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var m Messager
	if errors.As(err, &m) {
		if s := m.UserMessage(); s != "" {
			return s
		}
		return DefaultMessage
	}
	var v *ValidationError
	if errors.As(err, &v) && v.Msg != "" {
		return v.Msg
	}
	var p *PreconditionError
	if errors.As(err, &p) && p.Msg != "" {
		return p.Msg
	}
	if s := err.Error(); s != "" {
		return s
	}
	return DefaultMessage
}
