// Package domain errors.go contains sentinel errors
package domain

import "errors"

// ErrInvalidInput is matched (via errors.Is) by every caller-input rejection.
var ErrInvalidInput = errors.New("invalid input")

// InputError describes which request field was rejected and why. Its message
// is safe to return to callers.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

// Is reports true for ErrInvalidInput so callers need not know the concrete type.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}
