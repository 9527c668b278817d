package approval

import (
	"errors"
	"fmt"
)

// Error kinds returned by the engine.  Every error the engine produces for
// a rule violation is an *Error whose Unwrap yields one of these, so
// callers classify with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConfig       = errors.New("workflow configuration error")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrPrecondition = errors.New("precondition failed")
	ErrValidation   = errors.New("validation failed")
)

// Error is a classified engine failure carrying a message fit for the
// caller.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
