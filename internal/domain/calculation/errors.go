package calculation

import "errors"

// ErrValidation is the kind shared by every input validation failure.
var ErrValidation = errors.New("validation failed")

// ValidationError carries the client-facing message for a rejected input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap lets callers match with errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }
