package proceeding

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no case exists for the provided identifier.
	ErrNotFound = errors.New("proceeding: case not found")
	// ErrValidation signals malformed caller input (empty text, unknown side).
	ErrValidation = errors.New("proceeding: invalid input")
	// ErrQuotaExceeded signals the side has used all of its counter-arguments.
	ErrQuotaExceeded = errors.New("proceeding: counter-argument quota exceeded")
	// ErrCaseClosed signals a mutation attempt on a terminal case.
	ErrCaseClosed = errors.New("proceeding: case is closed")
	// ErrUpstream signals the adjudication service failed or returned no content.
	ErrUpstream = errors.New("proceeding: adjudication failed")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsRejection reports whether err was caused by the caller's input or the
// case's state rather than by the system failing to complete the action.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrCaseClosed)
}
