package closing

import (
	"errors"
	"fmt"

	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRequest is returned for malformed closing requests.
	ErrInvalidRequest = errors.New("invalid closing request")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid closing status transition")

	// ErrClosingNotFound is returned when a referenced closing doesn't exist.
	ErrClosingNotFound = errors.New("closing not found")

	// ErrIntegrityMismatch is returned when a sealed closing no longer
	// matches its hash. This is a fault, never a user error.
	ErrIntegrityMismatch = errors.New("closing integrity hash mismatch")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type TransitionError struct {
	ClosingID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("closing %s cannot move from %s to %s", e.ClosingID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type IntegrityError struct {
	ClosingID string
	Stored    string
	Computed  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("closing %s integrity mismatch: stored %s, computed %s", e.ClosingID, e.Stored, e.Computed)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityMismatch
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRejection returns true if the error is due to invalid client input.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidTransition) ||
		timeclock.IsRejection(err)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClosingNotFound) || timeclock.IsNotFound(err)
}
