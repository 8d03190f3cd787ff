/*
errors.go - Error types for punch sequencing and shared calendar types

PURPOSE:
  All timeclock errors in one place. The other core packages (ledger,
  wages, closing) reuse ErrInvalidDateRange and the helpers below so the
  host can classify any core error with one call.

ERROR CATEGORIES:
  1. Rejections - expected, user-facing (sequence, too soon, bad input)
  2. Not found  - a referenced punch or worker does not exist
  3. Faults     - store failures; wrapped with %w and passed through

USAGE:
  res, err := sequencer.Submit(ctx, req)
  var tooSoon *timeclock.TooSoonError
  if errors.As(err, &tooSoon) {
      // tell the worker to wait tooSoon.MinutesRemaining() minutes
  }

SEE ALSO:
  - sequencer.go: Produces SequenceError and TooSoonError
  - ledger/errors.go, closing/errors.go: Package-specific rejections
*/
package timeclock

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSequenceViolation is returned when a punch is not the single legal
	// next kind for the worker's day.
	ErrSequenceViolation = errors.New("punch out of sequence")

	// ErrTooSoon is returned when a punch arrives before the minimum gap
	// since the previous punch has elapsed.
	ErrTooSoon = errors.New("punch too soon after previous punch")

	// ErrInvalidDateRange is returned for malformed dates and periods.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrInvalidPunch is returned for malformed punch or correction input.
	ErrInvalidPunch = errors.New("invalid punch")

	// ErrPunchNotFound is returned when a referenced punch doesn't exist.
	ErrPunchNotFound = errors.New("punch not found")

	// ErrWorkerNotFound is returned when a referenced worker doesn't exist.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrMalformedWorker marks a stored worker record that cannot be used.
	ErrMalformedWorker = errors.New("malformed worker record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SequenceError reports which kind was expected instead.
type SequenceError struct {
	Got         PunchKind
	Expected    PunchKind
	ShiftClosed bool
}

func (e *SequenceError) Error() string {
	if e.ShiftClosed {
		return fmt.Sprintf("punch out of sequence: shift already clocked out, %s not allowed", e.Got)
	}
	return fmt.Sprintf("punch out of sequence: expected %s, got %s", e.Expected, e.Got)
}

func (e *SequenceError) Unwrap() error {
	return ErrSequenceViolation
}

// TooSoonError reports how long the worker still has to wait.
type TooSoonError struct {
	Previous  PunchKind
	Remaining time.Duration
}

// MinutesRemaining rounds the wait up to whole minutes.
func (e *TooSoonError) MinutesRemaining() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("punch too soon after %s: wait %d more minutes", e.Previous, e.MinutesRemaining())
}

func (e *TooSoonError) Unwrap() error {
	return ErrTooSoon
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRejection returns true if the error is an expected, user-facing refusal.
func IsRejection(err error) bool {
	return errors.Is(err, ErrSequenceViolation) ||
		errors.Is(err, ErrTooSoon) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrInvalidPunch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPunchNotFound) ||
		errors.Is(err, ErrWorkerNotFound)
}
