package ledger

import (
	"errors"

	"github.com/warp/attendance-engine/timeclock"
)

var (
	// ErrInvalidException is returned for malformed exception input.
	ErrInvalidException = errors.New("invalid exception")

	// ErrInvalidPayment is returned for malformed payment input.
	ErrInvalidPayment = errors.New("invalid payment")
)

// IsRejection returns true if the error is due to invalid client input.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidException) ||
		errors.Is(err, ErrInvalidPayment) ||
		timeclock.IsRejection(err)
}
