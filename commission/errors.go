package commission

import (
	"errors"
	"fmt"

	"github.com/warp/peopleops/quarter"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuota is returned when quota <= 0.
	ErrInvalidQuota = errors.New("invalid quota: must be greater than 0")

	// ErrInvalidAttainment is returned when attainment < 0.
	ErrInvalidAttainment = errors.New("invalid attainment: must be 0 or greater")

	// ErrInvalidBreakdown is returned when a caller-supplied breakdown has a
	// negative count or does not cover exactly three months.
	ErrInvalidBreakdown = errors.New("invalid quarter breakdown")

	// ErrNonFinite is returned when an input or the computed amount is NaN
	// or infinite.
	ErrNonFinite = errors.New("invalid amount: not a finite number")
)

// InputError names the rejected field and value.
type InputError struct {
	Field string
	Value float64
	err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s=%v: %v", e.Field, e.Value, e.err)
}

func (e *InputError) Unwrap() error { return e.err }

// IsValidationError reports whether err is a deterministic input rejection
// that the caller should record against the row rather than retry.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidQuota) ||
		errors.Is(err, ErrInvalidAttainment) ||
		errors.Is(err, ErrInvalidBreakdown) ||
		errors.Is(err, ErrNonFinite) ||
		errors.Is(err, quarter.ErrInvalidFormat)
}
