package quarter

import "time"

// Clock supplies the current time. Batch jobs resolve it once per call,
// never cache the resulting quarter across calls.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// PreviousFrom is Previous(c.Now()).
func PreviousFrom(c Clock) Quarter {
	return Previous(c.Now())
}

// Current returns the quarter containing c.Now().
func Current(c Clock) Quarter {
	return Containing(c.Now())
}
