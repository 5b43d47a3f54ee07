/*
Package quarter provides fiscal quarter identifiers and arithmetic.

PURPOSE:
  Commission bonuses are computed per fiscal quarter. A quarter is written
  in canonical form "YYYY-QN" (N in 1..4) and always maps to a window of
  three calendar months inside a single year:

    Q1 = Jan-Mar   Q2 = Apr-Jun   Q3 = Jul-Sep   Q4 = Oct-Dec

KEY OPERATIONS:
  Validate:   pure predicate on the canonical string form
  Parse:      string -> Quarter, ErrInvalidFormat on malformed input
  Previous:   the quarter before the one containing "now" (clock injected)
  Next:       the quarter after a given one (Q4 rolls into next year)
  PreviousN:  the n quarters strictly before a given one, newest first

CLOCK:
  Nothing in this package reads the wall clock on its own. Callers pass
  the current time explicitly, or a Clock (see clock.go).

SEE ALSO:
  - commission/breakdown.go: classifies the months of a quarter
  - clock.go: Clock, SystemClock, FixedClock
*/
package quarter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidFormat is returned when a quarter string is not "YYYY-QN".
var ErrInvalidFormat = errors.New("invalid quarter format")

// FormatError carries the offending input.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid quarter format: %q (expected YYYY-QN)", e.Input)
}

func (e *FormatError) Unwrap() error { return ErrInvalidFormat }

// =============================================================================
// QUARTER
// =============================================================================

var canonical = regexp.MustCompile(`^\d{4}-Q[1-4]$`)

// Quarter is a fiscal quarter. Number is 1..4.
type Quarter struct {
	Year   int
	Number int
}

// Month is a calendar month inside a quarter. Index is 0-based (January = 0).
type Month struct {
	Year  int
	Index int
}

// Ordinal returns year*12 + index, so month distances are plain subtraction.
func (m Month) Ordinal() int { return m.Year*12 + m.Index }

// MonthOf returns the calendar month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Index: int(t.Month()) - 1}
}

// String renders m as "YYYY-MM".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Index+1)
}

// Validate reports whether s is a canonical quarter string.
func Validate(s string) bool {
	return canonical.MatchString(s)
}

// Parse parses a canonical quarter string.
func Parse(s string) (Quarter, error) {
	if !Validate(s) {
		return Quarter{}, &FormatError{Input: s}
	}
	year, _ := strconv.Atoi(s[:4])
	return Quarter{Year: year, Number: int(s[6] - '0')}, nil
}

// MustParse is Parse for literals in tests and fixtures. It panics on error.
func MustParse(s string) Quarter {
	q, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

// Containing returns the calendar quarter that contains t.
func Containing(t time.Time) Quarter {
	return Quarter{Year: t.Year(), Number: (int(t.Month())-1)/3 + 1}
}

func (q Quarter) String() string {
	return fmt.Sprintf("%04d-Q%d", q.Year, q.Number)
}

// IsZero reports whether q is the zero value.
func (q Quarter) IsZero() bool { return q.Year == 0 && q.Number == 0 }

// Prev returns the quarter immediately before q.
func (q Quarter) Prev() Quarter {
	if q.Number <= 1 {
		return Quarter{Year: q.Year - 1, Number: 4}
	}
	return Quarter{Year: q.Year, Number: q.Number - 1}
}

// Next returns the quarter immediately after q.
func (q Quarter) Next() Quarter {
	if q.Number >= 4 {
		return Quarter{Year: q.Year + 1, Number: 1}
	}
	return Quarter{Year: q.Year, Number: q.Number + 1}
}

// Before reports whether q is chronologically earlier than other.
func (q Quarter) Before(other Quarter) bool {
	if q.Year != other.Year {
		return q.Year < other.Year
	}
	return q.Number < other.Number
}

// Months returns the three calendar months of q in chronological order.
// A quarter never spans a year boundary.
func (q Quarter) Months() [3]Month {
	first := (q.Number - 1) * 3
	return [3]Month{
		{Year: q.Year, Index: first},
		{Year: q.Year, Index: first + 1},
		{Year: q.Year, Index: first + 2},
	}
}

// Start returns the first day of q (UTC).
func (q Quarter) Start() time.Time {
	return time.Date(q.Year, time.Month((q.Number-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of q (UTC).
func (q Quarter) End() time.Time {
	return q.Next().Start().AddDate(0, 0, -1)
}

// MarshalText implements encoding.TextMarshaler.
func (q Quarter) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quarter) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// =============================================================================
// STRING-FORM OPERATIONS
// =============================================================================

// Previous returns the quarter before the one containing now.
func Previous(now time.Time) Quarter {
	return Containing(now).Prev()
}

// Next returns the canonical quarter following s.
func Next(s string) (string, error) {
	q, err := Parse(s)
	if err != nil {
		return "", err
	}
	return q.Next().String(), nil
}

// MaxPreviousN is the largest history length the API and CLI accept.
// It covers a century of quarters.
const MaxPreviousN = 400

// PreviousN returns the n quarters strictly before s, most recent first.
// n <= 0 yields an empty slice. PreviousN does not bound n; callers that
// take n from user input check it against MaxPreviousN first.
func PreviousN(s string, n int) ([]string, error) {
	q, err := Parse(s)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	out := make([]string, 0, min(n, MaxPreviousN))
	for i := 0; i < n; i++ {
		q = q.Prev()
		out = append(out, q.String())
	}
	return out, nil
}
