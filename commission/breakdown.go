/*
Package commission computes quarterly commission bonuses.

PURPOSE:
  A quarterly OTE bonus is paid per month of the quarter. How each month
  is paid depends on where it falls relative to the employee's start:

    not employed   month before the start month        -> paid 0
    ramp-up        start month and the 2 months after  -> paid 100% OTE
    post-ramp-up   every later month                   -> paid OTE * attainment ratio

  New hires are guaranteed full OTE during ramp-up because they have not
  had a fair chance to hit quota yet.

PIPELINE:
  1. CalculateQuarterBreakdown(startDate, quarter) -> Breakdown
  2. CalculateBonus(attainment, quota, quarterlyBonus, breakdown) -> amount

  Both steps are pure. They may run concurrently for every row of a bulk
  import with no coordination.

PRECISION:
  Amounts are float64 end to end and are never rounded here. Money() rounds
  to cents for storage and display.

SEE ALSO:
  - quarter/quarter.go: quarter parsing and months
  - importer/importer.go: per-row bulk import built on this package
*/
package commission

import (
	"fmt"
	"time"

	"github.com/warp/peopleops/quarter"
)

// RampUpMonths is the length of the ramp-up window, counted in calendar
// months starting with the month of hire.
const RampUpMonths = 3

// MonthsPerQuarter is the number of months a Breakdown always covers.
const MonthsPerQuarter = 3

// =============================================================================
// BREAKDOWN
// =============================================================================

// Breakdown classifies the three months of a quarter. The counts always
// sum to MonthsPerQuarter.
type Breakdown struct {
	NotEmployedMonths int `json:"not_employed_months"`
	RampUpMonths      int `json:"ramp_up_months"`
	PostRampUpMonths  int `json:"post_ramp_up_months"`
}

// Total returns the number of months classified.
func (b Breakdown) Total() int {
	return b.NotEmployedMonths + b.RampUpMonths + b.PostRampUpMonths
}

// Validate checks the invariant for breakdowns that did not come from
// CalculateQuarterBreakdown (API payloads, stored rows).
func (b Breakdown) Validate() error {
	if b.NotEmployedMonths < 0 || b.RampUpMonths < 0 || b.PostRampUpMonths < 0 {
		return fmt.Errorf("%w: negative month count %+v", ErrInvalidBreakdown, b)
	}
	if b.Total() != MonthsPerQuarter {
		return fmt.Errorf("%w: months sum to %d, want %d", ErrInvalidBreakdown, b.Total(), MonthsPerQuarter)
	}
	return nil
}

func (b Breakdown) String() string {
	return fmt.Sprintf("not_employed=%d ramp_up=%d post_ramp_up=%d",
		b.NotEmployedMonths, b.RampUpMonths, b.PostRampUpMonths)
}

// FullyEmployed is the breakdown used when no start date is known.
var FullyEmployed = Breakdown{PostRampUpMonths: MonthsPerQuarter}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// MonthStatus is the bucket a single month falls into.
type MonthStatus string

const (
	MonthNotEmployed MonthStatus = "not_employed"
	MonthRampUp      MonthStatus = "ramp_up"
	MonthPostRampUp  MonthStatus = "post_ramp_up"
)

// ClassifyMonth places month m relative to start month s. Day of month is
// ignored: a hire on the 28th still starts ramp-up in that month.
func ClassifyMonth(start, m quarter.Month) MonthStatus {
	since := m.Ordinal() - start.Ordinal()
	switch {
	case since < 0:
		return MonthNotEmployed
	case since < RampUpMonths:
		return MonthRampUp
	default:
		return MonthPostRampUp
	}
}

// ClassifyQuarter returns the bucket of each month of q, in order. A nil
// start puts every month in post-ramp-up.
func ClassifyQuarter(start *time.Time, q quarter.Quarter) [MonthsPerQuarter]MonthStatus {
	var out [MonthsPerQuarter]MonthStatus
	for i, m := range q.Months() {
		if start == nil {
			out[i] = MonthPostRampUp
			continue
		}
		out[i] = ClassifyMonth(quarter.MonthOf(*start), m)
	}
	return out
}

// CalculateQuarterBreakdown classifies each month of q for an employee who
// started on start. A nil start means no ramp-up applies: {0, 0, 3}.
func CalculateQuarterBreakdown(start *time.Time, q quarter.Quarter) Breakdown {
	if start == nil {
		return FullyEmployed
	}

	var b Breakdown
	for _, status := range ClassifyQuarter(start, q) {
		switch status {
		case MonthNotEmployed:
			b.NotEmployedMonths++
		case MonthRampUp:
			b.RampUpMonths++
		case MonthPostRampUp:
			b.PostRampUpMonths++
		}
	}
	return b
}

// BreakdownFor is the string-keyed form of CalculateQuarterBreakdown. It
// does not validate q; callers check quarter.Validate first. A malformed
// string is classified as the zero quarter and the result is meaningless.
func BreakdownFor(start *time.Time, q string) Breakdown {
	parsed, _ := quarter.Parse(q)
	return CalculateQuarterBreakdown(start, parsed)
}
