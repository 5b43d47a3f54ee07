package commission

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT VALIDATION
// =============================================================================

// ValidateQuota reports whether quota is usable as a divisor (> 0).
func ValidateQuota(quota float64) bool { return quota > 0 }

// ValidateAttainment reports whether attainment is non-negative.
func ValidateAttainment(attainment float64) bool { return attainment >= 0 }

func checkQuota(quota float64) error {
	if !ValidateQuota(quota) {
		return &InputError{Field: "quota", Value: quota, err: ErrInvalidQuota}
	}
	return nil
}

func checkAttainment(attainment float64) error {
	if !ValidateAttainment(attainment) {
		return &InputError{Field: "attainment", Value: attainment, err: ErrInvalidAttainment}
	}
	return nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func checkFinite(field string, v float64) error {
	if !isFinite(v) {
		return &InputError{Field: field, Value: v, err: ErrNonFinite}
	}
	return nil
}

// =============================================================================
// BONUS
// =============================================================================

// Result is a bonus with the portions that make it up.
type Result struct {
	Breakdown            Breakdown `json:"breakdown"`
	AttainmentRatio      float64   `json:"attainment_ratio"`
	AttainmentPercentage float64   `json:"attainment_percentage"`
	MonthlyBonus         float64   `json:"monthly_bonus"`
	RampUpPortion        float64   `json:"ramp_up_portion"`
	PostRampUpPortion    float64   `json:"post_ramp_up_portion"`
	Amount               float64   `json:"amount"`
}

// Calculate returns the prorated bonus and its components.
//
// Quota is checked before attainment. The attainment ratio is not capped,
// so over-attainment raises the post-ramp-up portion without a ceiling.
// Not-employed months contribute nothing. Inputs and the amount must be
// finite; an overflowing result is rejected with ErrNonFinite.
func Calculate(attainment, quota, quarterlyBonus float64, b Breakdown) (Result, error) {
	if err := checkQuota(quota); err != nil {
		return Result{}, err
	}
	if err := checkAttainment(attainment); err != nil {
		return Result{}, err
	}
	for _, in := range []struct {
		field string
		v     float64
	}{{"quota", quota}, {"attainment", attainment}, {"quarterly_bonus", quarterlyBonus}} {
		if err := checkFinite(in.field, in.v); err != nil {
			return Result{}, err
		}
	}

	ratio := attainment / quota
	monthly := quarterlyBonus / MonthsPerQuarter
	ramp := float64(b.RampUpMonths) * monthly
	post := float64(b.PostRampUpMonths) * monthly * ratio

	if err := checkFinite("amount", ramp+post); err != nil {
		return Result{}, err
	}
	if err := checkFinite("attainment_percentage", ratio*100); err != nil {
		return Result{}, err
	}

	return Result{
		Breakdown:            b,
		AttainmentRatio:      ratio,
		AttainmentPercentage: ratio * 100,
		MonthlyBonus:         monthly,
		RampUpPortion:        ramp,
		PostRampUpPortion:    post,
		Amount:               ramp + post,
	}, nil
}

// CalculateBonus returns the amount owed for the quarter.
func CalculateBonus(attainment, quota, quarterlyBonus float64, b Breakdown) (float64, error) {
	r, err := Calculate(attainment, quota, quarterlyBonus, b)
	if err != nil {
		return 0, err
	}
	return r.Amount, nil
}

// AttainmentPercentage returns (attainment / quota) * 100.
func AttainmentPercentage(attainment, quota float64) (float64, error) {
	if err := checkQuota(quota); err != nil {
		return 0, err
	}
	return attainment / quota * 100, nil
}

// QuarterlyFromAnnual splits an annual bonus evenly across four quarters.
func QuarterlyFromAnnual(annual float64) float64 {
	return annual / 4
}

// Money rounds v to cents. NaN and infinities have no decimal form and
// map to zero; Calculate never produces them.
func Money(v float64) decimal.Decimal {
	if !isFinite(v) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(2)
}
