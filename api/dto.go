/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the store records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Stored amounts are decimals rounded to cents and are rendered as strings
  ("8000.00") so clients never see float artifacts. Calculator responses
  carry the raw float64 alongside.

SEE ALSO:
  - handlers.go: Uses these types
  - store/sqlite/sqlite.go: Record types
*/
package api

import (
	"time"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/store/sqlite"
)

const dateLayout = "2006-01-02"

// =============================================================================
// QUARTERS
// =============================================================================

// QuarterResponse wraps a single quarter.
type QuarterResponse struct {
	Quarter string `json:"quarter"`
}

// QuarterListResponse wraps a list of quarters, newest first.
type QuarterListResponse struct {
	Quarter  string   `json:"quarter"`
	Quarters []string `json:"quarters"`
}

// ValidateQuarterResponse reports whether a quarter string is canonical.
type ValidateQuarterResponse struct {
	Quarter string `json:"quarter"`
	Valid   bool   `json:"valid"`
}

// =============================================================================
// COMMISSION
// =============================================================================

// BreakdownRequest asks for the month classification of a quarter.
// A null or missing start_date means the start date is unknown.
type BreakdownRequest struct {
	StartDate *string `json:"start_date"`
	Quarter   string  `json:"quarter"`
}

// BreakdownResponse is the classification plus a per-month view.
type BreakdownResponse struct {
	Quarter   string               `json:"quarter"`
	Breakdown commission.Breakdown `json:"breakdown"`
	Months    []MonthDTO           `json:"months"`
}

// MonthDTO is one month of a quarter and its bucket.
type MonthDTO struct {
	Month  string                 `json:"month"`
	Status commission.MonthStatus `json:"status"`
}

// CalculateRequest is the input to the bonus calculator.
type CalculateRequest struct {
	Attainment           float64              `json:"attainment"`
	Quota                float64              `json:"quota"`
	QuarterlyBonusAmount float64              `json:"quarterly_bonus_amount"`
	Breakdown            commission.Breakdown `json:"breakdown"`
}

// CalculateResponse is the calculator output. Rounded is the amount at cents.
type CalculateResponse struct {
	commission.Result
	Rounded string `json:"rounded_amount"`
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	StartDate *string `json:"start_date"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	StartDate *string `json:"start_date"`
}

// CompensationRequest sets the annual bonus from a quarter onward.
type CompensationRequest struct {
	EffectiveQuarter string  `json:"effective_quarter"`
	AnnualBonus      float64 `json:"annual_bonus"`
}

// CompensationDTO is one compensation record.
type CompensationDTO struct {
	ID               string `json:"id"`
	EmployeeID       string `json:"employee_id"`
	EffectiveQuarter string `json:"effective_quarter"`
	AnnualBonus      string `json:"annual_bonus"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// EmployeeDetailDTO is an employee with compensation history and bonuses.
type EmployeeDetailDTO struct {
	EmployeeDTO
	Compensation []CompensationDTO `json:"compensation"`
	Bonuses      []BonusDTO        `json:"bonuses"`
}

func toEmployeeDTO(e sqlite.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:    e.ID,
		Name:  e.Name,
		Email: e.Email,
	}
	if e.StartDate != nil {
		s := e.StartDate.Format(dateLayout)
		dto.StartDate = &s
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toCompensationDTO(c sqlite.Compensation) CompensationDTO {
	dto := CompensationDTO{
		ID:               c.ID,
		EmployeeID:       c.EmployeeID,
		EffectiveQuarter: c.EffectiveQuarter.String(),
		AnnualBonus:      c.AnnualBonus.StringFixed(2),
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// BONUSES
// =============================================================================

// BonusDTO represents a stored commission bonus.
type BonusDTO struct {
	ID             string               `json:"id"`
	EmployeeID     string               `json:"employee_id"`
	EmployeeName   string               `json:"employee_name,omitempty"`
	Quarter        string               `json:"quarter"`
	Quota          float64              `json:"quota"`
	Attainment     float64              `json:"attainment"`
	QuarterlyBonus string               `json:"quarterly_bonus"`
	Breakdown      commission.Breakdown `json:"breakdown"`
	Amount         string               `json:"amount"`
	Status         string               `json:"status"`
	UpdatedAt      string               `json:"updated_at,omitempty"`
}

func toBonusDTO(b sqlite.Bonus) BonusDTO {
	dto := BonusDTO{
		ID:             b.ID,
		EmployeeID:     b.EmployeeID,
		Quarter:        b.Quarter.String(),
		Quota:          b.Quota,
		Attainment:     b.Attainment,
		QuarterlyBonus: b.QuarterlyBonus.StringFixed(2),
		Breakdown:      b.Breakdown,
		Amount:         b.Amount.StringFixed(2),
		Status:         string(b.Status),
	}
	if !b.UpdatedAt.IsZero() {
		dto.UpdatedAt = b.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// ImportRowDTO is one row of a JSON import request.
type ImportRowDTO struct {
	Email      string  `json:"email"`
	Quota      float64 `json:"quota"`
	Attainment float64 `json:"attainment"`
}

// ImportRequest is the JSON form of an import preview or confirm.
// Rows are re-evaluated on confirm; client-side amounts are never trusted.
type ImportRequest struct {
	Quarter string         `json:"quarter"`
	Rows    []ImportRowDTO `json:"rows"`
}

// RecalculateRequest triggers recalculation of a quarter's draft bonuses.
// An empty quarter means the previous quarter.
type RecalculateRequest struct {
	Quarter string `json:"quarter"`
}

// RecalculationRunDTO is one scheduler or manual recalculation pass.
type RecalculationRunDTO struct {
	ID          string `json:"id"`
	Quarter     string `json:"quarter"`
	Status      string `json:"status"`
	Updated     int    `json:"updated"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toRunDTO(run sqlite.RecalculationRun) RecalculationRunDTO {
	dto := RecalculationRunDTO{
		ID:      run.ID,
		Quarter: run.Quarter.String(),
		Status:  run.Status,
		Updated: run.Updated,
		Failed:  run.Failed,
		Error:   run.Error,
	}
	if run.StartedAt != nil {
		dto.StartedAt = run.StartedAt.Format(time.RFC3339)
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Quarter     string `json:"quarter" yaml:"quarter"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
