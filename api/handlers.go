/*
handlers.go - HTTP API handlers for the commission bonus service

PURPOSE:
  Exposes quarter arithmetic, the bonus calculator, employee records and
  the bulk import via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the quarter, commission and importer
  packages.

ENDPOINTS:
  Quarters:
    GET    /api/quarters/previous          Previous quarter (per clock)
    GET    /api/quarters/validate?q=       Canonical format check
    GET    /api/quarters/{q}/next          Following quarter
    GET    /api/quarters/{q}/previous?n=   n quarters before, newest first

  Commission:
    POST   /api/commission/breakdown       Month classification
    POST   /api/commission/calculate       Prorated bonus

  Employees:
    GET    /api/employees                  List all employees
    POST   /api/employees                  Create employee
    GET    /api/employees/{id}             Employee, compensation, bonuses
    POST   /api/employees/{id}/compensation Record annual bonus

  Bonuses:
    GET    /api/bonuses?quarter=           List stored bonuses
    POST   /api/bonuses                    Record a draft bonus
    POST   /api/bonuses/import/preview     Evaluate an import (JSON or upload)
    POST   /api/bonuses/import/confirm     Evaluate and persist an import
    POST   /api/bonuses/recalculate        Recalculate draft bonuses

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate email)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/importer"
	"github.com/warp/peopleops/quarter"
	"github.com/warp/peopleops/store/sqlite"
)

// maxUploadBytes bounds multipart import uploads.
const maxUploadBytes = 10 << 20

// DefaultHistoryLength is used when /quarters/{q}/previous has no n.
const DefaultHistoryLength = 4

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Importer *importer.Importer
	Clock    quarter.Clock

	log       *zap.Logger
	scenarios []Scenario

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler. A nil importer or clock gets the default.
func NewHandler(store *sqlite.Store, im *importer.Importer, clock quarter.Clock) *Handler {
	if im == nil {
		im = importer.New(store)
	}
	if clock == nil {
		clock = quarter.SystemClock{}
	}
	log := zap.L().Named("api")

	scenarios, err := LoadScenarios()
	if err != nil {
		log.Error("load scenarios", zap.Error(err))
	}

	return &Handler{
		Store:     store,
		Importer:  im,
		Clock:     clock,
		log:       log,
		scenarios: scenarios,
	}
}

// =============================================================================
// QUARTER HANDLERS
// =============================================================================

// PreviousQuarter returns the quarter before the current one.
// GET /api/quarters/previous
func (h *Handler) PreviousQuarter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, QuarterResponse{Quarter: quarter.PreviousFrom(h.Clock).String()})
}

// NextQuarter returns the quarter after {q}.
// GET /api/quarters/{q}/next
func (h *Handler) NextQuarter(w http.ResponseWriter, r *http.Request) {
	next, err := quarter.Next(chi.URLParam(r, "q"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quarter", err)
		return
	}
	writeJSON(w, http.StatusOK, QuarterResponse{Quarter: next})
}

// PreviousQuarters returns the n quarters before {q}, newest first.
// GET /api/quarters/{q}/previous?n=4
func (h *Handler) PreviousQuarters(w http.ResponseWriter, r *http.Request) {
	q := chi.URLParam(r, "q")

	n := DefaultHistoryLength
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid n (use an integer)", err)
			return
		}
		n = parsed
	}
	if n > quarter.MaxPreviousN {
		msg := "Invalid n (at most " + strconv.Itoa(quarter.MaxPreviousN) + ")"
		writeError(w, http.StatusBadRequest, msg, nil)
		return
	}

	quarters, err := quarter.PreviousN(q, n)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quarter", err)
		return
	}
	writeJSON(w, http.StatusOK, QuarterListResponse{Quarter: q, Quarters: quarters})
}

// ValidateQuarter reports whether ?q= is a canonical quarter string.
// GET /api/quarters/validate?q=2025-Q1
func (h *Handler) ValidateQuarter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, ValidateQuarterResponse{Quarter: q, Valid: quarter.Validate(q)})
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// Breakdown classifies the months of a quarter for a start date.
// POST /api/commission/breakdown
func (h *Handler) Breakdown(w http.ResponseWriter, r *http.Request) {
	var req BreakdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	q, err := quarter.Parse(req.Quarter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quarter", err)
		return
	}
	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	statuses := commission.ClassifyQuarter(start, q)
	months := q.Months()
	resp := BreakdownResponse{
		Quarter:   q.String(),
		Breakdown: commission.CalculateQuarterBreakdown(start, q),
		Months:    make([]MonthDTO, len(months)),
	}
	for i, m := range months {
		resp.Months[i] = MonthDTO{Month: m.String(), Status: statuses[i]}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Calculate computes a prorated bonus.
// POST /api/commission/calculate
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := req.Breakdown.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid breakdown", err)
		return
	}

	res, err := commission.Calculate(req.Attainment, req.Quota, req.QuarterlyBonusAmount, req.Breakdown)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid calculation input", err)
		return
	}
	writeJSON(w, http.StatusOK, CalculateResponse{
		Result:  res,
		Rounded: commission.Money(res.Amount).StringFixed(2),
	})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
// GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns an employee with compensation history and bonuses.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	emp, err := h.Store.GetEmployee(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	comps, err := h.Store.ListCompensations(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get compensation", err)
		return
	}
	bonuses, err := h.Store.ListBonuses(ctx, sqlite.BonusFilter{EmployeeID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get bonuses", err)
		return
	}

	detail := EmployeeDetailDTO{
		EmployeeDTO:  toEmployeeDTO(*emp),
		Compensation: make([]CompensationDTO, len(comps)),
		Bonuses:      make([]BonusDTO, len(bonuses)),
	}
	for i, c := range comps {
		detail.Compensation[i] = toCompensationDTO(c)
	}
	for i, b := range bonuses {
		detail.Bonuses[i] = toBonusDTO(b)
		detail.Bonuses[i].EmployeeName = emp.Name
	}
	writeJSON(w, http.StatusOK, detail)
}

// CreateEmployee creates a new employee.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Name and email are required", nil)
		return
	}

	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	emp := sqlite.Employee{
		ID:        req.ID,
		Name:      req.Name,
		Email:     req.Email,
		StartDate: start,
	}
	if emp.ID == "" {
		emp.ID = uuid.NewString()
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		if errors.Is(err, sqlite.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "Email already in use", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// SetCompensation records an annual bonus effective from a quarter.
// POST /api/employees/{id}/compensation
func (h *Handler) SetCompensation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req CompensationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	effective, err := quarter.Parse(req.EffectiveQuarter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_quarter", err)
		return
	}
	if req.AnnualBonus < 0 {
		writeError(w, http.StatusBadRequest, "annual_bonus must be 0 or greater", nil)
		return
	}

	emp, err := h.Store.GetEmployee(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	comp := sqlite.Compensation{
		ID:               uuid.NewString(),
		EmployeeID:       id,
		EffectiveQuarter: effective,
		AnnualBonus:      decimal.NewFromFloat(req.AnnualBonus),
	}
	if err := h.Store.SaveCompensation(ctx, comp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save compensation", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCompensationDTO(comp))
}

// =============================================================================
// BONUS HANDLERS
// =============================================================================

// ListBonuses returns stored bonuses, optionally for one quarter.
// GET /api/bonuses?quarter=2025-Q1&status=draft
func (h *Handler) ListBonuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var filter sqlite.BonusFilter
	if raw := r.URL.Query().Get("quarter"); raw != "" {
		q, err := quarter.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid quarter", err)
			return
		}
		filter.Quarter = &q
	}
	filter.Status = sqlite.BonusStatus(r.URL.Query().Get("status"))

	bonuses, err := h.Store.ListBonuses(ctx, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bonuses", err)
		return
	}

	employees, err := h.Store.ListEmployees(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}
	names := make(map[string]string, len(employees))
	for _, e := range employees {
		names[e.ID] = e.Name
	}

	dtos := make([]BonusDTO, len(bonuses))
	for i, b := range bonuses {
		dtos[i] = toBonusDTO(b)
		dtos[i].EmployeeName = names[b.EmployeeID]
	}
	writeJSON(w, http.StatusOK, map[string]any{"bonuses": dtos})
}

// CreateBonus records a draft bonus for one employee and quarter.
// POST /api/bonuses
func (h *Handler) CreateBonus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmployeeID string  `json:"employee_id"`
		Quarter    string  `json:"quarter"`
		Quota      float64 `json:"quota"`
		Attainment float64 `json:"attainment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	q, err := quarter.Parse(req.Quarter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quarter", err)
		return
	}
	emp, err := h.Store.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	annual, ok, err := h.Store.AnnualBonusFor(ctx, emp.ID, q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get compensation", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "No annual bonus on record for this quarter", nil)
		return
	}

	annualF, _ := annual.Float64()
	quarterly := commission.QuarterlyFromAnnual(annualF)
	breakdown := commission.CalculateQuarterBreakdown(emp.StartDate, q)
	amount, err := commission.CalculateBonus(req.Attainment, req.Quota, quarterly, breakdown)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid calculation input", err)
		return
	}

	bonus := sqlite.Bonus{
		ID:             uuid.NewString(),
		EmployeeID:     emp.ID,
		Quarter:        q,
		Quota:          req.Quota,
		Attainment:     req.Attainment,
		QuarterlyBonus: commission.Money(quarterly),
		Breakdown:      breakdown,
		Amount:         commission.Money(amount),
		Status:         sqlite.BonusDraft,
	}
	if err := h.Store.SaveDraftBonus(ctx, bonus); err != nil {
		if errors.Is(err, sqlite.ErrBonusConfirmed) {
			writeError(w, http.StatusConflict, "Bonus is already confirmed", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to save bonus", err)
		return
	}

	dto := toBonusDTO(bonus)
	dto.EmployeeName = emp.Name
	writeJSON(w, http.StatusCreated, dto)
}

// PreviewImport evaluates an import without saving anything.
// POST /api/bonuses/import/preview
//
// Accepts either a JSON ImportRequest or a multipart form with a "quarter"
// field and a "file" upload (.csv or .xlsx).
func (h *Handler) PreviewImport(w http.ResponseWriter, r *http.Request) {
	q, rows, ok := h.readImport(w, r)
	if !ok {
		return
	}

	preview, err := h.Importer.Preview(r.Context(), q, rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to preview import", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// ConfirmImport evaluates an import and persists its valid rows.
// POST /api/bonuses/import/confirm
func (h *Handler) ConfirmImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, rows, ok := h.readImport(w, r)
	if !ok {
		return
	}

	preview, err := h.Importer.Preview(ctx, q, rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to evaluate import", err)
		return
	}
	res, err := h.Importer.Confirm(ctx, preview)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to confirm import", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  res,
		"preview": preview,
	})
}

// readImport parses either request form. It writes the error response
// itself and returns ok=false on bad input.
func (h *Handler) readImport(w http.ResponseWriter, r *http.Request) (quarter.Quarter, []importer.Row, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upload", err)
			return quarter.Quarter{}, nil, false
		}
		q, err := quarter.Parse(r.FormValue("quarter"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid quarter", err)
			return quarter.Quarter{}, nil, false
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Missing file", err)
			return quarter.Quarter{}, nil, false
		}
		defer file.Close()

		rows, err := importer.Read(header.Filename, file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid import file", err)
			return quarter.Quarter{}, nil, false
		}
		return q, rows, true
	}

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return quarter.Quarter{}, nil, false
	}
	q, err := quarter.Parse(req.Quarter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quarter", err)
		return quarter.Quarter{}, nil, false
	}
	rows := make([]importer.Row, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = importer.Row{
			Line:       i + 1,
			Email:      strings.TrimSpace(row.Email),
			Quota:      row.Quota,
			Attainment: row.Attainment,
		}
	}
	return q, rows, true
}

// =============================================================================
// RECALCULATION HANDLERS
// =============================================================================

// TriggerRecalculation recalculates the draft bonuses of a quarter now.
// POST /api/bonuses/recalculate
func (h *Handler) TriggerRecalculation(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	q := quarter.PreviousFrom(h.Clock)
	if req.Quarter != "" {
		parsed, err := quarter.Parse(req.Quarter)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid quarter", err)
			return
		}
		q = parsed
	}

	run, err := Recalculate(r.Context(), h.Store, q, h.log)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Recalculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// ListRecalculationRuns returns recalculation run history.
// GET /api/recalculation/runs?status=completed
func (h *Handler) ListRecalculationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRecalculationRuns(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get recalculation runs", err)
		return
	}

	dtos := make([]RecalculationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: errorCode(status, err)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// errorCode gives clients a stable machine-readable reason.
func errorCode(status int, err error) string {
	switch {
	case errors.Is(err, quarter.ErrInvalidFormat):
		return "invalid_quarter"
	case errors.Is(err, commission.ErrInvalidQuota):
		return "invalid_quota"
	case errors.Is(err, commission.ErrInvalidAttainment):
		return "invalid_attainment"
	case errors.Is(err, commission.ErrInvalidBreakdown):
		return "invalid_breakdown"
	case errors.Is(err, commission.ErrNonFinite):
		return "non_finite_amount"
	case errors.Is(err, sqlite.ErrBonusConfirmed):
		return "bonus_confirmed"
	case errors.Is(err, sqlite.ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, importer.ErrMissingColumn):
		return "missing_column"
	}

	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// parseOptionalDate treats nil and "" as an unknown date.
func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(*s))
	if err != nil {
		return nil, err
	}
	return &t, nil
}
