/*
handlers_test.go - Tests for API handlers

Tests for:
- Quarter arithmetic endpoints
- Breakdown and calculator endpoints, including error codes
- Employee and compensation lifecycle
- Draft bonuses, bulk import (JSON and CSV upload), recalculation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/importer"
	"github.com/warp/peopleops/quarter"
	"github.com/warp/peopleops/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// Feb 10 2025 is in 2025-Q1, so the previous quarter is 2024-Q4.
var testNow = time.Date(2025, time.February, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	handler *Handler
	router  *chi.Mux
	store   *sqlite.Store
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	im := importer.New(store, importer.WithLogger(zap.NewNop()))
	h := NewHandler(store, im, quarter.FixedClock(testNow))
	return &testServer{handler: h, router: NewRouter(h), store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) seedEmployee(t *testing.T, id, email string, start *time.Time, annual int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ts.store.SaveEmployee(ctx, sqlite.Employee{ID: id, Name: id, Email: email, StartDate: start}))
	require.NoError(t, ts.store.SaveCompensation(ctx, sqlite.Compensation{
		ID: "comp-" + id, EmployeeID: id,
		EffectiveQuarter: quarter.MustParse("2024-Q1"),
		AnnualBonus:      decimal.NewFromInt(annual),
	}))
}

func date(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

// =============================================================================
// QUARTERS
// =============================================================================

func TestQuarterEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/quarters/previous", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-Q4", decode[QuarterResponse](t, rec).Quarter)

	rec = ts.do(t, http.MethodGet, "/api/quarters/2024-Q4/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-Q1", decode[QuarterResponse](t, rec).Quarter)

	rec = ts.do(t, http.MethodGet, "/api/quarters/2025-Q1/previous?n=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2024-Q4", "2024-Q3", "2024-Q2"}, decode[QuarterListResponse](t, rec).Quarters)

	rec = ts.do(t, http.MethodGet, "/api/quarters/2025-Q1/previous", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[QuarterListResponse](t, rec).Quarters, DefaultHistoryLength)

	rec = ts.do(t, http.MethodGet, "/api/quarters/2025-Q1/previous?n=400", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[QuarterListResponse](t, rec).Quarters
	require.Len(t, history, quarter.MaxPreviousN)
	assert.Equal(t, "1925-Q1", history[len(history)-1])

	rec = ts.do(t, http.MethodGet, "/api/quarters/validate?q=2025-Q5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ValidateQuarterResponse](t, rec).Valid)

	rec = ts.do(t, http.MethodGet, "/api/quarters/validate?q=2025-Q2", nil)
	assert.True(t, decode[ValidateQuarterResponse](t, rec).Valid)
}

func TestQuarterEndpoints_InvalidInput(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		path string
		code string
	}{
		{"/api/quarters/25-Q1/next", "invalid_quarter"},
		{"/api/quarters/2025-Q5/previous?n=2", "invalid_quarter"},
		{"/api/quarters/2025-Q1/previous?n=two", "bad_request"},
		{"/api/quarters/2025-Q1/previous?n=401", "bad_request"},
		{"/api/quarters/2025-Q1/previous?n=1099511627776", "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

// =============================================================================
// COMMISSION
// =============================================================================

func TestBreakdownEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	// GIVEN: a mid-November hire
	start := "2024-11-15"
	rec := ts.do(t, http.MethodPost, "/api/commission/breakdown", BreakdownRequest{StartDate: &start, Quarter: "2025-Q1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: January is the last ramp-up month
	resp := decode[BreakdownResponse](t, rec)
	assert.Equal(t, commission.Breakdown{RampUpMonths: 1, PostRampUpMonths: 2}, resp.Breakdown)
	require.Len(t, resp.Months, 3)
	assert.Equal(t, MonthDTO{Month: "2025-01", Status: commission.MonthRampUp}, resp.Months[0])
	assert.Equal(t, commission.MonthPostRampUp, resp.Months[2].Status)

	// Unknown start date
	rec = ts.do(t, http.MethodPost, "/api/commission/breakdown", map[string]any{"start_date": nil, "quarter": "2025-Q1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, commission.FullyEmployed, decode[BreakdownResponse](t, rec).Breakdown)

	rec = ts.do(t, http.MethodPost, "/api/commission/breakdown", BreakdownRequest{Quarter: "2025-Q9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := "15/11/2024"
	rec = ts.do(t, http.MethodPost, "/api/commission/breakdown", BreakdownRequest{StartDate: &bad, Quarter: "2025-Q1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalculateEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/commission/calculate", CalculateRequest{
		Attainment:           50000,
		Quota:                100000,
		QuarterlyBonusAmount: 12000,
		Breakdown:            commission.Breakdown{RampUpMonths: 1, PostRampUpMonths: 2},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[CalculateResponse](t, rec)
	assert.InDelta(t, 8000.0, resp.Amount, 1e-9)
	assert.InDelta(t, 50.0, resp.AttainmentPercentage, 1e-9)
	assert.Equal(t, "8000.00", resp.Rounded)
}

func TestCalculateEndpoint_Errors(t *testing.T) {
	ts := setupTestServer(t)
	full := commission.FullyEmployed

	tests := []struct {
		name string
		req  CalculateRequest
		code string
	}{
		{"zero quota", CalculateRequest{Attainment: 1, Quota: 0, QuarterlyBonusAmount: 1, Breakdown: full}, "invalid_quota"},
		{"quota checked first", CalculateRequest{Attainment: -1, Quota: -1, QuarterlyBonusAmount: 1, Breakdown: full}, "invalid_quota"},
		{"negative attainment", CalculateRequest{Attainment: -1, Quota: 10, QuarterlyBonusAmount: 1, Breakdown: full}, "invalid_attainment"},
		{"breakdown not three months", CalculateRequest{Attainment: 1, Quota: 10, Breakdown: commission.Breakdown{RampUpMonths: 1}}, "invalid_breakdown"},
		{"overflowing amount", CalculateRequest{Attainment: 1e308, Quota: 1e-300, QuarterlyBonusAmount: 12000, Breakdown: full}, "non_finite_amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/commission/calculate", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestEmployeeLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	start := "2024-11-15"
	rec := ts.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{
		ID: "emp-ada", Name: "Ada", Email: "ada@example.com", StartDate: &start,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Duplicate email, different case
	rec = ts.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{Name: "Other", Email: "ADA@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_email", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{Name: "No Email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/employees/emp-ada/compensation", CompensationRequest{
		EffectiveQuarter: "2024-Q4", AnnualBonus: 48000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "48000.00", decode[CompensationDTO](t, rec).AnnualBonus)

	rec = ts.do(t, http.MethodPost, "/api/employees/nobody/compensation", CompensationRequest{
		EffectiveQuarter: "2024-Q4", AnnualBonus: 1,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/employees/emp-ada", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[EmployeeDetailDTO](t, rec)
	require.NotNil(t, detail.StartDate)
	assert.Equal(t, "2024-11-15", *detail.StartDate)
	require.Len(t, detail.Compensation, 1)
	assert.Empty(t, detail.Bonuses)

	rec = ts.do(t, http.MethodGet, "/api/employees", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EmployeeDTO](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/employees/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// BONUSES
// =============================================================================

func TestCreateBonus(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedEmployee(t, "emp-ada", "ada@example.com", date(2024, time.November, 15), 48000)

	rec := ts.do(t, http.MethodPost, "/api/bonuses", map[string]any{
		"employee_id": "emp-ada", "quarter": "2025-Q1", "quota": 100000, "attainment": 50000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	bonus := decode[BonusDTO](t, rec)
	assert.Equal(t, "8000.00", bonus.Amount)
	assert.Equal(t, "12000.00", bonus.QuarterlyBonus)
	assert.Equal(t, "draft", bonus.Status)

	rec = ts.do(t, http.MethodGet, "/api/bonuses?quarter=2025-Q1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]BonusDTO](t, rec)["bonuses"]
	require.Len(t, list, 1)
	assert.Equal(t, "emp-ada", list[0].EmployeeName)

	rec = ts.do(t, http.MethodGet, "/api/bonuses?quarter=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No compensation in effect before 2024-Q1
	rec = ts.do(t, http.MethodPost, "/api/bonuses", map[string]any{
		"employee_id": "emp-ada", "quarter": "2023-Q4", "quota": 1, "attainment": 1,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/bonuses", map[string]any{
		"employee_id": "emp-ada", "quarter": "2025-Q1", "quota": 0, "attainment": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quota", decode[ErrorResponse](t, rec).Code)
}

func TestCreateBonus_ConfirmedIsImmutable(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedEmployee(t, "emp-ada", "ada@example.com", nil, 48000)
	q := quarter.MustParse("2025-Q1")

	require.NoError(t, ts.store.SaveBonus(context.Background(), sqlite.Bonus{
		ID: "b1", EmployeeID: "emp-ada", Quarter: q, Quota: 1, Attainment: 1,
		QuarterlyBonus: decimal.NewFromInt(12000), Breakdown: commission.FullyEmployed,
		Amount: decimal.NewFromInt(12000), Status: sqlite.BonusConfirmed,
	}))

	rec := ts.do(t, http.MethodPost, "/api/bonuses", map[string]any{
		"employee_id": "emp-ada", "quarter": "2025-Q1", "quota": 10, "attainment": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "bonus_confirmed", decode[ErrorResponse](t, rec).Code)

	b, err := ts.store.GetBonus(context.Background(), "emp-ada", q)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, sqlite.BonusConfirmed, b.Status)
	assert.Equal(t, "12000", b.Amount.String())
}

func TestCreateBonus_OverflowingAmount(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedEmployee(t, "emp-ada", "ada@example.com", nil, 48000)

	rec := ts.do(t, http.MethodPost, "/api/bonuses", map[string]any{
		"employee_id": "emp-ada", "quarter": "2025-Q1", "quota": 1e-300, "attainment": 1e308,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "non_finite_amount", decode[ErrorResponse](t, rec).Code)

	b, err := ts.store.GetBonus(context.Background(), "emp-ada", quarter.MustParse("2025-Q1"))
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestImportPreview_JSON(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedEmployee(t, "emp-ada", "ada@example.com", date(2024, time.November, 15), 48000)

	rec := ts.do(t, http.MethodPost, "/api/bonuses/import/preview", ImportRequest{
		Quarter: "2025-Q1",
		Rows: []ImportRowDTO{
			{Email: "ada@example.com", Quota: 100000, Attainment: 50000},
			{Email: "ghost@example.com", Quota: 100000, Attainment: 50000},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	preview := decode[importer.Preview](t, rec)
	assert.Equal(t, 1, preview.Valid)
	assert.Equal(t, 1, preview.Invalid)
	assert.InDelta(t, 8000.0, preview.Rows[0].Amount, 1e-9)
	assert.NotEmpty(t, preview.Rows[1].Error)

	// Nothing is persisted by a preview
	bonuses, err := ts.store.ListBonuses(context.Background(), sqlite.BonusFilter{})
	require.NoError(t, err)
	assert.Empty(t, bonuses)

	rec = ts.do(t, http.MethodPost, "/api/bonuses/import/preview", ImportRequest{Quarter: "Q1-2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quarter", decode[ErrorResponse](t, rec).Code)
}

func TestImportConfirm_CSVUpload(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedEmployee(t, "emp-ada", "ada@example.com", date(2024, time.November, 15), 48000)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("quarter", "2025-Q1"))
	fw, err := mw.CreateFormFile("file", "q1.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("email,quota,attainment\nada@example.com,100000,50000\nghost@example.com,1,1\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/bonuses/import/confirm", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[struct {
		Result importer.ConfirmResult `json:"result"`
	}](t, rec)
	assert.Equal(t, 1, resp.Result.Imported)
	assert.Equal(t, 1, resp.Result.Skipped)

	b, err := ts.store.GetBonus(context.Background(), "emp-ada", quarter.MustParse("2025-Q1"))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, sqlite.BonusConfirmed, b.Status)
	assert.Equal(t, "8000.00", b.Amount.StringFixed(2))
}

func TestImportConfirm_NonFiniteRowIsSkipped(t *testing.T) {
	ts := setupTestServer(t)
	ts.seedEmployee(t, "emp-ada", "ada@example.com", date(2024, time.November, 15), 48000)
	ts.seedEmployee(t, "emp-bo", "bo@example.com", nil, 48000)

	// GIVEN: an upload where one row carries inf/nan values
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("quarter", "2025-Q1"))
	fw, err := mw.CreateFormFile("file", "q1.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("email,quota,attainment\nada@example.com,100000,50000\nbo@example.com,inf,nan\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	// WHEN: confirming
	req := httptest.NewRequest(http.MethodPost, "/api/bonuses/import/confirm", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	// THEN: the good row is saved and the bad one reported
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Result  importer.ConfirmResult `json:"result"`
		Preview importer.Preview       `json:"preview"`
	}](t, rec)
	assert.Equal(t, 1, resp.Result.Imported)
	assert.Equal(t, 1, resp.Result.Skipped)
	require.Len(t, resp.Preview.Rows, 2)
	assert.Contains(t, resp.Preview.Rows[1].Error, "not a finite number")

	b, err := ts.store.GetBonus(context.Background(), "emp-bo", quarter.MustParse("2025-Q1"))
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestImportPreview_UploadMissingColumn(t *testing.T) {
	ts := setupTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("quarter", "2025-Q1"))
	fw, err := mw.CreateFormFile("file", "q1.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("email,quota\nada@example.com,1\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/bonuses/import/preview", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_column", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// RECALCULATION
// =============================================================================

func TestTriggerRecalculation(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	// GIVEN: a draft bonus computed before the start date was known
	ts.seedEmployee(t, "emp-ada", "ada@example.com", nil, 48000)
	rec := ts.do(t, http.MethodPost, "/api/bonuses", map[string]any{
		"employee_id": "emp-ada", "quarter": "2025-Q1", "quota": 100000, "attainment": 50000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "6000.00", decode[BonusDTO](t, rec).Amount)

	// WHEN: the start date is corrected and the quarter recalculated
	require.NoError(t, ts.store.SaveEmployee(ctx, sqlite.Employee{
		ID: "emp-ada", Name: "emp-ada", Email: "ada@example.com", StartDate: date(2024, time.November, 15),
	}))
	rec = ts.do(t, http.MethodPost, "/api/bonuses/recalculate", RecalculateRequest{Quarter: "2025-Q1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the draft reflects the ramp-up month
	run := decode[RecalculationRunDTO](t, rec)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 1, run.Updated)

	b, err := ts.store.GetBonus(ctx, "emp-ada", quarter.MustParse("2025-Q1"))
	require.NoError(t, err)
	assert.Equal(t, "8000.00", b.Amount.StringFixed(2))
	assert.Equal(t, commission.Breakdown{RampUpMonths: 1, PostRampUpMonths: 2}, b.Breakdown)

	rec = ts.do(t, http.MethodGet, "/api/recalculation/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]RecalculationRunDTO](t, rec)["runs"], 1)
}

func TestTriggerRecalculation_DefaultsToPreviousQuarter(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/bonuses/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-Q4", decode[RecalculationRunDTO](t, rec).Quarter)
}
