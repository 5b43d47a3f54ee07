package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/quarter"
	"github.com/warp/peopleops/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func day(year int, month time.Month, d int) *time.Time {
	t := time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestEmployee_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{
		ID: "emp-1", Name: "Ada", Email: "ada@example.com", StartDate: day(2024, time.November, 15),
	}))
	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{
		ID: "emp-2", Name: "Bo", Email: "bo@example.com",
	}))

	emp, err := store.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, emp)
	require.NotNil(t, emp.StartDate)
	assert.Equal(t, "2024-11-15", emp.StartDate.Format("2006-01-02"))

	emp, err = store.GetEmployeeByEmail(ctx, "  BO@example.com ")
	require.NoError(t, err)
	require.NotNil(t, emp)
	assert.Equal(t, "emp-2", emp.ID)
	assert.Nil(t, emp.StartDate, "unknown start date stays nil")

	missing, err := store.GetEmployee(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEmployee_DuplicateEmailRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "a", Name: "A", Email: "same@example.com"}))
	err := store.SaveEmployee(ctx, sqlite.Employee{ID: "b", Name: "B", Email: "Same@example.com"})
	assert.ErrorIs(t, err, sqlite.ErrDuplicateEmail)
}

func TestAnnualBonusFor_LatestEffective(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "emp-1", Name: "Ada", Email: "ada@example.com"}))
	require.NoError(t, store.SaveCompensation(ctx, sqlite.Compensation{
		ID: "c1", EmployeeID: "emp-1", EffectiveQuarter: quarter.MustParse("2024-Q1"), AnnualBonus: decimal.NewFromInt(40000),
	}))
	require.NoError(t, store.SaveCompensation(ctx, sqlite.Compensation{
		ID: "c2", EmployeeID: "emp-1", EffectiveQuarter: quarter.MustParse("2025-Q1"), AnnualBonus: decimal.NewFromInt(48000),
	}))

	got, ok, err := store.AnnualBonusFor(ctx, "emp-1", quarter.MustParse("2024-Q4"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(40000)), "got %s", got)

	got, ok, err = store.AnnualBonusFor(ctx, "emp-1", quarter.MustParse("2025-Q2"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(48000)), "got %s", got)

	_, ok, err = store.AnnualBonusFor(ctx, "emp-1", quarter.MustParse("2023-Q4"))
	require.NoError(t, err)
	assert.False(t, ok)

	history, err := store.ListCompensations(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-Q1", history[0].EffectiveQuarter.String())
}

func TestBonus_UpsertByEmployeeAndQuarter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := quarter.MustParse("2025-Q1")

	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "emp-1", Name: "Ada", Email: "ada@example.com"}))

	first := sqlite.Bonus{
		ID: "b1", EmployeeID: "emp-1", Quarter: q,
		Quota: 100000, Attainment: 50000,
		QuarterlyBonus: decimal.NewFromInt(12000),
		Breakdown:      commission.Breakdown{RampUpMonths: 1, PostRampUpMonths: 2},
		Amount:         decimal.NewFromInt(8000),
	}
	require.NoError(t, store.SaveBonus(ctx, first))

	second := first
	second.ID = "b2"
	second.Attainment = 100000
	second.Amount = decimal.NewFromInt(12000)
	second.Status = sqlite.BonusConfirmed
	require.NoError(t, store.SaveBonus(ctx, second))

	got, err := store.GetBonus(ctx, "emp-1", q)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b1", got.ID, "upsert keeps the original row")
	assert.Equal(t, 100000.0, got.Attainment)
	assert.Equal(t, sqlite.BonusConfirmed, got.Status)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(12000)))
	assert.Equal(t, commission.Breakdown{RampUpMonths: 1, PostRampUpMonths: 2}, got.Breakdown)

	list, err := store.ListBonuses(ctx, sqlite.BonusFilter{Quarter: &q})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	drafts, err := store.ListBonuses(ctx, sqlite.BonusFilter{Status: sqlite.BonusDraft})
	require.NoError(t, err)
	assert.Empty(t, drafts)

	none, err := store.GetBonus(ctx, "emp-1", quarter.MustParse("2025-Q2"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRecalculationRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := quarter.MustParse("2025-Q1")

	done, err := store.IsRecalculationComplete(ctx, q)
	require.NoError(t, err)
	assert.False(t, done)

	started := time.Now()
	run := sqlite.RecalculationRun{ID: "run-1", Quarter: q, Status: "running", StartedAt: &started}
	require.NoError(t, store.SaveRecalculationRun(ctx, run))

	run.Status = "completed"
	run.Updated = 3
	require.NoError(t, store.SaveRecalculationRun(ctx, run))

	done, err = store.IsRecalculationComplete(ctx, q)
	require.NoError(t, err)
	assert.True(t, done)

	runs, err := store.ListRecalculationRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Updated)
	assert.Equal(t, "2025-Q1", runs[0].Quarter.String())
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "emp-1", Name: "Ada", Email: "ada@example.com"}))
	require.NoError(t, store.Reset(ctx))

	all, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSaveDraftBonus_NeverDowngradesConfirmed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	q := quarter.MustParse("2025-Q1")
	require.NoError(t, store.SaveEmployee(ctx, sqlite.Employee{ID: "emp-1", Name: "Ada", Email: "ada@example.com"}))

	draft := sqlite.Bonus{
		ID: "b1", EmployeeID: "emp-1", Quarter: q,
		Quota: 100000, Attainment: 50000,
		QuarterlyBonus: decimal.NewFromInt(12000),
		Breakdown:      commission.Breakdown{RampUpMonths: 1, PostRampUpMonths: 2},
		Amount:         decimal.NewFromInt(8000),
	}

	// GIVEN: a draft can be inserted and then replaced
	require.NoError(t, store.SaveDraftBonus(ctx, draft))
	draft.Attainment = 60000
	require.NoError(t, store.SaveDraftBonus(ctx, draft))

	// WHEN: the bonus is confirmed and a draft write follows
	confirmed := draft
	confirmed.Status = sqlite.BonusConfirmed
	confirmed.Amount = decimal.NewFromInt(9000)
	require.NoError(t, store.SaveBonus(ctx, confirmed))

	draft.Amount = decimal.NewFromInt(1)
	err := store.SaveDraftBonus(ctx, draft)

	// THEN: the write is refused and the confirmed row is untouched
	require.ErrorIs(t, err, sqlite.ErrBonusConfirmed)
	got, err := store.GetBonus(ctx, "emp-1", q)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sqlite.BonusConfirmed, got.Status)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(9000)))
}
