/*
Package sqlite provides the SQLite-backed store for the people ops service.

PURPOSE:
  Persists the inputs and outputs that surround the commission calculator:
  employees (with nullable start dates), compensation history (annual OTE
  bonus by effective quarter), calculated commission bonuses, and the runs
  of the recalculation scheduler.

KEY TABLES:
  employees:           id, email (unique), start_date (NULL = unknown)
  compensations:       annual bonus per employee, effective from a quarter
  commission_bonuses:  one row per (employee, quarter), upserted
  recalculation_runs:  scheduler audit trail

DATES AND MONEY:
  Dates are stored as RFC3339 text. Quarters are stored in canonical
  "YYYY-QN" form, which sorts chronologically as text. Money is stored as
  decimal text, never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite WAL mode.

USAGE:
  store, err := sqlite.New("./data/peopleops.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - importer/importer.go: writes confirmed bonuses
  - api/scheduler.go: writes recalculation runs
*/
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/quarter"
)

// ErrDuplicateEmail is returned when two employees share an email.
var ErrDuplicateEmail = eris.New("employee email already exists")

// ErrBonusConfirmed is returned when a draft write targets a bonus that is
// already confirmed.
var ErrBonusConfirmed = eris.New("bonus is already confirmed")

// Store implements persistence using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open database")
	}
	// Each :memory: connection is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		start_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_email
		ON employees(email COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS compensations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		effective_quarter TEXT NOT NULL,
		annual_bonus TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_compensations_employee_quarter
		ON compensations(employee_id, effective_quarter DESC);

	CREATE TABLE IF NOT EXISTS commission_bonuses (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		quarter TEXT NOT NULL,
		quota REAL NOT NULL,
		attainment REAL NOT NULL,
		quarterly_bonus TEXT NOT NULL,
		not_employed_months INTEGER NOT NULL,
		ramp_up_months INTEGER NOT NULL,
		post_ramp_up_months INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, quarter)
	);

	CREATE INDEX IF NOT EXISTS idx_commission_bonuses_quarter
		ON commission_bonuses(quarter, status);

	CREATE TABLE IF NOT EXISTS recalculation_runs (
		id TEXT PRIMARY KEY,
		quarter TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		updated INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recalculation_runs_quarter
		ON recalculation_runs(quarter, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"commission_bonuses", "compensations", "recalculation_runs", "employees"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: reset %s", table)
		}
	}
	return nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// Employee represents an employee record. StartDate is nil when unknown.
type Employee struct {
	ID        string
	Name      string
	Email     string
	StartDate *time.Time
	CreatedAt time.Time
}

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, start_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			start_date = excluded.start_date
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, strings.TrimSpace(emp.Email),
		nullTime(emp.StartDate),
		time.Now().UTC().Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return eris.Wrapf(ErrDuplicateEmail, "sqlite: save employee %s", emp.Email)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: save employee")
	}
	return nil
}

const employeeColumns = "id, name, email, start_date, created_at"

// GetEmployee retrieves an employee by ID. Returns nil, nil if not found.
func (s *Store) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	return scanEmployeeRow(row)
}

// GetEmployeeByEmail looks up an employee case-insensitively by email.
// Returns nil, nil if not found.
func (s *Store) GetEmployeeByEmail(ctx context.Context, email string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE email = ? COLLATE NOCASE",
		strings.TrimSpace(email),
	)
	return scanEmployeeRow(row)
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY name")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list employees")
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// DeleteEmployee removes an employee and, by cascade, their records.
func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row scanner) (Employee, error) {
	var emp Employee
	var startDate sql.NullString
	var createdAt string
	if err := row.Scan(&emp.ID, &emp.Name, &emp.Email, &startDate, &createdAt); err != nil {
		return Employee{}, err
	}
	emp.StartDate = parseNullTime(startDate)
	emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return emp, nil
}

func scanEmployeeRow(row *sql.Row) (*Employee, error) {
	emp, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get employee")
	}
	return &emp, nil
}

// =============================================================================
// COMPENSATION STORE
// =============================================================================

// Compensation is an annual OTE bonus effective from a quarter onward.
type Compensation struct {
	ID               string
	EmployeeID       string
	EffectiveQuarter quarter.Quarter
	AnnualBonus      decimal.Decimal
	CreatedAt        time.Time
}

// SaveCompensation inserts or replaces a compensation record.
func (s *Store) SaveCompensation(ctx context.Context, c Compensation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO compensations (id, employee_id, effective_quarter, annual_bonus, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			effective_quarter = excluded.effective_quarter,
			annual_bonus = excluded.annual_bonus
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.EmployeeID, c.EffectiveQuarter.String(), c.AnnualBonus.String(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: save compensation")
	}
	return nil
}

// ListCompensations returns an employee's compensation history, newest first.
func (s *Store) ListCompensations(ctx context.Context, employeeID string) ([]Compensation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, effective_quarter, annual_bonus, created_at
		FROM compensations WHERE employee_id = ?
		ORDER BY effective_quarter DESC, created_at DESC`, employeeID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list compensations")
	}
	defer rows.Close()

	var out []Compensation
	for rows.Next() {
		var c Compensation
		var q, annual, createdAt string
		if err := rows.Scan(&c.ID, &c.EmployeeID, &q, &annual, &createdAt); err != nil {
			return nil, err
		}
		c.EffectiveQuarter, _ = quarter.Parse(q)
		c.AnnualBonus = parseDecimal(annual)
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AnnualBonusFor returns the annual bonus in effect for q: the latest
// compensation whose effective quarter is q or earlier. ok is false when
// the employee has no such record.
func (s *Store) AnnualBonusFor(ctx context.Context, employeeID string, q quarter.Quarter) (amount decimal.Decimal, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var annual string
	err = s.db.QueryRowContext(ctx, `
		SELECT annual_bonus FROM compensations
		WHERE employee_id = ? AND effective_quarter <= ?
		ORDER BY effective_quarter DESC, created_at DESC
		LIMIT 1`, employeeID, q.String()).Scan(&annual)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, eris.Wrap(err, "sqlite: annual bonus lookup")
	}
	return parseDecimal(annual), true, nil
}

// =============================================================================
// COMMISSION BONUS STORE
// =============================================================================

// BonusStatus tracks whether a bonus is still recalculable.
type BonusStatus string

const (
	BonusDraft     BonusStatus = "draft"
	BonusConfirmed BonusStatus = "confirmed"
)

// Bonus is a calculated commission bonus for one employee and quarter.
type Bonus struct {
	ID             string
	EmployeeID     string
	Quarter        quarter.Quarter
	Quota          float64
	Attainment     float64
	QuarterlyBonus decimal.Decimal
	Breakdown      commission.Breakdown
	Amount         decimal.Decimal
	Status         BonusStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SaveBonus upserts a bonus keyed by (employee, quarter). The existing row
// keeps its ID and creation time.
func (s *Store) SaveBonus(ctx context.Context, b Bonus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Status == "" {
		b.Status = BonusDraft
	}
	if _, err := s.upsertBonus(ctx, b, ""); err != nil {
		return eris.Wrapf(err, "sqlite: save bonus %s/%s", b.EmployeeID, b.Quarter)
	}
	return nil
}

// SaveDraftBonus upserts b as a draft unless the stored bonus for the same
// employee and quarter is confirmed, in which case nothing is written and
// ErrBonusConfirmed is returned. The check and the write are one statement.
func (s *Store) SaveDraftBonus(ctx context.Context, b Bonus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.Status = BonusDraft
	n, err := s.upsertBonus(ctx, b, "WHERE commission_bonuses.status = 'draft'")
	if err != nil {
		return eris.Wrapf(err, "sqlite: save draft bonus %s/%s", b.EmployeeID, b.Quarter)
	}
	if n == 0 {
		return eris.Wrapf(ErrBonusConfirmed, "sqlite: save draft bonus %s/%s", b.EmployeeID, b.Quarter)
	}
	return nil
}

// upsertBonus runs the insert-or-update and returns the rows affected.
// guard is an optional WHERE clause on the update branch.
func (s *Store) upsertBonus(ctx context.Context, b Bonus, guard string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO commission_bonuses (
			id, employee_id, quarter, quota, attainment, quarterly_bonus,
			not_employed_months, ramp_up_months, post_ramp_up_months,
			amount, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, quarter) DO UPDATE SET
			quota = excluded.quota,
			attainment = excluded.attainment,
			quarterly_bonus = excluded.quarterly_bonus,
			not_employed_months = excluded.not_employed_months,
			ramp_up_months = excluded.ramp_up_months,
			post_ramp_up_months = excluded.post_ramp_up_months,
			amount = excluded.amount,
			status = excluded.status,
			updated_at = excluded.updated_at
		` + guard
	res, err := s.db.ExecContext(ctx, query,
		b.ID, b.EmployeeID, b.Quarter.String(), b.Quota, b.Attainment, b.QuarterlyBonus.String(),
		b.Breakdown.NotEmployedMonths, b.Breakdown.RampUpMonths, b.Breakdown.PostRampUpMonths,
		b.Amount.String(), string(b.Status), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const bonusColumns = `id, employee_id, quarter, quota, attainment, quarterly_bonus,
	not_employed_months, ramp_up_months, post_ramp_up_months,
	amount, status, created_at, updated_at`

// GetBonus returns the bonus for an employee and quarter, or nil, nil.
func (s *Store) GetBonus(ctx context.Context, employeeID string, q quarter.Quarter) (*Bonus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+bonusColumns+" FROM commission_bonuses WHERE employee_id = ? AND quarter = ?",
		employeeID, q.String())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get bonus")
	}
	bonuses, err := scanBonuses(rows)
	if err != nil || len(bonuses) == 0 {
		return nil, err
	}
	return &bonuses[0], nil
}

// BonusFilter narrows ListBonuses. Zero fields match everything.
type BonusFilter struct {
	Quarter    *quarter.Quarter
	EmployeeID string
	Status     BonusStatus
}

// ListBonuses returns bonuses matching the filter, newest quarter first.
func (s *Store) ListBonuses(ctx context.Context, f BonusFilter) ([]Bonus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + bonusColumns + " FROM commission_bonuses WHERE 1=1"
	var args []any
	if f.Quarter != nil {
		query += " AND quarter = ?"
		args = append(args, f.Quarter.String())
	}
	if f.EmployeeID != "" {
		query += " AND employee_id = ?"
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY quarter DESC, employee_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list bonuses")
	}
	return scanBonuses(rows)
}

func scanBonuses(rows *sql.Rows) ([]Bonus, error) {
	defer rows.Close()

	var out []Bonus
	for rows.Next() {
		var b Bonus
		var q, quarterly, amount, status, createdAt, updatedAt string
		if err := rows.Scan(
			&b.ID, &b.EmployeeID, &q, &b.Quota, &b.Attainment, &quarterly,
			&b.Breakdown.NotEmployedMonths, &b.Breakdown.RampUpMonths, &b.Breakdown.PostRampUpMonths,
			&amount, &status, &createdAt, &updatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bonus")
		}
		b.Quarter, _ = quarter.Parse(q)
		b.QuarterlyBonus = parseDecimal(quarterly)
		b.Amount = parseDecimal(amount)
		b.Status = BonusStatus(status)
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// RECALCULATION RUNS
// =============================================================================

// RecalculationRun records one pass of the recalculation scheduler.
type RecalculationRun struct {
	ID          string
	Quarter     quarter.Quarter
	Status      string // "running", "completed", "failed"
	Updated     int
	Failed      int
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// SaveRecalculationRun inserts or updates a run record.
func (s *Store) SaveRecalculationRun(ctx context.Context, r RecalculationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO recalculation_runs (id, quarter, status, updated, failed, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated = excluded.updated,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Quarter.String(), r.Status, r.Updated, r.Failed, nullString(r.Error),
		nullTime(r.StartedAt), nullTime(r.CompletedAt),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: save recalculation run")
	}
	return nil
}

// ListRecalculationRuns returns runs, newest first. An empty status matches all.
func (s *Store) ListRecalculationRuns(ctx context.Context, status string) ([]RecalculationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, quarter, status, updated, failed, error, started_at, completed_at, created_at
		FROM recalculation_runs`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recalculation runs")
	}
	defer rows.Close()

	var runs []RecalculationRun
	for rows.Next() {
		var r RecalculationRun
		var q, createdAt string
		var errStr, startedAt, completedAt sql.NullString
		if err := rows.Scan(&r.ID, &q, &r.Status, &r.Updated, &r.Failed, &errStr, &startedAt, &completedAt, &createdAt); err != nil {
			return nil, err
		}
		r.Quarter, _ = quarter.Parse(q)
		r.Error = errStr.String
		r.StartedAt = parseNullTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// IsRecalculationComplete reports whether a completed run exists for q.
func (s *Store) IsRecalculationComplete(ctx context.Context, q quarter.Quarter) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM recalculation_runs WHERE quarter = ? AND status = 'completed'",
		q.String()).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: recalculation status")
	}
	return count > 0, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
