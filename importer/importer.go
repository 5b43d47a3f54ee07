/*
Package importer implements the bulk commission bonus import.

FLOW:
  1. Read rows (email, quota, attainment) from CSV or XLSX (rows.go)
  2. Preview: per row, resolve the employee by email, look up the annual
     bonus in effect for the quarter (divided by 4), compute the quarter
     breakdown and the bonus. Problems become an error string on that row.
  3. Confirm: persist the valid rows as confirmed bonuses.

DUPLICATES:
  An email may appear once per batch. Later valid rows for an email that
  already has a valid row are marked invalid, so Confirm never overwrites
  a row from the same file.

PARTIAL SUCCESS:
  One bad row never aborts the batch. Preview only fails as a whole for an
  invalid quarter or a store failure that is not specific to a row.

CONCURRENCY:
  Rows are evaluated concurrently with a bounded errgroup. The calculator
  is pure, so the only shared state is the result slice, indexed by row.
*/
package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/quarter"
	"github.com/warp/peopleops/store/sqlite"
)

// DefaultConcurrency bounds concurrent row evaluation.
const DefaultConcurrency = 8

// Store is the persistence the importer needs.
type Store interface {
	GetEmployeeByEmail(ctx context.Context, email string) (*sqlite.Employee, error)
	AnnualBonusFor(ctx context.Context, employeeID string, q quarter.Quarter) (decimal.Decimal, bool, error)
	SaveBonus(ctx context.Context, b sqlite.Bonus) error
}

// Importer previews and confirms bonus imports.
type Importer struct {
	store       Store
	concurrency int
	log         *zap.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithConcurrency sets the number of rows evaluated at once.
func WithConcurrency(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.concurrency = n
		}
	}
}

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(im *Importer) { im.log = l }
}

// New creates an Importer.
func New(store Store, opts ...Option) *Importer {
	im := &Importer{store: store, concurrency: DefaultConcurrency, log: zap.L()}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// =============================================================================
// PREVIEW
// =============================================================================

// PreviewRow is the evaluated form of an input row.
type PreviewRow struct {
	Line                 int                  `json:"line"`
	Email                string               `json:"email"`
	EmployeeID           string               `json:"employee_id,omitempty"`
	EmployeeName         string               `json:"employee_name,omitempty"`
	Quota                float64              `json:"quota"`
	Attainment           float64              `json:"attainment"`
	AttainmentPercentage float64              `json:"attainment_percentage"`
	QuarterlyBonus       float64              `json:"quarterly_bonus"`
	Breakdown            commission.Breakdown `json:"breakdown"`
	Amount               float64              `json:"amount"`
	Error                string               `json:"error,omitempty"`
}

// Valid reports whether the row can be imported.
func (r PreviewRow) Valid() bool { return r.Error == "" }

// Preview is the result of evaluating a batch.
type Preview struct {
	Quarter quarter.Quarter `json:"quarter"`
	Rows    []PreviewRow    `json:"rows"`
	Valid   int             `json:"valid"`
	Invalid int             `json:"invalid"`
}

// Preview evaluates every row for quarter q.
func (im *Importer) Preview(ctx context.Context, q quarter.Quarter, rows []Row) (*Preview, error) {
	if !quarter.Validate(q.String()) {
		return nil, eris.Wrap(&quarter.FormatError{Input: q.String()}, "import: preview")
	}

	out := make([]PreviewRow, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			pr, err := im.evaluate(gctx, q, row)
			if err != nil {
				return eris.Wrapf(err, "import: line %d", row.Line)
			}
			out[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	markDuplicates(out)

	p := &Preview{Quarter: q, Rows: out}
	for _, r := range out {
		if r.Valid() {
			p.Valid++
		} else {
			p.Invalid++
		}
	}

	im.log.Info("import: preview complete",
		zap.String("quarter", q.String()),
		zap.Int("rows", len(rows)),
		zap.Int("valid", p.Valid),
		zap.Int("invalid", p.Invalid),
	)
	return p, nil
}

// markDuplicates invalidates every valid row whose email (case-insensitive)
// already appeared on an earlier valid row.
func markDuplicates(rows []PreviewRow) {
	first := map[string]int{}
	for i := range rows {
		if !rows[i].Valid() {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(rows[i].Email))
		if line, seen := first[key]; seen {
			rows[i].Error = fmt.Sprintf("duplicate email %s (first on line %d)", rows[i].Email, line)
			continue
		}
		first[key] = rows[i].Line
	}
}

// evaluate returns an error only for failures that are not about the row.
func (im *Importer) evaluate(ctx context.Context, q quarter.Quarter, row Row) (PreviewRow, error) {
	pr := PreviewRow{
		Line:       row.Line,
		Email:      row.Email,
		Quota:      row.Quota,
		Attainment: row.Attainment,
	}

	if row.ParseError != "" {
		pr.Error = row.ParseError
		return pr, nil
	}
	if row.Email == "" {
		pr.Error = "email is required"
		return pr, nil
	}
	if !commission.ValidateQuota(row.Quota) {
		pr.Error = commission.ErrInvalidQuota.Error()
		return pr, nil
	}
	if !commission.ValidateAttainment(row.Attainment) {
		pr.Error = commission.ErrInvalidAttainment.Error()
		return pr, nil
	}

	emp, err := im.store.GetEmployeeByEmail(ctx, row.Email)
	if err != nil {
		return pr, err
	}
	if emp == nil {
		pr.Error = fmt.Sprintf("no employee with email %s", row.Email)
		return pr, nil
	}
	pr.EmployeeID, pr.EmployeeName = emp.ID, emp.Name

	annual, ok, err := im.store.AnnualBonusFor(ctx, emp.ID, q)
	if err != nil {
		return pr, err
	}
	if !ok {
		pr.Error = fmt.Sprintf("no annual bonus on record for %s in %s", row.Email, q)
		return pr, nil
	}
	annualF, _ := annual.Float64()
	pr.QuarterlyBonus = commission.QuarterlyFromAnnual(annualF)

	pr.Breakdown = commission.CalculateQuarterBreakdown(emp.StartDate, q)
	res, err := commission.Calculate(row.Attainment, row.Quota, pr.QuarterlyBonus, pr.Breakdown)
	if err != nil {
		pr.Error = err.Error()
		return pr, nil
	}
	pr.AttainmentPercentage = res.AttainmentPercentage
	pr.Amount = res.Amount
	return pr, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// ConfirmResult summarizes a confirmed import.
type ConfirmResult struct {
	Quarter  quarter.Quarter `json:"quarter"`
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
	Errors   []string        `json:"errors,omitempty"`
}

// Confirm persists the valid rows of p. Rows that fail to save are
// reported in Errors and do not stop the rest.
func (im *Importer) Confirm(ctx context.Context, p *Preview) (ConfirmResult, error) {
	if p == nil {
		return ConfirmResult{}, eris.New("import: nothing to confirm")
	}

	res := ConfirmResult{Quarter: p.Quarter}
	for _, r := range p.Rows {
		if !r.Valid() {
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "import: confirm cancelled")
		}

		err := im.store.SaveBonus(ctx, sqlite.Bonus{
			ID:             uuid.NewString(),
			EmployeeID:     r.EmployeeID,
			Quarter:        p.Quarter,
			Quota:          r.Quota,
			Attainment:     r.Attainment,
			QuarterlyBonus: commission.Money(r.QuarterlyBonus),
			Breakdown:      r.Breakdown,
			Amount:         commission.Money(r.Amount),
			Status:         sqlite.BonusConfirmed,
		})
		if err != nil {
			im.log.Error("import: save bonus failed",
				zap.Int("line", r.Line),
				zap.String("email", r.Email),
				zap.Error(err),
			)
			res.Errors = append(res.Errors, fmt.Sprintf("line %d (%s): %v", r.Line, r.Email, err))
			continue
		}
		res.Imported++
	}

	im.log.Info("import: confirm complete",
		zap.String("quarter", p.Quarter.String()),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Errors)),
	)
	return res, nil
}
