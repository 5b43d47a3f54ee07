/*
scheduler.go - Automated quarterly bonus recalculation

PURPOSE:
  Draft bonuses are computed when attainment is first recorded, but the
  inputs can still change afterwards: a start date gets corrected, or a
  compensation record is backdated. Once per quarter the scheduler
  recalculates every draft bonus of the previous quarter from the current
  employee and compensation data. Confirmed bonuses are never touched.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - "Previous quarter" comes from the injected clock
  - Skips quarters that already have a completed run
  - Records recalculation runs for audit and UI display
  - One failing bonus is counted and logged, the rest still run

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRecalculationScheduler(store, clock)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Recalculate endpoint (manual trigger)
  - commission/bonus.go: Calculate
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/quarter"
	"github.com/warp/peopleops/store/sqlite"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RecalculationScheduler handles automated recalculation of draft bonuses.
type RecalculationScheduler struct {
	Store         *sqlite.Store
	Clock         quarter.Clock
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRecalculationScheduler creates a new scheduler.
func NewRecalculationScheduler(store *sqlite.Store, clock quarter.Clock) *RecalculationScheduler {
	if clock == nil {
		clock = quarter.SystemClock{}
	}
	return &RecalculationScheduler{
		Store:         store,
		Clock:         clock,
		CheckInterval: time.Hour,
		Enabled:       true,
		log:           zap.L().Named("scheduler"),
	}
}

// Start begins the scheduler.
func (rs *RecalculationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.log.Info("started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (rs *RecalculationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("stopped")
	}
}

func (rs *RecalculationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RecalculationScheduler) checkAndProcess() {
	ctx := context.Background()
	q := quarter.PreviousFrom(rs.Clock)

	done, err := rs.Store.IsRecalculationComplete(ctx, q)
	if err != nil {
		rs.log.Error("check recalculation status", zap.String("quarter", q.String()), zap.Error(err))
		return
	}
	if done {
		rs.log.Debug("already recalculated", zap.String("quarter", q.String()))
		return
	}

	if _, err := Recalculate(ctx, rs.Store, q, rs.log); err != nil {
		rs.log.Error("recalculation failed", zap.String("quarter", q.String()), zap.Error(err))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *RecalculationScheduler) RunNow() {
	rs.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *RecalculationScheduler) GetNextRunTime() time.Time {
	return rs.Clock.Now().Add(rs.CheckInterval)
}

// =============================================================================
// RECALCULATION
// =============================================================================

// Recalculate recomputes every draft bonus of q and records the run. Per-bonus
// failures are counted in the run; the returned error is for failures that
// stop the whole pass.
func Recalculate(ctx context.Context, store *sqlite.Store, q quarter.Quarter, log *zap.Logger) (sqlite.RecalculationRun, error) {
	started := time.Now()
	run := sqlite.RecalculationRun{
		ID:        uuid.NewString(),
		Quarter:   q,
		Status:    RunRunning,
		StartedAt: &started,
		CreatedAt: started,
	}
	if err := store.SaveRecalculationRun(ctx, run); err != nil {
		return run, eris.Wrap(err, "save run record")
	}

	fail := func(err error) (sqlite.RecalculationRun, error) {
		run.Status = RunFailed
		run.Error = err.Error()
		if saveErr := store.SaveRecalculationRun(ctx, run); saveErr != nil {
			log.Error("save failed run", zap.String("run", run.ID), zap.Error(saveErr))
		}
		return run, err
	}

	drafts, err := store.ListBonuses(ctx, sqlite.BonusFilter{Quarter: &q, Status: sqlite.BonusDraft})
	if err != nil {
		return fail(err)
	}

	for _, b := range drafts {
		if err := ctx.Err(); err != nil {
			return fail(eris.Wrap(err, "recalculation cancelled"))
		}
		if err := recalculateBonus(ctx, store, b); err != nil {
			run.Failed++
			log.Warn("recalculate bonus",
				zap.String("employee", b.EmployeeID),
				zap.String("quarter", q.String()),
				zap.Error(err),
			)
			continue
		}
		run.Updated++
	}

	completed := time.Now()
	run.Status = RunCompleted
	run.CompletedAt = &completed
	if err := store.SaveRecalculationRun(ctx, run); err != nil {
		return run, eris.Wrap(err, "update run record")
	}

	log.Info("recalculation complete",
		zap.String("quarter", q.String()),
		zap.Int("updated", run.Updated),
		zap.Int("failed", run.Failed),
	)
	return run, nil
}

func recalculateBonus(ctx context.Context, store *sqlite.Store, b sqlite.Bonus) error {
	emp, err := store.GetEmployee(ctx, b.EmployeeID)
	if err != nil {
		return err
	}
	if emp == nil {
		return eris.Errorf("employee %s no longer exists", b.EmployeeID)
	}

	annual, ok, err := store.AnnualBonusFor(ctx, emp.ID, b.Quarter)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Errorf("no annual bonus on record for %s in %s", emp.ID, b.Quarter)
	}
	annualF, _ := annual.Float64()
	quarterly := commission.QuarterlyFromAnnual(annualF)

	breakdown := commission.CalculateQuarterBreakdown(emp.StartDate, b.Quarter)
	amount, err := commission.CalculateBonus(b.Attainment, b.Quota, quarterly, breakdown)
	if err != nil {
		return err
	}

	b.QuarterlyBonus = commission.Money(quarterly)
	b.Breakdown = breakdown
	b.Amount = commission.Money(amount)
	return store.SaveDraftBonus(ctx, b)
}
