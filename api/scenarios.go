/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for demos. Scenarios are declared in scenarios.yaml (embedded at
  build time) and cover the interesting proration cases: a mid-quarter
  hire, a brand new hire, over-attainment and a missing start date.

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create employees
 3. Record each employee's annual bonus
 4. For employees with a quota, compute and store a draft bonus

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mid-quarter-hire"}

ADDING NEW SCENARIOS:
  Add an entry to scenarios.yaml. No code changes are needed.

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Router wiring
  - scheduler.go: Recalculates the draft bonuses created here
*/
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/quarter"
	"github.com/warp/peopleops/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

//go:embed scenarios.yaml
var scenariosYAML []byte

// Scenario is a named demo dataset.
type Scenario struct {
	ScenarioDTO `yaml:",inline"`
	Employees   []ScenarioEmployee `yaml:"employees"`
}

// ScenarioEmployee is one employee of a scenario. Quota is optional; when
// absent no bonus is created.
type ScenarioEmployee struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Email            string   `yaml:"email"`
	StartDate        string   `yaml:"start_date"`
	AnnualBonus      float64  `yaml:"annual_bonus"`
	EffectiveQuarter string   `yaml:"effective_quarter"`
	Quota            *float64 `yaml:"quota"`
	Attainment       float64  `yaml:"attainment"`
}

// ParseScenarios decodes a scenario file.
func ParseScenarios(data []byte) ([]Scenario, error) {
	var doc struct {
		Scenarios []Scenario `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "parse scenarios")
	}
	for _, s := range doc.Scenarios {
		if _, err := quarter.Parse(s.Quarter); err != nil {
			return nil, eris.Wrapf(err, "scenario %s", s.ID)
		}
	}
	return doc.Scenarios, nil
}

// LoadScenarios returns the embedded scenarios.
func LoadScenarios() ([]Scenario, error) {
	return ParseScenarios(scenariosYAML)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(h.scenarios))
	for i, s := range h.scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range h.scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var scenario *Scenario
	for i := range h.scenarios {
		if h.scenarios[i].ID == req.ScenarioID {
			scenario = &h.scenarios[i]
			break
		}
	}
	if scenario == nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), *scenario); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = scenario.ID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "loaded",
		"scenario":  scenario.ID,
		"employees": len(scenario.Employees),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, s Scenario) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}

	q, err := quarter.Parse(s.Quarter)
	if err != nil {
		return err
	}

	for _, e := range s.Employees {
		emp := sqlite.Employee{ID: e.ID, Name: e.Name, Email: e.Email}
		if e.StartDate != "" {
			start, err := time.Parse(dateLayout, e.StartDate)
			if err != nil {
				return eris.Wrapf(err, "scenario %s: employee %s start date", s.ID, e.ID)
			}
			emp.StartDate = &start
		}
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return err
		}

		effective, err := quarter.Parse(e.EffectiveQuarter)
		if err != nil {
			return eris.Wrapf(err, "scenario %s: employee %s", s.ID, e.ID)
		}
		err = h.Store.SaveCompensation(ctx, sqlite.Compensation{
			ID:               "comp-" + e.ID,
			EmployeeID:       e.ID,
			EffectiveQuarter: effective,
			AnnualBonus:      decimal.NewFromFloat(e.AnnualBonus),
		})
		if err != nil {
			return err
		}

		if e.Quota == nil {
			continue
		}
		quarterly := commission.QuarterlyFromAnnual(e.AnnualBonus)
		breakdown := commission.CalculateQuarterBreakdown(emp.StartDate, q)
		amount, err := commission.CalculateBonus(e.Attainment, *e.Quota, quarterly, breakdown)
		if err != nil {
			return eris.Wrapf(err, "scenario %s: employee %s", s.ID, e.ID)
		}
		err = h.Store.SaveBonus(ctx, sqlite.Bonus{
			ID:             "bonus-" + e.ID + "-" + q.String(),
			EmployeeID:     e.ID,
			Quarter:        q,
			Quota:          *e.Quota,
			Attainment:     e.Attainment,
			QuarterlyBonus: commission.Money(quarterly),
			Breakdown:      breakdown,
			Amount:         commission.Money(amount),
			Status:         sqlite.BonusDraft,
		})
		if err != nil {
			return err
		}
	}

	h.log.Info("scenario loaded", zap.String("scenario", s.ID), zap.Int("employees", len(s.Employees)))
	return nil
}
