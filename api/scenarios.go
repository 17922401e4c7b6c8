/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built register days that populate the ledger with realistic
	movements for demos. Every step goes through cash.Register, so guards,
	events and summaries behave exactly as for a real till.

AVAILABLE SCENARIOS:

	full-day:        Open, supply, withdraw, close
	busy-register:   Many movements, left open
	overdraft:       A withdrawal larger than the drawer is rejected
	multi-company:   The same day run for three companies at once

HOW SCENARIOS WORK:
 1. Pick the companies (request or scenario default)
 2. For each company, concurrently:
    a. Close the register if a session is open (the ledger can't be reset)
    b. Run the scenario steps in order
 3. Report each company's final session

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "full-day", "companies": ["acme"]}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with ID, name, description, default companies
 2. Add its steps to 'scenarioSteps'

SEE ALSO:
  - handlers.go: Register endpoints
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/cashbox/cash"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "full-day",
		Name:        "Full Day",
		Description: "Open with 1000, supply 200, withdraw 300, close with 900",
		Companies:   []string{"demo-bakery"},
	},
	{
		ID:          "busy-register",
		Name:        "Busy Register",
		Description: "A float topped up and drawn down through the day, still open",
		Companies:   []string{"demo-cafe"},
	},
	{
		ID:          "overdraft",
		Name:        "Overdraft Attempt",
		Description: "Open with 100, a 150 withdrawal is rejected, balance stays 100",
		Companies:   []string{"demo-kiosk"},
	},
	{
		ID:          "multi-company",
		Name:        "Multi-Company",
		Description: "Three companies run the same day concurrently without seeing each other",
		Companies:   []string{"demo-acme", "demo-globex", "demo-initech"},
	},
}

// step is one scripted command. Rejected steps are expected to fail.
type step struct {
	cmd      cash.Command
	rejected bool
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fullDay = []step{
	{cmd: cash.OpenCommand(amt("1000"), "morning float")},
	{cmd: cash.SupplyCommand(amt("200"), "change delivery")},
	{cmd: cash.WithdrawCommand(amt("300"), "bank deposit")},
	{cmd: cash.CloseCommand("end of day count")},
}

var scenarioSteps = map[string][]step{
	"full-day": fullDay,
	"busy-register": {
		{cmd: cash.OpenCommand(amt("500"), "float")},
		{cmd: cash.SupplyCommand(amt("120.50"), "coins")},
		{cmd: cash.WithdrawCommand(amt("80"), "supplier cash on delivery")},
		{cmd: cash.SupplyCommand(amt("60"), "")},
		{cmd: cash.WithdrawCommand(amt("250.25"), "safe drop")},
		{cmd: cash.SupplyCommand(amt("35.75"), "")},
	},
	"overdraft": {
		{cmd: cash.OpenCommand(amt("100"), "small float")},
		{cmd: cash.WithdrawCommand(amt("150"), "too much"), rejected: true},
	},
	"multi-company": fullDay,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scenarios": scenarios})
}

// LoadScenario runs a scenario for each company concurrently.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	results, err := h.loadScenario(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoadScenarioResponse{OK: true, ScenarioID: req.ScenarioID, Companies: results})
}

func (h *Handler) loadScenario(ctx context.Context, req LoadScenarioRequest) ([]CompanyResultDTO, error) {
	steps, ok := scenarioSteps[req.ScenarioID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownScenario, req.ScenarioID)
	}

	companies := req.Companies
	if len(companies) == 0 {
		for _, s := range scenarios {
			if s.ID == req.ScenarioID {
				companies = s.Companies
			}
		}
	}

	companies = uniqueCompanies(companies)

	results := make([]CompanyResultDTO, len(companies))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, company := range companies {
		g.Go(func() error {
			res, err := h.runSteps(gctx, cash.TenantID(company), steps)
			if err != nil {
				return fmt.Errorf("company %s: %w", company, err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// uniqueCompanies drops repeats, keeping first-seen order. Two loaders on
// the same company would race each other's open.
func uniqueCompanies(companies []string) []string {
	seen := make(map[string]struct{}, len(companies))
	out := make([]string, 0, len(companies))
	for _, c := range companies {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (h *Handler) runSteps(ctx context.Context, tenant cash.TenantID, steps []step) (CompanyResultDTO, error) {
	res := CompanyResultDTO{CompanyID: string(tenant)}

	current, err := h.Register.Status(ctx, tenant)
	if err != nil {
		return res, err
	}
	if current.IsOpen() {
		if _, err := h.Register.CloseSession(ctx, tenant, "closed before demo scenario"); err != nil {
			return res, err
		}
	}

	for _, st := range steps {
		_, err := h.Register.Execute(ctx, tenant, st.cmd)
		switch {
		case err == nil && !st.rejected:
			res.Applied++
		case err != nil && st.rejected && cash.IsClientError(err):
			res.Rejected++
		case err != nil:
			return res, err
		default:
			return res, fmt.Errorf("step %s was expected to be rejected", st.cmd.Kind)
		}
	}

	final, err := h.Register.Status(ctx, tenant)
	if err != nil {
		return res, err
	}
	res.Session = toSessionDTO(final)
	return res, nil
}
