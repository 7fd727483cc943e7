/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built portfolios that populate the store with realistic
	data relative to the current date, so the dashboard shows something
	meaningful on a fresh install: installments due today and tomorrow,
	partial payments, a finished loan, cash movements.

AVAILABLE SCENARIOS:

	route-day:   One collector's route mid-week, two operators
	arrears:     Loans started last month with missed installments

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Register clients
 3. Issue loans through the factory (derived values computed normally)
 4. Register payments through the lending service
 5. Record capital, bills and withdrawals

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "route-day"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, now)
 3. Add it to 'scenarioLoaders'

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
  - factory/loan.go: Loan derivation
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/smartmoney/collection-engine/factory"
	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// resetter is implemented by stores that can be wiped.
type resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "route-day",
		Name:        "Route Day",
		Description: "Four loans on two routes: on time, behind, finished and issued today",
	},
	{
		ID:          "arrears",
		Name:        "Arrears",
		Description: "Loans started last month with missed and partial installments",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, now time.Time) error

var scenarioLoaders = map[string]scenarioLoader{
	"route-day": (*Handler).loadRouteDayScenario,
	"arrears":   (*Handler).loadArrearsScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID, loader); err != nil {
		h.writeServiceError(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) loadScenario(ctx context.Context, id string, load scenarioLoader) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.Store.(resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := rs.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.currentScenario = ""

	if err := load(h, ctx, h.Lending.Now()); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	h.currentScenario = id
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadRouteDayScenario:
//
//	Ana    op-1 centro  300000 @20% x24  started 3 days ago, 2 installments paid
//	Luis   op-1 centro  500000 @20% x30  started 12 days ago, 5 installments paid
//	Marta  op-1 centro  100000 @10% x10  started 15 days ago, paid off
//	Carlos op-2 norte   200000 @25% x20  issued today
func (h *Handler) loadRouteDayScenario(ctx context.Context, now time.Time) error {
	b := demoBuilder{h: h, ctx: ctx}

	ana := b.client("Ana Ruiz", "1032", "op-1", now.AddDate(0, 0, -3))
	luis := b.client("Luis Gómez", "2087", "op-1", now.AddDate(0, 0, -12))
	marta := b.client("Marta Díaz", "3120", "op-1", now.AddDate(0, 0, -15))
	carlos := b.client("Carlos Pérez", "4410", "op-2", now)

	anaLoan := b.loan(ana, 300000, 20, 24, now.AddDate(0, 0, -3), "centro")
	luisLoan := b.loan(luis, 500000, 20, 30, now.AddDate(0, 0, -12), "centro")
	martaLoan := b.loan(marta, 100000, 10, 10, now.AddDate(0, 0, -15), "centro")
	b.loan(carlos, 200000, 25, 20, now, "norte")

	b.installments(anaLoan, 2)
	b.installments(luisLoan, 5)
	b.pay(martaLoan, martaLoan.Balance, now.AddDate(0, 0, -1))

	b.finance(lending.FinanceCapital, 2000000, "op-1", "opening capital", now.AddDate(0, 0, -20))
	b.finance(lending.FinanceCapital, 1000000, "op-2", "opening capital", now.AddDate(0, 0, -20))
	b.finance(lending.FinanceBill, 50000, "op-1", "fuel", now.AddDate(0, 0, -2))
	b.finance(lending.FinanceWithdrawal, 100000, "op-2", "owner draw", now.AddDate(0, 0, -1))
	return b.err
}

// loadArrearsScenario:
//
//	Rosa   op-1 sur  400000 @20% x40  started 40 days ago, first 10 paid
//	Pedro  op-1 sur  250000 @20% x25  started 35 days ago, three half payments
func (h *Handler) loadArrearsScenario(ctx context.Context, now time.Time) error {
	b := demoBuilder{h: h, ctx: ctx}

	rosa := b.client("Rosa Mejía", "5521", "op-1", now.AddDate(0, 0, -40))
	pedro := b.client("Pedro Salas", "6633", "op-1", now.AddDate(0, 0, -35))

	rosaLoan := b.loan(rosa, 400000, 20, 40, now.AddDate(0, 0, -40), "sur")
	pedroLoan := b.loan(pedro, 250000, 20, 25, now.AddDate(0, 0, -35), "sur")

	b.installments(rosaLoan, 10)
	if pedroLoan != nil {
		half := pedroLoan.InstallmentValue.DivInt(2)
		for i := 0; i < 3; i++ {
			b.pay(pedroLoan, half, pedroLoan.Date.AddDate(0, 0, i))
		}
	}

	b.finance(lending.FinanceCapital, 1000000, "op-1", "opening capital", now.AddDate(0, 0, -45))
	return b.err
}

// demoBuilder issues records through the services and keeps the first
// error, so loaders read as a plain list of steps.
type demoBuilder struct {
	h   *Handler
	ctx context.Context
	err error
}

func (b *demoBuilder) client(name, document string, op lending.OperatorID, at time.Time) *lending.Client {
	if b.err != nil {
		return nil
	}
	c, err := b.h.Lending.RegisterClient(b.ctx, lending.Client{Name: name, Document: document, CreatedBy: op, Date: at})
	b.err = err
	return c
}

func (b *demoBuilder) loan(c *lending.Client, amount int64, interest float64, n int, start time.Time, route lending.RouteID) *lending.Loan {
	if b.err != nil {
		return nil
	}
	req := &factory.LoanRequest{
		Client:       c.Ref(),
		LoanAmount:   generic.NewAmountFromInt(amount),
		Interest:     interest,
		Installments: n,
		Date:         factory.Date{Time: start},
		Route:        route,
	}
	loan, err := b.h.Factory.Build(req, c.CreatedBy)
	if err != nil {
		b.err = err
		return nil
	}
	issued, err := b.h.Lending.IssueLoan(b.ctx, loan, nil)
	b.err = err
	return issued
}

// installments pays the first n installments, one per calendar day from
// the loan's start.
func (b *demoBuilder) installments(l *lending.Loan, n int) {
	if l == nil {
		return
	}
	for i := 0; i < n; i++ {
		b.pay(l, l.InstallmentValue, l.Date.AddDate(0, 0, i))
	}
}

func (b *demoBuilder) pay(l *lending.Loan, amount generic.Amount, at time.Time) {
	if b.err != nil || l == nil {
		return
	}
	_, b.err = b.h.Lending.RegisterPayment(b.ctx, lending.Payment{LoanID: l.ID, Amount: amount, Date: at})
}

func (b *demoBuilder) finance(kind lending.FinanceKind, amount int64, op lending.OperatorID, desc string, at time.Time) {
	if b.err != nil {
		return
	}
	_, b.err = b.h.Lending.RecordFinance(b.ctx, lending.FinanceEntry{
		Kind:        kind,
		Amount:      generic.NewAmountFromInt(amount),
		Description: desc,
		CreatedBy:   op,
		Date:        at,
	})
}
