/*
handlers.go - HTTP API handlers for the collection engine

PURPOSE:
  Exposes loan issuance, payments, finance entries and the dashboard
  summary via REST. Handles HTTP request/response, JSON serialization and
  validation, and delegates to the lending and collection services.

ENDPOINTS:
  Summary:
    GET    /api/summary                 Dashboard snapshot (?asOf=2024-01-05)

  Loans:
    GET    /api/loans                   List loans (?ruta=, ?clientId=)
    POST   /api/loans                   Issue a loan (factory.LoanRequest)
    PUT    /api/loans/reorder           Explicit route positions
    GET    /api/loans/{id}              Loan details
    PUT    /api/loans/{id}              Edit terms, client, route
    DELETE /api/loans/{id}              Delete loan and its payments
    GET    /api/loans/{id}/schedule     Installment plan
    POST   /api/loans/{id}/payments     Register a payment

  Payments:
    GET    /api/payments                List (?loanId=, ?from=, ?to=)
    DELETE /api/payments/{id}           Delete and restore the balance

  Routes:
    GET    /api/routes                  List routes (?cobrador=)
    POST   /api/routes                  Create a route
    GET    /api/routes/{id}             Route details
    PATCH  /api/routes/{id}             Edit a route
    DELETE /api/routes/{id}             Delete the route record

  Stats:
    GET    /api/stats                   Collector totals (?cobradorId=)

  Clients:
    GET    /api/clients                 List clients
    POST   /api/clients                 Register a client

  Finance:
    GET    /api/finance/{kind}          capital | bills | withdrawals
    POST   /api/finance/{kind}          Record an entry

ACCESS SCOPE:
  X-Access-Scope carries the comma separated operator IDs whose records
  the caller may see; absent means everything. X-Operator-ID names the
  operator creating records. Records outside the scope answer 404.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found or outside the access scope
  - 409: A record with the given ID already exists
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/smartmoney/collection-engine/collection"
	"github.com/smartmoney/collection-engine/factory"
	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
	"github.com/smartmoney/collection-engine/logging"
)

const (
	HeaderScope    = "X-Access-Scope"
	HeaderOperator = "X-Operator-ID"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      lending.Store
	Lending    *lending.Service
	Collection *collection.Service
	Factory    *factory.LoanFactory
	Logger     *slog.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. The factory and collection service must
// share the calendar and location the engine was built with.
func NewHandler(
	store lending.Store,
	lend *lending.Service,
	coll *collection.Service,
	f *factory.LoanFactory,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:      store,
		Lending:    lend,
		Collection: coll,
		Factory:    f,
		Logger:     logging.WithComponent(logger, logging.ComponentHTTP),
		validate:   newValidator(),
	}
}

func (h *Handler) location() *time.Location { return h.Collection.Engine.Location }

// =============================================================================
// SUMMARY
// =============================================================================

// GetSummary returns the dashboard snapshot and broadcasts it.
// GET /api/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	asOf := h.Collection.Now()
	if s := r.URL.Query().Get("asOf"); s != "" {
		t, err := parseDateParam(s, h.location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid asOf", err)
			return
		}
		asOf = t
	}

	summary, err := h.Collection.SummaryAt(r.Context(), scopeFrom(r), asOf)
	if err != nil {
		h.writeServiceError(w, r, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns the loans visible in the caller's scope.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loans, err := h.Store.ListLoans(r.Context(), lending.LoanFilter{
		Scope:    scopeFrom(r),
		Route:    lending.RouteID(q.Get("ruta")),
		ClientID: lending.ClientID(q.Get("clientId")),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(loans))
}

// CreateLoan issues a loan from a factory.LoanRequest body.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req, err := h.Factory.ParseRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan", err)
		return
	}

	loan, err := h.Factory.Build(req, operatorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, "Invalid loan", err)
		return
	}
	issued, err := h.Lending.IssueLoan(r.Context(), loan, req.After)
	if err != nil {
		h.writeServiceError(w, r, "Failed to issue loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

// GetLoan returns a single loan.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.visibleLoan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// UpdateLoan edits a loan.
func (h *Handler) UpdateLoan(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.visibleLoan(w, r)
	if !ok {
		return
	}
	var req UpdateLoanRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.Lending.UpdateLoan(r.Context(), loan.ID, req.Changes(h.location()))
	if err != nil {
		h.writeServiceError(w, r, "Failed to update loan", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteLoan removes a loan and its payments.
func (h *Handler) DeleteLoan(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.visibleLoan(w, r)
	if !ok {
		return
	}
	if err := h.Lending.DeleteLoan(r.Context(), loan.ID); err != nil {
		h.writeServiceError(w, r, "Failed to delete loan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReorderLoans applies explicit route positions.
// PUT /api/loans/reorder
func (h *Handler) ReorderLoans(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !h.decode(w, r, &req) {
		return
	}

	scope := scopeFrom(r)
	for _, item := range req.Order {
		loan, err := h.Store.GetLoan(r.Context(), item.LoanID)
		if err == nil && !scope.Includes(loan.CreatedBy) {
			err = generic.ErrLoanNotFound
		}
		if err != nil {
			h.writeServiceError(w, r, fmt.Sprintf("Cannot reorder loan %s", item.LoanID), err)
			return
		}
	}

	if err := h.Lending.ReorderRoute(r.Context(), req.Order); err != nil {
		h.writeServiceError(w, r, "Failed to reorder route", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(req.Order)})
}

// GetSchedule returns the installment plan of a loan.
// GET /api/loans/{id}/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.visibleLoan(w, r)
	if !ok {
		return
	}

	loc := h.location()
	start := generic.DayIn(loan.Date, loc)
	plan := collection.GenerateSchedule(start, loan.Installments, loan.InstallmentValue, h.Collection.Engine.Calendar)

	dto := ScheduleDTO{
		LoanID:       loan.ID,
		Installments: plan,
		Remaining:    loan.RemainingInstallments(),
	}
	if len(plan) > 0 {
		dto.FinishDate = plan[len(plan)-1].DueDate
	}
	if loan.FinishDate != nil && !loan.Terminated {
		dto.DaysLate = collection.DaysLate(*loan.FinishDate, h.Collection.Now())
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment registers a payment against the loan in the URL.
// POST /api/loans/{id}/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.visibleLoan(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p := lending.Payment{LoanID: loan.ID, Amount: req.Amount, CreatedBy: operatorFrom(r)}
	if req.Date != nil {
		p.Date = req.Date.In(h.location())
	}
	receipt, err := h.Lending.RegisterPayment(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, "Failed to register payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// ListPayments returns payments in chronological order.
// GET /api/payments?loanId=&from=2024-01-01&to=2024-01-31
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	paid, err := dateRangeParam(q.Get("from"), q.Get("to"), h.location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	payments, err := h.Store.ListPayments(r.Context(), lending.PaymentFilter{
		Scope:  scopeFrom(r),
		LoanID: lending.LoanID(q.Get("loanId")),
		Paid:   paid,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(payments))
}

// DeletePayment removes a payment and returns the restored loan.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := lending.PaymentID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPayment(r.Context(), id)
	if err == nil && !scopeFrom(r).Includes(p.CreatedBy) {
		err = generic.ErrPaymentNotFound
	}
	if err != nil {
		h.writeServiceError(w, r, "Payment not found", err)
		return
	}

	loan, err := h.Lending.DeletePayment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// =============================================================================
// ROUTE HANDLERS
// =============================================================================

// ListRoutes returns the routes in scope, optionally only those a collector
// works.
// GET /api/routes
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.Store.ListRoutes(r.Context(), lending.RouteFilter{
		Scope:     scopeFrom(r),
		Collector: lending.OperatorID(strings.TrimSpace(r.URL.Query().Get("cobrador"))),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to list routes", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(routes))
}

// CreateRoute stores a new route.
// POST /api/routes
func (h *Handler) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !h.decode(w, r, &req) {
		return
	}
	route, err := h.Lending.CreateRoute(r.Context(), lending.Route{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		DefaultOrder: req.DefaultOrder,
		Collectors:   req.Collectors,
		CreatedBy:    operatorFrom(r),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create route", err)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, ok := h.visibleRoute(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// UpdateRoute edits a route.
// PATCH /api/routes/{id}
func (h *Handler) UpdateRoute(w http.ResponseWriter, r *http.Request) {
	route, ok := h.visibleRoute(w, r)
	if !ok {
		return
	}
	var req UpdateRouteRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.Lending.UpdateRoute(r.Context(), route.ID, req.Changes())
	if err != nil {
		h.writeServiceError(w, r, "Failed to update route", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRoute removes the route record. Its loans are left untouched.
// DELETE /api/routes/{id}
func (h *Handler) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	route, ok := h.visibleRoute(w, r)
	if !ok {
		return
	}
	if err := h.Lending.DeleteRoute(r.Context(), route.ID); err != nil {
		h.writeServiceError(w, r, "Failed to delete route", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCollectorStats totals the loans on a collector's routes. The collector
// defaults to the calling operator.
// GET /api/stats
func (h *Handler) GetCollectorStats(w http.ResponseWriter, r *http.Request) {
	collector := lending.OperatorID(strings.TrimSpace(r.URL.Query().Get("cobradorId")))
	if collector == "" {
		collector = operatorFrom(r)
	}
	if collector == "" {
		writeError(w, http.StatusBadRequest, "Collector required",
			fmt.Errorf("pass cobradorId or %s", HeaderOperator))
		return
	}

	stats, err := h.Collection.CollectorStats(r.Context(), scopeFrom(r), collector)
	if err != nil {
		h.writeServiceError(w, r, "Failed to compute collector stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context(), lending.ClientFilter{Scope: scopeFrom(r)})
	if err != nil {
		h.writeServiceError(w, r, "Failed to list clients", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(clients))
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Lending.RegisterClient(r.Context(), lending.Client{
		Name:      req.Name,
		Document:  req.Document,
		CreatedBy: operatorFrom(r),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to register client", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// =============================================================================
// FINANCE HANDLERS
// =============================================================================

var financeKinds = map[string]lending.FinanceKind{
	"capital":     lending.FinanceCapital,
	"bills":       lending.FinanceBill,
	"withdrawals": lending.FinanceWithdrawal,
}

func financeKindParam(r *http.Request) (lending.FinanceKind, error) {
	name := chi.URLParam(r, "kind")
	kind, ok := financeKinds[name]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, generic.ErrInvalidKind)
	}
	return kind, nil
}

// ListFinance returns the entries of one kind.
// GET /api/finance/{kind}
func (h *Handler) ListFinance(w http.ResponseWriter, r *http.Request) {
	kind, err := financeKindParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown finance kind", err)
		return
	}
	entries, err := h.Store.ListFinanceEntries(r.Context(), scopeFrom(r), kind)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list finance entries", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(entries))
}

// RecordFinance stores a capital injection, bill or withdrawal.
// POST /api/finance/{kind}
func (h *Handler) RecordFinance(w http.ResponseWriter, r *http.Request) {
	kind, err := financeKindParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown finance kind", err)
		return
	}
	var req FinanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	e := lending.FinanceEntry{
		Kind:        kind,
		Amount:      req.Amount,
		Description: req.Description,
		CreatedBy:   operatorFrom(r),
	}
	if req.Date != nil {
		e.Date = req.Date.In(h.location())
	}
	recorded, err := h.Lending.RecordFinance(r.Context(), e)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, recorded)
}

// =============================================================================
// HELPERS
// =============================================================================

// visibleLoan loads the loan named in the URL and answers 404 when it is
// missing or outside the caller's scope.
func (h *Handler) visibleLoan(w http.ResponseWriter, r *http.Request) (*lending.Loan, bool) {
	id := lending.LoanID(chi.URLParam(r, "id"))
	loan, err := h.Store.GetLoan(r.Context(), id)
	if err == nil && !scopeFrom(r).Includes(loan.CreatedBy) {
		err = generic.ErrLoanNotFound
	}
	if err != nil {
		h.writeServiceError(w, r, "Loan not found", err)
		return nil, false
	}
	return loan, true
}

// visibleRoute is visibleLoan for routes.
func (h *Handler) visibleRoute(w http.ResponseWriter, r *http.Request) (*lending.Route, bool) {
	id := lending.RouteID(chi.URLParam(r, "id"))
	route, err := h.Store.GetRoute(r.Context(), id)
	if err == nil && !scopeFrom(r).Includes(route.CreatedBy) {
		err = generic.ErrRouteNotFound
	}
	if err != nil {
		h.writeServiceError(w, r, "Route not found", err)
		return nil, false
	}
	return route, true
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func scopeFrom(r *http.Request) lending.Scope {
	raw := r.Header.Get(HeaderScope)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var scope lending.Scope
	for _, op := range strings.Split(raw, ",") {
		if op = strings.TrimSpace(op); op != "" {
			scope = append(scope, lending.OperatorID(op))
		}
	}
	return scope
}

// operatorFrom names the operator creating a record. A single-operator
// scope implies the operator.
func operatorFrom(r *http.Request) lending.OperatorID {
	if op := strings.TrimSpace(r.Header.Get(HeaderOperator)); op != "" {
		return lending.OperatorID(op)
	}
	if scope := scopeFrom(r); len(scope) == 1 {
		return scope[0]
	}
	return ""
}

// parseDateParam accepts RFC 3339 or a bare date, which names the start of
// that day in loc.
func parseDateParam(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD or RFC 3339)", s)
	}
	return t, nil
}

// dateRangeParam builds an inclusive range; a bare "to" date covers that
// whole day.
func dateRangeParam(from, to string, loc *time.Location) (lending.DateRange, error) {
	var dr lending.DateRange
	if from != "" {
		t, err := parseDateParam(from, loc)
		if err != nil {
			return dr, err
		}
		dr.From = &t
	}
	if to != "" {
		t, err := parseDateParam(to, loc)
		if err != nil {
			return dr, err
		}
		if _, err := time.Parse(time.DateOnly, to); err == nil {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		dr.To = &t
	}
	if dr.From != nil && dr.To != nil && dr.To.Before(*dr.From) {
		return dr, generic.ErrInvalidPeriod
	}
	return dr, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors to a status code.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, generic.ErrDuplicateID):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsClientError(err), errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.ErrorContext(r.Context(), message, logging.Err(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
