// Package store provides lending.Store implementations.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	loans    map[lending.LoanID]lending.Loan
	payments map[lending.PaymentID]lending.Payment
	clients  map[lending.ClientID]lending.Client
	finance  map[lending.FinanceEntryID]lending.FinanceEntry
	routes   map[lending.RouteID]lending.Route
}

var _ lending.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		loans:    make(map[lending.LoanID]lending.Loan),
		payments: make(map[lending.PaymentID]lending.Payment),
		clients:  make(map[lending.ClientID]lending.Client),
		finance:  make(map[lending.FinanceEntryID]lending.FinanceEntry),
		routes:   make(map[lending.RouteID]lending.Route),
	}
}

// WithTx executes fn with exclusive access. Writes are rolled back by
// restoring a snapshot when fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// Reset deletes every record.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restore(NewMemory().snapshot())
	return nil
}

type memorySnapshot struct {
	loans    map[lending.LoanID]lending.Loan
	payments map[lending.PaymentID]lending.Payment
	clients  map[lending.ClientID]lending.Client
	finance  map[lending.FinanceEntryID]lending.FinanceEntry
	routes   map[lending.RouteID]lending.Route
}

func (m *Memory) snapshot() memorySnapshot {
	return memorySnapshot{
		loans:    cloneMap(m.loans),
		payments: cloneMap(m.payments),
		clients:  cloneMap(m.clients),
		finance:  cloneMap(m.finance),
		routes:   cloneMap(m.routes),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.loans, m.payments, m.clients, m.finance = s.loans, s.payments, s.clients, s.finance
	m.routes = s.routes
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// =============================================================================
// LOCKING WRAPPERS
// =============================================================================

func (m *Memory) SaveLoan(_ context.Context, l lending.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLoan(l)
}

func (m *Memory) GetLoan(_ context.Context, id lending.LoanID) (*lending.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLoan(id)
}

func (m *Memory) ListLoans(_ context.Context, f lending.LoanFilter) ([]lending.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLoans(f), nil
}

func (m *Memory) DeleteLoan(_ context.Context, id lending.LoanID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLoan(id)
}

func (m *Memory) ShiftRoute(_ context.Context, route lending.RouteID, from, to, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shiftRoute(route, from, to, delta)
	return nil
}

func (m *Memory) LastPosition(_ context.Context, route lending.RouteID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPosition(route), nil
}

func (m *Memory) SavePayment(_ context.Context, p lending.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id lending.PaymentID) (*lending.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPayment(id)
}

func (m *Memory) ListPayments(_ context.Context, f lending.PaymentFilter) ([]lending.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPayments(f), nil
}

func (m *Memory) DeletePayment(_ context.Context, id lending.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePayment(id)
}

func (m *Memory) DeletePaymentsByLoan(_ context.Context, loanID lending.LoanID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePaymentsByLoan(loanID), nil
}

func (m *Memory) SaveClient(_ context.Context, c lending.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, id lending.ClientID) (*lending.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClient(id)
}

func (m *Memory) ListClients(_ context.Context, f lending.ClientFilter) ([]lending.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listClients(f), nil
}

func (m *Memory) SaveFinanceEntry(_ context.Context, e lending.FinanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finance[e.ID] = e
	return nil
}

func (m *Memory) ListFinanceEntries(_ context.Context, scope lending.Scope, kind lending.FinanceKind) ([]lending.FinanceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listFinance(scope, kind), nil
}

func (m *Memory) SumFinance(_ context.Context, scope lending.Scope, kind lending.FinanceKind) (generic.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total generic.Amount
	for _, e := range m.listFinance(scope, kind) {
		total = total.Add(e.Amount)
	}
	return total, nil
}

func (m *Memory) SaveRoute(_ context.Context, r lending.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveRoute(r)
	return nil
}

func (m *Memory) GetRoute(_ context.Context, id lending.RouteID) (*lending.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRoute(id)
}

func (m *Memory) ListRoutes(_ context.Context, f lending.RouteFilter) ([]lending.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRoutes(f), nil
}

func (m *Memory) DeleteRoute(_ context.Context, id lending.RouteID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRoute(id)
}

// =============================================================================
// UNLOCKED OPERATIONS (caller holds mu)
// =============================================================================

func (m *Memory) saveLoan(l lending.Loan) error {
	m.loans[l.ID] = l
	return nil
}

func (m *Memory) getLoan(id lending.LoanID) (*lending.Loan, error) {
	l, ok := m.loans[id]
	if !ok {
		return nil, generic.ErrLoanNotFound
	}
	return &l, nil
}

func (m *Memory) listLoans(f lending.LoanFilter) []lending.Loan {
	var out []lending.Loan
	for _, l := range m.loans {
		if !f.Scope.Includes(l.CreatedBy) {
			continue
		}
		if f.Route != "" && l.Route != f.Route {
			continue
		}
		if f.ClientID != "" && l.Client.ID != f.ClientID {
			continue
		}
		if !f.Started.Contains(l.Date) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) deleteLoan(id lending.LoanID) error {
	if _, ok := m.loans[id]; !ok {
		return generic.ErrLoanNotFound
	}
	delete(m.loans, id)
	return nil
}

func (m *Memory) shiftRoute(route lending.RouteID, from, to, delta int) {
	for id, l := range m.loans {
		if l.Route != route || l.Position < from || (to >= 0 && l.Position > to) {
			continue
		}
		l.Position += delta
		m.loans[id] = l
	}
}

func (m *Memory) lastPosition(route lending.RouteID) int {
	last := -1
	for _, l := range m.loans {
		if l.Route == route && l.Position > last {
			last = l.Position
		}
	}
	return last
}

func (m *Memory) getPayment(id lending.PaymentID) (*lending.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, generic.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *Memory) listPayments(f lending.PaymentFilter) []lending.Payment {
	var out []lending.Payment
	for _, p := range m.payments {
		if !f.Scope.Includes(p.CreatedBy) {
			continue
		}
		if f.LoanID != "" && p.LoanID != f.LoanID {
			continue
		}
		if !f.Paid.Contains(p.Date) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) deletePayment(id lending.PaymentID) error {
	if _, ok := m.payments[id]; !ok {
		return generic.ErrPaymentNotFound
	}
	delete(m.payments, id)
	return nil
}

func (m *Memory) deletePaymentsByLoan(loanID lending.LoanID) int {
	n := 0
	for id, p := range m.payments {
		if p.LoanID == loanID {
			delete(m.payments, id)
			n++
		}
	}
	return n
}

func (m *Memory) getClient(id lending.ClientID) (*lending.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, generic.ErrClientNotFound
	}
	return &c, nil
}

func (m *Memory) listClients(f lending.ClientFilter) []lending.Client {
	var out []lending.Client
	for _, c := range m.clients {
		if f.Scope.Includes(c.CreatedBy) && f.Created.Contains(c.Date) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) listFinance(scope lending.Scope, kind lending.FinanceKind) []lending.FinanceEntry {
	var out []lending.FinanceEntry
	for _, e := range m.finance {
		if e.Kind == kind && scope.Includes(e.CreatedBy) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Collector slices are copied in and out so callers never share them with
// the map.
func (m *Memory) saveRoute(r lending.Route) {
	r.Collectors = slices.Clone(r.Collectors)
	m.routes[r.ID] = r
}

func (m *Memory) getRoute(id lending.RouteID) (*lending.Route, error) {
	r, ok := m.routes[id]
	if !ok {
		return nil, generic.ErrRouteNotFound
	}
	r.Collectors = slices.Clone(r.Collectors)
	return &r, nil
}

func (m *Memory) listRoutes(f lending.RouteFilter) []lending.Route {
	var out []lending.Route
	for _, r := range m.routes {
		if !f.Scope.Includes(r.CreatedBy) {
			continue
		}
		if f.Collector != "" && !r.AssignedTo(f.Collector) {
			continue
		}
		r.Collectors = slices.Clone(r.Collectors)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DefaultOrder != out[j].DefaultOrder {
			return out[i].DefaultOrder < out[j].DefaultOrder
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) deleteRoute(id lending.RouteID) error {
	if _, ok := m.routes[id]; !ok {
		return generic.ErrRouteNotFound
	}
	delete(m.routes, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView runs against the parent while the parent's lock is held by WithTx.
type txView struct {
	m *Memory
}

func (tv *txView) WithTx(_ context.Context, fn func(lending.Store) error) error { return fn(tv) }

func (tv *txView) SaveLoan(_ context.Context, l lending.Loan) error { return tv.m.saveLoan(l) }
func (tv *txView) GetLoan(_ context.Context, id lending.LoanID) (*lending.Loan, error) {
	return tv.m.getLoan(id)
}
func (tv *txView) ListLoans(_ context.Context, f lending.LoanFilter) ([]lending.Loan, error) {
	return tv.m.listLoans(f), nil
}
func (tv *txView) DeleteLoan(_ context.Context, id lending.LoanID) error { return tv.m.deleteLoan(id) }
func (tv *txView) ShiftRoute(_ context.Context, route lending.RouteID, from, to, delta int) error {
	tv.m.shiftRoute(route, from, to, delta)
	return nil
}
func (tv *txView) LastPosition(_ context.Context, route lending.RouteID) (int, error) {
	return tv.m.lastPosition(route), nil
}
func (tv *txView) SavePayment(_ context.Context, p lending.Payment) error {
	tv.m.payments[p.ID] = p
	return nil
}
func (tv *txView) GetPayment(_ context.Context, id lending.PaymentID) (*lending.Payment, error) {
	return tv.m.getPayment(id)
}
func (tv *txView) ListPayments(_ context.Context, f lending.PaymentFilter) ([]lending.Payment, error) {
	return tv.m.listPayments(f), nil
}
func (tv *txView) DeletePayment(_ context.Context, id lending.PaymentID) error {
	return tv.m.deletePayment(id)
}
func (tv *txView) DeletePaymentsByLoan(_ context.Context, loanID lending.LoanID) (int, error) {
	return tv.m.deletePaymentsByLoan(loanID), nil
}
func (tv *txView) SaveClient(_ context.Context, c lending.Client) error {
	tv.m.clients[c.ID] = c
	return nil
}
func (tv *txView) GetClient(_ context.Context, id lending.ClientID) (*lending.Client, error) {
	return tv.m.getClient(id)
}
func (tv *txView) ListClients(_ context.Context, f lending.ClientFilter) ([]lending.Client, error) {
	return tv.m.listClients(f), nil
}
func (tv *txView) SaveFinanceEntry(_ context.Context, e lending.FinanceEntry) error {
	tv.m.finance[e.ID] = e
	return nil
}
func (tv *txView) ListFinanceEntries(_ context.Context, scope lending.Scope, kind lending.FinanceKind) ([]lending.FinanceEntry, error) {
	return tv.m.listFinance(scope, kind), nil
}
func (tv *txView) SumFinance(_ context.Context, scope lending.Scope, kind lending.FinanceKind) (generic.Amount, error) {
	var total generic.Amount
	for _, e := range tv.m.listFinance(scope, kind) {
		total = total.Add(e.Amount)
	}
	return total, nil
}
func (tv *txView) SaveRoute(_ context.Context, r lending.Route) error {
	tv.m.saveRoute(r)
	return nil
}
func (tv *txView) GetRoute(_ context.Context, id lending.RouteID) (*lending.Route, error) {
	return tv.m.getRoute(id)
}
func (tv *txView) ListRoutes(_ context.Context, f lending.RouteFilter) ([]lending.Route, error) {
	return tv.m.listRoutes(f), nil
}
func (tv *txView) DeleteRoute(_ context.Context, id lending.RouteID) error {
	return tv.m.deleteRoute(id)
}
