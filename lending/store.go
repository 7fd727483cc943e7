/*
store.go - Persistence interfaces for lending records

PURPOSE:
  Defines the interface between the lending rules and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  LoanStore:    Loans and their route ordering
  PaymentStore: Payments recorded against loans
  ClientStore:  Borrowers
  FinanceStore: Capital, bills and withdrawals
  RouteStore:   Collection routes and their collectors
  Store:        All of the above plus atomic multi-record writes

ACCESS SCOPE:
  Every List* call takes a Scope. Records created by operators outside
  the scope are never returned. The aggregation engine relies on this:
  it receives collections that are already scoped.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - lending/store/memory.go: In-memory for testing

SEE ALSO:
  - service.go: Business operations built on Store
*/
package lending

import (
	"context"
	"time"

	"github.com/smartmoney/collection-engine/generic"
)

// =============================================================================
// FILTERS
// =============================================================================

// DateRange bounds a query by record date, inclusive. Nil bounds are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

type LoanFilter struct {
	Scope    Scope
	Route    RouteID
	ClientID ClientID
	Started  DateRange
}

type PaymentFilter struct {
	Scope  Scope
	LoanID LoanID
	Paid   DateRange
}

type ClientFilter struct {
	Scope   Scope
	Created DateRange
}

// RouteFilter selects routes created in Scope. A non-empty Collector keeps
// only the routes that operator is assigned to.
type RouteFilter struct {
	Scope     Scope
	Collector OperatorID
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type LoanStore interface {
	// SaveLoan inserts or replaces a loan.
	SaveLoan(ctx context.Context, loan Loan) error

	// GetLoan returns ErrLoanNotFound when the loan doesn't exist.
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)

	// ListLoans returns loans ordered by route position, then start date.
	ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, error)

	DeleteLoan(ctx context.Context, id LoanID) error

	// ShiftRoute adds delta to the position of every loan in route whose
	// position lies in [from, to]. A negative to means no upper bound.
	ShiftRoute(ctx context.Context, route RouteID, from, to, delta int) error

	// LastPosition returns the highest position in the route, or -1 when the
	// route is empty.
	LastPosition(ctx context.Context, route RouteID) (int, error)
}

type PaymentStore interface {
	SavePayment(ctx context.Context, p Payment) error

	// GetPayment returns ErrPaymentNotFound when the payment doesn't exist.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// ListPayments returns payments in chronological order.
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)

	DeletePayment(ctx context.Context, id PaymentID) error

	// DeletePaymentsByLoan removes every payment of a loan and reports how
	// many were removed.
	DeletePaymentsByLoan(ctx context.Context, loanID LoanID) (int, error)
}

type ClientStore interface {
	SaveClient(ctx context.Context, c Client) error

	// GetClient returns ErrClientNotFound when the client doesn't exist.
	GetClient(ctx context.Context, id ClientID) (*Client, error)

	ListClients(ctx context.Context, filter ClientFilter) ([]Client, error)
}

type FinanceStore interface {
	SaveFinanceEntry(ctx context.Context, e FinanceEntry) error
	ListFinanceEntries(ctx context.Context, scope Scope, kind FinanceKind) ([]FinanceEntry, error)

	// SumFinance totals the entries of one kind visible in scope.
	SumFinance(ctx context.Context, scope Scope, kind FinanceKind) (generic.Amount, error)
}

type RouteStore interface {
	SaveRoute(ctx context.Context, r Route) error

	// GetRoute returns ErrRouteNotFound when the route doesn't exist.
	GetRoute(ctx context.Context, id RouteID) (*Route, error)

	// ListRoutes returns routes ordered by DefaultOrder, then name.
	ListRoutes(ctx context.Context, filter RouteFilter) ([]Route, error)

	// DeleteRoute returns ErrRouteNotFound when the route doesn't exist.
	DeleteRoute(ctx context.Context, id RouteID) error
}

// Store is the full persistence surface.
type Store interface {
	LoanStore
	PaymentStore
	ClientStore
	FinanceStore
	RouteStore

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
