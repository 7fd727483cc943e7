// Package lending holds the microloan records (loans, payments, clients and
// finance entries) and the write-side rules that keep loan balances in step
// with the payments recorded against them.
package lending

import (
	"time"

	"github.com/smartmoney/collection-engine/generic"
)

// DefaultTerminationThreshold is the balance at or below which a loan counts
// as paid off once a payment is applied.
var DefaultTerminationThreshold = generic.NewAmountFromInt(1000)

// NearCompletionInstallments flags clients with this many or fewer
// installments left.
const NearCompletionInstallments = 8

// MaxInstallments is the longest term a loan may have: ten years of daily
// installments.
const MaxInstallments = 3650

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID string
type PaymentID string
type ClientID string
type OperatorID string
type RouteID string
type FinanceEntryID string

// Scope lists the operators whose records a caller may see. An empty scope is
// unrestricted.
type Scope []OperatorID

// Includes reports whether records created by op are visible in the scope.
func (s Scope) Includes(op OperatorID) bool {
	if len(s) == 0 {
		return true
	}
	for _, o := range s {
		if o == op {
			return true
		}
	}
	return false
}

// =============================================================================
// CLIENT
// =============================================================================

// ClientRef is the denormalized client data carried on loans and payments.
type ClientRef struct {
	ID       ClientID `json:"id"`
	Name     string   `json:"name,omitempty"`
	Document string   `json:"document,omitempty"`
}

type Client struct {
	ID        ClientID   `json:"id"`
	Name      string     `json:"name"`
	Document  string     `json:"document"`
	Favorite  bool       `json:"favorite"`
	CreatedBy OperatorID `json:"createdBy"`
	Date      time.Time  `json:"date"`
}

func (c Client) Ref() ClientRef {
	return ClientRef{ID: c.ID, Name: c.Name, Document: c.Document}
}

// =============================================================================
// LOAN
// =============================================================================

// Loan is a principal repaid in daily installments with a flat interest rate
// applied once over the full term.
type Loan struct {
	ID               LoanID         `json:"id"`
	CreatedBy        OperatorID     `json:"createdBy"`
	Client           ClientRef      `json:"clientId"`
	LoanAmount       generic.Amount `json:"loanAmount"`
	Interest         float64        `json:"interest"`
	Installments     int            `json:"installments"`
	InstallmentValue generic.Amount `json:"installmentValue"`
	Balance          generic.Amount `json:"balance"`
	Date             time.Time      `json:"date"`
	FinishDate       *time.Time     `json:"finishDate,omitempty"`
	Terminated       bool           `json:"terminated"`
	Route            RouteID        `json:"ruta,omitempty"`
	Position         int            `json:"orden"`
	Description      string         `json:"description,omitempty"`
}

// TotalOwed is principal plus flat interest.
func (l Loan) TotalOwed() generic.Amount {
	return l.LoanAmount.Mul(generic.Percent(l.Interest))
}

// ScheduledInstallmentValue recomputes the per-installment value from the
// terms, ignoring the stored InstallmentValue. A zero installment count is
// treated as one.
func (l Loan) ScheduledInstallmentValue() generic.Amount {
	return InstallmentValue(l.LoanAmount, l.Interest, l.Installments)
}

// RemainingInstallments is how many installments the current balance still
// represents, rounded up.
func (l Loan) RemainingInstallments() int {
	if !l.InstallmentValue.IsPositive() {
		return 0
	}
	return int(l.Balance.Div(l.InstallmentValue.Value).Value.Ceil().IntPart())
}

// NearCompletion reports whether the client is within the last few
// installments of the loan.
func (l Loan) NearCompletion() bool {
	return !l.Terminated && l.RemainingInstallments() <= NearCompletionInstallments
}

// InstallmentValue is principal × (1 + interest/100) / installments.
func InstallmentValue(principal generic.Amount, interest float64, installments int) generic.Amount {
	if installments < 1 {
		installments = 1
	}
	return principal.Mul(generic.Percent(interest)).DivInt(installments)
}

// =============================================================================
// ROUTE - A collection round and the collectors who work it
// =============================================================================

// Route groups the loans a collector visits in one round. Loans reference
// their route by ID; deleting a route leaves those loans in place.
type Route struct {
	ID           RouteID      `json:"id"`
	Name         string       `json:"nombre"`
	Description  string       `json:"descripcion,omitempty"`
	DefaultOrder int          `json:"ordenPredeterminado"`
	Collectors   []OperatorID `json:"cobradores"`
	CreatedBy    OperatorID   `json:"createdBy"`
	Date         time.Time    `json:"date"`
}

// AssignedTo reports whether op collects on the route.
func (r Route) AssignedTo(op OperatorID) bool {
	for _, c := range r.Collectors {
		if c == op {
			return true
		}
	}
	return false
}

// =============================================================================
// PAYMENT
// =============================================================================

type Payment struct {
	ID        PaymentID      `json:"id"`
	LoanID    LoanID         `json:"loanId"`
	Client    ClientRef      `json:"clientId"`
	CreatedBy OperatorID     `json:"createdBy"`
	Amount    generic.Amount `json:"amount"`
	Date      time.Time      `json:"date"`
}

// =============================================================================
// FINANCE ENTRIES - Cash movements outside loans
// =============================================================================

type FinanceKind string

const (
	FinanceCapital    FinanceKind = "capital"
	FinanceBill       FinanceKind = "bill"
	FinanceWithdrawal FinanceKind = "withdrawal"
)

func (k FinanceKind) Valid() bool {
	switch k {
	case FinanceCapital, FinanceBill, FinanceWithdrawal:
		return true
	}
	return false
}

type FinanceEntry struct {
	ID          FinanceEntryID `json:"id"`
	Kind        FinanceKind    `json:"kind"`
	Amount      generic.Amount `json:"amount"`
	Description string         `json:"description,omitempty"`
	CreatedBy   OperatorID     `json:"createdBy"`
	Date        time.Time      `json:"date"`
}
