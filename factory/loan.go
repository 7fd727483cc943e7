/*
Package factory provides JSON to Go loan conversion.

PURPOSE:
  Converts loan issuance requests into lending.Loan values with derived
  terms filled in: installment value, opening balance and finish date.
  Operators send the terms; the factory computes the rest the same way
  every time.

JSON SCHEMA:
  {
    "clientId": {"id": "c-17", "name": "Ana Ruiz", "document": "1032"},
    "loanAmount": 1000,
    "interest": 20,
    "installments": 10,
    "date": "2024-01-01",
    "ruta": "north",
    "after": "loan-id-to-follow",
    "description": "market stall",
    "useProvidedValues": false,
    "installmentValue": 120,
    "balance": 1200,
    "finishDate": "2024-01-11"
  }

DERIVED FIELDS:
  installmentValue = loanAmount × (1 + interest/100) / installments
  balance          = installmentValue × installments
  finishDate       = due date of the last installment

  With useProvidedValues the caller's installmentValue, balance and
  finishDate win over the derived ones (migrating loans issued elsewhere).

USAGE:
  f := factory.NewLoanFactory(generic.DefaultCalendar(), loc)
  req, err := f.ParseRequest(body)
  loan, err := f.Build(req, "operator-7")
  lendingService.IssueLoan(ctx, loan, req.After)

SEE ALSO:
  - collection/schedule.go: Finish date computation
  - lending/service.go: IssueLoan
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smartmoney/collection-engine/collection"
	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// LoanRequest is the JSON representation of a loan to issue.
type LoanRequest struct {
	Client       lending.ClientRef `json:"clientId"`
	LoanAmount   generic.Amount    `json:"loanAmount" validate:"gt=0"`
	Interest     float64           `json:"interest" validate:"gte=0"`
	Installments int               `json:"installments" validate:"gte=1,lte=3650"`
	Date         Date              `json:"date"`
	Route        lending.RouteID   `json:"ruta,omitempty"`
	After        *lending.LoanID   `json:"after,omitempty"`
	Description  string            `json:"description,omitempty"`

	UseProvidedValues bool            `json:"useProvidedValues,omitempty"`
	InstallmentValue  *generic.Amount `json:"installmentValue,omitempty"`
	Balance           *generic.Amount `json:"balance,omitempty"`
	FinishDate        *Date           `json:"finishDate,omitempty"`
}

// Date accepts "2006-01-02" or RFC 3339 timestamps. A bare date names a
// day in the factory's location rather than in UTC.
type Date struct {
	time.Time
	dateOnly bool
}

// In returns the instant the date names when read in loc.
func (d Date) In(loc *time.Location) time.Time {
	if d.dateOnly {
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	}
	return d.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time, d.dateOnly = t, true
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time)
}

// =============================================================================
// LOAN FACTORY
// =============================================================================

// LoanFactory builds loans from issuance requests.
type LoanFactory struct {
	Calendar generic.CollectionCalendar
	Location *time.Location
	Now      func() time.Time
}

func NewLoanFactory(cal generic.CollectionCalendar, loc *time.Location) *LoanFactory {
	if cal == nil {
		cal = generic.DefaultCalendar()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &LoanFactory{Calendar: cal, Location: loc, Now: time.Now}
}

// ParseRequest parses a JSON loan request.
func (f *LoanFactory) ParseRequest(body []byte) (*LoanRequest, error) {
	var req LoanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to parse loan JSON: %w", err)
	}
	return &req, nil
}

// Build converts a request to a loan owned by operator. The loan has no ID
// yet; IssueLoan assigns one.
func (f *LoanFactory) Build(req *LoanRequest, operator lending.OperatorID) (lending.Loan, error) {
	if !req.LoanAmount.IsPositive() {
		return lending.Loan{}, &generic.LoanTermsError{Field: "loanAmount", Reason: "must be positive"}
	}
	if req.Installments < 1 {
		return lending.Loan{}, &generic.LoanTermsError{Field: "installments", Reason: "must be at least 1"}
	}
	if req.Installments > lending.MaxInstallments {
		return lending.Loan{}, &generic.LoanTermsError{Field: "installments", Reason: fmt.Sprintf("must be at most %d", lending.MaxInstallments)}
	}
	if req.Interest < 0 {
		return lending.Loan{}, &generic.LoanTermsError{Field: "interest", Reason: "must not be negative"}
	}

	start := req.Date.In(f.Location)
	if start.IsZero() {
		start = f.Now()
	}

	loan := lending.Loan{
		CreatedBy:    operator,
		Client:       req.Client,
		LoanAmount:   req.LoanAmount,
		Interest:     req.Interest,
		Installments: req.Installments,
		Date:         start,
		Route:        req.Route,
		Description:  req.Description,
	}
	loan.InstallmentValue = loan.ScheduledInstallmentValue()
	loan.Balance = loan.InstallmentValue.MulInt(loan.Installments)
	finish := collection.FinishDate(generic.DayIn(start, f.Location), loan.Installments, f.Calendar).StartIn(f.Location)
	loan.FinishDate = &finish

	if req.UseProvidedValues {
		if req.InstallmentValue != nil {
			loan.InstallmentValue = *req.InstallmentValue
		}
		if req.Balance != nil {
			loan.Balance = *req.Balance
		}
		if req.FinishDate != nil && !req.FinishDate.IsZero() {
			provided := req.FinishDate.In(f.Location)
			loan.FinishDate = &provided
		}
	}
	if loan.Balance.IsNegative() {
		return lending.Loan{}, &generic.LoanTermsError{Field: "balance", Reason: "must not be negative"}
	}
	return loan, nil
}
