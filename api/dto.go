/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication that are not already
  domain types. Loans, payments, clients and summaries are returned as
  their lending/collection types directly; their JSON field names are
  the dashboard contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

VALIDATION:
  Request types carry go-playground/validator tags and are checked by
  Handler.decode before any service call. generic.Amount is validated as
  a number, so `validate:"gt=0"` works on money fields.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/loan.go: LoanRequest (loan issuance body)
*/
package api

import (
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/smartmoney/collection-engine/collection"
	"github.com/smartmoney/collection-engine/factory"
	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// UpdateLoanRequest edits a loan. Omitted fields are left unchanged.
type UpdateLoanRequest struct {
	LoanAmount   *generic.Amount    `json:"loanAmount,omitempty" validate:"omitempty,gt=0"`
	Interest     *float64           `json:"interest,omitempty" validate:"omitempty,gte=0"`
	Installments *int               `json:"installments,omitempty" validate:"omitempty,gte=1,lte=3650"`
	Date         *factory.Date      `json:"date,omitempty"`
	FinishDate   *factory.Date      `json:"finishDate,omitempty"`
	Client       *lending.ClientRef `json:"clientId,omitempty"`
	Description  *string            `json:"description,omitempty"`
	Route        *lending.RouteID   `json:"ruta,omitempty"`
	After        *lending.LoanID    `json:"after,omitempty"`
}

// Changes converts the request, reading bare dates in loc.
func (r UpdateLoanRequest) Changes(loc *time.Location) lending.LoanChanges {
	ch := lending.LoanChanges{
		LoanAmount:   r.LoanAmount,
		Interest:     r.Interest,
		Installments: r.Installments,
		Client:       r.Client,
		Description:  r.Description,
		Route:        r.Route,
		After:        r.After,
	}
	if r.Date != nil && !r.Date.IsZero() {
		d := r.Date.In(loc)
		ch.Date = &d
	}
	if r.FinishDate != nil && !r.FinishDate.IsZero() {
		d := r.FinishDate.In(loc)
		ch.FinishDate = &d
	}
	return ch
}

// ReorderRequest sets explicit route positions.
type ReorderRequest struct {
	Order []lending.RoutePosition `json:"order" validate:"required,min=1,dive"`
}

// PaymentRequest registers a payment against the loan in the URL.
type PaymentRequest struct {
	Amount generic.Amount `json:"amount" validate:"gt=0"`
	Date   *factory.Date  `json:"date,omitempty"`
}

// ClientRequest registers a client.
type ClientRequest struct {
	Name     string `json:"name" validate:"required"`
	Document string `json:"document"`
}

// FinanceRequest records a capital injection, bill or withdrawal.
type FinanceRequest struct {
	Amount      generic.Amount `json:"amount" validate:"gt=0"`
	Description string         `json:"description"`
	Date        *factory.Date  `json:"date,omitempty"`
}

// RouteRequest creates a collection route. ID is optional.
type RouteRequest struct {
	ID           lending.RouteID      `json:"id,omitempty"`
	Name         string               `json:"nombre" validate:"required"`
	Description  string               `json:"descripcion"`
	DefaultOrder int                  `json:"ordenPredeterminado" validate:"gte=0"`
	Collectors   []lending.OperatorID `json:"cobradores"`
}

// UpdateRouteRequest edits a route. A present cobradores list replaces the
// assignment.
type UpdateRouteRequest struct {
	Name         *string               `json:"nombre,omitempty"`
	Description  *string               `json:"descripcion,omitempty"`
	DefaultOrder *int                  `json:"ordenPredeterminado,omitempty" validate:"omitempty,gte=0"`
	Collectors   *[]lending.OperatorID `json:"cobradores,omitempty"`
}

func (r UpdateRouteRequest) Changes() lending.RouteChanges {
	return lending.RouteChanges{
		Name:         r.Name,
		Description:  r.Description,
		DefaultOrder: r.DefaultOrder,
		Collectors:   r.Collectors,
	}
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ScheduleDTO is the installment plan of one loan.
type ScheduleDTO struct {
	LoanID       lending.LoanID           `json:"loanId"`
	Installments []collection.Installment `json:"installments"`
	FinishDate   generic.TimePoint        `json:"finishDate"`
	Remaining    int                      `json:"remainingInstallments"`
	DaysLate     int                      `json:"daysLate"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if a, ok := field.Interface().(generic.Amount); ok {
			return a.Value.InexactFloat64()
		}
		return nil
	}, generic.Amount{})
	return v
}
