/*
service.go - Write-side lending operations

PURPOSE:
  Issues loans, records and reverses payments, and keeps every loan's
  balance and terminated flag consistent with its payments. These are
  the only operations that mutate loans; the aggregation engine is
  read-only over them.

INVARIANTS:
  1. Balance never goes below zero
  2. Terminated is re-evaluated after every payment change:
     balance <= TerminationThreshold
  3. A loan is never terminated at creation
  4. Route positions stay contiguous when loans are inserted, moved or
     removed

ATOMICITY:
  Every operation touching more than one record runs inside
  Store.WithTx so a payment and its loan balance change together.

EVENTS:
  Successful writes publish loanUpdated or paymentUpdated. Publishing is
  best effort: a failed publish is logged and never undoes the write.

SEE ALSO:
  - store.go: Persistence interfaces
  - factory/loan.go: Builds a Loan from issuance terms
*/
package lending

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/notify"
)

// Service applies lending operations against a Store.
type Service struct {
	Store                Store
	Publisher            notify.Publisher
	Logger               *slog.Logger
	TerminationThreshold generic.Amount
	Now                  func() time.Time

	// Calendar and Location place a loan's finish date when its terms
	// change. They must match the ones the loan factory uses.
	Calendar generic.CollectionCalendar
	Location *time.Location
}

func NewService(store Store, publisher notify.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:                store,
		Publisher:            publisher,
		Logger:               logger,
		TerminationThreshold: DefaultTerminationThreshold,
		Now:                  time.Now,
		Calendar:             generic.DefaultCalendar(),
		Location:             time.UTC,
	}
}

// LoanEvent is the payload of loanUpdated.
type LoanEvent struct {
	Message         string `json:"message"`
	Loan            *Loan  `json:"loan,omitempty"`
	DeletedPayments int    `json:"deletedPayments,omitempty"`
}

// PaymentEvent is the payload of paymentUpdated.
type PaymentEvent struct {
	Message string   `json:"message"`
	Loan    *Loan    `json:"updatedLoan"`
	Payment *Payment `json:"payment,omitempty"`
}

// PaymentReceipt is returned after a payment is registered.
type PaymentReceipt struct {
	Payment        Payment `json:"payment"`
	Loan           Loan    `json:"updatedLoan"`
	NearCompletion bool    `json:"nearCompletion"`
}

func (s *Service) publish(ctx context.Context, event string, payload any) {
	if err := s.Publisher.Publish(ctx, event, payload); err != nil {
		s.Logger.WarnContext(ctx, "event not delivered", "event", event, "error", err)
	}
}

func (s *Service) terminated(balance generic.Amount) bool {
	return balance.LessThanOrEqual(s.TerminationThreshold)
}

// finishDate is the start of the day the last installment falls on.
func (s *Service) finishDate(start time.Time, installments int) *time.Time {
	last := generic.LastCollectionDay(s.Calendar, generic.DayIn(start, s.Location), installments)
	if last.IsZero() {
		return nil
	}
	t := last.StartIn(s.Location)
	return &t
}

// checkInstallments rejects an installment count outside [1, MaxInstallments].
func checkInstallments(n int) error {
	switch {
	case n < 1:
		return &generic.LoanTermsError{Field: "installments", Reason: "must be at least 1"}
	case n > MaxInstallments:
		return &generic.LoanTermsError{Field: "installments", Reason: fmt.Sprintf("must be at most %d", MaxInstallments)}
	}
	return nil
}

// =============================================================================
// LOANS
// =============================================================================

// IssueLoan stores a new loan. When after is set the loan is placed right
// behind that loan in its route; otherwise it goes to the end of its route.
func (s *Service) IssueLoan(ctx context.Context, loan Loan, after *LoanID) (*Loan, error) {
	if !loan.LoanAmount.IsPositive() {
		return nil, &generic.LoanTermsError{Field: "loanAmount", Reason: "must be positive"}
	}
	if err := checkInstallments(loan.Installments); err != nil {
		return nil, err
	}
	if loan.ID == "" {
		loan.ID = LoanID(uuid.NewString())
	}
	if loan.FinishDate == nil {
		loan.FinishDate = s.finishDate(loan.Date, loan.Installments)
	}
	loan.Terminated = false

	err := s.Store.WithTx(ctx, func(st Store) error {
		pos, err := placeInRoute(ctx, st, loan.Route, after)
		if err != nil {
			return err
		}
		loan.Position = pos
		if err := st.SaveLoan(ctx, loan); err != nil {
			return err
		}
		return setFavorite(ctx, st, loan.Client.ID, false)
	})
	if err != nil {
		return nil, fmt.Errorf("issue loan: %w", err)
	}

	s.Logger.InfoContext(ctx, "loan issued",
		"loan_id", loan.ID,
		"client_id", loan.Client.ID,
		"amount", loan.LoanAmount.String(),
		"installments", loan.Installments)
	s.publish(ctx, notify.EventLoanUpdated, LoanEvent{Message: "loan created", Loan: &loan})
	return &loan, nil
}

// LoanChanges are the editable fields of a loan. Nil fields are unchanged.
type LoanChanges struct {
	LoanAmount   *generic.Amount
	Interest     *float64
	Installments *int
	Date         *time.Time
	FinishDate   *time.Time
	Client       *ClientRef
	Description  *string
	Route        *RouteID
	After        *LoanID
}

// UpdateLoan edits a loan. Changing the terms recomputes the installment
// value and sets the balance to the new total owed minus everything already
// paid. Changing the installment count or the start date moves the finish
// date to the new last installment unless a finish date is given.
func (s *Service) UpdateLoan(ctx context.Context, id LoanID, ch LoanChanges) (*Loan, error) {
	var updated Loan
	err := s.Store.WithTx(ctx, func(st Store) error {
		loan, err := st.GetLoan(ctx, id)
		if err != nil {
			return err
		}

		termsChanged, scheduleChanged := false, false
		if ch.LoanAmount != nil && !ch.LoanAmount.Equal(loan.LoanAmount) {
			loan.LoanAmount, termsChanged = *ch.LoanAmount, true
		}
		if ch.Interest != nil && *ch.Interest != loan.Interest {
			loan.Interest, termsChanged = *ch.Interest, true
		}
		if ch.Installments != nil && *ch.Installments != loan.Installments {
			if err := checkInstallments(*ch.Installments); err != nil {
				return err
			}
			loan.Installments, termsChanged, scheduleChanged = *ch.Installments, true, true
		}
		if ch.Date != nil && !ch.Date.Equal(loan.Date) {
			loan.Date, scheduleChanged = *ch.Date, true
		}
		switch {
		case ch.FinishDate != nil:
			loan.FinishDate = ch.FinishDate
		case scheduleChanged:
			loan.FinishDate = s.finishDate(loan.Date, loan.Installments)
		}
		if ch.Client != nil {
			loan.Client = *ch.Client
		}
		if ch.Description != nil {
			loan.Description = *ch.Description
		}

		if termsChanged {
			payments, err := st.ListPayments(ctx, PaymentFilter{LoanID: id})
			if err != nil {
				return err
			}
			var paid generic.Amount
			for _, p := range payments {
				paid = paid.Add(p.Amount)
			}
			loan.InstallmentValue = loan.ScheduledInstallmentValue()
			loan.Balance = loan.TotalOwed().Sub(paid).Max(generic.Amount{})
			loan.Terminated = len(payments) > 0 && s.terminated(loan.Balance)
		}

		if err := moveInRoute(ctx, st, loan, ch.Route, ch.After); err != nil {
			return err
		}
		updated = *loan
		return st.SaveLoan(ctx, updated)
	})
	if err != nil {
		return nil, fmt.Errorf("update loan %s: %w", id, err)
	}

	s.publish(ctx, notify.EventLoanUpdated, LoanEvent{Message: "loan updated", Loan: &updated})
	return &updated, nil
}

// DeleteLoan removes a loan together with its payments.
func (s *Service) DeleteLoan(ctx context.Context, id LoanID) error {
	var removed int
	err := s.Store.WithTx(ctx, func(st Store) error {
		loan, err := st.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if removed, err = st.DeletePaymentsByLoan(ctx, id); err != nil {
			return err
		}
		if err := st.DeleteLoan(ctx, id); err != nil {
			return err
		}
		if loan.Route != "" {
			return st.ShiftRoute(ctx, loan.Route, loan.Position+1, -1, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete loan %s: %w", id, err)
	}

	s.publish(ctx, notify.EventLoanUpdated, LoanEvent{Message: "loan deleted", DeletedPayments: removed})
	return nil
}

// RoutePosition assigns an explicit position to a loan.
type RoutePosition struct {
	LoanID   LoanID `json:"id" validate:"required"`
	Position int    `json:"orden" validate:"gte=0"`
}

// ReorderRoute applies explicit positions.
func (s *Service) ReorderRoute(ctx context.Context, order []RoutePosition) error {
	err := s.Store.WithTx(ctx, func(st Store) error {
		for _, item := range order {
			loan, err := st.GetLoan(ctx, item.LoanID)
			if err != nil {
				return err
			}
			loan.Position = item.Position
			if err := st.SaveLoan(ctx, *loan); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reorder route: %w", err)
	}

	s.publish(ctx, notify.EventLoanUpdated, LoanEvent{Message: "route order updated"})
	return nil
}

// placeInRoute returns the position for a loan joining route and opens the
// slot when it is inserted after an existing loan.
func placeInRoute(ctx context.Context, st Store, route RouteID, after *LoanID) (int, error) {
	if after != nil && *after != "" {
		prev, err := st.GetLoan(ctx, *after)
		if err != nil {
			return 0, err
		}
		pos := prev.Position + 1
		if err := st.ShiftRoute(ctx, route, pos, -1, 1); err != nil {
			return 0, err
		}
		return pos, nil
	}
	if route == "" {
		return 0, nil
	}
	last, err := st.LastPosition(ctx, route)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// moveInRoute relocates loan when its route changes or it is placed after
// another loan. loan.Position and loan.Route are updated in place.
func moveInRoute(ctx context.Context, st Store, loan *Loan, route *RouteID, after *LoanID) error {
	if route != nil && *route != loan.Route {
		if loan.Route != "" {
			if err := st.ShiftRoute(ctx, loan.Route, loan.Position+1, -1, -1); err != nil {
				return err
			}
		}
		pos, err := placeInRoute(ctx, st, *route, after)
		if err != nil {
			return err
		}
		loan.Route, loan.Position = *route, pos
		return nil
	}

	if after == nil || *after == "" || *after == loan.ID {
		return nil
	}
	prev, err := st.GetLoan(ctx, *after)
	if err != nil {
		return err
	}
	switch {
	case prev.Position > loan.Position:
		// moving down: everything between closes the gap, loan takes prev's slot
		if err := st.ShiftRoute(ctx, loan.Route, loan.Position+1, prev.Position, -1); err != nil {
			return err
		}
		loan.Position = prev.Position
	case prev.Position+1 < loan.Position:
		target := prev.Position + 1
		if err := st.ShiftRoute(ctx, loan.Route, target, loan.Position-1, 1); err != nil {
			return err
		}
		loan.Position = target
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RegisterPayment records a payment and applies it to the loan balance.
func (s *Service) RegisterPayment(ctx context.Context, p Payment) (*PaymentReceipt, error) {
	if !p.Amount.IsPositive() {
		return nil, generic.ErrInvalidAmount
	}
	if p.ID == "" {
		p.ID = PaymentID(uuid.NewString())
	}
	if p.Date.IsZero() {
		p.Date = s.Now()
	}

	var receipt PaymentReceipt
	err := s.Store.WithTx(ctx, func(st Store) error {
		loan, err := st.GetLoan(ctx, p.LoanID)
		if err != nil {
			return err
		}
		if p.CreatedBy == "" {
			p.CreatedBy = loan.CreatedBy
		}
		p.Client = loan.Client

		loan.Balance = loan.Balance.Sub(p.Amount).Max(generic.Amount{})
		loan.Terminated = s.terminated(loan.Balance)

		if err := st.SavePayment(ctx, p); err != nil {
			return err
		}
		if err := st.SaveLoan(ctx, *loan); err != nil {
			return err
		}

		receipt = PaymentReceipt{Payment: p, Loan: *loan, NearCompletion: loan.NearCompletion()}
		if receipt.NearCompletion {
			return setFavorite(ctx, st, loan.Client.ID, true)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register payment: %w", err)
	}

	msg := "payment registered"
	if receipt.Loan.Terminated {
		msg = fmt.Sprintf("loan of client %s finished", receipt.Loan.Client.Name)
	}
	s.Logger.InfoContext(ctx, "payment registered",
		"payment_id", p.ID,
		"loan_id", p.LoanID,
		"amount", p.Amount.String(),
		"balance", receipt.Loan.Balance.String(),
		"terminated", receipt.Loan.Terminated)
	s.publish(ctx, notify.EventPaymentUpdated, PaymentEvent{Message: msg, Loan: &receipt.Loan, Payment: &receipt.Payment})
	return &receipt, nil
}

// DeletePayment removes a payment and gives its amount back to the loan
// balance. The loan stays terminated only if other payments remain and the
// restored balance is still within the threshold.
func (s *Service) DeletePayment(ctx context.Context, id PaymentID) (*Loan, error) {
	var updated Loan
	err := s.Store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		loan, err := st.GetLoan(ctx, p.LoanID)
		if err != nil {
			return err
		}
		if err := st.DeletePayment(ctx, id); err != nil {
			return err
		}
		remaining, err := st.ListPayments(ctx, PaymentFilter{LoanID: loan.ID})
		if err != nil {
			return err
		}

		// Only an applied payment terminates a loan, so a loan left without
		// payments is open whatever its balance.
		loan.Balance = loan.Balance.Add(p.Amount)
		loan.Terminated = len(remaining) > 0 && s.terminated(loan.Balance)
		updated = *loan
		return st.SaveLoan(ctx, updated)
	})
	if err != nil {
		return nil, fmt.Errorf("delete payment %s: %w", id, err)
	}

	s.publish(ctx, notify.EventPaymentUpdated, PaymentEvent{Message: "payment deleted", Loan: &updated})
	return &updated, nil
}

// =============================================================================
// CLIENTS AND FINANCE
// =============================================================================

func (s *Service) RegisterClient(ctx context.Context, c Client) (*Client, error) {
	if c.ID == "" {
		c.ID = ClientID(uuid.NewString())
	}
	if c.Date.IsZero() {
		c.Date = s.Now()
	}
	if err := s.Store.SaveClient(ctx, c); err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	return &c, nil
}

func (s *Service) RecordFinance(ctx context.Context, e FinanceEntry) (*FinanceEntry, error) {
	if !e.Amount.IsPositive() {
		return nil, generic.ErrInvalidAmount
	}
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("%q: %w", e.Kind, generic.ErrInvalidKind)
	}
	if e.ID == "" {
		e.ID = FinanceEntryID(uuid.NewString())
	}
	if e.Date.IsZero() {
		e.Date = s.Now()
	}
	if err := s.Store.SaveFinanceEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("record %s: %w", e.Kind, err)
	}
	return &e, nil
}

func setFavorite(ctx context.Context, st Store, id ClientID, favorite bool) error {
	if id == "" {
		return nil
	}
	c, err := st.GetClient(ctx, id)
	if err != nil {
		if generic.IsNotFound(err) {
			return nil
		}
		return err
	}
	if c.Favorite == favorite {
		return nil
	}
	c.Favorite = favorite
	return st.SaveClient(ctx, *c)
}
