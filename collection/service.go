package collection

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// Service loads the records visible to a scope and builds their summary.
type Service struct {
	Store  lending.Store
	Engine *Orchestrator
	Now    func() time.Time
}

func NewService(store lending.Store, engine *Orchestrator) *Service {
	return &Service{Store: store, Engine: engine, Now: time.Now}
}

// Summary builds and publishes the snapshot for scope as of now.
func (s *Service) Summary(ctx context.Context, scope lending.Scope) (Summary, error) {
	return s.SummaryAt(ctx, scope, s.Now())
}

// SummaryAt builds and publishes the snapshot for scope as seen at asOf.
func (s *Service) SummaryAt(ctx context.Context, scope lending.Scope, asOf time.Time) (Summary, error) {
	in, err := s.Load(ctx, scope, asOf)
	if err != nil {
		return Summary{}, err
	}
	return s.Engine.BuildSummary(ctx, in), nil
}

// Load reads everything a summary needs. The queries run concurrently and
// the first failure cancels the rest.
func (s *Service) Load(ctx context.Context, scope lending.Scope, asOf time.Time) (SummaryInput, error) {
	loc := s.Engine.Location
	today := generic.DayIn(asOf, loc)
	todayRange := dayRange(today, loc)
	yesterdayRange := dayRange(today.AddDays(-1), loc)

	in := SummaryInput{AsOf: asOf}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		in.Loans, err = s.Store.ListLoans(ctx, lending.LoanFilter{Scope: scope})
		return wrap("loans", err)
	})
	g.Go(func() (err error) {
		in.Payments, err = s.Store.ListPayments(ctx, lending.PaymentFilter{Scope: scope})
		return wrap("payments", err)
	})
	g.Go(func() (err error) {
		in.ClientsToday, err = s.Store.ListClients(ctx, lending.ClientFilter{Scope: scope, Created: todayRange})
		return wrap("clients created today", err)
	})
	g.Go(func() (err error) {
		in.LoansToday, err = s.Store.ListLoans(ctx, lending.LoanFilter{Scope: scope, Started: todayRange})
		return wrap("loans created today", err)
	})
	g.Go(func() (err error) {
		in.LoansYesterday, err = s.Store.ListLoans(ctx, lending.LoanFilter{Scope: scope, Started: yesterdayRange})
		return wrap("loans created yesterday", err)
	})
	g.Go(func() (err error) {
		in.Totals.Capital, err = s.Store.SumFinance(ctx, scope, lending.FinanceCapital)
		return wrap("capital", err)
	})
	g.Go(func() (err error) {
		in.Totals.Bills, err = s.Store.SumFinance(ctx, scope, lending.FinanceBill)
		return wrap("bills", err)
	})
	g.Go(func() (err error) {
		in.Totals.Withdrawals, err = s.Store.SumFinance(ctx, scope, lending.FinanceWithdrawal)
		return wrap("withdrawals", err)
	})

	if err := g.Wait(); err != nil {
		return SummaryInput{}, err
	}

	for _, l := range in.Loans {
		in.Totals.PrincipalDisbursed = in.Totals.PrincipalDisbursed.Add(l.LoanAmount)
	}
	for _, p := range in.Payments {
		in.Totals.PaymentsReceived = in.Totals.PaymentsReceived.Add(p.Amount)
	}
	return in, nil
}

// dayRange covers every instant of day in loc.
func dayRange(day generic.TimePoint, loc *time.Location) lending.DateRange {
	from := day.StartIn(loc)
	to := day.AddDays(1).StartIn(loc).Add(-time.Nanosecond)
	return lending.DateRange{From: &from, To: &to}
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	return nil
}
