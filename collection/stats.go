package collection

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// CollectorStats totals the loans on the routes a collector is assigned to.
type CollectorStats struct {
	Collector      lending.OperatorID `json:"cobradorId"`
	Routes         []lending.RouteID  `json:"rutas"`
	TotalCollected generic.Amount     `json:"totalCobrado"`
	TotalPending   generic.Amount     `json:"totalPendiente"`
	LoanCount      int                `json:"cantidadPrestamos"`
}

// TallyCollector adds up loans for collector. Collected is what the opening
// balance (installment value times installments) has come down by, never
// below zero; pending is the outstanding balance. Terminated loans count
// too.
func TallyCollector(collector lending.OperatorID, routes []lending.RouteID, loans []lending.Loan) CollectorStats {
	st := CollectorStats{Collector: collector, Routes: routes}
	if st.Routes == nil {
		st.Routes = []lending.RouteID{}
	}
	for _, l := range loans {
		opening := l.InstallmentValue.MulInt(l.Installments)
		st.TotalCollected = st.TotalCollected.Add(opening.Sub(l.Balance).Max(generic.Amount{}))
		st.TotalPending = st.TotalPending.Add(l.Balance)
		st.LoanCount++
	}
	return st
}

// CollectorStats loads the routes in scope that collector works and tallies
// their loans. Each route's loans are read concurrently.
func (s *Service) CollectorStats(ctx context.Context, scope lending.Scope, collector lending.OperatorID) (CollectorStats, error) {
	routes, err := s.Store.ListRoutes(ctx, lending.RouteFilter{Scope: scope, Collector: collector})
	if err != nil {
		return CollectorStats{}, wrap("routes", err)
	}

	ids := make([]lending.RouteID, len(routes))
	for i, r := range routes {
		ids[i] = r.ID
	}

	var (
		mu    sync.Mutex
		loans []lending.Loan
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			found, err := s.Store.ListLoans(ctx, lending.LoanFilter{Scope: scope, Route: id})
			if err != nil {
				return wrap("loans of route "+string(id), err)
			}
			mu.Lock()
			loans = append(loans, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CollectorStats{}, err
	}

	return TallyCollector(collector, ids, loans), nil
}
