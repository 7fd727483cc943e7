package collection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmoney/collection-engine/collection"
	"github.com/smartmoney/collection-engine/lending"
	"github.com/smartmoney/collection-engine/lending/store"
)

func routedLoan(id lending.LoanID, op lending.OperatorID, route lending.RouteID, balance int64) lending.Loan {
	return lending.Loan{
		ID:               id,
		CreatedBy:        op,
		LoanAmount:       amt(1000),
		Interest:         20,
		Installments:     10,
		InstallmentValue: amt(120),
		Balance:          amt(balance),
		Date:             at(2024, time.January, 1, 9),
		Route:            route,
	}
}

func TestTallyCollector(t *testing.T) {
	loans := []lending.Loan{
		routedLoan("a", "op-1", "r1", 1200),
		routedLoan("b", "op-1", "r1", 840),
		// balance above the opening one: nothing collected yet
		routedLoan("c", "op-1", "r2", 1300),
	}
	terminated := routedLoan("d", "op-1", "r2", 0)
	terminated.Terminated = true
	loans = append(loans, terminated)

	st := collection.TallyCollector("col-1", []lending.RouteID{"r1", "r2"}, loans)
	assert.Equal(t, lending.OperatorID("col-1"), st.Collector)
	assert.Equal(t, "1560", st.TotalCollected.String())
	assert.Equal(t, "3340", st.TotalPending.String())
	assert.Equal(t, 4, st.LoanCount)
}

func TestTallyCollector_NoRoutes(t *testing.T) {
	st := collection.TallyCollector("col-1", nil, nil)
	assert.NotNil(t, st.Routes)
	assert.True(t, st.TotalCollected.IsZero())
	assert.True(t, st.TotalPending.IsZero())
	assert.Zero(t, st.LoanCount)
}

func TestService_CollectorStats(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	for _, r := range []lending.Route{
		{ID: "r1", Name: "Norte", CreatedBy: "op-1", Collectors: []lending.OperatorID{"col-1"}},
		{ID: "r2", Name: "Sur", CreatedBy: "op-1", Collectors: []lending.OperatorID{"col-1", "col-2"}},
		{ID: "r3", Name: "Este", CreatedBy: "op-1", Collectors: []lending.OperatorID{"col-2"}},
		{ID: "r4", Name: "Oeste", CreatedBy: "op-2", Collectors: []lending.OperatorID{"col-1"}},
	} {
		require.NoError(t, st.SaveRoute(ctx, r))
	}
	for _, l := range []lending.Loan{
		routedLoan("a", "op-1", "r1", 1200),
		routedLoan("b", "op-1", "r2", 600),
		routedLoan("c", "op-1", "r3", 100),
		routedLoan("d", "op-2", "r4", 1000),
		// outside the scope even though it sits on r1
		routedLoan("e", "op-2", "r1", 1000),
	} {
		require.NoError(t, st.SaveLoan(ctx, l))
	}

	engine := collection.NewOrchestrator(nil, time.UTC, nil, nil)
	svc := collection.NewService(st, engine)

	stats, err := svc.CollectorStats(ctx, lending.Scope{"op-1"}, "col-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []lending.RouteID{"r1", "r2"}, stats.Routes)
	assert.Equal(t, 2, stats.LoanCount)
	assert.Equal(t, "600", stats.TotalCollected.String())
	assert.Equal(t, "1800", stats.TotalPending.String())

	stats, err = svc.CollectorStats(ctx, nil, "col-1")
	require.NoError(t, err)
	assert.Len(t, stats.Routes, 3)
	assert.Equal(t, 4, stats.LoanCount)

	stats, err = svc.CollectorStats(ctx, nil, "nobody")
	require.NoError(t, err)
	assert.Empty(t, stats.Routes)
	assert.Zero(t, stats.LoanCount)
}
