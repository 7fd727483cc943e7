package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmoney/collection-engine/lending"
)

func TestScenario_RouteDay(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.h.loadScenario(ctx, "route-day", scenarioLoaders["route-day"]))

	loans, err := ts.store.ListLoans(ctx, lending.LoanFilter{})
	require.NoError(t, err)
	require.Len(t, loans, 4)

	terminated := 0
	for _, l := range loans {
		if l.Terminated {
			terminated++
			assert.Equal(t, "Marta Díaz", l.Client.Name)
			assert.True(t, l.Balance.IsZero())
		}
	}
	assert.Equal(t, 1, terminated)

	centro, err := ts.store.ListLoans(ctx, lending.LoanFilter{Route: "centro"})
	require.NoError(t, err)
	require.Len(t, centro, 3)
	for i, l := range centro {
		assert.Equal(t, i, l.Position)
	}

	payments, err := ts.store.ListPayments(ctx, lending.PaymentFilter{})
	require.NoError(t, err)
	assert.Len(t, payments, 2+5+1)

	clients, err := ts.store.ListClients(ctx, lending.ClientFilter{})
	require.NoError(t, err)
	assert.Len(t, clients, 4)

	// op-2 only sees Carlos, issued today, and its own cash movements
	summary, err := ts.h.Collection.Summary(ctx, lending.Scope{"op-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CreatedLoansTodayCount)
	assert.Equal(t, 1, summary.CreatedClientsTodayCount)
	// 1000000 capital - 200000 lent - 100000 withdrawn
	assert.Equal(t, "700000", summary.SaldoCaja.String())
}

func TestScenario_Arrears(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.h.loadScenario(ctx, "arrears", scenarioLoaders["arrears"]))

	summary, err := ts.h.Collection.Summary(ctx, nil)
	require.NoError(t, err)
	assert.True(t, summary.MonthImpagos.IsPositive())
	assert.NotEmpty(t, summary.Impagos)
	assert.Len(t, summary.PagosPorMes, 2) // Nov and Dec 2023
	assert.Equal(t, 0, summary.CreatedLoansTodayCount)
}

func TestScenario_ReloadResets(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.h.loadScenario(ctx, "route-day", scenarioLoaders["route-day"]))
	require.NoError(t, ts.h.loadScenario(ctx, "route-day", scenarioLoaders["route-day"]))

	loans, err := ts.store.ListLoans(ctx, lending.LoanFilter{})
	require.NoError(t, err)
	assert.Len(t, loans, 4)
}

func TestScenarioEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `null`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "year-end"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "route-day"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "route-day", decodeBody[ScenarioDTO](t, rec).ID)
}
