package collection

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

func failGrouping(t *testing.T) {
	t.Helper()
	orig := loanOf
	loanOf = func(lending.Payment) lending.LoanID { panic("corrupt payment") }
	t.Cleanup(func() { loanOf = orig })
}

func TestGroupPaymentsByLoan_FailureYieldsEmptyResult(t *testing.T) {
	failGrouping(t)
	loans := []lending.Loan{{ID: "a", Installments: 10}}
	payments := []lending.Payment{{ID: "p1", LoanID: "a", Amount: generic.NewAmountFromInt(10)}}

	grouped, err := groupPaymentsByLoan(payments, loans)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt payment")
	assert.NotNil(t, grouped)
	assert.Empty(t, grouped)

	assert.Empty(t, GroupPaymentsByLoan(payments, loans))
}

func TestCompute_ContinuesWhenGroupingFails(t *testing.T) {
	failGrouping(t)
	var logs bytes.Buffer
	o := NewOrchestrator(nil, time.UTC, nil, slog.New(slog.NewTextHandler(&logs, nil)))

	paidAt := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	s := o.Compute(context.Background(), SummaryInput{
		Loans: []lending.Loan{{
			ID:               "a",
			LoanAmount:       generic.NewAmountFromInt(1000),
			Interest:         20,
			Installments:     10,
			InstallmentValue: generic.NewAmountFromInt(120),
			Balance:          generic.NewAmountFromInt(1080),
			Date:             time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		}},
		Payments: []lending.Payment{{ID: "p1", LoanID: "a", Amount: generic.NewAmountFromInt(120), Date: paidAt}},
		AsOf:     paidAt,
	})

	// loan-based figures fall back to empty, payment-based ones still count
	assert.Empty(t, s.PendingPaymentsTodayDetails)
	assert.True(t, s.MonthImpagos.IsZero())
	assert.Empty(t, s.Impagos)
	assert.Equal(t, 1, s.TodayPaymentsCount)
	assert.Equal(t, "120", s.TotalPaymentsToday.String())
	assert.Contains(t, logs.String(), "grouping failed")
}
