package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmoney/collection-engine/generic"
)

func TestBuild_DerivesTerms(t *testing.T) {
	f := NewLoanFactory(nil, time.UTC)

	req, err := f.ParseRequest([]byte(`{
		"clientId": {"id": "c-1", "name": "Ana"},
		"loanAmount": 1000,
		"interest": 20,
		"installments": 10,
		"date": "2024-01-01",
		"ruta": "north"
	}`))
	require.NoError(t, err)

	loan, err := f.Build(req, "op-1")
	require.NoError(t, err)

	assert.Equal(t, "120", loan.InstallmentValue.String())
	assert.Equal(t, "1200", loan.Balance.String())
	require.NotNil(t, loan.FinishDate)
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), *loan.FinishDate)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), loan.Date)
	assert.Equal(t, "op-1", string(loan.CreatedBy))
	assert.Equal(t, "north", string(loan.Route))
	assert.False(t, loan.Terminated)
	assert.Empty(t, loan.ID)
}

func TestBuild_UseProvidedValues(t *testing.T) {
	f := NewLoanFactory(nil, time.UTC)
	req, err := f.ParseRequest([]byte(`{
		"clientId": {"id": "c-1"},
		"loanAmount": 1000,
		"interest": 20,
		"installments": 10,
		"date": "2024-01-01T09:30:00Z",
		"useProvidedValues": true,
		"installmentValue": 130,
		"balance": 650,
		"finishDate": "2024-02-01"
	}`))
	require.NoError(t, err)

	loan, err := f.Build(req, "op-1")
	require.NoError(t, err)

	assert.Equal(t, "130", loan.InstallmentValue.String())
	assert.Equal(t, "650", loan.Balance.String())
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *loan.FinishDate)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), loan.Date)
}

func TestBuild_ProvidedValuesIgnoredWithoutFlag(t *testing.T) {
	f := NewLoanFactory(nil, time.UTC)
	req := &LoanRequest{
		LoanAmount:       generic.NewAmountFromInt(1000),
		Installments:     4,
		InstallmentValue: ptr(generic.NewAmountFromInt(1)),
	}
	f.Now = func() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) }

	loan, err := f.Build(req, "op-1")
	require.NoError(t, err)

	assert.Equal(t, "250", loan.InstallmentValue.String())
	assert.Equal(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), loan.Date)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), *loan.FinishDate)
}

func TestBuild_DateOnlyUsesFactoryLocation(t *testing.T) {
	bogota := time.FixedZone("COT", -5*60*60)
	f := NewLoanFactory(nil, bogota)
	req, err := f.ParseRequest([]byte(`{"loanAmount": 100, "installments": 1, "date": "2024-01-06"}`))
	require.NoError(t, err)

	loan, err := f.Build(req, "op-1")
	require.NoError(t, err)

	assert.True(t, loan.Date.Equal(time.Date(2024, 1, 6, 0, 0, 0, 0, bogota)))
	// Saturday counts; a single installment finishes the same day
	assert.True(t, loan.FinishDate.Equal(time.Date(2024, 1, 6, 0, 0, 0, 0, bogota)))
}

func TestBuild_RejectsInvalidTerms(t *testing.T) {
	f := NewLoanFactory(nil, nil)

	tests := []struct {
		name string
		req  LoanRequest
	}{
		{"zero amount", LoanRequest{Installments: 1}},
		{"no installments", LoanRequest{LoanAmount: generic.NewAmountFromInt(10)}},
		{"negative interest", LoanRequest{LoanAmount: generic.NewAmountFromInt(10), Installments: 1, Interest: -1}},
		{"too many installments", LoanRequest{LoanAmount: generic.NewAmountFromInt(10), Installments: 1 << 50}},
		{"negative provided balance", LoanRequest{
			LoanAmount: generic.NewAmountFromInt(10), Installments: 1,
			UseProvidedValues: true, Balance: ptr(generic.NewAmountFromInt(-5)),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Build(&tt.req, "op-1")
			assert.ErrorIs(t, err, generic.ErrInvalidLoanTerms)
		})
	}
}

func TestParseRequest_InvalidJSON(t *testing.T) {
	f := NewLoanFactory(nil, nil)

	_, err := f.ParseRequest([]byte(`{"date": "yesterday"}`))
	assert.Error(t, err)

	_, err = f.ParseRequest([]byte(`not json`))
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
