package lending_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
	"github.com/smartmoney/collection-engine/lending/store"
)

type capturedEvent struct {
	name    string
	payload any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *capturePublisher) Publish(_ context.Context, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{event, payload})
	return nil
}

func (c *capturePublisher) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.name)
	}
	return out
}

var monday = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*lending.Service, *store.Memory, *capturePublisher) {
	t.Helper()
	st := store.NewMemory()
	pub := &capturePublisher{}
	svc := lending.NewService(st, pub, nil)
	svc.Now = func() time.Time { return monday }
	return svc, st, pub
}

func amt(v int64) generic.Amount { return generic.NewAmountFromInt(v) }

func issue(t *testing.T, svc *lending.Service, id lending.LoanID, route lending.RouteID, after *lending.LoanID) *lending.Loan {
	t.Helper()
	loan, err := svc.IssueLoan(context.Background(), lending.Loan{
		ID:               id,
		CreatedBy:        "op-1",
		Client:           lending.ClientRef{ID: lending.ClientID("c-" + string(id)), Name: "Client " + string(id)},
		LoanAmount:       amt(100000),
		Interest:         20,
		Installments:     10,
		InstallmentValue: amt(12000),
		Balance:          amt(120000),
		Date:             monday,
		Route:            route,
	}, after)
	require.NoError(t, err)
	return loan
}

func positions(t *testing.T, st *store.Memory, route lending.RouteID) map[lending.LoanID]int {
	t.Helper()
	loans, err := st.ListLoans(context.Background(), lending.LoanFilter{Route: route})
	require.NoError(t, err)
	out := make(map[lending.LoanID]int, len(loans))
	for _, l := range loans {
		out[l.ID] = l.Position
	}
	return out
}

// =============================================================================
// ISSUANCE
// =============================================================================

func TestIssueLoan_RejectsInvalidTerms(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.IssueLoan(context.Background(), lending.Loan{LoanAmount: amt(0), Installments: 10}, nil)
	assert.ErrorIs(t, err, generic.ErrInvalidLoanTerms)

	_, err = svc.IssueLoan(context.Background(), lending.Loan{LoanAmount: amt(1000), Installments: 0}, nil)
	assert.ErrorIs(t, err, generic.ErrInvalidLoanTerms)
	assert.True(t, generic.IsClientError(err))

	_, err = svc.IssueLoan(context.Background(), lending.Loan{LoanAmount: amt(1000), Installments: lending.MaxInstallments + 1}, nil)
	assert.ErrorIs(t, err, generic.ErrInvalidLoanTerms)
}

func TestIssueLoan_NeverTerminatedAtCreation(t *testing.T) {
	svc, _, pub := newService(t)

	loan, err := svc.IssueLoan(context.Background(), lending.Loan{
		LoanAmount: amt(500), Installments: 1, Balance: amt(500), Terminated: true,
	}, nil)
	require.NoError(t, err)

	assert.False(t, loan.Terminated)
	assert.NotEmpty(t, loan.ID)
	assert.Equal(t, []string{"loanUpdated"}, pub.names())
}

func TestIssueLoan_AppendsToRouteOrInsertsAfter(t *testing.T) {
	svc, st, _ := newService(t)

	issue(t, svc, "a", "north", nil)
	issue(t, svc, "b", "north", nil)
	issue(t, svc, "c", "north", nil)
	after := lending.LoanID("a")
	issue(t, svc, "x", "north", &after)

	assert.Equal(t, map[lending.LoanID]int{"a": 0, "x": 1, "b": 2, "c": 3}, positions(t, st, "north"))
}

func TestIssueLoan_ClearsFavoriteFlag(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, st.SaveClient(ctx, lending.Client{ID: "c-a", Name: "Ana", Favorite: true}))

	issue(t, svc, "a", "", nil)

	c, err := st.GetClient(ctx, "c-a")
	require.NoError(t, err)
	assert.False(t, c.Favorite)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestRegisterPayment_ReducesBalance(t *testing.T) {
	svc, _, pub := newService(t)
	issue(t, svc, "a", "", nil)

	receipt, err := svc.RegisterPayment(context.Background(), lending.Payment{LoanID: "a", Amount: amt(12000)})
	require.NoError(t, err)

	assert.True(t, receipt.Loan.Balance.Equal(amt(108000)))
	assert.False(t, receipt.Loan.Terminated)
	assert.Equal(t, lending.OperatorID("op-1"), receipt.Payment.CreatedBy)
	assert.Equal(t, monday, receipt.Payment.Date)
	assert.Equal(t, "c-a", string(receipt.Payment.Client.ID))
	assert.Contains(t, pub.names(), "paymentUpdated")
}

func TestRegisterPayment_RejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := newService(t)
	issue(t, svc, "a", "", nil)

	_, err := svc.RegisterPayment(context.Background(), lending.Payment{LoanID: "a", Amount: amt(0)})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestRegisterPayment_UnknownLoan(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.RegisterPayment(context.Background(), lending.Payment{LoanID: "missing", Amount: amt(10)})
	assert.True(t, generic.IsNotFound(err))
}

func TestRegisterPayment_TerminatesAtThresholdAndFloorsAtZero(t *testing.T) {
	svc, _, _ := newService(t)
	issue(t, svc, "a", "", nil)
	ctx := context.Background()

	// GIVEN: balance 120000, threshold 1000
	// WHEN: paying down to exactly the threshold
	receipt, err := svc.RegisterPayment(ctx, lending.Payment{LoanID: "a", Amount: amt(119000)})
	require.NoError(t, err)
	// THEN: terminated
	assert.True(t, receipt.Loan.Balance.Equal(amt(1000)))
	assert.True(t, receipt.Loan.Terminated)

	// WHEN: overpaying
	receipt, err = svc.RegisterPayment(ctx, lending.Payment{LoanID: "a", Amount: amt(5000)})
	require.NoError(t, err)
	// THEN: balance never goes negative
	assert.True(t, receipt.Loan.Balance.IsZero())
}

func TestRegisterPayment_FlagsNearCompletion(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, st.SaveClient(ctx, lending.Client{ID: "c-a", Name: "Ana"}))
	issue(t, svc, "a", "", nil)

	// 120000 - 12000 leaves 9 installments
	receipt, err := svc.RegisterPayment(ctx, lending.Payment{LoanID: "a", Amount: amt(12000)})
	require.NoError(t, err)
	assert.False(t, receipt.NearCompletion)

	// 8 installments left
	receipt, err = svc.RegisterPayment(ctx, lending.Payment{LoanID: "a", Amount: amt(12000)})
	require.NoError(t, err)
	assert.True(t, receipt.NearCompletion)

	c, err := st.GetClient(ctx, "c-a")
	require.NoError(t, err)
	assert.True(t, c.Favorite)
}

func TestDeletePayment_RestoresBalanceAndReopensLoan(t *testing.T) {
	svc, st, _ := newService(t)
	issue(t, svc, "a", "", nil)
	ctx := context.Background()

	receipt, err := svc.RegisterPayment(ctx, lending.Payment{ID: "p1", LoanID: "a", Amount: amt(119500)})
	require.NoError(t, err)
	require.True(t, receipt.Loan.Terminated)

	loan, err := svc.DeletePayment(ctx, "p1")
	require.NoError(t, err)

	assert.True(t, loan.Balance.Equal(amt(120000)))
	assert.False(t, loan.Terminated)
	_, err = st.GetPayment(ctx, "p1")
	assert.ErrorIs(t, err, generic.ErrPaymentNotFound)
}

func TestDeletePayment_ReopensSmallLoanLeftWithoutPayments(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	// 500 at 20% owes 600, already under the termination threshold
	_, err := svc.IssueLoan(ctx, lending.Loan{
		ID:               "small",
		CreatedBy:        "op-1",
		LoanAmount:       amt(500),
		Interest:         20,
		Installments:     10,
		InstallmentValue: amt(60),
		Balance:          amt(600),
		Date:             monday,
	}, nil)
	require.NoError(t, err)

	for _, id := range []lending.PaymentID{"p1", "p2"} {
		receipt, err := svc.RegisterPayment(ctx, lending.Payment{ID: id, LoanID: "small", Amount: amt(60)})
		require.NoError(t, err)
		require.True(t, receipt.Loan.Terminated)
	}

	// one payment left: still within the threshold, still terminated
	loan, err := svc.DeletePayment(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "540", loan.Balance.String())
	assert.True(t, loan.Terminated)

	// no payments left: open again
	loan, err = svc.DeletePayment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "600", loan.Balance.String())
	assert.False(t, loan.Terminated)
}

func TestDeletePayment_Unknown(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.DeletePayment(context.Background(), "nope")
	assert.ErrorIs(t, err, generic.ErrPaymentNotFound)
}

// =============================================================================
// UPDATES AND DELETION
// =============================================================================

func TestUpdateLoan_RecomputesAgainstRecordedPayments(t *testing.T) {
	svc, _, _ := newService(t)
	issue(t, svc, "a", "", nil)
	ctx := context.Background()
	_, err := svc.RegisterPayment(ctx, lending.Payment{LoanID: "a", Amount: amt(20000)})
	require.NoError(t, err)

	n := 20
	loan, err := svc.UpdateLoan(ctx, "a", lending.LoanChanges{Installments: &n})
	require.NoError(t, err)

	// 100000 × 1.2 / 20
	assert.True(t, loan.InstallmentValue.Equal(amt(6000)))
	assert.True(t, loan.Balance.Equal(amt(100000)))
	assert.False(t, loan.Terminated)
}

func TestUpdateLoan_WithoutTermChangesKeepsBalance(t *testing.T) {
	svc, _, _ := newService(t)
	issue(t, svc, "a", "", nil)

	desc := "weekly market stall"
	loan, err := svc.UpdateLoan(context.Background(), "a", lending.LoanChanges{Description: &desc})
	require.NoError(t, err)

	assert.Equal(t, desc, loan.Description)
	assert.True(t, loan.Balance.Equal(amt(120000)))
}

func TestUpdateLoan_RejectsZeroInstallments(t *testing.T) {
	svc, _, _ := newService(t)
	issue(t, svc, "a", "", nil)

	n := 0
	_, err := svc.UpdateLoan(context.Background(), "a", lending.LoanChanges{Installments: &n})
	assert.ErrorIs(t, err, generic.ErrInvalidLoanTerms)
}

func TestUpdateLoan_RejectsTooManyInstallments(t *testing.T) {
	svc, st, _ := newService(t)
	issue(t, svc, "a", "", nil)

	n := 1 << 50
	_, err := svc.UpdateLoan(context.Background(), "a", lending.LoanChanges{Installments: &n})
	assert.ErrorIs(t, err, generic.ErrInvalidLoanTerms)

	loan, err := st.GetLoan(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 10, loan.Installments)
}

func TestUpdateLoan_MovesFinishDateWithSchedule(t *testing.T) {
	svc, _, _ := newService(t)
	loan := issue(t, svc, "a", "", nil)
	ctx := context.Background()
	require.NotNil(t, loan.FinishDate)
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), *loan.FinishDate)

	// 20 installments from Monday, skipping the Sundays 7, 14 and 21
	n := 20
	loan, err := svc.UpdateLoan(ctx, "a", lending.LoanChanges{Installments: &n})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 23, 0, 0, 0, 0, time.UTC), *loan.FinishDate)

	// a later start moves the finish date with it
	start := monday.AddDate(0, 0, 1)
	loan, err = svc.UpdateLoan(ctx, "a", lending.LoanChanges{Date: &start})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC), *loan.FinishDate)

	// an explicit finish date wins
	n = 30
	finish := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	loan, err = svc.UpdateLoan(ctx, "a", lending.LoanChanges{Installments: &n, FinishDate: &finish})
	require.NoError(t, err)
	assert.Equal(t, finish, *loan.FinishDate)

	// other edits leave it alone
	desc := "new stall"
	loan, err = svc.UpdateLoan(ctx, "a", lending.LoanChanges{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, finish, *loan.FinishDate)
}

func TestUpdateLoan_MovesWithinRoute(t *testing.T) {
	svc, st, _ := newService(t)
	for _, id := range []lending.LoanID{"a", "b", "c", "d"} {
		issue(t, svc, id, "r", nil)
	}
	ctx := context.Background()

	// move a down behind c
	after := lending.LoanID("c")
	_, err := svc.UpdateLoan(ctx, "a", lending.LoanChanges{After: &after})
	require.NoError(t, err)
	assert.Equal(t, map[lending.LoanID]int{"b": 0, "c": 1, "a": 2, "d": 3}, positions(t, st, "r"))

	// move d up behind b
	after = "b"
	_, err = svc.UpdateLoan(ctx, "d", lending.LoanChanges{After: &after})
	require.NoError(t, err)
	assert.Equal(t, map[lending.LoanID]int{"b": 0, "d": 1, "c": 2, "a": 3}, positions(t, st, "r"))
}

func TestUpdateLoan_ChangesRoute(t *testing.T) {
	svc, st, _ := newService(t)
	issue(t, svc, "a", "r1", nil)
	issue(t, svc, "b", "r1", nil)
	issue(t, svc, "c", "r1", nil)
	issue(t, svc, "x", "r2", nil)

	route := lending.RouteID("r2")
	_, err := svc.UpdateLoan(context.Background(), "a", lending.LoanChanges{Route: &route})
	require.NoError(t, err)

	assert.Equal(t, map[lending.LoanID]int{"b": 0, "c": 1}, positions(t, st, "r1"))
	assert.Equal(t, map[lending.LoanID]int{"x": 0, "a": 1}, positions(t, st, "r2"))
}

func TestDeleteLoan_CascadesPaymentsAndClosesGap(t *testing.T) {
	svc, st, _ := newService(t)
	issue(t, svc, "a", "r", nil)
	issue(t, svc, "b", "r", nil)
	issue(t, svc, "c", "r", nil)
	ctx := context.Background()
	_, err := svc.RegisterPayment(ctx, lending.Payment{LoanID: "b", Amount: amt(100)})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteLoan(ctx, "b"))

	payments, err := st.ListPayments(ctx, lending.PaymentFilter{LoanID: "b"})
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.Equal(t, map[lending.LoanID]int{"a": 0, "c": 1}, positions(t, st, "r"))
}

func TestReorderRoute(t *testing.T) {
	svc, st, _ := newService(t)
	issue(t, svc, "a", "r", nil)
	issue(t, svc, "b", "r", nil)

	err := svc.ReorderRoute(context.Background(), []lending.RoutePosition{{LoanID: "a", Position: 1}, {LoanID: "b", Position: 0}})
	require.NoError(t, err)
	assert.Equal(t, map[lending.LoanID]int{"b": 0, "a": 1}, positions(t, st, "r"))

	err = svc.ReorderRoute(context.Background(), []lending.RoutePosition{{LoanID: "a", Position: 5}, {LoanID: "zz", Position: 0}})
	assert.True(t, generic.IsNotFound(err))
	// rolled back
	assert.Equal(t, map[lending.LoanID]int{"b": 0, "a": 1}, positions(t, st, "r"))
}

// =============================================================================
// FINANCE AND CLIENTS
// =============================================================================

func TestRecordFinance(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordFinance(ctx, lending.FinanceEntry{Kind: lending.FinanceCapital, Amount: amt(5000), CreatedBy: "op-1"})
	require.NoError(t, err)
	_, err = svc.RecordFinance(ctx, lending.FinanceEntry{Kind: lending.FinanceCapital, Amount: amt(700), CreatedBy: "op-2"})
	require.NoError(t, err)

	_, err = svc.RecordFinance(ctx, lending.FinanceEntry{Kind: "loan", Amount: amt(1)})
	assert.ErrorIs(t, err, generic.ErrInvalidKind)
	_, err = svc.RecordFinance(ctx, lending.FinanceEntry{Kind: lending.FinanceBill, Amount: amt(-1)})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	total, err := st.SumFinance(ctx, lending.Scope{"op-1"}, lending.FinanceCapital)
	require.NoError(t, err)
	assert.True(t, total.Equal(amt(5000)))

	total, err = st.SumFinance(ctx, nil, lending.FinanceCapital)
	require.NoError(t, err)
	assert.True(t, total.Equal(amt(5700)))
}

func TestRegisterClient_AssignsIDAndDate(t *testing.T) {
	svc, _, _ := newService(t)

	c, err := svc.RegisterClient(context.Background(), lending.Client{Name: "Ana"})
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, monday, c.Date)
}

func TestLoan_RemainingInstallments(t *testing.T) {
	loan := lending.Loan{InstallmentValue: amt(120), Balance: amt(250)}
	assert.Equal(t, 3, loan.RemainingInstallments())

	loan.InstallmentValue = generic.Amount{}
	assert.Equal(t, 0, loan.RemainingInstallments())
}

func TestScope_EmptyIsUnrestricted(t *testing.T) {
	assert.True(t, lending.Scope(nil).Includes("anyone"))
	assert.True(t, lending.Scope{"a", "b"}.Includes("b"))
	assert.False(t, lending.Scope{"a"}.Includes("b"))
}
