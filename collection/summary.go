/*
summary.go - Dashboard snapshot

PURPOSE:
  Composes the schedule, arrears, due and aggregation functions into one
  Summary and hands it to the notification channel.

FLOW:
  loans + payments
       │
       ▼
  GroupPaymentsByLoan ──► book (per-loan start, horizon, paid-by-day)
       │                     │
       │                     ├─► due today / due tomorrow
       │                     └─► impagos per month
       ├─► EstimateUncollected (monthImpagos)
       └─► month counters, today's payments

  saldoCaja = capital − principal disbursed + payments received
              − bills − withdrawals
  The five terms are summed by the caller over the same access scope.

PUBLISHING:
  The finished Summary is published as summaryUpdated on a separate
  goroutine. Publishing never delays, alters or fails the returned value.
  Wait blocks until in-flight publishes are done.

DETERMINISM:
  Same input and AsOf produce byte-identical JSON: loans keep input order,
  monthly buckets are sorted, no field depends on the wall clock.
*/
package collection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
	"github.com/smartmoney/collection-engine/notify"
)

// DefaultPublishTimeout bounds one summaryUpdated delivery.
const DefaultPublishTimeout = 5 * time.Second

// ExternalTotals are scope-wide sums computed outside the engine.
type ExternalTotals struct {
	Capital            generic.Amount `json:"capital"`
	PrincipalDisbursed generic.Amount `json:"principalDisbursed"`
	PaymentsReceived   generic.Amount `json:"paymentsReceived"`
	Bills              generic.Amount `json:"bills"`
	Withdrawals        generic.Amount `json:"withdrawals"`
}

// CashPosition is the cash on hand implied by the totals.
func (t ExternalTotals) CashPosition() generic.Amount {
	return t.Capital.
		Sub(t.PrincipalDisbursed).
		Add(t.PaymentsReceived).
		Sub(t.Bills).
		Sub(t.Withdrawals)
}

// SummaryInput is everything one snapshot is computed from. All collections
// must already be restricted to the caller's access scope.
type SummaryInput struct {
	Loans          []lending.Loan
	Payments       []lending.Payment
	Totals         ExternalTotals
	ClientsToday   []lending.Client
	LoansToday     []lending.Loan
	LoansYesterday []lending.Loan
	AsOf           time.Time
}

// Summary is the dashboard snapshot.
type Summary struct {
	PendingPaymentsToday           generic.Amount         `json:"pendingPaymentsToday"`
	PendingPaymentsTodayDetails    []DueEntry             `json:"pendingPaymentsTodayDetails"`
	PendingPaymentsTomorrow        generic.Amount         `json:"pendingPaymentsTomorrow"`
	PendingPaymentsTomorrowDetails []DueEntry             `json:"pendingPaymentsTomorrowDetails"`
	TotalPaymentsToday             generic.Amount         `json:"totalPaymentsToday"`
	TodayPaymentsCount             int                    `json:"todayPaymentsCount"`
	CreatedClientsTodayCount       int                    `json:"createdClientsTodayCount"`
	CreatedLoansTodayCount         int                    `json:"createdLoansTodayCount"`
	CreatedLoansYesterdayCount     int                    `json:"createdLoansYesterdayCount"`
	SaldoCaja                      generic.Amount         `json:"saldoCaja"`
	MonthRecaudado                 generic.Amount         `json:"monthRecaudado"`
	MonthLoansCreated              int                    `json:"monthLoansCreated"`
	MonthImpagos                   generic.Amount         `json:"monthImpagos"`
	MonthPagosRegistrados          int                    `json:"monthPagosRegistrados"`
	PagosPorMes                    []generic.MonthlyTotal `json:"pagosPorMes"`
	Impagos                        []generic.MonthlyTotal `json:"impagos"`
	PaymentsTodayDetails           []lending.Payment      `json:"paymentsTodayDetails"`
	ClientsTodayList               []lending.Client       `json:"clientsTodayList"`
	LoansTodayList                 []lending.Loan         `json:"loansTodayList"`
	LoansYesterdayList             []lending.Loan         `json:"loansYesterdayList"`
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator builds summaries. Calendar and Location decide which days
// are collection days and where a day starts; Publisher receives every
// summary built through BuildSummary.
type Orchestrator struct {
	Calendar       generic.CollectionCalendar
	Location       *time.Location
	Publisher      notify.Publisher
	Logger         *slog.Logger
	PublishTimeout time.Duration

	wg sync.WaitGroup
}

func NewOrchestrator(cal generic.CollectionCalendar, loc *time.Location, pub notify.Publisher, logger *slog.Logger) *Orchestrator {
	if cal == nil {
		cal = generic.DefaultCalendar()
	}
	if loc == nil {
		loc = time.UTC
	}
	if pub == nil {
		pub = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Calendar:       cal,
		Location:       loc,
		Publisher:      pub,
		Logger:         logger,
		PublishTimeout: DefaultPublishTimeout,
	}
}

// BuildSummary computes the snapshot and publishes it as summaryUpdated.
func (o *Orchestrator) BuildSummary(ctx context.Context, in SummaryInput) Summary {
	s := o.Compute(ctx, in)
	o.publish(ctx, s)
	return s
}

// Compute builds the snapshot without publishing it.
func (o *Orchestrator) Compute(ctx context.Context, in SummaryInput) Summary {
	grouped, err := groupPaymentsByLoan(in.Payments, in.Loans)
	if err != nil {
		o.Logger.ErrorContext(ctx, "grouping failed, continuing without loans", "error", err)
	}

	today := generic.DayIn(in.AsOf, o.Location)
	month := today.MonthKey()
	b := newBook(grouped, o.Calendar, o.Location)

	dueToday := b.findDueOn(today)
	dueTomorrow := b.findDueOn(today.AddDays(1))
	paidToday := PaymentsOn(in.Payments, today, o.Location)

	var receivedToday generic.Amount
	for _, p := range paidToday {
		receivedToday = receivedToday.Add(p.Amount)
	}

	return Summary{
		PendingPaymentsToday:           TotalShortfall(dueToday),
		PendingPaymentsTodayDetails:    dueToday,
		PendingPaymentsTomorrow:        TotalShortfall(dueTomorrow),
		PendingPaymentsTomorrowDetails: dueTomorrow,
		TotalPaymentsToday:             receivedToday,
		TodayPaymentsCount:             len(paidToday),
		CreatedClientsTodayCount:       len(in.ClientsToday),
		CreatedLoansTodayCount:         len(in.LoansToday),
		CreatedLoansYesterdayCount:     len(in.LoansYesterday),
		SaldoCaja:                      in.Totals.CashPosition(),
		MonthRecaudado:                 MonthReceived(in.Payments, month, o.Location),
		MonthLoansCreated:              CountLoansStartedIn(in.Loans, month, o.Location),
		MonthImpagos:                   EstimateUncollected(grouped, in.AsOf),
		MonthPagosRegistrados:          CountPaymentsIn(in.Payments, month, o.Location),
		PagosPorMes:                    MonthlyPaymentTotals(in.Payments, o.Location),
		Impagos:                        b.monthlyImpagos(),
		PaymentsTodayDetails:           paidToday,
		ClientsTodayList:               orEmpty(in.ClientsToday),
		LoansTodayList:                 orEmpty(in.LoansToday),
		LoansYesterdayList:             orEmpty(in.LoansYesterday),
	}
}

// Wait blocks until every publish started by BuildSummary has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) publish(ctx context.Context, s Summary) {
	// detached from the request so a finished request doesn't cancel delivery
	ctx = context.WithoutCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		timeout := o.PublishTimeout
		if timeout <= 0 {
			timeout = DefaultPublishTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := o.Publisher.Publish(ctx, notify.EventSummaryUpdated, s); err != nil {
			o.Logger.WarnContext(ctx, "summary not delivered", "error", err)
		}
	}()
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
