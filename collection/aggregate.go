/*
aggregate.go - Monthly reductions for reporting

PURPOSE:
  Reduces loans and payments into the monthly figures shown on the
  dashboard: money received per month, the current month's counters, and
  installments that went unpaid.

IMPAGOS:
  An installment is unpaid when no payment at all is recorded on its exact
  due date. Partial payments, payments a day early or late, and payments
  covering several installments at once are not credited against it. Only
  open loans contribute.

  Every installment of the schedule is checked, including those still in
  the future.

All reductions work on calendar days seen from the caller's location.
*/
package collection

import (
	"time"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// MonthlyPaymentTotals sums every payment into its (year, month) bucket.
func MonthlyPaymentTotals(payments []lending.Payment, loc *time.Location) []generic.MonthlyTotal {
	buckets := generic.MonthlyBuckets{}
	for _, p := range payments {
		buckets.Add(generic.DayIn(p.Date, loc).MonthKey(), p.Amount)
	}
	return buckets.Sorted()
}

// MonthReceived sums the payments made during month.
func MonthReceived(payments []lending.Payment, month generic.MonthKey, loc *time.Location) generic.Amount {
	var total generic.Amount
	for _, p := range payments {
		if generic.DayIn(p.Date, loc).MonthKey() == month {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// CountPaymentsIn counts the payments made during month.
func CountPaymentsIn(payments []lending.Payment, month generic.MonthKey, loc *time.Location) int {
	n := 0
	for _, p := range payments {
		if generic.DayIn(p.Date, loc).MonthKey() == month {
			n++
		}
	}
	return n
}

// CountLoansStartedIn counts the loans whose start date falls in month.
func CountLoansStartedIn(loans []lending.Loan, month generic.MonthKey, loc *time.Location) int {
	n := 0
	for _, l := range loans {
		if generic.DayIn(l.Date, loc).MonthKey() == month {
			n++
		}
	}
	return n
}

// PaymentsOn returns the payments made on day, in input order.
func PaymentsOn(payments []lending.Payment, day generic.TimePoint, loc *time.Location) []lending.Payment {
	out := []lending.Payment{}
	for _, p := range payments {
		if generic.DayIn(p.Date, loc).Equal(day) {
			out = append(out, p)
		}
	}
	return out
}

// MonthlyImpagos totals, per month, the value of scheduled installments of
// open loans with no payment on their exact due date.
func MonthlyImpagos(grouped []GroupedLoan, cal generic.CollectionCalendar, loc *time.Location) []generic.MonthlyTotal {
	return newBook(grouped, cal, loc).monthlyImpagos()
}

func (b *book) monthlyImpagos() []generic.MonthlyTotal {
	buckets := generic.MonthlyBuckets{}
	for _, p := range b.plans {
		if p.loan.Terminated {
			continue
		}
		for _, inst := range b.schedule(p) {
			if _, paid := p.paidByDay[inst.DueDate]; paid {
				continue
			}
			buckets.Add(inst.DueDate.MonthKey(), inst.Amount)
		}
	}
	return buckets.Sorted()
}
