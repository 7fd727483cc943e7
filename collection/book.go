package collection

import (
	"time"

	"github.com/smartmoney/collection-engine/generic"
)

// defaultHorizonDays bounds the due-date window of loans without a finish date.
const defaultHorizonDays = 365

// book indexes grouped loans for one computation: each loan's start day,
// due-date horizon and payments per calendar day are derived once and shared
// by the due finder and the impagos pass.
type book struct {
	cal   generic.CollectionCalendar
	loc   *time.Location
	plans []loanPlan
}

type loanPlan struct {
	loan      *GroupedLoan
	start     generic.TimePoint
	horizon   generic.TimePoint
	paidByDay map[generic.TimePoint]generic.Amount
}

func newBook(grouped []GroupedLoan, cal generic.CollectionCalendar, loc *time.Location) *book {
	if cal == nil {
		cal = generic.DefaultCalendar()
	}
	if loc == nil {
		loc = time.UTC
	}
	b := &book{cal: cal, loc: loc, plans: make([]loanPlan, 0, len(grouped))}
	for i := range grouped {
		g := &grouped[i]
		p := loanPlan{
			loan:      g,
			start:     generic.DayIn(g.Date, loc),
			paidByDay: make(map[generic.TimePoint]generic.Amount, len(g.Payments)),
		}
		if g.FinishDate != nil {
			p.horizon = generic.DayIn(*g.FinishDate, loc)
		} else {
			p.horizon = p.start.AddDays(defaultHorizonDays)
		}
		for _, pay := range g.Payments {
			day := generic.DayIn(pay.Date, loc)
			p.paidByDay[day] = p.paidByDay[day].Add(pay.Amount)
		}
		b.plans = append(b.plans, p)
	}
	return b
}

// dueOn reports whether day is one of the plan's due dates.
func (b *book) dueOn(p loanPlan, day generic.TimePoint) bool {
	return !day.Before(p.start) && !day.After(p.horizon) && b.cal.IsCollectionDay(day)
}

// schedule is the loan's installment list valued at the stored installment
// value.
func (b *book) schedule(p loanPlan) []Installment {
	return GenerateSchedule(p.start, p.loan.Installments, p.loan.InstallmentValue, b.cal)
}
