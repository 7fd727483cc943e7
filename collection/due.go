package collection

import (
	"time"

	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

// DueEntry is an installment due on a given day that the day's payments do
// not cover.
type DueEntry struct {
	Client       lending.ClientRef `json:"clientRef"`
	LoanID       lending.LoanID    `json:"loanId"`
	Shortfall    generic.Amount    `json:"shortfallAmount"`
	ExpectedDate generic.TimePoint `json:"expectedDate"`
}

// FindDueOn lists the open loans that owe an installment on target and have
// not yet been paid that much on that exact day. A loan owes on every
// collection day from its start date through its finish date (or one year
// after the start when it has none). The installment value is recomputed
// from the loan terms.
func FindDueOn(grouped []GroupedLoan, target generic.TimePoint, cal generic.CollectionCalendar, loc *time.Location) []DueEntry {
	return newBook(grouped, cal, loc).findDueOn(target)
}

func (b *book) findDueOn(target generic.TimePoint) []DueEntry {
	out := []DueEntry{}
	for _, p := range b.plans {
		if p.loan.Terminated || !b.dueOn(p, target) {
			continue
		}
		owed := p.loan.ScheduledInstallmentValue()
		paid := p.paidByDay[target]
		if !paid.LessThan(owed) {
			continue
		}
		out = append(out, DueEntry{
			Client:       p.loan.Client,
			LoanID:       p.loan.ID,
			Shortfall:    owed.Sub(paid),
			ExpectedDate: target,
		})
	}
	return out
}

// TotalShortfall sums the shortfall of every entry.
func TotalShortfall(entries []DueEntry) generic.Amount {
	var total generic.Amount
	for _, e := range entries {
		total = total.Add(e.Shortfall)
	}
	return total
}
