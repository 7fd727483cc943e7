package collection

import (
	"time"

	"github.com/smartmoney/collection-engine/generic"
)

// EstimateUncollected measures how far loans lag behind an ideal daily
// repayment. For each open loan the ideal remaining debt is the total owed
// minus one installment per elapsed day since the start date; any recorded
// balance above that line counts as uncollected.
//
// The ideal line charges every calendar day, rest days included, while due
// dates skip rest days. The estimate therefore runs ahead of the schedule by
// one installment per rest day elapsed.
func EstimateUncollected(grouped []GroupedLoan, asOf time.Time) generic.Amount {
	var total generic.Amount
	for _, g := range grouped {
		if g.Terminated {
			continue
		}
		days := generic.ElapsedDays(g.Date, asOf)
		ideal := g.TotalOwed().Sub(g.InstallmentValue.MulInt(days))
		if g.Balance.GreaterThan(ideal) {
			total = total.Add(g.Balance.Sub(ideal))
		}
	}
	return total
}
