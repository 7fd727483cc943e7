package collection

import (
	"fmt"

	"github.com/smartmoney/collection-engine/lending"
)

// GroupedLoan is a loan with the payments recorded against it. It is built
// fresh for every computation and never stored.
type GroupedLoan struct {
	lending.Loan
	Payments []lending.Payment `json:"payments"`
}

// GroupPaymentsByLoan attaches to every loan the payments whose LoanID
// matches it, keeping the input order of both. Payments without a loan
// reference are dropped. Payments for loans outside the list are ignored.
func GroupPaymentsByLoan(payments []lending.Payment, loans []lending.Loan) []GroupedLoan {
	grouped, _ := groupPaymentsByLoan(payments, loans)
	return grouped
}

// loanOf names the loan a payment belongs to. Tests replace it to force a
// grouping failure.
var loanOf = func(p lending.Payment) lending.LoanID { return p.LoanID }

// groupPaymentsByLoan reports a failure instead of propagating it; the
// result is then empty so callers keep running on no data.
func groupPaymentsByLoan(payments []lending.Payment, loans []lending.Loan) (grouped []GroupedLoan, err error) {
	defer func() {
		if r := recover(); r != nil {
			grouped, err = []GroupedLoan{}, fmt.Errorf("group payments: %v", r)
		}
	}()

	byLoan := make(map[lending.LoanID][]lending.Payment, len(loans))
	for _, p := range payments {
		id := loanOf(p)
		if id == "" {
			continue
		}
		byLoan[id] = append(byLoan[id], p)
	}

	grouped = make([]GroupedLoan, 0, len(loans))
	for _, l := range loans {
		ps := byLoan[l.ID]
		if ps == nil {
			ps = []lending.Payment{}
		}
		grouped = append(grouped, GroupedLoan{Loan: l, Payments: ps})
	}
	return grouped, nil
}
