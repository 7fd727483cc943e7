/*
schedule.go - Installment due dates

PURPOSE:
  Turns a loan's start date and installment count into the ordered list
  of days on which an installment falls due.

RULE:
  The start date is installment #1 when it is a collection day. From
  there the walk advances one day at a time and only collection days are
  counted, until every installment has a date.

  Example (Sunday rest, 10 installments from Monday 2024-01-01):
    01 02 03 04 05 06 | 07 skipped | 08 09 10 11
    FinishDate = 2024-01-11

  An older rule never counted the start date and always moved one day
  forward first; it produced finish dates one collection day later. That
  rule is gone; schedule_test.go pins the difference.

SEE ALSO:
  - generic/time.go: CollectionCalendar
  - due.go, aggregate.go: Consumers of the schedule
*/
package collection

import (
	"math"
	"time"

	"github.com/smartmoney/collection-engine/generic"
)

// Installment is one scheduled repayment.
type Installment struct {
	Number  int               `json:"number"`
	DueDate generic.TimePoint `json:"dueDate"`
	Amount  generic.Amount    `json:"amount"`
}

// GenerateSchedule returns count installments of value on consecutive
// collection days starting at start. A nil calendar rests on Sundays. The
// walk stops after generic.MaxScanDays, so an oversized count yields a
// truncated schedule rather than an unbounded allocation.
func GenerateSchedule(start generic.TimePoint, count int, value generic.Amount, cal generic.CollectionCalendar) []Installment {
	days := generic.CollectionDays(cal, start, count)
	out := make([]Installment, len(days))
	for i, day := range days {
		out[i] = Installment{Number: i + 1, DueDate: day, Amount: value}
	}
	return out
}

// FinishDate is the due date of the last installment. It is the zero
// TimePoint when count is not positive.
func FinishDate(start generic.TimePoint, count int, cal generic.CollectionCalendar) generic.TimePoint {
	return generic.LastCollectionDay(cal, start, count)
}

// DaysLate is how many days, rounded up, a payment made at paidAt lands after
// the loan's finish date. Payments on or before the finish date are 0.
func DaysLate(finish, paidAt time.Time) int {
	d := paidAt.Sub(finish)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}
