/*
Package generic provides the domain-agnostic building blocks of the
collection engine.

KEY CONCEPTS:
  - Amount: A currency quantity backed by decimal.Decimal
  - TimePoint: A calendar day (time.go)
  - Period / MonthKey: Day ranges and reporting buckets (period.go)
  - CollectionCalendar: Which days installments may fall due on (time.go)

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64 arithmetic
  2. Day semantics: Dates are compared as calendar days, not instants
  3. Zero defaults: A missing amount is zero, never an error

USAGE:
  quota := generic.NewAmountFromInt(1000).Mul(generic.Percent(20)).DivInt(10)
  // 120

SEE ALSO:
  - errors.go: Shared error kinds
  - lending/types.go: Loan and Payment records built on these types
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Currency quantity
// =============================================================================

// Amount is a money value. The zero value is 0.
type Amount struct {
	Value decimal.Decimal
}

func NewAmountFromInt(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value)}
}

// ParseAmount parses a decimal string. Invalid input yields zero.
func ParseAmount(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}
	}
	return Amount{Value: d}
}

// Percent returns the growth factor (1 + p/100) for a flat percentage.
func Percent(p float64) decimal.Decimal {
	return decimal.NewFromInt(1).Add(decimal.NewFromFloat(p).Div(decimal.NewFromInt(100)))
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) MulInt(n int) Amount          { return Amount{Value: a.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s)} }
func (a Amount) DivInt(n int) Amount          { return Amount{Value: a.Value.Div(decimal.NewFromInt(int64(n)))} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) LessThanOrEqual(b Amount) bool {
	return a.Value.LessThanOrEqual(b.Value)
}
func (a Amount) Equal(b Amount) bool { return a.Value.Equal(b.Value) }
func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
func (a Amount) String() string { return a.Value.String() }

// MarshalJSON writes the amount as a bare JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Value.String()), nil
}

// UnmarshalJSON accepts numbers and quoted numbers.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		a.Value = decimal.Zero
		return nil
	}
	return a.Value.UnmarshalJSON(b)
}
