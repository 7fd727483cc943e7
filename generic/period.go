package generic

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// PERIOD - Inclusive range of calendar days
// =============================================================================

// Period is the day range [Start, End].
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the day is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// Validate rejects periods that end before they start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// MONTH KEY - Reporting bucket
// =============================================================================

// MonthKey identifies a calendar month. It is a comparable struct so it can be
// used directly as a map key.
type MonthKey struct {
	Year  int
	Month time.Month
}

// Period returns the first..last day of the month.
func (k MonthKey) Period() Period {
	return Period{Start: StartOfMonth(k.Year, k.Month), End: EndOfMonth(k.Year, k.Month)}
}

// Contains reports whether the day falls in this month.
func (k MonthKey) Contains(day TimePoint) bool {
	return day.Year() == k.Year && day.Month() == k.Month
}

func (k MonthKey) Before(other MonthKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// MonthlyTotal is one reporting bucket, serialized for charts.
type MonthlyTotal struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Total Amount `json:"total"`
}

// MonthlyBuckets accumulates amounts per month.
type MonthlyBuckets map[MonthKey]Amount

func (b MonthlyBuckets) Add(k MonthKey, a Amount) {
	b[k] = b[k].Add(a)
}

// Sorted flattens the buckets in chronological order.
func (b MonthlyBuckets) Sorted() []MonthlyTotal {
	keys := make([]MonthKey, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	out := make([]MonthlyTotal, len(keys))
	for i, k := range keys {
		out[i] = MonthlyTotal{Year: k.Year, Month: int(k.Month), Total: b[k]}
	}
	return out
}
