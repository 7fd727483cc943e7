package generic

import (
	"time"
)

// =============================================================================
// TIME POINT - Calendar day abstraction (collections happen per day)
// =============================================================================

// TimePoint is a calendar day. The underlying time is always midnight UTC of
// that day, regardless of the location the day was observed in, so two
// TimePoints compare equal exactly when they name the same calendar date.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayIn returns the calendar day that instant t falls on as seen from loc.
// A nil loc means UTC.
func DayIn(t time.Time, loc *time.Location) TimePoint {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return NewTimePoint(local.Year(), local.Month(), local.Day())
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }
func (tp TimePoint) MonthKey() MonthKey    { return MonthKey{Year: tp.Year(), Month: tp.Month()} }

// StartIn returns the first instant of the day in loc.
func (tp TimePoint) StartIn(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(tp.Year(), tp.Month(), tp.Day(), 0, 0, 0, 0, loc)
}

func (tp TimePoint) String() string {
	return tp.Time.Format("2006-01-02")
}

// MarshalText encodes the day as YYYY-MM-DD.
func (tp TimePoint) MarshalText() ([]byte, error) {
	return []byte(tp.String()), nil
}

func (tp *TimePoint) UnmarshalText(b []byte) error {
	t, err := time.Parse("2006-01-02", string(b))
	if err != nil {
		return err
	}
	tp.Time = t
	return nil
}

// =============================================================================
// COLLECTION CALENDAR - Days on which installments can fall due
// =============================================================================

// CollectionCalendar decides whether collectors work on a given day.
type CollectionCalendar interface {
	IsCollectionDay(day TimePoint) bool
}

// WeeklyRestCalendar excludes one weekday every week and, optionally, a set of
// specific closed dates.
type WeeklyRestCalendar struct {
	Rest   time.Weekday
	Closed map[TimePoint]bool
}

// DefaultCalendar rests on Sundays.
func DefaultCalendar() *WeeklyRestCalendar {
	return &WeeklyRestCalendar{Rest: time.Sunday}
}

func (c *WeeklyRestCalendar) IsCollectionDay(day TimePoint) bool {
	if day.Weekday() == c.Rest {
		return false
	}
	return !c.Closed[day]
}

// NextCollectionDay returns day itself when it is a collection day, otherwise
// the first collection day after it.
func NextCollectionDay(cal CollectionCalendar, day TimePoint) TimePoint {
	for !cal.IsCollectionDay(day) {
		day = day.AddDays(1)
	}
	return day
}

// MaxScanDays bounds every walk over a calendar, so a calendar that closes
// too many days, or an absurd installment count, cannot loop or allocate
// without limit.
const MaxScanDays = 20 * 366

// CollectionDays returns the first count collection days on or after start.
// It returns fewer when the calendar has not produced count days within
// MaxScanDays. A nil calendar rests on Sundays.
func CollectionDays(cal CollectionCalendar, start TimePoint, count int) []TimePoint {
	if count <= 0 {
		return []TimePoint{}
	}
	if cal == nil {
		cal = DefaultCalendar()
	}

	out := make([]TimePoint, 0, min(count, MaxScanDays))
	day := start
	for scanned := 0; len(out) < count && scanned < MaxScanDays; scanned++ {
		if cal.IsCollectionDay(day) {
			out = append(out, day)
		}
		day = day.AddDays(1)
	}
	return out
}

// LastCollectionDay is the last of CollectionDays, or the zero TimePoint when
// count is not positive.
func LastCollectionDay(cal CollectionCalendar, start TimePoint, count int) TimePoint {
	days := CollectionDays(cal, start, count)
	if len(days) == 0 {
		return TimePoint{}
	}
	return days[len(days)-1]
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// ElapsedDays is the floor of the days between two instants, never negative.
func ElapsedDays(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func StartOfMonth(year int, month time.Month) TimePoint { return NewTimePoint(year, month, 1) }
func EndOfMonth(year int, month time.Month) TimePoint {
	return TimePoint{Time: time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}
