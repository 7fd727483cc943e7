package collection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmoney/collection-engine/collection"
	"github.com/smartmoney/collection-engine/generic"
	"github.com/smartmoney/collection-engine/lending"
)

func day(y int, m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(y, m, d) }

func dueDates(schedule []collection.Installment) []string {
	out := make([]string, len(schedule))
	for i, inst := range schedule {
		out[i] = inst.DueDate.String()
	}
	return out
}

func TestGenerateSchedule_TenInstallmentsFromMonday(t *testing.T) {
	// GIVEN: 1000 at 20% over 10 installments, starting Monday 2024-01-01
	value := lending.InstallmentValue(generic.NewAmountFromInt(1000), 20, 10)
	require.True(t, value.Equal(generic.NewAmountFromInt(120)))

	// WHEN
	schedule := collection.GenerateSchedule(day(2024, 1, 1), 10, value, nil)

	// THEN: Sunday 2024-01-07 is skipped and the last installment is 2024-01-11
	assert.Equal(t, []string{
		"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-06",
		"2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11",
	}, dueDates(schedule))
	for i, inst := range schedule {
		assert.Equal(t, i+1, inst.Number)
		assert.True(t, inst.Amount.Equal(value))
	}
	assert.Equal(t, "2024-01-11", collection.FinishDate(day(2024, 1, 1), 10, nil).String())
}

func TestGenerateSchedule_StartingOnRestDay(t *testing.T) {
	// 2024-01-07 is a Sunday: the first installment moves to Monday
	schedule := collection.GenerateSchedule(day(2024, 1, 7), 2, generic.Amount{}, nil)
	assert.Equal(t, []string{"2024-01-08", "2024-01-09"}, dueDates(schedule))
}

func TestGenerateSchedule_LegacyStartExcludedRule(t *testing.T) {
	// The retired rule always advanced one day before counting. It equals
	// starting the current rule on the following day, and finished one
	// collection day later.
	start := day(2024, 1, 1)

	legacy := collection.GenerateSchedule(start.AddDays(1), 10, generic.Amount{}, nil)
	current := collection.GenerateSchedule(start, 10, generic.Amount{}, nil)

	assert.Equal(t, "2024-01-12", legacy[len(legacy)-1].DueDate.String())
	assert.Equal(t, "2024-01-11", current[len(current)-1].DueDate.String())
	assert.Equal(t, dueDates(current)[1:], dueDates(legacy)[:9])
}

func TestGenerateSchedule_Properties(t *testing.T) {
	for offset := 0; offset < 14; offset++ {
		start := day(2024, 2, 26).AddDays(offset)
		for n := 1; n <= 60; n++ {
			schedule := collection.GenerateSchedule(start, n, generic.Amount{}, nil)

			require.Len(t, schedule, n, "start %s n %d", start, n)
			for i, inst := range schedule {
				assert.NotEqual(t, time.Sunday, inst.DueDate.Weekday())
				assert.False(t, inst.DueDate.Before(start))
				if i > 0 {
					assert.True(t, inst.DueDate.After(schedule[i-1].DueDate))
				}
			}
		}
	}
}

func TestGenerateSchedule_NonPositiveCount(t *testing.T) {
	assert.Empty(t, collection.GenerateSchedule(day(2024, 1, 1), 0, generic.Amount{}, nil))
	assert.Empty(t, collection.GenerateSchedule(day(2024, 1, 1), -3, generic.Amount{}, nil))
	assert.True(t, collection.FinishDate(day(2024, 1, 1), 0, nil).IsZero())
}

func TestGenerateSchedule_ClosedDates(t *testing.T) {
	cal := &generic.WeeklyRestCalendar{
		Rest:   time.Sunday,
		Closed: map[generic.TimePoint]bool{day(2024, 1, 2): true},
	}

	schedule := collection.GenerateSchedule(day(2024, 1, 1), 3, generic.Amount{}, cal)

	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-04"}, dueDates(schedule))
}

func TestDaysLate(t *testing.T) {
	finish := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, collection.DaysLate(finish, finish.AddDate(0, 0, -1)))
	assert.Equal(t, 0, collection.DaysLate(finish, finish))
	assert.Equal(t, 1, collection.DaysLate(finish, finish.Add(time.Hour)))
	assert.Equal(t, 2, collection.DaysLate(finish, finish.Add(48*time.Hour)))
	assert.Equal(t, 3, collection.DaysLate(finish, finish.Add(49*time.Hour)))
}

func TestGenerateSchedule_OversizedCountIsBounded(t *testing.T) {
	schedule := collection.GenerateSchedule(day(2024, 1, 1), 1<<50, amt(1), nil)

	require.NotEmpty(t, schedule)
	assert.Less(t, len(schedule), generic.MaxScanDays)
	assert.Equal(t, len(schedule), schedule[len(schedule)-1].Number)
	assert.False(t, collection.FinishDate(day(2024, 1, 1), 1<<50, nil).IsZero())
}
