package closing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/closing"
)

func line(id string) closing.WorkerLine {
	return closing.WorkerLine{
		WorkerID:      id,
		Name:          "Worker " + id,
		HoursWorked:   decimal.Zero,
		OvertimeHours: decimal.Zero,
	}
}

func insightsOf(kind closing.InsightKind, list []closing.Insight) []closing.Insight {
	var out []closing.Insight
	for _, i := range list {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}

func TestInsights_HighHalfDayRatio(t *testing.T) {
	// GIVEN: 2 half days out of 5 resolved days (40%) and 3 out of 10 (30%)
	high := line("w-1")
	high.HalfDays, high.DaysFull = 2, 3
	edge := line("w-2")
	edge.HalfDays, edge.DaysFull = 3, 7

	// WHEN: Generating insights
	found := insightsOf(closing.HighHalfDayRatio, closing.GenerateInsights([]closing.WorkerLine{high, edge}, nil))

	// THEN: Only the ratio strictly above 30% is flagged
	require.Len(t, found, 1)
	assert.Equal(t, "w-1", found[0].WorkerID)
	assert.Equal(t, closing.Warning, found[0].Severity)
	require.NotNil(t, found[0].Percentage)
	assert.Equal(t, "40.0", found[0].Percentage.StringFixed(1))
}

func TestInsights_HalfDayRatioLeavesOutOvertimeDays(t *testing.T) {
	// GIVEN: 3 half days and 7 overtime days with no full days
	l := line("w-1")
	l.HalfDays, l.OvertimeDays = 3, 7

	// WHEN: Generating insights
	found := insightsOf(closing.HighHalfDayRatio, closing.GenerateInsights([]closing.WorkerLine{l}, nil))

	// THEN: Every considered day is a half day
	require.Len(t, found, 1)
	assert.Equal(t, 3, l.DaysConsidered())
	assert.Equal(t, "100.0", found[0].Percentage.StringFixed(1))
	assert.Contains(t, found[0].Message, "3 half days out of 3")
}

func TestInsights_HalfDayRatioIgnoresUnresolvedDays(t *testing.T) {
	l := line("w-1")
	l.HalfDays, l.DaysFull, l.UnresolvedDays = 1, 3, 10

	found := insightsOf(closing.HighHalfDayRatio, closing.GenerateInsights([]closing.WorkerLine{l}, nil))

	assert.Empty(t, found)
}

func TestInsights_RecurringAbsence_NamesRepeatedWeekday(t *testing.T) {
	l := line("w-1")
	l.Absences = 2
	l.Days = []closing.DailyOutcome{
		{Date: day(2), Kind: closing.Absence},
		{Date: day(3), Kind: closing.FullDay},
		{Date: day(9), Kind: closing.Absence},
	}

	found := insightsOf(closing.RecurringAbsence, closing.GenerateInsights([]closing.WorkerLine{l}, nil))

	require.Len(t, found, 1)
	assert.Contains(t, found[0].Message, "absent 2 times")
	assert.Contains(t, found[0].Message, "repeatedly on Mondays")
}

func TestInsights_ExcessiveOvertime(t *testing.T) {
	over := line("w-1")
	over.OvertimeHours = decimal.RequireFromString("10.5")
	over.Overtime = 10*time.Hour + 30*time.Minute
	over.OvertimePremiumMinorUnits = 29531
	exact := line("w-2")
	exact.OvertimeHours = decimal.NewFromInt(10)
	exact.Overtime = 10 * time.Hour

	found := insightsOf(closing.ExcessiveOvertime, closing.GenerateInsights([]closing.WorkerLine{over, exact}, nil))

	require.Len(t, found, 1)
	assert.Equal(t, "w-1", found[0].WorkerID)
	assert.Equal(t, int64(29531), found[0].AmountMinorUnits)
	assert.Contains(t, found[0].Message, "295.31")
}

func TestInsights_ExcessiveOvertime_UsesUnroundedDuration(t *testing.T) {
	// GIVEN: 10h00m01s of overtime, which shows as 10.00 hours
	l := line("w-1")
	l.OvertimeHours = decimal.RequireFromString("10.00")
	l.Overtime = 10*time.Hour + time.Second

	// WHEN: Generating insights
	found := insightsOf(closing.ExcessiveOvertime, closing.GenerateInsights([]closing.WorkerLine{l}, nil))

	// THEN: The second over the limit is flagged
	require.Len(t, found, 1)
	assert.Equal(t, "w-1", found[0].WorkerID)
}

func TestInsights_CostVariance(t *testing.T) {
	previous := &closing.Record{SequenceNumber: 3}
	previous.Totals.TotalCostMinorUnits = 100000

	cases := []struct {
		name     string
		current  int64
		want     bool
		severity closing.Severity
		pct      string
	}{
		{"rise above threshold", 120000, true, closing.Critical, "20.0"},
		{"fall above threshold", 80000, true, closing.Info, "-20.0"},
		{"within threshold", 110000, false, "", ""},
		{"exactly threshold", 115000, false, "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := line("w-1")
			l.TotalDueMinorUnits = tc.current

			found := insightsOf(closing.CostVariance, closing.GenerateInsights([]closing.WorkerLine{l}, previous))

			if !tc.want {
				assert.Empty(t, found)
				return
			}
			require.Len(t, found, 1)
			assert.Equal(t, tc.severity, found[0].Severity)
			assert.Equal(t, tc.current-100000, found[0].AmountMinorUnits)
			assert.Equal(t, tc.pct, found[0].Percentage.StringFixed(1))
			assert.Contains(t, found[0].Message, "closing #3")
		})
	}
}

func TestInsights_NoPreviousOrZeroCost_NoVariance(t *testing.T) {
	l := line("w-1")
	l.TotalDueMinorUnits = 50000

	assert.Empty(t, insightsOf(closing.CostVariance, closing.GenerateInsights([]closing.WorkerLine{l}, nil)))
	assert.Empty(t, insightsOf(closing.CostVariance, closing.GenerateInsights([]closing.WorkerLine{l}, &closing.Record{})))
}
