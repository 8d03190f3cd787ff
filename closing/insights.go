/*
insights.go - Automated anomaly detection over a consolidated period

RULES:
  high_half_day_ratio  halfDays / daysConsidered > 30%           warning
  recurring_absence    absences >= 2                              warning
  excessive_overtime   overtime hours > 10 in the period          warning
  cost_variance        |total cost change| > 15% vs previous      critical (up)
                                                                  info (down)

  daysConsidered is full days + half days + absences. Overtime and
  unresolved days are left out of the ratio. Overtime is compared on the
  unrounded duration.

Insights are advisory. They are not part of the integrity hash.
*/
package closing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	halfDayRatioPercent     = 30
	recurringAbsenceMinimum = 2
	costVariancePercent     = 15
	excessiveOvertime       = 10 * time.Hour
)

// GenerateInsights flags anomalies in the lines and, when previous is not
// nil, the change in total cost against it.
func GenerateInsights(lines []WorkerLine, previous *Record) []Insight {
	insights := []Insight{}

	for _, l := range lines {
		considered := l.DaysConsidered()
		if considered > 0 && l.HalfDays*100 > halfDayRatioPercent*considered {
			pct := percentOf(int64(l.HalfDays), int64(considered))
			insights = append(insights, Insight{
				Kind:       HighHalfDayRatio,
				Severity:   Warning,
				WorkerID:   l.WorkerID,
				WorkerName: l.Name,
				Message:    fmt.Sprintf("%s worked %d half days out of %d (%s%%)", l.Name, l.HalfDays, considered, pct.StringFixed(1)),
				Action:     "Review the reasons for the half days with the worker",
				Percentage: &pct,
			})
		}

		if l.Absences >= recurringAbsenceMinimum {
			insights = append(insights, Insight{
				Kind:       RecurringAbsence,
				Severity:   Warning,
				WorkerID:   l.WorkerID,
				WorkerName: l.Name,
				Message:    fmt.Sprintf("%s was absent %d times%s", l.Name, l.Absences, absencePattern(l)),
				Action:     "Talk to the worker about the absences",
			})
		}

		if l.Overtime > excessiveOvertime {
			insights = append(insights, Insight{
				Kind:             ExcessiveOvertime,
				Severity:         Warning,
				WorkerID:         l.WorkerID,
				WorkerName:       l.Name,
				Message:          fmt.Sprintf("%s accumulated %sh of overtime costing %s extra", l.Name, l.OvertimeHours.StringFixed(2), formatMinor(l.OvertimePremiumMinorUnits)),
				Action:           "Check whether the workload calls for another worker",
				AmountMinorUnits: l.OvertimePremiumMinorUnits,
			})
		}
	}

	if insight, ok := costVariance(aggregate(lines), previous); ok {
		insights = append(insights, insight)
	}

	return insights
}

func costVariance(current Totals, previous *Record) (Insight, bool) {
	if previous == nil || previous.Totals.TotalCostMinorUnits <= 0 {
		return Insight{}, false
	}
	prev := previous.Totals.TotalCostMinorUnits
	diff := current.TotalCostMinorUnits - prev
	abs := diff
	if abs < 0 {
		abs = -abs
	}
	if abs*100 <= costVariancePercent*prev {
		return Insight{}, false
	}

	pct := percentOf(diff, prev)
	insight := Insight{
		Kind:             CostVariance,
		AmountMinorUnits: diff,
		Percentage:       &pct,
	}
	if diff > 0 {
		insight.Severity = Critical
		insight.Message = fmt.Sprintf("total cost rose %s%% against closing #%d (%s to %s)",
			pct.StringFixed(1), previous.SequenceNumber, formatMinor(prev), formatMinor(current.TotalCostMinorUnits))
		insight.Action = "Review the overtime and extra days behind the increase"
	} else {
		insight.Severity = Info
		insight.Message = fmt.Sprintf("total cost fell %s%% against closing #%d (%s to %s)",
			pct.Abs().StringFixed(1), previous.SequenceNumber, formatMinor(prev), formatMinor(current.TotalCostMinorUnits))
		insight.Action = "Confirm the reduction matches planned staffing"
	}
	return insight, true
}

// absencePattern lists the weekdays of the absences and calls out a weekday
// that repeats.
func absencePattern(l WorkerLine) string {
	counts := make(map[time.Weekday]int)
	var names []string
	for _, d := range l.Days {
		if d.Kind != Absence {
			continue
		}
		wd := d.Date.Weekday()
		counts[wd]++
		names = append(names, wd.String())
	}
	if len(names) == 0 {
		return ""
	}

	var repeated []time.Weekday
	for wd, n := range counts {
		if n >= recurringAbsenceMinimum {
			repeated = append(repeated, wd)
		}
	}
	sort.Slice(repeated, func(i, j int) bool { return repeated[i] < repeated[j] })

	out := " (" + strings.Join(names, ", ") + ")"
	for _, wd := range repeated {
		out += fmt.Sprintf("; repeatedly on %ss", wd)
	}
	return out
}

func percentOf(part, whole int64) decimal.Decimal {
	return decimal.NewFromInt(part).Mul(decimal.NewFromInt(100)).DivRound(decimal.NewFromInt(whole), 1)
}

// formatMinor renders minor units with two decimals.
func formatMinor(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}
