package timeclock

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The window a closing consolidates
// =============================================================================

// Period is an inclusive range of calendar days.
//
// Examples:
//   - Daily closing:   Mar 10 - Mar 10
//   - Weekly closing:  Mar 04 - Mar 10
//   - Monthly closing: Feb 11 - Mar 10
type Period struct {
	Start Day `json:"start"`
	End   Day `json:"end"`
}

// NewPeriod returns the period [start, end] or ErrInvalidDateRange when end
// is before start.
func NewPeriod(start, end Day) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, fmt.Errorf("%w: start and end are required", ErrInvalidDateRange)
	}
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: %s is before %s", ErrInvalidDateRange, end, start)
	}
	return Period{Start: start, End: end}, nil
}

// Contains returns true if the day is within the period [Start, End].
func (p Period) Contains(d Day) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// ContainsInstant reports whether t falls on one of the period's days.
func (p Period) ContainsInstant(t time.Time) bool {
	return !t.Before(p.From()) && t.Before(p.Until())
}

// From is the first instant of the period.
func (p Period) From() time.Time { return p.Start.Start() }

// Until is the first instant after the period.
func (p Period) Until() time.Time { return p.End.End() }

// Days returns all days in the period.
func (p Period) Days() []Day {
	days := make([]Day, 0, p.Len())
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Len is the number of days in the period.
func (p Period) Len() int {
	n := 0
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		n++
	}
	return n
}

// In re-anchors both ends of the period in loc.
func (p Period) In(loc *time.Location) Period {
	return Period{Start: p.Start.In(loc), End: p.End.In(loc)}
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// PERIODICITY
// =============================================================================

// Periodicity is how often a company closes payroll.
type Periodicity string

const (
	Daily   Periodicity = "daily"
	Weekly  Periodicity = "weekly"
	Monthly Periodicity = "monthly"
)

func (p Periodicity) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// PeriodEnding returns the period of the given periodicity whose last day
// is end.
func PeriodEnding(periodicity Periodicity, end Day) Period {
	switch periodicity {
	case Weekly:
		return Period{Start: end.AddDays(-6), End: end}
	case Monthly:
		return Period{Start: sameDayPreviousMonth(end).AddDays(1), End: end}
	default:
		return Period{Start: end, End: end}
	}
}

// sameDayPreviousMonth clamps to the last day of the previous month, so
// Mar 31 maps to Feb 28 instead of overflowing into March.
func sameDayPreviousMonth(d Day) Day {
	y, m, day := d.Time.Date()
	firstOfMonth := time.Date(y, m, 1, 0, 0, 0, 0, d.Location())
	lastOfPrev := firstOfMonth.AddDate(0, 0, -1)
	if day > lastOfPrev.Day() {
		day = lastOfPrev.Day()
	}
	return NewDay(lastOfPrev.Year(), lastOfPrev.Month(), day, d.Location())
}
