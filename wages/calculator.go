/*
calculator.go - Turns a day's punches (or an exception) into pay

PURPOSE:
  Computes worked time and the payable amount for one worker-day in
  integer minor currency units.

WORKED TIME:
  (lunch_out - clock_in) + (clock_out - lunch_in)
  clock_out - clock_in when the day has neither lunch punch

  Hours() is for live dashboards: after lunch_in with no clock_out the
  afternoon accrues up to "now". SettledHours() never looks at the clock;
  closings use it so a re-run over the same data gives the same result.

DAILY PAY (first match wins):
  1. Absence exception   -> 0
  2. Half-day exception  -> floor(base / 2)
  3. clock_out present:
       worked >= standard -> base + floor(overtime * base / standard * 1.5)
       worked <  standard -> floor(base * worked / standard)   (proportional)
  4. otherwise           -> 0, Unresolved

ROUNDING:
  Every division floors. Rate math runs on shopspring/decimal and takes
  the integer quotient, so no intermediate value is ever rounded up.

SEE ALSO:
  - ledger/exception.go: Governing() picks the exception passed in
  - closing/consolidate.go: Calls DailyPay for every worker-day
*/
package wages

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
)

const DefaultStandardDay = 8 * time.Hour

// DefaultOvertimeMultiplier is the premium applied to the hourly rate.
var DefaultOvertimeMultiplier = decimal.RequireFromString("1.5")

// Resolution says what decided a day's pay.
type Resolution string

const (
	ResolvedAbsence Resolution = "absence"
	ResolvedHalfDay Resolution = "half_day"
	ResolvedShift   Resolution = "shift"
	Unresolved      Resolution = "unresolved"
)

// DailyPay is the outcome for one worker-day.
type DailyPay struct {
	AmountMinorUnits  int64
	PremiumMinorUnits int64
	Worked            time.Duration
	Overtime          time.Duration
	Proportional      bool
	Resolution        Resolution
}

func (p DailyPay) Hours() decimal.Decimal         { return Hours(p.Worked) }
func (p DailyPay) OvertimeHours() decimal.Decimal { return Hours(p.Overtime) }

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	StandardDay        time.Duration
	OvertimeMultiplier decimal.Decimal
}

func NewCalculator() *Calculator {
	return &Calculator{
		StandardDay:        DefaultStandardDay,
		OvertimeMultiplier: DefaultOvertimeMultiplier,
	}
}

func (c *Calculator) standard() time.Duration {
	if c.StandardDay <= 0 {
		return DefaultStandardDay
	}
	return c.StandardDay
}

// Hours returns live worked time; an open afternoon accrues up to now.
func (c *Calculator) Hours(punches []timeclock.Punch, now time.Time) time.Duration {
	return worked(punches, &now)
}

// SettledHours returns worked time from completed segments only.
func (c *Calculator) SettledHours(punches []timeclock.Punch) time.Duration {
	return worked(punches, nil)
}

func worked(punches []timeclock.Punch, now *time.Time) time.Duration {
	if len(punches) < 2 {
		return 0
	}

	clockIn, hasIn := timeclock.FirstOfKind(punches, timeclock.ClockIn)
	lunchOut, hasLunchOut := timeclock.FirstOfKind(punches, timeclock.LunchOut)
	lunchIn, hasLunchIn := timeclock.FirstOfKind(punches, timeclock.LunchIn)
	clockOut, hasOut := timeclock.FirstOfKind(punches, timeclock.ClockOut)

	var total time.Duration
	if hasIn && hasLunchOut {
		total += positive(lunchOut.OccurredAt.Sub(clockIn.OccurredAt))
	}
	switch {
	case hasLunchIn && hasOut:
		total += positive(clockOut.OccurredAt.Sub(lunchIn.OccurredAt))
	case hasLunchIn && now != nil:
		total += positive(now.Sub(lunchIn.OccurredAt))
	case hasIn && hasOut && !hasLunchOut && !hasLunchIn:
		// Corrected days can lose their lunch pair.
		total += positive(clockOut.OccurredAt.Sub(clockIn.OccurredAt))
	}
	return total
}

// DailyPay computes the pay for one day. governing is the exception chosen
// by ledger.Governing for that day, or nil.
func (c *Calculator) DailyPay(punches []timeclock.Punch, governing *ledger.Exception, baseRateMinorUnits int64) DailyPay {
	base := baseRateMinorUnits
	if base < 0 {
		base = 0
	}

	if governing != nil {
		switch governing.Kind {
		case ledger.Absence:
			return DailyPay{Resolution: ResolvedAbsence}
		case ledger.HalfDay:
			return DailyPay{
				AmountMinorUnits: base / 2,
				Worked:           c.SettledHours(punches),
				Resolution:       ResolvedHalfDay,
			}
		}
	}

	hours := c.SettledHours(punches)
	if _, done := timeclock.FirstOfKind(punches, timeclock.ClockOut); !done {
		return DailyPay{Worked: hours, Resolution: Unresolved}
	}

	std := c.standard()
	if hours >= std {
		overtime := hours - std
		premium := c.premium(base, overtime)
		return DailyPay{
			AmountMinorUnits:  base + premium,
			PremiumMinorUnits: premium,
			Worked:            hours,
			Overtime:          overtime,
			Resolution:        ResolvedShift,
		}
	}

	return DailyPay{
		AmountMinorUnits: floorQuo(decimal.NewFromInt(base).Mul(nanos(hours)), nanos(std)),
		Worked:           hours,
		Proportional:     true,
		Resolution:       ResolvedShift,
	}
}

// premium is floor(overtime * base / standard * multiplier).
func (c *Calculator) premium(base int64, overtime time.Duration) int64 {
	if overtime <= 0 || base == 0 {
		return 0
	}
	multiplier := c.OvertimeMultiplier
	if multiplier.IsZero() {
		multiplier = DefaultOvertimeMultiplier
	}
	numerator := decimal.NewFromInt(base).Mul(nanos(overtime)).Mul(multiplier)
	return floorQuo(numerator, nanos(c.standard()))
}

// =============================================================================
// HELPERS
// =============================================================================

// Hours converts a duration to hours with two decimals.
func Hours(d time.Duration) decimal.Decimal {
	return nanos(d).DivRound(nanos(time.Hour), 2)
}

func nanos(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d))
}

// floorQuo is the integer quotient of two non-negative decimals.
func floorQuo(numerator, denominator decimal.Decimal) int64 {
	q, _ := numerator.QuoRem(denominator, 0)
	return q.IntPart()
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
