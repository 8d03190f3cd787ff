package closing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
	"github.com/warp/attendance-engine/wages"
)

// consolidate builds one worker's line from the snapshot.
func (e *Engine) consolidate(w timeclock.Worker, snap *snapshot) WorkerLine {
	days := snap.period.Days()
	line := WorkerLine{
		WorkerID:                w.ID,
		Name:                    w.Name,
		Role:                    w.Role,
		BaseDailyRateMinorUnits: w.BaseDailyRateMinorUnits,
		Days:                    make([]DailyOutcome, 0, len(days)),
	}

	var worked, overtime time.Duration
	for _, day := range days {
		punches := snap.dayPunches(w.ID, day)
		exceptions := snap.dayExceptions(w.ID, day)
		governing := ledger.Governing(exceptions)

		pay := e.calc.DailyPay(punches, governing, w.BaseDailyRateMinorUnits)
		outcome := DailyOutcome{
			Date:                 day,
			Hours:                pay.Hours(),
			OvertimeHours:        pay.OvertimeHours(),
			AmountMinorUnits:     pay.AmountMinorUnits,
			AdjustmentMinorUnits: ledger.AdjustmentTotal(exceptions),
			Proportional:         pay.Proportional,
		}

		switch pay.Resolution {
		case wages.ResolvedAbsence:
			outcome.Kind = Absence
			outcome.Basis = FromException
			outcome.ExceptionID = governing.ID
			outcome.Note = governing.Reason
			line.Absences++
		case wages.ResolvedHalfDay:
			outcome.Kind = HalfDay
			outcome.Basis = FromException
			outcome.ExceptionID = governing.ID
			outcome.Note = governing.Reason
			line.HalfDays++
		case wages.ResolvedShift:
			outcome.Basis = FromPunches
			if pay.Overtime > 0 {
				outcome.Kind = OvertimeDay
				line.OvertimeDays++
			} else {
				outcome.Kind = FullDay
				line.DaysFull++
			}
			if pay.Proportional {
				outcome.Note = fmt.Sprintf("proportional: %sh of %sh", pay.Hours(), wages.Hours(e.calc.StandardDay))
			}
		default:
			outcome.Kind = UnresolvedDay
			outcome.Basis = NoBasis
			if len(punches) > 0 {
				outcome.Basis = FromPunches
				outcome.Note = "shift not finished"
			} else {
				outcome.Note = "no punches recorded"
			}
			line.UnresolvedDays++
		}

		line.WagesMinorUnits += pay.AmountMinorUnits
		line.OvertimePremiumMinorUnits += pay.PremiumMinorUnits
		line.ExceptionAdjustmentsMinorUnits += outcome.AdjustmentMinorUnits
		worked += pay.Worked
		overtime += pay.Overtime
		line.Days = append(line.Days, outcome)
	}

	line.HoursWorked = wages.Hours(worked)
	line.OvertimeHours = wages.Hours(overtime)
	line.Overtime = overtime
	line.TotalDueMinorUnits = line.WagesMinorUnits + line.ExceptionAdjustmentsMinorUnits
	line.PaidMinorUnits = ledger.PaidTotal(snap.payments[w.ID])
	line.BalanceMinorUnits = line.TotalDueMinorUnits - line.PaidMinorUnits
	return line
}

// aggregate sums every line into the record totals.
func aggregate(lines []WorkerLine) Totals {
	t := Totals{
		Workers:       len(lines),
		HoursWorked:   decimal.Zero,
		OvertimeHours: decimal.Zero,
	}
	for _, l := range lines {
		t.DaysFull += l.DaysFull
		t.HalfDays += l.HalfDays
		t.Absences += l.Absences
		t.OvertimeDays += l.OvertimeDays
		t.UnresolvedDays += l.UnresolvedDays
		t.HoursWorked = t.HoursWorked.Add(l.HoursWorked)
		t.OvertimeHours = t.OvertimeHours.Add(l.OvertimeHours)
		t.WagesMinorUnits += l.WagesMinorUnits
		t.OvertimePremiumMinorUnits += l.OvertimePremiumMinorUnits
		t.ExceptionAdjustmentsMinorUnits += l.ExceptionAdjustmentsMinorUnits
		t.TotalCostMinorUnits += l.TotalDueMinorUnits
		t.TotalPaidMinorUnits += l.PaidMinorUnits
		t.BalanceMinorUnits += l.BalanceMinorUnits
	}
	return t
}
