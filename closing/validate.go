package closing

import (
	"fmt"

	"github.com/warp/attendance-engine/ledger"
	"github.com/warp/attendance-engine/timeclock"
)

// validateSnapshot checks that every worker-day can be paid.
//
// Critical (blocks Closed):
//   - worker_missing_punch: no punches and no exceptions on a day
//   - shift_not_finished:   day has activity but no clock_out and no
//     absence/half-day exception, so its pay would be unresolved
//   - daily_rate_unset:     worker's base daily rate is not positive
//
// Warnings:
//   - absence_without_justification
//   - conflicting_exceptions: absence and half day on the same day
//   - no_active_workers
func validateSnapshot(snap *snapshot) Validation {
	v := Validation{
		CriticalErrors: []Issue{},
		Warnings:       []Issue{},
	}

	if len(snap.workers) == 0 {
		v.Warnings = append(v.Warnings, Issue{
			Kind:    NoActiveWorkers,
			Message: fmt.Sprintf("company %s has no active workers", snap.companyID),
			Action:  "Register workers before closing payroll",
		})
	}

	days := snap.period.Days()
	for _, w := range snap.workers {
		if w.BaseDailyRateMinorUnits <= 0 {
			v.CriticalErrors = append(v.CriticalErrors, Issue{
				Kind:       DailyRateUnset,
				WorkerID:   w.ID,
				WorkerName: w.Name,
				Message:    fmt.Sprintf("%s has no daily rate set", w.Name),
				Action:     "Set the worker's daily rate",
			})
		}

		for _, day := range days {
			punches := snap.dayPunches(w.ID, day)
			exceptions := snap.dayExceptions(w.ID, day)

			switch {
			case len(punches) == 0 && len(exceptions) == 0:
				v.CriticalErrors = append(v.CriticalErrors, Issue{
					Kind:       WorkerMissingPunch,
					WorkerID:   w.ID,
					WorkerName: w.Name,
					Date:       &day,
					Message:    fmt.Sprintf("%s has no punches or exceptions on %s", w.Name, day),
					Action:     "Record the punches or register an absence",
				})
			case ledger.Governing(exceptions) == nil && !hasClockOut(punches):
				v.CriticalErrors = append(v.CriticalErrors, Issue{
					Kind:       ShiftNotFinished,
					WorkerID:   w.ID,
					WorkerName: w.Name,
					Date:       &day,
					Message:    fmt.Sprintf("%s has no completed shift on %s", w.Name, day),
					Action:     "Correct the missing punch or register a half day or absence",
				})
			}

			if ledger.Conflicting(exceptions) {
				v.Warnings = append(v.Warnings, Issue{
					Kind:       ConflictingExceptions,
					WorkerID:   w.ID,
					WorkerName: w.Name,
					Date:       &day,
					Message:    fmt.Sprintf("%s has both an absence and a half day on %s; the absence applies", w.Name, day),
					Action:     "Confirm which exception is correct",
				})
			}

			for _, ex := range exceptions {
				if ex.Kind == ledger.Absence && ex.Justification == "" {
					v.Warnings = append(v.Warnings, Issue{
						Kind:       AbsenceWithoutJustification,
						WorkerID:   w.ID,
						WorkerName: w.Name,
						Date:       &day,
						Message:    fmt.Sprintf("%s's absence on %s has no justification", w.Name, day),
						Action:     "Attach the justification if one exists",
					})
				}
			}
		}
	}

	v.IsValid = len(v.CriticalErrors) == 0
	v.CanClose = v.IsValid
	return v
}

func hasClockOut(punches []timeclock.Punch) bool {
	_, ok := timeclock.FirstOfKind(punches, timeclock.ClockOut)
	return ok
}
