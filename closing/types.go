package closing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// STATUS - Draft -> Closed -> {Adjusted | Cancelled}
// =============================================================================

type Status string

const (
	Draft     Status = "draft"
	Closed    Status = "closed"
	Adjusted  Status = "adjusted"
	Cancelled Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	Draft:  {Closed},
	Closed: {Adjusted, Cancelled},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// =============================================================================
// PER-DAY AND PER-WORKER LINES
// =============================================================================

type OutcomeKind string

const (
	FullDay       OutcomeKind = "full_day"
	HalfDay       OutcomeKind = "half_day"
	Absence       OutcomeKind = "absence"
	OvertimeDay   OutcomeKind = "overtime"
	UnresolvedDay OutcomeKind = "unresolved"
)

type Basis string

const (
	FromPunches   Basis = "punches"
	FromException Basis = "exception"
	NoBasis       Basis = "none"
)

// DailyOutcome is one worker-day as it was paid.
type DailyOutcome struct {
	Date                 timeclock.Day   `json:"date"`
	Kind                 OutcomeKind     `json:"kind"`
	Hours                decimal.Decimal `json:"hours"`
	OvertimeHours        decimal.Decimal `json:"overtimeHours"`
	AmountMinorUnits     int64           `json:"amountMinorUnits"`
	AdjustmentMinorUnits int64           `json:"adjustmentMinorUnits"`
	Proportional         bool            `json:"proportional"`
	Basis                Basis           `json:"basis"`
	ExceptionID          string          `json:"exceptionId,omitempty"`
	Note                 string          `json:"note,omitempty"`
}

// WorkerLine is one worker's consolidated period.
type WorkerLine struct {
	WorkerID                       string          `json:"workerId"`
	Name                           string          `json:"name"`
	Role                           string          `json:"role"`
	BaseDailyRateMinorUnits        int64           `json:"baseDailyRateMinorUnits"`
	DaysFull                       int             `json:"daysFull"`
	HalfDays                       int             `json:"halfDays"`
	Absences                       int             `json:"absences"`
	OvertimeDays                   int             `json:"overtimeDays"`
	UnresolvedDays                 int             `json:"unresolvedDays"`
	HoursWorked                    decimal.Decimal `json:"hoursWorked"`
	OvertimeHours                  decimal.Decimal `json:"overtimeHours"`
	WagesMinorUnits                int64           `json:"wagesMinorUnits"`
	OvertimePremiumMinorUnits      int64           `json:"overtimePremiumMinorUnits"`
	ExceptionAdjustmentsMinorUnits int64           `json:"exceptionAdjustmentsMinorUnits"`
	TotalDueMinorUnits             int64           `json:"totalDueMinorUnits"`
	PaidMinorUnits                 int64           `json:"paidMinorUnits"`
	BalanceMinorUnits              int64           `json:"balanceMinorUnits"`
	Days                           []DailyOutcome  `json:"days"`

	// Overtime is the unrounded sum behind OvertimeHours.
	Overtime time.Duration `json:"-"`
}

// DaysConsidered counts the full days, half days and absences used for the
// half-day ratio. Overtime days are left out.
func (l WorkerLine) DaysConsidered() int {
	return l.DaysFull + l.HalfDays + l.Absences
}

// Totals aggregates every worker line.
type Totals struct {
	Workers                        int             `json:"workers"`
	DaysFull                       int             `json:"daysFull"`
	HalfDays                       int             `json:"halfDays"`
	Absences                       int             `json:"absences"`
	OvertimeDays                   int             `json:"overtimeDays"`
	UnresolvedDays                 int             `json:"unresolvedDays"`
	HoursWorked                    decimal.Decimal `json:"hoursWorked"`
	OvertimeHours                  decimal.Decimal `json:"overtimeHours"`
	WagesMinorUnits                int64           `json:"wagesMinorUnits"`
	OvertimePremiumMinorUnits      int64           `json:"overtimePremiumMinorUnits"`
	ExceptionAdjustmentsMinorUnits int64           `json:"exceptionAdjustmentsMinorUnits"`
	TotalCostMinorUnits            int64           `json:"totalCostMinorUnits"`
	TotalPaidMinorUnits            int64           `json:"totalPaidMinorUnits"`
	BalanceMinorUnits              int64           `json:"balanceMinorUnits"`
}

// =============================================================================
// VALIDATION
// =============================================================================

type IssueKind string

const (
	WorkerMissingPunch          IssueKind = "worker_missing_punch"
	DailyRateUnset              IssueKind = "daily_rate_unset"
	ShiftNotFinished            IssueKind = "shift_not_finished"
	AbsenceWithoutJustification IssueKind = "absence_without_justification"
	ConflictingExceptions       IssueKind = "conflicting_exceptions"
	NoActiveWorkers             IssueKind = "no_active_workers"
)

type Issue struct {
	Kind       IssueKind      `json:"kind"`
	WorkerID   string         `json:"workerId,omitempty"`
	WorkerName string         `json:"workerName,omitempty"`
	Date       *timeclock.Day `json:"date,omitempty"`
	Message    string         `json:"message"`
	Action     string         `json:"action,omitempty"`
}

type Validation struct {
	IsValid        bool    `json:"isValid"`
	CanClose       bool    `json:"canClose"`
	CriticalErrors []Issue `json:"criticalErrors"`
	Warnings       []Issue `json:"warnings"`
}

// =============================================================================
// INSIGHTS
// =============================================================================

type InsightKind string

const (
	HighHalfDayRatio  InsightKind = "high_half_day_ratio"
	RecurringAbsence  InsightKind = "recurring_absence"
	ExcessiveOvertime InsightKind = "excessive_overtime"
	CostVariance      InsightKind = "cost_variance"
)

type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

type Insight struct {
	Kind             InsightKind      `json:"kind"`
	Severity         Severity         `json:"severity"`
	WorkerID         string           `json:"workerId,omitempty"`
	WorkerName       string           `json:"workerName,omitempty"`
	Message          string           `json:"message"`
	Action           string           `json:"action"`
	AmountMinorUnits int64            `json:"amountMinorUnits,omitempty"`
	Percentage       *decimal.Decimal `json:"percentage,omitempty"`
}

// =============================================================================
// RECORD
// =============================================================================

// Adjustment links a replaced closing to its successor.
type Adjustment struct {
	At                          time.Time `json:"at"`
	By                          string    `json:"by"`
	Reason                      string    `json:"reason"`
	PreviousClosingID           string    `json:"previousClosingId"`
	NewClosingID                string    `json:"newClosingId"`
	PreviousTotalCostMinorUnits int64     `json:"previousTotalCostMinorUnits"`
	NewTotalCostMinorUnits      int64     `json:"newTotalCostMinorUnits"`
}

// Record is a sealed closing. Once Closed, PerWorker and Totals never
// change; only the status fields move.
type Record struct {
	ID             string                `json:"id"`
	SequenceNumber int64                 `json:"sequenceNumber"`
	CompanyID      string                `json:"companyId"`
	PeriodStart    timeclock.Day         `json:"periodStart"`
	PeriodEnd      timeclock.Day         `json:"periodEnd"`
	Periodicity    timeclock.Periodicity `json:"periodicity"`
	PerWorker      []WorkerLine          `json:"perWorker"`
	Totals         Totals                `json:"totals"`
	Insights       []Insight             `json:"insights"`
	Validation     Validation            `json:"validation"`
	Status         Status                `json:"status"`
	GeneratedAt    time.Time             `json:"generatedAt"`
	GeneratedBy    string                `json:"generatedBy"`
	ManualReason   string                `json:"manualReason,omitempty"`
	Adjustments    []Adjustment          `json:"adjustments"`
	SupersededBy   string                `json:"supersededBy,omitempty"`
	CancelledAt    *time.Time            `json:"cancelledAt,omitempty"`
	CancelledBy    string                `json:"cancelledBy,omitempty"`
	CancelReason   string                `json:"cancelReason,omitempty"`
	IntegrityHash  string                `json:"integrityHash"`
}

func (r Record) Period() timeclock.Period {
	return timeclock.Period{Start: r.PeriodStart, End: r.PeriodEnd}
}
