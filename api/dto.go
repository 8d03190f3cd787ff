/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that
  already carry JSON tags (Punch, Exception, Payment, Record, Schedule)
  are returned as-is; request bodies get their own types so the wire
  format can use plain dates and coordinates.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Shape errors (bad JSON, bad dates) are caught in handlers. Business
  validation happens in the domain packages.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/timeclock"
)

// =============================================================================
// WORKERS
// =============================================================================

type CreateWorkerRequest struct {
	ID                      string `json:"id,omitempty"`
	CompanyID               string `json:"companyId"`
	Name                    string `json:"name"`
	Role                    string `json:"role"`
	BaseDailyRateMinorUnits int64  `json:"baseDailyRateMinorUnits"`
	Active                  *bool  `json:"active,omitempty"`
}

// =============================================================================
// PUNCHES
// =============================================================================

type SiteDTO struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radiusMeters"`
}

type SubmitPunchRequest struct {
	WorkerID  string   `json:"workerId"`
	CompanyID string   `json:"companyId"`
	Kind      string   `json:"kind"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Address   string   `json:"address,omitempty"`
	Site      *SiteDTO `json:"site,omitempty"`
}

type CorrectPunchRequest struct {
	Kind        string    `json:"kind"`
	OccurredAt  time.Time `json:"occurredAt"`
	Reason      string    `json:"reason"`
	CorrectedBy string    `json:"correctedBy"`
}

type CorrectionResponse struct {
	Punch      timeclock.Punch      `json:"punch"`
	Correction timeclock.Correction `json:"correction"`
}

// CorrectionHistoryResponse is a punch as it stands now plus every
// correction applied to it, oldest first.
type CorrectionHistoryResponse struct {
	Punch       timeclock.Punch        `json:"punch"`
	Corrections []timeclock.Correction `json:"corrections"`
}

type PunchListResponse struct {
	Date    string               `json:"date"`
	State   timeclock.ShiftState `json:"state"`
	Punches []timeclock.Punch    `json:"punches"`
}

// =============================================================================
// LEDGERS
// =============================================================================

type RecordExceptionRequest struct {
	WorkerID                  string `json:"workerId"`
	CompanyID                 string `json:"companyId"`
	Date                      string `json:"date"`
	Kind                      string `json:"kind"`
	Reason                    string `json:"reason"`
	Justification             string `json:"justification,omitempty"`
	ApprovedBy                string `json:"approvedBy"`
	FinancialImpactMinorUnits int64  `json:"financialImpactMinorUnits"`
}

type RecordPaymentRequest struct {
	WorkerID                 string `json:"workerId"`
	CompanyID                string `json:"companyId"`
	Date                     string `json:"date"`
	ComputedAmountMinorUnits int64  `json:"computedAmountMinorUnits"`
	PaidAmountMinorUnits     int64  `json:"paidAmountMinorUnits"`
	Method                   string `json:"method"`
	PaidBy                   string `json:"paidBy"`
	ReceiptRef               string `json:"receiptRef,omitempty"`
	Notes                    string `json:"notes,omitempty"`
}

type CreatedResponse struct {
	ID string `json:"id"`
}

// =============================================================================
// CLOSINGS
// =============================================================================

type ClosingRequest struct {
	PeriodStart  string `json:"periodStart"`
	PeriodEnd    string `json:"periodEnd"`
	Periodicity  string `json:"periodicity"`
	ActorID      string `json:"actorId"`
	ManualReason string `json:"manualReason,omitempty"`
}

type LifecycleRequest struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

type VerifyResponse struct {
	ClosingID string `json:"closingId"`
	Valid     bool   `json:"valid"`
	Stored    string `json:"stored"`
	Computed  string `json:"computed"`
}

type ScheduleListResponse struct {
	Schedules []closing.Schedule `json:"schedules"`
	NextCheck *time.Time         `json:"nextCheck,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
