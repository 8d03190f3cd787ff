package timeclock

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PUNCH KIND - The four attendance events of a working day
// =============================================================================

type PunchKind string

const (
	ClockIn  PunchKind = "clock_in"
	LunchOut PunchKind = "lunch_out"
	LunchIn  PunchKind = "lunch_in"
	ClockOut PunchKind = "clock_out"
)

// PunchOrder is the only legal order of punches within one day.
var PunchOrder = []PunchKind{ClockIn, LunchOut, LunchIn, ClockOut}

func (k PunchKind) Valid() bool {
	switch k {
	case ClockIn, LunchOut, LunchIn, ClockOut:
		return true
	}
	return false
}

// =============================================================================
// LOCATION
// =============================================================================

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is where a punch was taken.
type Location struct {
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	ResolvedAddress string  `json:"resolvedAddress,omitempty"`
}

func (l Location) Coordinate() Coordinate {
	return Coordinate{Lat: l.Lat, Lng: l.Lng}
}

// Site is a designated work site with an allowed radius.
type Site struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radiusMeters"`
}

// =============================================================================
// PUNCH & CORRECTION
// =============================================================================

// Punch is one attendance event. Only a Correction may rewrite Kind and
// OccurredAt; punches are never deleted.
type Punch struct {
	ID           string    `json:"id"`
	WorkerID     string    `json:"workerId"`
	CompanyID    string    `json:"companyId"`
	Kind         PunchKind `json:"kind"`
	OccurredAt   time.Time `json:"occurredAt"`
	Location     Location  `json:"location"`
	Corrected    bool      `json:"corrected"`
	CorrectionID string    `json:"correctionId,omitempty"`
}

// Correction is the audit record of a rewritten punch.
type Correction struct {
	ID              string    `json:"id"`
	OriginalPunchID string    `json:"originalPunchId"`
	WorkerID        string    `json:"workerId"`
	CompanyID       string    `json:"companyId"`
	OriginalKind    PunchKind `json:"originalKind"`
	OriginalTime    time.Time `json:"originalTime"`
	CorrectedKind   PunchKind `json:"correctedKind"`
	CorrectedTime   time.Time `json:"correctedTime"`
	Reason          string    `json:"reason"`
	CorrectedBy     string    `json:"correctedBy"`
	Timestamp       time.Time `json:"timestamp"`
}

// Apply returns the punch as rewritten by the correction.
func (c Correction) Apply(p Punch) Punch {
	p.Kind = c.CorrectedKind
	p.OccurredAt = c.CorrectedTime
	p.Corrected = true
	p.CorrectionID = c.ID
	return p
}

// RejectedAttempt records a punch the sequencer refused.
type RejectedAttempt struct {
	ID          string    `json:"id"`
	WorkerID    string    `json:"workerId"`
	CompanyID   string    `json:"companyId"`
	Kind        PunchKind `json:"kind"`
	AttemptedAt time.Time `json:"attemptedAt"`
	Location    Location  `json:"location"`
	Code        string    `json:"code"`
	Reason      string    `json:"reason"`
}

// =============================================================================
// WORKER
// =============================================================================

// Worker is an hourly worker paid a daily rate.
type Worker struct {
	ID                      string `json:"id"`
	CompanyID               string `json:"companyId"`
	Name                    string `json:"name"`
	Role                    string `json:"role"`
	BaseDailyRateMinorUnits int64  `json:"baseDailyRateMinorUnits"`
	Active                  bool   `json:"active"`
}

// =============================================================================
// ADVISORY - Soft findings that never block a punch
// =============================================================================

type AdvisoryKind string

const (
	AdvisoryShortLunch   AdvisoryKind = "short_lunch"
	AdvisoryLongLunch    AdvisoryKind = "long_lunch"
	AdvisoryShortMorning AdvisoryKind = "short_morning"
	AdvisoryLongShift    AdvisoryKind = "long_shift"
	AdvisoryLateClockIn  AdvisoryKind = "late_clock_in"
	AdvisoryOutsideFence AdvisoryKind = "outside_fence"
)

type Advisory struct {
	Kind    AdvisoryKind `json:"kind"`
	Message string       `json:"message"`
}

// NewID returns a random identifier.
func NewID() string {
	return uuid.NewString()
}
