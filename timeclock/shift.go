package timeclock

import "sort"

// =============================================================================
// SHIFT STATE - Per (worker, day) state machine
// =============================================================================

type ShiftState string

const (
	NotStarted        ShiftState = "not_started"
	ClockedIn         ShiftState = "clocked_in"
	OnLunch           ShiftState = "on_lunch"
	ReturnedFromLunch ShiftState = "returned_from_lunch"
	ClockedOut        ShiftState = "clocked_out"
)

type transition struct {
	kind PunchKind
	next ShiftState
}

// transitions holds the single legal event out of every non-terminal state.
var transitions = map[ShiftState]transition{
	NotStarted:        {kind: ClockIn, next: ClockedIn},
	ClockedIn:         {kind: LunchOut, next: OnLunch},
	OnLunch:           {kind: LunchIn, next: ReturnedFromLunch},
	ReturnedFromLunch: {kind: ClockOut, next: ClockedOut},
}

var stateAfter = map[PunchKind]ShiftState{
	ClockIn:  ClockedIn,
	LunchOut: OnLunch,
	LunchIn:  ReturnedFromLunch,
	ClockOut: ClockedOut,
}

// ShiftStateOf derives the state from the day's punches. Only the last punch
// by time matters.
func ShiftStateOf(punches []Punch) ShiftState {
	last, ok := LastPunch(punches)
	if !ok {
		return NotStarted
	}
	if s, ok := stateAfter[last.Kind]; ok {
		return s
	}
	return NotStarted
}

// NextKind returns the only legal next punch, or false once clocked out.
func NextKind(punches []Punch) (PunchKind, bool) {
	t, ok := transitions[ShiftStateOf(punches)]
	if !ok {
		return "", false
	}
	return t.kind, true
}

// ValidTransition reports whether kind is accepted from state.
func ValidTransition(state ShiftState, kind PunchKind) bool {
	t, ok := transitions[state]
	return ok && t.kind == kind
}

// LastPunch returns the latest punch by OccurredAt.
func LastPunch(punches []Punch) (Punch, bool) {
	if len(punches) == 0 {
		return Punch{}, false
	}
	last := punches[0]
	for _, p := range punches[1:] {
		if !p.OccurredAt.Before(last.OccurredAt) {
			last = p
		}
	}
	return last, true
}

// FirstOfKind returns the earliest punch of the given kind.
func FirstOfKind(punches []Punch, kind PunchKind) (Punch, bool) {
	var (
		found Punch
		ok    bool
	)
	for _, p := range punches {
		if p.Kind != kind {
			continue
		}
		if !ok || p.OccurredAt.Before(found.OccurredAt) {
			found, ok = p, true
		}
	}
	return found, ok
}

// SortPunches orders punches by OccurredAt, ties by ID.
func SortPunches(punches []Punch) {
	sort.SliceStable(punches, func(i, j int) bool {
		if punches[i].OccurredAt.Equal(punches[j].OccurredAt) {
			return punches[i].ID < punches[j].ID
		}
		return punches[i].OccurredAt.Before(punches[j].OccurredAt)
	})
}
