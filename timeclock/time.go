package timeclock

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// DAY - A calendar date anchored in a location
// =============================================================================

// DayLayout is the wire and storage format of a Day.
const DayLayout = "2006-01-02"

// Day is a calendar date. Time is always midnight in the location the day
// was created for, so Start/End describe the local day boundaries.
type Day struct {
	Time time.Time
}

// Constructors
func NewDay(year int, month time.Month, day int, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day{Time: time.Date(year, month, day, 0, 0, 0, 0, loc)}
}

// DayOf returns the day containing t, in t's own location.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day(), t.Location())
}

// DayIn returns the day containing t as observed in loc.
func DayIn(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return DayOf(t.In(loc))
}

// ParseDay parses a YYYY-MM-DD date in loc.
func ParseDay(s string, loc *time.Location) (Day, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return Day{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidDateRange, s)
	}
	return Day{Time: t}, nil
}

// Boundaries
func (d Day) Start() time.Time { return d.Time }
func (d Day) End() time.Time   { return d.Time.AddDate(0, 0, 1) }

// Contains reports whether the instant falls inside [Start, End).
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start()) && t.Before(d.End())
}

// Comparison is by calendar date only.
func (d Day) key() int { return d.Time.Year()*10000 + int(d.Time.Month())*100 + d.Time.Day() }

func (d Day) Before(other Day) bool        { return d.key() < other.key() }
func (d Day) After(other Day) bool         { return d.key() > other.key() }
func (d Day) Equal(other Day) bool         { return d.key() == other.key() }
func (d Day) BeforeOrEqual(other Day) bool { return d.key() <= other.key() }
func (d Day) AfterOrEqual(other Day) bool  { return d.key() >= other.key() }

// Arithmetic
func (d Day) AddDays(n int) Day { return NewDay(d.Time.Year(), d.Time.Month(), d.Time.Day()+n, d.Time.Location()) }

// Properties
func (d Day) Weekday() time.Weekday     { return d.Time.Weekday() }
func (d Day) IsZero() bool              { return d.Time.IsZero() }
func (d Day) Location() *time.Location  { return d.Time.Location() }
func (d Day) In(loc *time.Location) Day { return NewDay(d.Time.Year(), d.Time.Month(), d.Time.Day(), loc) }

func (d Day) String() string {
	return d.Time.Format(DayLayout)
}

// MarshalJSON encodes the date only. The location is not carried on the
// wire; decoding yields a UTC day.
func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDay(s, time.UTC)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// CLOCK - Injected source of "now"
// =============================================================================

// Clock supplies the current instant. Production code uses SystemClock;
// tests use a ManualClock so advisories and open-shift hours are deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the process clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a settable clock.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
