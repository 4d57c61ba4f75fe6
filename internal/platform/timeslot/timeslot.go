// Package timeslot holds the wall-clock and interval arithmetic shared by the
// scheduling code. Everything here is pure: no I/O, no clocks, no globals.
package timeslot

import (
	"fmt"
	"strconv"
	"time"
)

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a HH:MM time string.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return Clock{}, fmt.Errorf("invalid time format %q: expected HH:MM", s)
	}

	hour, err := strconv.Atoi(s[:2])
	if err != nil {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(s[3:])
	if err != nil {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}

	if hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("hour out of range in %q", s)
	}
	if minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("minute out of range in %q", s)
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// MustClock is ParseClock for constants and tests.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns the number of minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// Before reports whether c is strictly earlier in the day than o.
func (c Clock) Before(o Clock) bool {
	return c.Minutes() < o.Minutes()
}

// On anchors the clock to the calendar day of date, in date's location.
func (c Clock) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, date.Location())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Contains reports whether o lies entirely within iv.
func (iv Interval) Contains(o Interval) bool {
	return !o.Start.Before(iv.Start) && !o.End.After(iv.End)
}

// Overlaps checks if two half-open ranges [start1, end1) and [start2, end2)
// overlap. Adjacent ranges (end1 == start2) do not overlap, and neither does
// a zero-length range.
func Overlaps(start1, end1, start2, end2 time.Time) bool {
	if !start1.Before(end1) || !start2.Before(end2) {
		return false
	}
	return start1.Before(end2) && start2.Before(end1)
}

// Tile splits [start, end) into back-to-back intervals of exactly step.
// A trailing remainder shorter than step is dropped. A non-positive step
// yields nil.
func Tile(start, end time.Time, step time.Duration) []Interval {
	if step <= 0 || !start.Before(end) {
		return nil
	}
	out := make([]Interval, 0, int(end.Sub(start)/step))
	for cur := start; !cur.Add(step).After(end); cur = cur.Add(step) {
		out = append(out, Interval{Start: cur, End: cur.Add(step)})
	}
	return out
}

// DayBounds returns [midnight, next midnight) of t's calendar day in loc.
func DayBounds(t time.Time, loc *time.Location) Interval {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}
