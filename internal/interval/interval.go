// Package interval turns a schedule's (start, end) time-of-day pair into
// concrete UTC intervals. It is the only place that knows how overnight
// schedules roll over midnight; both the notification scheduler and the
// reward ledger call into it.
package interval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// TimeOfDay is a wall-clock time in the reference zone (UTC).
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" and the "HH:MM:SS" form Postgres returns
// for time columns. Seconds are ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: bad minute", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// MustParse is ParseTimeOfDay for constants and tests.
func MustParse(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Offset is the duration since midnight.
func (t TimeOfDay) Offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute
}

// Before reports whether t is numerically earlier than o.
func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.Offset() < o.Offset()
}

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Contains reports whether Start <= t < End.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Shift moves both bounds by d.
func (iv Interval) Shift(d time.Duration) Interval {
	return Interval{Start: iv.Start.Add(d), End: iv.End.Add(d)}
}

// Previous is the same interval one day earlier.
func (iv Interval) Previous() Interval { return iv.Shift(-day) }

// Overnight reports whether the interval reaches the next UTC midnight.
func (iv Interval) Overnight() bool {
	return !iv.End.Before(Midnight(iv.Start).Add(day))
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// Midnight returns 00:00 UTC of t's calendar day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Compute anchors (start, end) to ref's UTC calendar day. When end is
// earlier than start the end moves to the following day.
func Compute(start, end TimeOfDay, ref time.Time) Interval {
	base := Midnight(ref)
	iv := Interval{Start: base.Add(start.Offset()), End: base.Add(end.Offset())}
	if end.Before(start) {
		iv.End = iv.End.Add(day)
	}
	return iv
}

// ForInstant returns the occurrence of the schedule that t belongs to. For
// overnight schedules the early-morning hours before end belong to the
// interval that started the previous evening.
func ForInstant(start, end TimeOfDay, t time.Time) Interval {
	if end.Before(start) && t.UTC().Sub(Midnight(t)) < end.Offset() {
		return Compute(start, end, Midnight(t).Add(-day))
	}
	return Compute(start, end, t)
}

// DayWindow is the 24h "schedule day" containing t. It is the UTC calendar
// day, shifted forward by the overflow past midnight for overnight
// schedules so the day boundary falls at the end of the active hours.
func DayWindow(start, end TimeOfDay, t time.Time) Interval {
	var overflow time.Duration
	if end.Before(start) {
		overflow = end.Offset()
	}
	dayStart := Midnight(t).Add(overflow)
	if t.Before(dayStart) {
		dayStart = dayStart.Add(-day)
	}
	return Interval{Start: dayStart, End: dayStart.Add(day)}
}
