// Package notifications schedules reminder pushes for recurring things.
//
// A daily rebuild reads today's active schedules, fans out to everyone with
// access to each thing and creates one notification per (user, thing) at a
// random instant inside the schedule's interval. Each notification gets an
// in-memory timer; when it fires the push is sent best-effort and the record
// is marked completed. On startup the timers are rebuilt from the database.
package notifications

import (
	"errors"
	"time"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultWorkers     = 4
	defaultSendTimeout = 30 * time.Second
	lockStripes        = 64
)

// Status is a notification's lifecycle state. scheduled -> completed only.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
)

// Repeat is a schedule's recurrence rule.
type Repeat string

const (
	RepeatOnce   Repeat = "once"
	RepeatDaily  Repeat = "daily"
	RepeatWeekly Repeat = "weekly"
)

// ThingTypePersonal marks things only their owner sees.
const ThingTypePersonal = "personal"

var (
	ErrNotFound         = errors.New("notification not found")
	ErrScheduleNotFound = errors.New("schedule not found")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

type Notification struct {
	ID          int64          `json:"id"`
	UserID      int64          `json:"user_id"`
	ThingID     int64          `json:"thing_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Payload     map[string]any `json:"payload"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Status      Status         `json:"status"`
}

// User is a notification recipient. PushToken is empty when the user has
// no registered device.
type User struct {
	ID        int64
	Username  string
	PushToken string
}

type Thing struct {
	ID   int64
	Name string
	Type string
}

// Schedule is a thing's recurrence. SpecificDate is set iff Repeat is once,
// DayOfWeek iff Repeat is weekly.
type Schedule struct {
	ThingID      int64
	Start        interval.TimeOfDay
	End          interval.TimeOfDay
	Repeat       Repeat
	SpecificDate *time.Time
	DayOfWeek    *time.Weekday
}

// ActiveOn reports whether the schedule has an occurrence on date's UTC
// calendar day.
func (s Schedule) ActiveOn(date time.Time) bool {
	date = date.UTC()
	switch s.Repeat {
	case RepeatOnce:
		return s.SpecificDate != nil && interval.Midnight(*s.SpecificDate).Equal(interval.Midnight(date))
	case RepeatDaily:
		return true
	case RepeatWeekly:
		return s.DayOfWeek != nil && *s.DayOfWeek == date.Weekday()
	}
	return false
}

// IntervalOn is the schedule's occurrence anchored on date.
func (s Schedule) IntervalOn(date time.Time) interval.Interval {
	return interval.Compute(s.Start, s.End, date)
}

// ScheduledThing is a schedule joined with its thing.
type ScheduledThing struct {
	Schedule Schedule
	Thing    Thing
}
