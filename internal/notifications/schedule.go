package notifications

import (
	"math/rand/v2"
	"time"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

// Picker chooses the delivery instant for a notification inside iv.
type Picker func(iv interval.Interval) time.Time

// RandomInstant picks uniformly from [iv.Start, iv.End) so reminders for
// the same thing do not all fire in the same second. An empty interval
// yields its start.
func RandomInstant(iv interval.Interval) time.Time {
	window := iv.Duration()
	if window <= 0 {
		return iv.Start
	}
	return iv.Start.Add(time.Duration(rand.Int64N(int64(window))))
}

// NextBoundary is the first hour:00 UTC strictly after now.
func NextBoundary(now time.Time, hour int) time.Time {
	b := interval.Midnight(now).Add(time.Duration(hour) * time.Hour)
	if !b.After(now) {
		b = b.Add(24 * time.Hour)
	}
	return b
}

// SplitLate partitions notifications into those due at or before now and
// those still in the future.
func SplitLate(ns []Notification, now time.Time) (late, future []Notification) {
	for _, n := range ns {
		if isLate(n, now) {
			late = append(late, n)
		} else {
			future = append(future, n)
		}
	}
	return late, future
}

func isLate(n Notification, now time.Time) bool {
	return !n.ScheduledAt.After(now)
}
