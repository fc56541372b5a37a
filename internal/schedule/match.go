package schedule

import (
	"slices"
	"time"
)

// Weekday maps t's weekday onto the rule numbering (0=Monday).
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// IsPrimaryDue reports whether t (UTC) is a primary trigger minute.
func IsPrimaryDue(r Rule, t time.Time) bool {
	return slotMatches(r, t) && t.Minute() == 0
}

// IsSecondaryDue reports whether t (UTC) is a secondary trigger minute.
// A zero offset never matches, so secondary and primary are exclusive.
func IsSecondaryDue(r Rule, t time.Time) bool {
	if !r.SecondaryEnabled || r.SecondaryOffsetMinutes <= 0 {
		return false
	}
	return slotMatches(r, t) && t.Minute() == r.SecondaryOffsetMinutes
}

func slotMatches(r Rule, t time.Time) bool {
	t = t.UTC()
	if !slices.Contains(r.Weekdays, Weekday(t)) {
		return false
	}
	h := t.Hour()
	return slices.Contains(r.Hours, h) && slices.Contains(r.ReminderHours, h)
}
