// Package schedule holds the recurring weekly rule, its matcher and the
// time-expression parser. Everything here is pure.
package schedule

import (
	"slices"

	"abyssbot/internal/apperr"
)

// Weekdays are numbered 0=Monday through 6=Sunday.
const (
	Monday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Rule is the recurring weekly schedule. JSON tags are the persisted schema.
type Rule struct {
	Weekdays               []int `json:"days"`
	Hours                  []int `json:"hours"`
	ReminderHours          []int `json:"reminder_hours"`
	SecondaryEnabled       bool  `json:"round2_enabled"`
	SecondaryOffsetMinutes int   `json:"round2_offset_minutes"`
}

// Persisted field names, in document order.
const (
	FieldDays             = "days"
	FieldHours            = "hours"
	FieldReminderHours    = "reminder_hours"
	FieldSecondaryEnabled = "round2_enabled"
	FieldSecondaryOffset  = "round2_offset_minutes"
)

var Fields = []string{FieldDays, FieldHours, FieldReminderHours, FieldSecondaryEnabled, FieldSecondaryOffset}

const DefaultSecondaryOffset = 30

// Default returns the compiled-in rule: Tue/Fri/Sun, every four hours,
// reminders from 08:00, round 2 thirty minutes after.
func Default() Rule {
	return Rule{
		Weekdays:               []int{Tuesday, Friday, Sunday},
		Hours:                  []int{0, 4, 8, 12, 16, 20},
		ReminderHours:          []int{8, 12, 16, 20},
		SecondaryEnabled:       true,
		SecondaryOffsetMinutes: DefaultSecondaryOffset,
	}
}

func (r Rule) Clone() Rule {
	r.Weekdays = slices.Clone(r.Weekdays)
	r.Hours = slices.Clone(r.Hours)
	r.ReminderHours = slices.Clone(r.ReminderHours)
	return r
}

// Validate enforces range and uniqueness on every set and keeps the secondary
// trigger off minute 0 so it can never coincide with the primary one.
func (r Rule) Validate() error {
	if err := checkSet(FieldDays, r.Weekdays, 0, 6); err != nil {
		return err
	}
	if err := checkSet(FieldHours, r.Hours, 0, 23); err != nil {
		return err
	}
	if err := checkSet(FieldReminderHours, r.ReminderHours, 0, 23); err != nil {
		return err
	}
	if r.SecondaryEnabled && (r.SecondaryOffsetMinutes <= 0 || r.SecondaryOffsetMinutes >= 60) {
		return apperr.Invalid(FieldSecondaryOffset, "must be between 1 and 59, got %d", r.SecondaryOffsetMinutes)
	}
	if r.SecondaryOffsetMinutes < 0 || r.SecondaryOffsetMinutes >= 60 {
		return apperr.Invalid(FieldSecondaryOffset, "must be between 0 and 59, got %d", r.SecondaryOffsetMinutes)
	}
	return nil
}

func checkSet(field string, vals []int, lo, hi int) error {
	seen := make(map[int]struct{}, len(vals))
	for _, v := range vals {
		if v < lo || v > hi {
			return apperr.Invalid(field, "value %d out of range %d..%d", v, lo, hi)
		}
		if _, dup := seen[v]; dup {
			return apperr.Invalid(field, "duplicate value %d", v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// ActiveHours returns Hours ∩ ReminderHours, ascending.
func (r Rule) ActiveHours() []int {
	out := make([]int, 0, len(r.ReminderHours))
	for _, h := range r.Hours {
		if slices.Contains(r.ReminderHours, h) {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}
