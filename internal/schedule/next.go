package schedule

import (
	"time"

	"github.com/teambition/rrule-go"
)

type TriggerKind string

const (
	KindPrimary   TriggerKind = "primary"
	KindSecondary TriggerKind = "secondary"
	KindOneOff    TriggerKind = "one_off"
)

type Trigger struct {
	At   time.Time
	Kind TriggerKind
}

var rruleDays = [7]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// NextTriggers returns up to n recurring trigger instants strictly after
// `after`, in order. An empty rule yields nothing.
func NextTriggers(r Rule, after time.Time, n int) ([]Trigger, error) {
	hours := r.ActiveHours()
	if n <= 0 || len(r.Weekdays) == 0 || len(hours) == 0 {
		return nil, nil
	}
	days := make([]rrule.Weekday, 0, len(r.Weekdays))
	for _, d := range r.Weekdays {
		if d >= 0 && d < len(rruleDays) {
			days = append(days, rruleDays[d])
		}
	}
	minutes := []int{0}
	if r.SecondaryEnabled && r.SecondaryOffsetMinutes > 0 && r.SecondaryOffsetMinutes < 60 {
		minutes = append(minutes, r.SecondaryOffsetMinutes)
	}

	after = after.UTC()
	rr, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   after.Truncate(time.Minute),
		Byweekday: days,
		Byhour:    hours,
		Byminute:  minutes,
		Bysecond:  []int{0},
	})
	if err != nil {
		return nil, err
	}

	out := make([]Trigger, 0, n)
	cur := after
	for len(out) < n {
		next := rr.After(cur, false)
		if next.IsZero() {
			break
		}
		kind := KindPrimary
		if next.Minute() != 0 {
			kind = KindSecondary
		}
		out = append(out, Trigger{At: next.UTC(), Kind: kind})
		cur = next
	}
	return out, nil
}
