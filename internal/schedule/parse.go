package schedule

import (
	"math"
	"strconv"
	"strings"
	"time"

	"abyssbot/internal/apperr"
)

var absoluteLayouts = []string{"02-01-2006 15:04", "2-1-2006 15:04"}

// ParseTime turns user input into a UTC instant, truncated to the minute.
//
// Accepted forms:
//
//	25-12-2025 18:30   absolute, read as UTC
//	1d 2h 30m          relative to now; any subset, any order, case-insensitive
//
// Anything else is rejected.
func ParseTime(input string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, apperr.Invalid("time", "empty")
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}

	var (
		total time.Duration
		seen  = map[byte]bool{}
	)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		if len(tok) < 2 {
			return time.Time{}, apperr.Invalid("time", "cannot parse %q", tok)
		}
		unit := tok[len(tok)-1]
		var per time.Duration
		switch unit {
		case 'd':
			per = 24 * time.Hour
		case 'h':
			per = time.Hour
		case 'm':
			per = time.Minute
		default:
			return time.Time{}, apperr.Invalid("time", "unknown unit in %q (use d, h or m)", tok)
		}
		if seen[unit] {
			return time.Time{}, apperr.Invalid("time", "unit %q given twice", string(unit))
		}
		seen[unit] = true
		digits := tok[:len(tok)-1]
		n, err := strconv.Atoi(digits)
		if err != nil || n < 0 || strings.ContainsAny(digits, "+-") {
			return time.Time{}, apperr.Invalid("time", "cannot parse %q", tok)
		}
		if time.Duration(n) > math.MaxInt64/per {
			return time.Time{}, apperr.Invalid("time", "too far in the future")
		}
		add := time.Duration(n) * per
		if total > math.MaxInt64-add {
			return time.Time{}, apperr.Invalid("time", "too far in the future")
		}
		total += add
	}
	return now.UTC().Add(total).Truncate(time.Minute), nil
}

// ParseLead reads a lead time in minutes. "no", "none" and "0" mean no reminder.
func ParseLead(input string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "", "no", "none", "off":
		return 0, nil
	}
	s = strings.TrimSuffix(s, "m")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.Invalid("lead", "expected minutes or \"no\", got %q", input)
	}
	if n < 0 {
		return 0, apperr.Invalid("lead", "must be >= 0")
	}
	return n, nil
}
