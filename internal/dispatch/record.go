package dispatch

import (
	"time"

	"abyssbot/internal/schedule"
)

// RecurringSource is the Key.Source of triggers produced by the weekly rule.
const RecurringSource = "recurring"

// MaxKeyAge is the longest recurrence window. A key older than this can no
// longer match any trigger and is dropped.
const MaxKeyAge = 7 * 24 * time.Hour

// Key identifies one trigger: who produced it, the minute it fired for and
// its kind.
type Key struct {
	Source string
	Minute int64 // unix seconds, minute aligned
	Kind   schedule.TriggerKind
}

func NewKey(source string, at time.Time, kind schedule.TriggerKind) Key {
	return Key{Source: source, Minute: at.UTC().Truncate(time.Minute).Unix(), Kind: kind}
}

func (k Key) At() time.Time { return time.Unix(k.Minute, 0).UTC() }

// Record is the set of triggers already delivered in this process. It is
// bounded by size (oldest insert dropped first) and by age. Not safe for
// concurrent use; the dispatcher only touches it from inside a tick.
type Record struct {
	max   int
	order []Key
	set   map[Key]struct{}
}

func NewRecord(max int) *Record {
	if max <= 0 {
		max = 300
	}
	return &Record{max: max, set: make(map[Key]struct{}, max)}
}

func (r *Record) Has(k Key) bool {
	_, ok := r.set[k]
	return ok
}

// Mark records k as delivered. Call only after a successful send.
func (r *Record) Mark(k Key) {
	if _, ok := r.set[k]; ok {
		return
	}
	r.set[k] = struct{}{}
	r.order = append(r.order, k)
}

func (r *Record) Len() int { return len(r.order) }

// SetMax changes the high-water mark; the next Prune applies it.
func (r *Record) SetMax(max int) {
	if max > 0 {
		r.max = max
	}
}

// Prune drops keys older than MaxKeyAge relative to now, then the oldest
// inserts until the record is back under its high-water mark. It returns how
// many keys were dropped.
func (r *Record) Prune(now time.Time) int {
	cutoff := now.Add(-MaxKeyAge).Unix()
	kept := r.order[:0]
	dropped := 0
	for _, k := range r.order {
		if k.Minute < cutoff {
			delete(r.set, k)
			dropped++
			continue
		}
		kept = append(kept, k)
	}
	r.order = kept

	if over := len(r.order) - r.max; over > 0 {
		for _, k := range r.order[:over] {
			delete(r.set, k)
		}
		r.order = append(r.order[:0], r.order[over:]...)
		dropped += over
	}
	return dropped
}
