package dispatch

import (
	"context"
	"time"

	"abyssbot/internal/apperr"
	"abyssbot/internal/eventbus"
	"abyssbot/internal/eventstore"
	logx "abyssbot/pkg/logx"
)

// GraceWindow is how long an event is kept after it starts.
const GraceWindow = time.Hour

// EventRemover deletes an event only if cond still holds for its current
// stored value.
type EventRemover interface {
	RemoveIf(ctx context.Context, id int64, cond func(eventstore.Event) bool) (eventstore.Event, bool, error)
}

// Reaper deletes events whose grace window has passed, whether or not their
// reminder ever fired.
type Reaper struct {
	events EventRemover
	bus    eventbus.Bus
	log    logx.Logger
}

func NewReaper(events EventRemover, bus eventbus.Bus, log logx.Logger) *Reaper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reaper{events: events, bus: bus, log: log}
}

// Expired reports whether ev is past its grace window at now.
func Expired(ev eventstore.Event, now time.Time) bool {
	return !now.Before(ev.Start.Add(GraceWindow))
}

// Reap removes every valid record in snap that has expired and returns the
// removed events. Malformed records are left to the caller.
func (r *Reaper) Reap(ctx context.Context, now time.Time, snap []eventstore.Record) []eventstore.Event {
	var removed []eventstore.Event
	for _, rec := range snap {
		if rec.Err != nil || !Expired(rec.Event, now) {
			continue
		}
		// The snapshot may be stale by now: the event could have been
		// removed or rescheduled while reminders were being delivered.
		ev, ok, err := r.events.RemoveIf(ctx, rec.ID, func(cur eventstore.Event) bool {
			return Expired(cur, now)
		})
		if apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			r.log.Warn("expire event failed", logx.Int64("id", rec.ID), logx.Err(err))
			continue
		}
		if !ok {
			r.log.Debug("event changed since snapshot, kept", logx.Int64("id", rec.ID))
			continue
		}
		r.log.Info("event expired", logx.Int64("id", ev.ID), logx.String("name", ev.Name), logx.Time("start", ev.Start))
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeEventExpired, Data: eventbus.Expired{ID: ev.ID, Name: ev.Name, Start: ev.Start}})
		}
		removed = append(removed, ev)
	}
	return removed
}
