// Package eventstore owns the one-off events. Every mutation goes through one
// mutex and is persisted before it returns.
package eventstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"abyssbot/internal/apperr"
	"abyssbot/internal/storage"
	logx "abyssbot/pkg/logx"
)

// Event is a valid one-off event. Start is UTC.
type Event struct {
	ID          int64
	Name        string
	Start       time.Time
	LeadMinutes int
}

// ReminderAt is the instant the lead reminder is due, truncated to the minute.
// ok is false when the event has no reminder.
func (e Event) ReminderAt() (at time.Time, ok bool) {
	if e.LeadMinutes <= 0 {
		return time.Time{}, false
	}
	return e.Start.Add(-time.Duration(e.LeadMinutes) * time.Minute).Truncate(time.Minute), true
}

// Record is a persisted entry as read from the backend. Err is set when the
// entry cannot be turned into an Event.
type Record struct {
	ID    int64
	Event Event
	Err   error
}

// Patch carries the fields to change. Nil fields are left alone.
type Patch struct {
	Name        *string
	Start       *time.Time
	LeadMinutes *int
}

const startLayout = time.RFC3339

type Store struct {
	backend storage.Store
	log     logx.Logger

	mu      sync.Mutex
	records []storage.EventRecord
	nextID  int64
}

// Open loads the persisted events.
func Open(ctx context.Context, backend storage.Store, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	doc, err := backend.LoadEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	s := &Store{
		backend: backend,
		log:     log.With(logx.String("comp", "eventstore")),
		records: doc.Events,
		nextID:  max(doc.NextID, 1),
	}
	for _, r := range s.records {
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}
	s.log.Debug("events loaded", logx.Int("count", len(s.records)), logx.Int64("next_id", s.nextID))
	return s, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("name", "must not be empty")
	}
	return name, nil
}

func validateStart(start time.Time) error {
	if start.IsZero() {
		return apperr.Invalid("start", "must be a valid time")
	}
	return nil
}

func validateLead(lead int) error {
	if lead < 0 {
		return apperr.Invalid("lead", "must be >= 0, got %d", lead)
	}
	return nil
}

// Add validates and persists a new event, returning its id.
func (s *Store) Add(ctx context.Context, name string, start time.Time, lead int) (int64, error) {
	name, err := validateName(name)
	if err != nil {
		return 0, err
	}
	if err := validateStart(start); err != nil {
		return 0, err
	}
	if err := validateLead(lead); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	rec := storage.EventRecord{ID: id, Name: name, Start: formatStart(start), LeadMinutes: lead}
	next := append(cloneRecords(s.records), rec)
	if err := s.persistLocked(ctx, next, id+1); err != nil {
		return 0, err
	}
	s.log.Info("event added", logx.Int64("id", id), logx.String("name", name), logx.String("start", rec.Start), logx.Int("lead", lead))
	return id, nil
}

// List returns the valid events ordered by start, then id. Malformed records
// are left out.
func (s *Store) List() []Event {
	s.mu.Lock()
	out := make([]Event, 0, len(s.records))
	for _, r := range s.records {
		if ev, err := decode(r); err == nil {
			out = append(out, ev)
		}
	}
	s.mu.Unlock()
	sortEvents(out)
	return out
}

// Upcoming returns up to n valid events starting at or after now.
func (s *Store) Upcoming(now time.Time, n int) []Event {
	all := s.List()
	out := make([]Event, 0, n)
	for _, ev := range all {
		if len(out) >= n {
			break
		}
		if !ev.Start.Before(now) {
			out = append(out, ev)
		}
	}
	return out
}

// Snapshot returns every record, malformed ones included, in id order.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		ev, err := decode(r)
		out = append(out, Record{ID: r.ID, Event: ev, Err: err})
	}
	return out
}

func (s *Store) Get(id int64) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Event{}, &apperr.NotFoundError{Kind: "event", ID: id}
	}
	return decode(s.records[i])
}

// Update applies p to event id. A malformed stored record can be repaired by
// a patch that supplies the broken field.
func (s *Store) Update(ctx context.Context, id int64, p Patch) (Event, error) {
	if p.Name != nil {
		n, err := validateName(*p.Name)
		if err != nil {
			return Event{}, err
		}
		p.Name = &n
	}
	if p.Start != nil {
		if err := validateStart(*p.Start); err != nil {
			return Event{}, err
		}
	}
	if p.LeadMinutes != nil {
		if err := validateLead(*p.LeadMinutes); err != nil {
			return Event{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Event{}, &apperr.NotFoundError{Kind: "event", ID: id}
	}
	next := cloneRecords(s.records)
	rec := next[i]
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Start != nil {
		rec.Start = formatStart(*p.Start)
	}
	if p.LeadMinutes != nil {
		rec.LeadMinutes = *p.LeadMinutes
	}
	ev, err := decode(rec)
	if err != nil {
		return Event{}, err
	}
	next[i] = rec
	if err := s.persistLocked(ctx, next, s.nextID); err != nil {
		return Event{}, err
	}
	s.log.Info("event updated", logx.Int64("id", id), logx.String("name", ev.Name), logx.String("start", rec.Start), logx.Int("lead", ev.LeadMinutes))
	return ev, nil
}

// Remove deletes event id and returns what was stored. The returned Event is
// zero-valued apart from ID and Name when the record was malformed.
func (s *Store) Remove(ctx context.Context, id int64) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Event{}, &apperr.NotFoundError{Kind: "event", ID: id}
	}
	return s.removeLocked(ctx, i)
}

// RemoveIf deletes event id only if cond holds for its stored value at the
// time of the call. Malformed records never match. The bool reports whether
// anything was removed.
func (s *Store) RemoveIf(ctx context.Context, id int64, cond func(Event) bool) (Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Event{}, false, &apperr.NotFoundError{Kind: "event", ID: id}
	}
	ev, err := decode(s.records[i])
	if err != nil || !cond(ev) {
		return ev, false, nil
	}
	ev, err = s.removeLocked(ctx, i)
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

func (s *Store) removeLocked(ctx context.Context, i int) (Event, error) {
	rec := s.records[i]
	next := make([]storage.EventRecord, 0, len(s.records)-1)
	next = append(next, s.records[:i]...)
	next = append(next, s.records[i+1:]...)
	if err := s.persistLocked(ctx, next, s.nextID); err != nil {
		return Event{}, err
	}
	ev, err := decode(rec)
	if err != nil {
		ev = Event{ID: rec.ID, Name: rec.Name}
	}
	s.log.Info("event removed", logx.Int64("id", rec.ID), logx.String("name", rec.Name))
	return ev, nil
}

// persistLocked writes next and only then swaps it in, so a failed write
// leaves memory and storage in agreement.
func (s *Store) persistLocked(ctx context.Context, next []storage.EventRecord, nextID int64) error {
	if err := s.backend.SaveEvents(ctx, storage.EventsDoc{NextID: nextID, Events: next}); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	s.records = next
	s.nextID = nextID
	return nil
}

func (s *Store) indexLocked(id int64) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func decode(r storage.EventRecord) (Event, error) {
	start, err := time.Parse(startLayout, strings.TrimSpace(r.Start))
	if err != nil {
		return Event{}, fmt.Errorf("event %d: bad start %q: %w", r.ID, r.Start, err)
	}
	if strings.TrimSpace(r.Name) == "" {
		return Event{}, fmt.Errorf("event %d: empty name", r.ID)
	}
	if r.LeadMinutes < 0 {
		return Event{}, fmt.Errorf("event %d: negative lead %d", r.ID, r.LeadMinutes)
	}
	return Event{ID: r.ID, Name: r.Name, Start: start.UTC(), LeadMinutes: r.LeadMinutes}, nil
}

func formatStart(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(startLayout)
}

func sortEvents(evs []Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].Start.Equal(evs[j].Start) {
			return evs[i].Start.Before(evs[j].Start)
		}
		return evs[i].ID < evs[j].ID
	})
}

func cloneRecords(in []storage.EventRecord) []storage.EventRecord {
	out := make([]storage.EventRecord, len(in), len(in)+1)
	copy(out, in)
	return out
}
