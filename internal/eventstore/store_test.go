package eventstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"abyssbot/internal/apperr"
	"abyssbot/internal/storage"
	logx "abyssbot/pkg/logx"
)

var t0 = time.Date(2025, 1, 7, 8, 0, 0, 0, time.UTC)

func newBackend(t *testing.T) storage.Store {
	t.Helper()
	b, err := storage.Open(context.Background(), storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newStore(t *testing.T) (*Store, storage.Store) {
	t.Helper()
	b := newBackend(t)
	s, err := Open(context.Background(), b, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, b
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()
	tests := []struct {
		name  string
		ename string
		start time.Time
		lead  int
	}{
		{"empty name", "  ", t0, 5},
		{"zero start", "Raid", time.Time{}, 5},
		{"negative lead", "Raid", t0, -1},
	}
	for _, tt := range tests {
		if _, err := s.Add(ctx, tt.ename, tt.start, tt.lead); !apperr.IsValidation(err) {
			t.Fatalf("%s: err = %v, want ValidationError", tt.name, err)
		}
	}
	if len(s.List()) != 0 {
		t.Fatal("invalid events were stored")
	}
}

func TestAddListOrderingAndPersistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, b := newStore(t)

	late, err := s.Add(ctx, "Late", t0.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	early, err := s.Add(ctx, "Early", t0, 10)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if early <= late {
		t.Fatalf("ids not increasing: %d then %d", late, early)
	}

	got := s.List()
	if len(got) != 2 || got[0].ID != early || got[1].ID != late {
		t.Fatalf("List = %+v", got)
	}

	reopened, err := Open(ctx, b, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again := reopened.List()
	if len(again) != 2 || again[0].Name != "Early" || !again[0].Start.Equal(t0) {
		t.Fatalf("after reopen List = %+v", again)
	}
}

func TestIDsNotReusedAfterRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, b := newStore(t)
	id1, _ := s.Add(ctx, "A", t0, 0)
	if _, err := s.Remove(ctx, id1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	reopened, err := Open(ctx, b, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	id2, _ := reopened.Add(ctx, "B", t0, 0)
	if id2 <= id1 {
		t.Fatalf("id reused: %d after %d", id2, id1)
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)
	id, _ := s.Add(ctx, "Raid", t0, 10)

	name := "Raid II"
	ev, err := s.Update(ctx, id, Patch{Name: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ev.Name != name || ev.LeadMinutes != 10 || !ev.Start.Equal(t0) {
		t.Fatalf("partial update touched other fields: %+v", ev)
	}

	neg := -5
	if _, err := s.Update(ctx, id, Patch{LeadMinutes: &neg}); !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if _, err := s.Update(ctx, 999, Patch{Name: &name}); !apperr.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	got, _ := s.Get(id)
	if got.LeadMinutes != 10 {
		t.Fatal("rejected update changed state")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)
	id, _ := s.Add(ctx, "Raid", t0, 10)
	ev, err := s.Remove(ctx, id)
	if err != nil || ev.Name != "Raid" {
		t.Fatalf("Remove = %+v, %v", ev, err)
	}
	if _, err := s.Remove(ctx, id); !apperr.IsNotFound(err) {
		t.Fatalf("second Remove err = %v", err)
	}
}

func TestRemoveIf(t *testing.T) {
	t.Parallel()
	startsBefore := func(at time.Time) func(Event) bool {
		return func(ev Event) bool { return ev.Start.Before(at) }
	}
	tests := []struct {
		name        string
		reschedule  bool
		wantRemoved bool
	}{
		{name: "condition holds", wantRemoved: true},
		{name: "rescheduled past condition", reschedule: true, wantRemoved: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s, _ := newStore(t)
			id, _ := s.Add(ctx, "Raid", t0, 10)
			if tt.reschedule {
				later := t0.Add(48 * time.Hour)
				if _, err := s.Update(ctx, id, Patch{Start: &later}); err != nil {
					t.Fatalf("Update: %v", err)
				}
			}
			ev, removed, err := s.RemoveIf(ctx, id, startsBefore(t0.Add(time.Hour)))
			if err != nil {
				t.Fatalf("RemoveIf: %v", err)
			}
			if removed != tt.wantRemoved || ev.Name != "Raid" {
				t.Fatalf("RemoveIf = %+v, %v, want removed=%v", ev, removed, tt.wantRemoved)
			}
			_, err = s.Get(id)
			if tt.wantRemoved != apperr.IsNotFound(err) {
				t.Fatalf("Get after RemoveIf err = %v", err)
			}
		})
	}
}

func TestRemoveIfMissingOrMalformed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBackend(t)
	err := b.SaveEvents(ctx, storage.EventsDoc{NextID: 2, Events: []storage.EventRecord{
		{ID: 1, Name: "Bad", Start: "yesterday-ish", LeadMinutes: 5},
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, err := Open(ctx, b, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	always := func(Event) bool { return true }
	if _, removed, err := s.RemoveIf(ctx, 1, always); err != nil || removed {
		t.Fatalf("malformed RemoveIf = %v, %v", removed, err)
	}
	if _, _, err := s.RemoveIf(ctx, 9, always); !apperr.IsNotFound(err) {
		t.Fatalf("missing RemoveIf err = %v", err)
	}
	if len(s.Snapshot()) != 1 {
		t.Fatal("malformed record removed")
	}
}

func TestMalformedRecordsSkippedByList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBackend(t)
	err := b.SaveEvents(ctx, storage.EventsDoc{NextID: 3, Events: []storage.EventRecord{
		{ID: 1, Name: "Good", Start: "2025-01-07T08:00:00Z", LeadMinutes: 5},
		{ID: 2, Name: "Bad", Start: "yesterday-ish", LeadMinutes: 5},
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, err := Open(ctx, b, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.List(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("List = %+v", got)
	}
	snap := s.Snapshot()
	if len(snap) != 2 || snap[1].Err == nil {
		t.Fatalf("Snapshot = %+v", snap)
	}
	// a malformed record can still be removed
	if _, err := s.Remove(ctx, 2); err != nil {
		t.Fatalf("Remove malformed: %v", err)
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)
	for i := -1; i < 6; i++ {
		if _, err := s.Add(ctx, "E", t0.Add(time.Duration(i)*time.Hour), 0); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	got := s.Upcoming(t0, 4)
	if len(got) != 4 || !got[0].Start.Equal(t0) {
		t.Fatalf("Upcoming = %+v", got)
	}
}

func TestReminderAt(t *testing.T) {
	t.Parallel()
	ev := Event{Start: t0.Add(30 * time.Second), LeadMinutes: 10}
	at, ok := ev.ReminderAt()
	if !ok || !at.Equal(t0.Add(-10*time.Minute)) {
		t.Fatalf("ReminderAt = %s, %v", at, ok)
	}
	if _, ok := (Event{Start: t0}).ReminderAt(); ok {
		t.Fatal("lead 0 must have no reminder")
	}
}

type failingBackend struct{ storage.Store }

func (failingBackend) SaveEvents(ctx context.Context, doc storage.EventsDoc) error {
	return errors.New("disk full")
}

func TestFailedPersistLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := Open(ctx, failingBackend{newBackend(t)}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Add(ctx, "Raid", t0, 0); err == nil {
		t.Fatal("expected error")
	}
	if len(s.Snapshot()) != 0 {
		t.Fatal("failed add left a record behind")
	}
}

func TestConcurrentMutations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Add(ctx, "E", t0, 1)
			if err != nil {
				t.Errorf("Add: %v", err)
				return
			}
			_ = s.List()
			if i%2 == 0 {
				_, _ = s.Remove(ctx, id)
			}
		}()
	}
	wg.Wait()
	if got := len(s.List()); got != 10 {
		t.Fatalf("events = %d, want 10", got)
	}
}
