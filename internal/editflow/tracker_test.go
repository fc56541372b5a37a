package editflow

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTracker() (*Tracker, *clock) {
	c := &clock{t: time.Date(2025, 1, 7, 8, 0, 0, 0, time.UTC)}
	tr := New(0)
	tr.now = c.now
	return tr, c
}

func TestHappyPath(t *testing.T) {
	t.Parallel()
	tr, _ := newTracker()
	k := Key{ChatID: -1, UserID: 42}

	if s := tr.Begin(k, 7); s.State != StateAwaitingField {
		t.Fatalf("state = %s", s.State)
	}
	if _, ok := tr.Pending(k); ok {
		t.Fatal("pending before a field was chosen")
	}
	if _, err := tr.Choose(k, 7, FieldLead); err != nil {
		t.Fatalf("Choose: %v", err)
	}
	s, ok := tr.Pending(k)
	if !ok || s.Field != FieldLead || s.EventID != 7 {
		t.Fatalf("Pending = %+v, %v", s, ok)
	}
	done, err := tr.Complete(k)
	if err != nil || done.State != StateApplied {
		t.Fatalf("Complete = %+v, %v", done, err)
	}
	if tr.Len() != 0 {
		t.Fatal("session kept after completion")
	}
}

func TestTransitions(t *testing.T) {
	t.Parallel()
	tr, _ := newTracker()
	k := Key{ChatID: 1, UserID: 1}

	if _, err := tr.Choose(k, 1, FieldName); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Choose without Begin: %v", err)
	}
	tr.Begin(k, 1)
	if _, err := tr.Complete(k); !errors.Is(err, ErrWrongState) {
		t.Fatalf("Complete while awaiting field: %v", err)
	}
	if _, err := tr.Choose(k, 2, FieldName); !errors.Is(err, ErrWrongState) {
		t.Fatalf("Choose for another event: %v", err)
	}
	s, err := tr.Cancel(k)
	if err != nil || s.State != StateCancelled {
		t.Fatalf("Cancel = %+v, %v", s, err)
	}
	if _, err := tr.Cancel(k); !errors.Is(err, ErrNoSession) {
		t.Fatalf("second Cancel: %v", err)
	}
}

func TestSessionsArePerUser(t *testing.T) {
	t.Parallel()
	tr, _ := newTracker()
	a := Key{ChatID: 1, UserID: 1}
	b := Key{ChatID: 1, UserID: 2}
	tr.Begin(a, 1)
	tr.Begin(b, 2)
	if _, err := tr.Choose(a, 1, FieldName); err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Pending(b); ok {
		t.Fatal("b sees a's pending value")
	}
	if tr.Len() != 2 {
		t.Fatalf("Len = %d", tr.Len())
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	tr, c := newTracker()
	k := Key{ChatID: 1, UserID: 1}
	tr.Begin(k, 1)
	if _, err := tr.Choose(k, 1, FieldTime); err != nil {
		t.Fatal(err)
	}
	c.advance(DefaultTTL - time.Second)
	if _, ok := tr.Pending(k); !ok {
		t.Fatal("expired too early")
	}
	c.advance(time.Second)
	if _, ok := tr.Pending(k); ok {
		t.Fatal("session survived its timeout")
	}
	if tr.Len() != 0 {
		t.Fatal("expired session not swept")
	}
}

func TestParseField(t *testing.T) {
	t.Parallel()
	tests := map[string]Field{"Name": FieldName, "start": FieldTime, " lead ": FieldLead}
	for in, want := range tests {
		if got, ok := ParseField(in); !ok || got != want {
			t.Fatalf("ParseField(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseField("colour"); ok {
		t.Fatal("unknown field accepted")
	}
}
