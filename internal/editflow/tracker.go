// Package editflow tracks the two-step /editevent conversation: pick a field
// with a button, then send the new value as a plain message.
package editflow

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a conversation waits for the next step.
const DefaultTTL = 5 * time.Minute

var (
	ErrNoSession  = errors.New("editflow: no edit in progress")
	ErrWrongState = errors.New("editflow: unexpected step")
)

type State int

const (
	StateAwaitingField State = iota
	StateAwaitingValue
	StateApplied
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAwaitingField:
		return "awaiting_field"
	case StateAwaitingValue:
		return "awaiting_value"
	case StateApplied:
		return "applied"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type Field string

const (
	FieldName Field = "name"
	FieldTime Field = "time"
	FieldLead Field = "lead"
)

var Fields = []Field{FieldName, FieldTime, FieldLead}

func ParseField(s string) (Field, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "name":
		return FieldName, true
	case "time", "start", "datetime":
		return FieldTime, true
	case "lead", "reminder":
		return FieldLead, true
	}
	return "", false
}

// Key identifies a conversation. Two admins can edit in the same chat at once.
type Key struct {
	ChatID int64
	UserID int64
}

type Session struct {
	Key     Key
	EventID int64
	State   State
	Field   Field
	Expires time.Time
}

// Tracker is safe for concurrent use. Expired sessions are swept lazily.
type Tracker struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[Key]*Session
}

func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{ttl: ttl, now: time.Now, m: map[Key]*Session{}}
}

// Begin starts (or restarts) a conversation for eventID.
func (t *Tracker) Begin(k Key, eventID int64) Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.sweepLocked(now)
	s := &Session{Key: k, EventID: eventID, State: StateAwaitingField, Expires: now.Add(t.ttl)}
	t.m[k] = s
	return *s
}

// Choose moves a conversation from AwaitingField to AwaitingValue. Picking a
// different field while awaiting a value is allowed.
func (t *Tracker) Choose(k Key, eventID int64, f Field) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.getLocked(k)
	if err != nil {
		return Session{}, err
	}
	if s.EventID != eventID {
		return Session{}, ErrWrongState
	}
	s.Field = f
	s.State = StateAwaitingValue
	s.Expires = t.now().Add(t.ttl)
	return *s, nil
}

// Pending returns the conversation waiting for a typed value, if any.
func (t *Tracker) Pending(k Key) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.getLocked(k)
	if err != nil || s.State != StateAwaitingValue {
		return Session{}, false
	}
	return *s, true
}

// Complete ends the conversation as applied.
func (t *Tracker) Complete(k Key) (Session, error) {
	return t.finish(k, StateApplied, StateAwaitingValue)
}

// Cancel ends the conversation in any live state.
func (t *Tracker) Cancel(k Key) (Session, error) {
	return t.finish(k, StateCancelled, -1)
}

func (t *Tracker) finish(k Key, to, from State) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.getLocked(k)
	if err != nil {
		return Session{}, err
	}
	if from >= 0 && s.State != from {
		return Session{}, ErrWrongState
	}
	delete(t.m, k)
	s.State = to
	return *s, nil
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(t.now())
	return len(t.m)
}

func (t *Tracker) getLocked(k Key) (*Session, error) {
	s, ok := t.m[k]
	if !ok {
		return nil, ErrNoSession
	}
	if !t.now().Before(s.Expires) {
		delete(t.m, k)
		return nil, ErrNoSession
	}
	return s, nil
}

func (t *Tracker) sweepLocked(now time.Time) {
	for k, s := range t.m {
		if !now.Before(s.Expires) {
			delete(t.m, k)
		}
	}
}
