package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": <path>.rule.json, <path>.events.json, <path>.audit.jsonl
//   - "sqlite": SQLite database file at path
//   - "postgres": DSN (storage.dsn or DATABASE_URL)
//
// Empty driver means "file".
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

type Store interface {
	// LoadRule returns the raw rule document. ok is false when nothing is stored yet.
	LoadRule(ctx context.Context) (raw []byte, ok bool, err error)
	SaveRule(ctx context.Context, raw []byte) error

	LoadEvents(ctx context.Context) (EventsDoc, error)
	// SaveEvents replaces the whole event set atomically.
	SaveEvents(ctx context.Context, doc EventsDoc) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// EventRecord is one persisted one-off event.
type EventRecord struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Start       string `json:"start_utc_iso8601"`
	LeadMinutes int    `json:"lead_minutes"`
}

// EventsDoc is the persisted event collection. NextID survives removals so
// ids are never reused.
type EventsDoc struct {
	NextID int64         `json:"next_id"`
	Events []EventRecord `json:"events"`
}

// AuditEntry records one operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}
