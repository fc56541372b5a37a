package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "abyssbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const nextIDKey = "next_event_id"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; WAL lets readers proceed
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	ddl, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, string(ddl)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) LoadRule(ctx context.Context) ([]byte, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM rule WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(doc), true, nil
}

func (s *sqliteStore) SaveRule(ctx context.Context, raw []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule(id, doc) VALUES(1, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
		string(raw))
	return err
}

func (s *sqliteStore) LoadEvents(ctx context.Context) (EventsDoc, error) {
	doc := EventsDoc{NextID: 1}
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, nextIDKey).Scan(&next)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return EventsDoc{}, err
	}
	if next.Valid && next.Int64 > 0 {
		doc.NextID = next.Int64
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, start_utc, lead_minutes FROM events ORDER BY id`)
	if err != nil {
		return EventsDoc{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Start, &r.LeadMinutes); err != nil {
			return EventsDoc{}, err
		}
		doc.Events = append(doc.Events, r)
		if r.ID >= doc.NextID {
			doc.NextID = r.ID + 1
		}
	}
	return doc, rows.Err()
}

func (s *sqliteStore) SaveEvents(ctx context.Context, doc EventsDoc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return err
	}
	for _, r := range doc.Events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events(id, name, start_utc, lead_minutes) VALUES(?,?,?,?)`,
			r.ID, r.Name, r.Start, r.LeadMinutes); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		nextIDKey, doc.NextID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, target, ok, err, detail)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
