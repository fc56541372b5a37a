package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "abyssbot/pkg/logx"
)

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	ddl, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, string(ddl)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened")
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) LoadRule(ctx context.Context) ([]byte, bool, error) {
	var doc string
	err := s.pool.QueryRow(ctx, `SELECT doc FROM abyss_rule WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(doc), true, nil
}

func (s *pgStore) SaveRule(ctx context.Context, raw []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO abyss_rule(id, doc) VALUES(1, $1) ON CONFLICT(id) DO UPDATE SET doc = EXCLUDED.doc`,
		string(raw))
	return err
}

func (s *pgStore) LoadEvents(ctx context.Context) (EventsDoc, error) {
	doc := EventsDoc{NextID: 1}
	var next int64
	err := s.pool.QueryRow(ctx, `SELECT value FROM abyss_meta WHERE key = $1`, nextIDKey).Scan(&next)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return EventsDoc{}, err
	case next > 0:
		doc.NextID = next
	}

	rows, err := s.pool.Query(ctx, `SELECT id, name, start_utc, lead_minutes FROM abyss_events ORDER BY id`)
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

func (s *pgStore) SaveEvents(ctx context.Context, doc EventsDoc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM abyss_events`); err != nil {
		return err
	}
	if len(doc.Events) > 0 {
		rows := make([][]any, 0, len(doc.Events))
		for _, r := range doc.Events {
			rows = append(rows, []any{r.ID, r.Name, r.Start, r.LeadMinutes})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"abyss_events"},
			[]string{"id", "name", "start_utc", "lead_minutes"},
			pgx.CopyFromRows(rows)); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO abyss_meta(key, value) VALUES($1, $2) ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value`,
		nextIDKey, doc.NextID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO abyss_audit(at, actor_id, actor_username, chat_id, thread_id, action, target, ok, err, detail)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.At.UTC(), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), nullStr(e.Detail),
	)
	return err
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}
