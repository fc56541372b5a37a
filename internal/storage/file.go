package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "abyssbot/pkg/logx"
)

// fileStore keeps each document in its own file next to path:
//
//   - <prefix>.rule.json    rule document, replaced atomically
//   - <prefix>.events.json  events document, replaced atomically
//   - <prefix>.audit.jsonl  append-only JSON Lines
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	rulePath  string
	eventPath string
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/abyssbot"
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix))
	return &fileStore{
		log:       log,
		rulePath:  prefix + ".rule.json",
		eventPath: prefix + ".events.json",
		auditFile: af,
	}, nil
}

func (s *fileStore) LoadRule(ctx context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.rulePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *fileStore) SaveRule(ctx context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.rulePath, raw)
}

func (s *fileStore) LoadEvents(ctx context.Context) (EventsDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.eventPath)
	if errors.Is(err, fs.ErrNotExist) {
		return EventsDoc{NextID: 1}, nil
	}
	if err != nil {
		return EventsDoc{}, err
	}
	return decodeEvents(b)
}

// decodeEvents reads the events document record by record so one bad entry
// does not take down the rest.
func decodeEvents(b []byte) (EventsDoc, error) {
	var raw struct {
		NextID int64             `json:"next_id"`
		Events []json.RawMessage `json:"events"`
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return EventsDoc{NextID: 1}, nil
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return EventsDoc{}, fmt.Errorf("events document: %w", err)
	}
	doc := EventsDoc{NextID: raw.NextID, Events: make([]EventRecord, 0, len(raw.Events))}
	for _, r := range raw.Events {
		var rec EventRecord
		if err := json.Unmarshal(r, &rec); err != nil || rec.ID <= 0 {
			// keep the id if we can read it so the record still shows up as malformed
			var idOnly struct {
				ID int64 `json:"id"`
			}
			if json.Unmarshal(r, &idOnly) != nil || idOnly.ID <= 0 {
				continue
			}
			rec = EventRecord{ID: idOnly.ID}
		}
		doc.Events = append(doc.Events, rec)
		if rec.ID >= doc.NextID {
			doc.NextID = rec.ID + 1
		}
	}
	if doc.NextID < 1 {
		doc.NextID = 1
	}
	return doc, nil
}

func (s *fileStore) SaveEvents(ctx context.Context, doc EventsDoc) error {
	if doc.Events == nil {
		doc.Events = []EventRecord{}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.eventPath, append(b, '\n'))
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

// writeAtomic writes to a temp file in the same directory, syncs it and
// renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
