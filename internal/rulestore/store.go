// Package rulestore owns the persisted recurring rule. There is one Store per
// process; the dispatcher and the command layer share it.
package rulestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"abyssbot/internal/apperr"
	"abyssbot/internal/schedule"
	"abyssbot/internal/storage"
	logx "abyssbot/pkg/logx"
)

type Store struct {
	backend storage.Store
	log     logx.Logger

	mu sync.Mutex
}

func New(backend storage.Store, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{backend: backend, log: log.With(logx.String("comp", "rulestore"))}
}

// Load returns the current rule. Missing fields are filled from
// schedule.Default and the repaired document is written back at once.
// A document that cannot be decoded at all is replaced by the defaults.
// Only backend I/O errors are returned.
func (s *Store) Load(ctx context.Context) (schedule.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) (schedule.Rule, error) {
	raw, ok, err := s.backend.LoadRule(ctx)
	if err != nil {
		return schedule.Rule{}, fmt.Errorf("load rule: %w", err)
	}
	if !ok {
		rule := schedule.Default()
		s.log.Warn("no stored rule, writing defaults", logx.Strings("defaulted", schedule.Fields))
		if err := s.writeLocked(ctx, rule, nil); err != nil {
			return schedule.Rule{}, err
		}
		return rule, nil
	}

	rule, defaulted, cerr := merge(raw)
	if cerr == nil {
		rule, defaulted = reconcile(rule, defaulted)
	}
	if cerr != nil {
		s.log.Error("stored rule unreadable, replacing with defaults", logx.Err(cerr))
		rule = schedule.Default()
		defaulted = schedule.Fields
	} else if err := rule.Validate(); err != nil {
		s.log.Error("stored rule invalid, replacing with defaults", logx.Err(&apperr.CorruptConfigError{Source: "rule", Err: err}))
		rule = schedule.Default()
		defaulted = schedule.Fields
	}
	if len(defaulted) == 0 {
		return rule, nil
	}

	s.log.Warn("rule repaired from defaults", logx.Strings("defaulted", defaulted))
	if err := s.writeLocked(ctx, rule, raw); err != nil {
		return schedule.Rule{}, err
	}
	return rule, nil
}

// Save validates rule and replaces the stored document. Saving the rule that
// is already stored leaves the document untouched.
func (s *Store) Save(ctx context.Context, rule schedule.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, _, err := s.backend.LoadRule(ctx)
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}
	return s.writeLocked(ctx, rule, prev)
}

// Update applies fn to the current rule and saves the result. fn runs under
// the store lock; returning an error aborts without writing.
func (s *Store) Update(ctx context.Context, fn func(*schedule.Rule) error) (schedule.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.loadLocked(ctx)
	if err != nil {
		return schedule.Rule{}, err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return schedule.Rule{}, err
	}
	if err := next.Validate(); err != nil {
		return schedule.Rule{}, err
	}
	prev, _, err := s.backend.LoadRule(ctx)
	if err != nil {
		return schedule.Rule{}, fmt.Errorf("load rule: %w", err)
	}
	if err := s.writeLocked(ctx, next, prev); err != nil {
		return schedule.Rule{}, err
	}
	return next, nil
}

func (s *Store) writeLocked(ctx context.Context, rule schedule.Rule, prev []byte) error {
	if prev != nil {
		if stored, defaulted, err := merge(prev); err == nil && len(defaulted) == 0 && equal(stored, rule) {
			return nil
		}
	}
	b, err := Encode(rule)
	if err != nil {
		return err
	}
	if err := s.backend.SaveRule(ctx, b); err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

func equal(a, b schedule.Rule) bool {
	return slices.Equal(a.Weekdays, b.Weekdays) &&
		slices.Equal(a.Hours, b.Hours) &&
		slices.Equal(a.ReminderHours, b.ReminderHours) &&
		a.SecondaryEnabled == b.SecondaryEnabled &&
		a.SecondaryOffsetMinutes == b.SecondaryOffsetMinutes
}

// Encode renders the canonical persisted form of rule.
func Encode(rule schedule.Rule) ([]byte, error) {
	if rule.Weekdays == nil {
		rule.Weekdays = []int{}
	}
	if rule.Hours == nil {
		rule.Hours = []int{}
	}
	if rule.ReminderHours == nil {
		rule.ReminderHours = []int{}
	}
	b, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// merge decodes raw field by field. Fields that are absent or null take the
// default value and are reported in defaulted. A field holding the wrong type
// makes the whole document corrupt.
// reconcile fixes a stored offset that only conflicts with a defaulted
// round2_enabled, so the rest of the stored rule survives the repair.
func reconcile(rule schedule.Rule, defaulted []string) (schedule.Rule, []string) {
	if rule.Validate() == nil {
		return rule, defaulted
	}
	if !slices.Contains(defaulted, schedule.FieldSecondaryEnabled) || slices.Contains(defaulted, schedule.FieldSecondaryOffset) {
		return rule, defaulted
	}
	fixed := rule
	fixed.SecondaryOffsetMinutes = schedule.DefaultSecondaryOffset
	if fixed.Validate() != nil {
		return rule, defaulted
	}
	return fixed, append(defaulted, schedule.FieldSecondaryOffset)
}

func merge(raw []byte) (schedule.Rule, []string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return schedule.Rule{}, nil, &apperr.CorruptConfigError{Source: "rule", Err: err}
	}
	if fields == nil {
		return schedule.Rule{}, nil, &apperr.CorruptConfigError{Source: "rule", Err: fmt.Errorf("document is null")}
	}

	def := schedule.Default()
	rule := def
	var defaulted []string
	take := func(name string, dst any) error {
		v, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			defaulted = append(defaulted, name)
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return &apperr.CorruptConfigError{Source: "rule." + name, Err: err}
		}
		return nil
	}
	for _, f := range []struct {
		name string
		dst  any
	}{
		{schedule.FieldDays, &rule.Weekdays},
		{schedule.FieldHours, &rule.Hours},
		{schedule.FieldReminderHours, &rule.ReminderHours},
		{schedule.FieldSecondaryEnabled, &rule.SecondaryEnabled},
		{schedule.FieldSecondaryOffset, &rule.SecondaryOffsetMinutes},
	} {
		if err := take(f.name, f.dst); err != nil {
			return schedule.Rule{}, nil, err
		}
	}
	return rule, defaulted, nil
}
