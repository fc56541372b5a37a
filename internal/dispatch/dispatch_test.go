package dispatch

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"abyssbot/internal/apperr"
	"abyssbot/internal/eventbus"
	"abyssbot/internal/eventstore"
	"abyssbot/internal/schedule"
	"abyssbot/internal/storage"
	kit "abyssbot/internal/transport"
	logx "abyssbot/pkg/logx"
)

// 2025-01-07 is a Tuesday.
var tuesday = time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)

type staticRules struct {
	rule schedule.Rule
	err  error
}

func (s staticRules) Load(context.Context) (schedule.Rule, error) { return s.rule, s.err }

type memEvents struct {
	mu   sync.Mutex
	recs []eventstore.Record
}

func (m *memEvents) Snapshot() []eventstore.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]eventstore.Record(nil), m.recs...)
}

func (m *memEvents) RemoveIf(_ context.Context, id int64, cond func(eventstore.Event) bool) (eventstore.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.recs {
		if r.ID == id {
			if r.Err != nil || !cond(r.Event) {
				return r.Event, false, nil
			}
			m.recs = append(m.recs[:i], m.recs[i+1:]...)
			return r.Event, true, nil
		}
	}
	return eventstore.Event{}, false, &apperr.NotFoundError{Kind: "event", ID: id}
}

func (m *memEvents) add(ev eventstore.Event) {
	m.mu.Lock()
	m.recs = append(m.recs, eventstore.Record{ID: ev.ID, Event: ev})
	m.mu.Unlock()
}

func (m *memEvents) ids() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, r := range m.recs {
		out = append(out, r.ID)
	}
	return out
}

type fakeSender struct {
	mu      sync.Mutex
	fail    error
	texts   []string
	gate    chan struct{} // when set, Send blocks until closed
	entered chan struct{}
	onSend  func()
}

func (f *fakeSender) Send(ctx context.Context, _ kit.ChatTarget, text string) error {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeSender) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func testConfig() Config {
	return Config{
		Target:        kit.ChatTarget{ChatID: -100},
		Mention:       "@abyss",
		PrimaryText:   "{mention} primary",
		SecondaryText: "secondary",
		EventText:     "event {name} in {lead}",
	}
}

func newTestDispatcher(t *testing.T, rule schedule.Rule) (*Dispatcher, *memEvents, *fakeSender) {
	t.Helper()
	ev := &memEvents{}
	snd := &fakeSender{}
	d := New(staticRules{rule: rule}, ev, snd, nil, testConfig(), logx.Nop())
	return d, ev, snd
}

func tick(t *testing.T, d *Dispatcher, at time.Time) {
	t.Helper()
	if err := d.Tick(context.Background(), at); err != nil {
		t.Fatalf("Tick(%s): %v", at, err)
	}
}

func TestRecurringScenario(t *testing.T) {
	t.Parallel()
	d, _, snd := newTestDispatcher(t, schedule.Default())

	for h := 0; h < 24; h++ {
		for _, m := range []int{0, 15, 30, 45} {
			tick(t, d, tuesday.Add(time.Duration(h)*time.Hour+time.Duration(m)*time.Minute))
		}
	}
	got := snd.sent()
	want := []string{
		"@abyss primary", "secondary", // 08
		"@abyss primary", "secondary", // 12
		"@abyss primary", "secondary", // 16
		"@abyss primary", "secondary", // 20
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("sent = %q, want %q", got, want)
	}

	// Wednesday is not a rule day.
	tick(t, d, tuesday.Add(24*time.Hour+8*time.Hour))
	if n := len(snd.sent()); n != len(want) {
		t.Fatalf("wednesday sent %d messages", n-len(want))
	}
}

func TestTickIsIdempotentWithinMinute(t *testing.T) {
	t.Parallel()
	d, _, snd := newTestDispatcher(t, schedule.Default())
	at := tuesday.Add(8 * time.Hour)

	tick(t, d, at)
	tick(t, d, at.Add(20*time.Second))
	tick(t, d, at)
	if n := len(snd.sent()); n != 1 {
		t.Fatalf("sent %d, want 1", n)
	}
}

func TestSecondaryDisabled(t *testing.T) {
	t.Parallel()
	rule := schedule.Default()
	rule.SecondaryEnabled = false
	d, _, snd := newTestDispatcher(t, rule)
	tick(t, d, tuesday.Add(8*time.Hour+30*time.Minute))
	if n := len(snd.sent()); n != 0 {
		t.Fatalf("sent %d, want 0", n)
	}
}

func TestOneOffScenario(t *testing.T) {
	t.Parallel()
	d, ev, snd := newTestDispatcher(t, schedule.Rule{})
	start := tuesday.Add(12 * time.Hour)
	ev.add(eventstore.Event{ID: 1, Name: "Raid <Boss>", Start: start, LeadMinutes: 15})

	tick(t, d, start.Add(-16*time.Minute))
	if n := len(snd.sent()); n != 0 {
		t.Fatalf("early tick sent %d", n)
	}
	tick(t, d, start.Add(-15*time.Minute))
	tick(t, d, start.Add(-15*time.Minute+30*time.Second))
	tick(t, d, start.Add(-14*time.Minute))
	got := snd.sent()
	if len(got) != 1 || got[0] != "event Raid &lt;Boss&gt; in 15" {
		t.Fatalf("sent = %q", got)
	}

	tick(t, d, start.Add(59*time.Minute))
	if ids := ev.ids(); len(ids) != 1 {
		t.Fatalf("event removed before grace window: %v", ids)
	}
	tick(t, d, start.Add(time.Hour))
	if ids := ev.ids(); len(ids) != 0 {
		t.Fatalf("event kept after grace window: %v", ids)
	}
}

func TestZeroLeadNeverReminds(t *testing.T) {
	t.Parallel()
	d, ev, snd := newTestDispatcher(t, schedule.Rule{})
	start := tuesday.Add(12 * time.Hour)
	ev.add(eventstore.Event{ID: 1, Name: "Quiet", Start: start})
	for m := -5; m <= 5; m++ {
		tick(t, d, start.Add(time.Duration(m)*time.Minute))
	}
	if n := len(snd.sent()); n != 0 {
		t.Fatalf("sent %d, want 0", n)
	}
}

func TestExpiryRunsWithoutReminders(t *testing.T) {
	t.Parallel()
	d, ev, _ := newTestDispatcher(t, schedule.Rule{})
	now := tuesday.Add(10 * time.Hour)
	ev.add(eventstore.Event{ID: 1, Name: "old", Start: now.Add(-61 * time.Minute)})
	ev.add(eventstore.Event{ID: 2, Name: "recent", Start: now.Add(-59 * time.Minute), LeadMinutes: 5})

	tick(t, d, now)
	ids := ev.ids()
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("remaining = %v, want [2]", ids)
	}
}

func TestRescheduledDuringTickIsNotReaped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend, err := storage.Open(ctx, storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	store, err := eventstore.Open(ctx, backend, logx.Nop())
	if err != nil {
		t.Fatalf("eventstore.Open: %v", err)
	}

	now := tuesday.Add(8 * time.Hour)
	id, err := store.Add(ctx, "Raid", now.Add(-2*time.Hour), 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	later := now.Add(24 * time.Hour)
	snd := &fakeSender{onSend: func() {
		// a user edits the event while the recurring reminder goes out
		if _, err := store.Update(ctx, id, eventstore.Patch{Start: &later}); err != nil {
			t.Errorf("Update: %v", err)
		}
	}}
	d := New(staticRules{rule: schedule.Default()}, store, snd, nil, testConfig(), logx.Nop())

	tick(t, d, now)
	if n := len(snd.sent()); n != 1 {
		t.Fatalf("sent %d, want the primary reminder", n)
	}
	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("rescheduled event was reaped: %v", err)
	}
	if !got.Start.Equal(later) {
		t.Fatalf("start = %s, want %s", got.Start, later)
	}

	tick(t, d, later.Add(GraceWindow))
	if _, err := store.Get(id); !apperr.IsNotFound(err) {
		t.Fatalf("expired event kept: %v", err)
	}
}

func TestMalformedEventSkippedAndLoggedOnce(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ev := &memEvents{}
	snd := &fakeSender{}
	d := New(staticRules{}, ev, snd, nil, testConfig(), logx.NewWriter(&buf, "debug"))

	now := tuesday.Add(10 * time.Hour)
	ev.mu.Lock()
	ev.recs = append(ev.recs, eventstore.Record{ID: 7, Err: errors.New("bad start")})
	ev.mu.Unlock()
	ev.add(eventstore.Event{ID: 8, Name: "ok", Start: now.Add(5 * time.Minute), LeadMinutes: 5})

	tick(t, d, now)
	tick(t, d, now.Add(time.Minute))

	if got := snd.sent(); len(got) != 1 {
		t.Fatalf("sent = %q, want one reminder for the valid event", got)
	}
	if n := strings.Count(buf.String(), "skipping malformed event"); n != 1 {
		t.Fatalf("malformed warning logged %d times", n)
	}
	if ids := ev.ids(); len(ids) != 2 {
		t.Fatalf("malformed record must not be reaped: %v", ids)
	}
}

func TestFailedSendIsNotMarked(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	ev := &memEvents{}
	snd := &fakeSender{}
	d := New(staticRules{rule: schedule.Default()}, ev, snd, bus, testConfig(), logx.Nop())
	at := tuesday.Add(8 * time.Hour)

	snd.setFail(&apperr.TransientDispatchError{Target: "-100", Err: errors.New("boom")})
	tick(t, d, at)
	if d.Status().Delivered != 0 {
		t.Fatal("failed send was recorded")
	}
	if e := <-events; e.Type != eventbus.TypeReminderFailed {
		t.Fatalf("event = %s, want %s", e.Type, eventbus.TypeReminderFailed)
	}

	snd.setFail(nil)
	tick(t, d, at)
	if n := len(snd.sent()); n != 1 {
		t.Fatalf("sent %d after recovery, want 1", n)
	}
	if e := <-events; e.Type != eventbus.TypeReminderSent {
		t.Fatalf("event = %s, want %s", e.Type, eventbus.TypeReminderSent)
	}
}

func TestRuleLoadErrorStillRunsOneOffs(t *testing.T) {
	t.Parallel()
	ev := &memEvents{}
	snd := &fakeSender{}
	d := New(staticRules{err: errors.New("disk gone")}, ev, snd, nil, testConfig(), logx.Nop())
	now := tuesday.Add(8 * time.Hour)
	ev.add(eventstore.Event{ID: 1, Name: "x", Start: now.Add(10 * time.Minute), LeadMinutes: 10})
	ev.add(eventstore.Event{ID: 2, Name: "old", Start: now.Add(-2 * time.Hour)})

	tick(t, d, now)
	if n := len(snd.sent()); n != 1 {
		t.Fatalf("sent %d, want 1", n)
	}
	if ids := ev.ids(); len(ids) != 1 {
		t.Fatalf("expiry skipped: %v", ids)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()
	ev := &memEvents{}
	snd := &fakeSender{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	d := New(staticRules{rule: schedule.Default()}, ev, snd, nil, testConfig(), logx.Nop())
	at := tuesday.Add(8 * time.Hour)

	done := make(chan error, 1)
	go func() { done <- d.Tick(context.Background(), at) }()
	<-snd.entered

	if d.State() != StateDispatching {
		t.Fatalf("state = %s, want dispatching", d.State())
	}
	if err := d.Tick(context.Background(), at.Add(time.Minute)); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("err = %v, want ErrTickInProgress", err)
	}
	close(snd.gate)
	if err := <-done; err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if d.State() != StateIdle {
		t.Fatalf("state = %s, want idle", d.State())
	}
}

func TestRecordBounds(t *testing.T) {
	t.Parallel()
	r := NewRecord(3)
	base := tuesday
	for i := 0; i < 5; i++ {
		r.Mark(NewKey("event:1", base.Add(time.Duration(i)*time.Minute), schedule.KindOneOff))
	}
	r.Mark(NewKey("event:1", base, schedule.KindOneOff))
	if r.Len() != 5 {
		t.Fatalf("Len = %d before prune", r.Len())
	}
	if n := r.Prune(base); n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	if r.Has(NewKey("event:1", base, schedule.KindOneOff)) {
		t.Fatal("oldest key survived high-water prune")
	}
	if !r.Has(NewKey("event:1", base.Add(4*time.Minute), schedule.KindOneOff)) {
		t.Fatal("newest key dropped")
	}

	if n := r.Prune(base.Add(MaxKeyAge + 10*time.Minute)); n != 3 {
		t.Fatalf("age prune dropped %d, want 3", n)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d after age prune", r.Len())
	}
}

func TestKeysDistinguishKindAndSource(t *testing.T) {
	t.Parallel()
	r := NewRecord(10)
	at := tuesday.Add(8 * time.Hour)
	r.Mark(NewKey(RecurringSource, at, schedule.KindPrimary))
	if r.Has(NewKey(RecurringSource, at, schedule.KindSecondary)) {
		t.Fatal("kind ignored")
	}
	if r.Has(NewKey("event:1", at, schedule.KindPrimary)) {
		t.Fatal("source ignored")
	}
	if !r.Has(NewKey(RecurringSource, at.Add(42*time.Second).In(time.FixedZone("x", 3600)), schedule.KindPrimary)) {
		t.Fatal("same minute in another zone must match")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDispatcher(t, schedule.Default())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
