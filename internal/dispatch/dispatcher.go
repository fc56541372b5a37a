// Package dispatch runs the per-minute reminder tick: match the recurring
// rule, fire due one-off reminders, expire old events. Every trigger is sent
// at most once per process.
package dispatch

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"abyssbot/internal/eventbus"
	"abyssbot/internal/eventstore"
	"abyssbot/internal/schedule"
	kit "abyssbot/internal/transport"
	logx "abyssbot/pkg/logx"
)

// ErrTickInProgress is returned by Tick when another tick has not finished.
// The overlapping tick is dropped, not queued.
var ErrTickInProgress = errors.New("dispatch: tick in progress")

type State int32

const (
	StateIdle State = iota
	StateEvaluating
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateEvaluating:
		return "evaluating"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

type RuleSource interface {
	Load(ctx context.Context) (schedule.Rule, error)
}

type EventSource interface {
	EventRemover
	Snapshot() []eventstore.Record
}

type Sender interface {
	Send(ctx context.Context, target kit.ChatTarget, text string) error
}

// Config is the hot-reloadable part of the dispatcher.
type Config struct {
	Target        kit.ChatTarget
	Mention       string
	PrimaryText   string // {mention}
	SecondaryText string // {mention}
	EventText     string // {name} {lead}
	RecordMax     int
}

// Status is a point-in-time view for operators.
type Status struct {
	State     State
	LastTick  time.Time
	Delivered int
}

type Dispatcher struct {
	rules  RuleSource
	events EventSource
	sender Sender
	reaper *Reaper
	bus    eventbus.Bus
	log    logx.Logger

	cfgMu sync.RWMutex
	cfg   Config

	running atomic.Bool
	state   atomic.Int32

	// touched only while running is held
	record    *Record
	malformed map[int64]struct{}
	lastTick  atomic.Int64
	delivered atomic.Int64

	lifeMu     sync.Mutex
	cron       *cron.Cron
	tickCancel context.CancelFunc
}

func New(rules RuleSource, events EventSource, sender Sender, bus eventbus.Bus, cfg Config, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "dispatch"))
	d := &Dispatcher{
		rules:     rules,
		events:    events,
		sender:    sender,
		reaper:    NewReaper(events, bus, log),
		bus:       bus,
		log:       log,
		record:    NewRecord(cfg.RecordMax),
		malformed: map[int64]struct{}{},
	}
	d.Apply(cfg)
	return d
}

// Apply swaps target and texts. The record high-water mark takes effect on
// the next tick.
func (d *Dispatcher) Apply(cfg Config) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
}

func (d *Dispatcher) config() Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

func (d *Dispatcher) State() State { return State(d.state.Load()) }

func (d *Dispatcher) Status() Status {
	st := Status{State: d.State()}
	if ns := d.lastTick.Load(); ns != 0 {
		st.LastTick = time.Unix(0, ns).UTC()
	}
	st.Delivered = int(d.delivered.Load())
	return st
}

func (d *Dispatcher) setState(s State) { d.state.Store(int32(s)) }

type pending struct {
	key  Key
	text string
}

// Tick evaluates one minute. The rule is matched in UTC.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) error {
	if !d.running.CompareAndSwap(false, true) {
		d.log.Warn("tick skipped, previous tick still running", logx.Time("now", now))
		return ErrTickInProgress
	}
	defer func() {
		d.setState(StateIdle)
		d.running.Store(false)
	}()
	d.setState(StateEvaluating)

	now = now.UTC().Truncate(time.Minute)
	d.lastTick.Store(now.UnixNano())
	cfg := d.config()
	d.record.SetMax(cfg.RecordMax)

	snap := d.events.Snapshot()
	var due []pending

	rule, err := d.rules.Load(ctx)
	if err != nil {
		d.log.Error("load rule failed, recurring pass skipped", logx.Err(err))
	} else {
		if schedule.IsPrimaryDue(rule, now) {
			due = append(due, pending{NewKey(RecurringSource, now, schedule.KindPrimary), render(cfg.PrimaryText, cfg.Mention)})
		}
		if schedule.IsSecondaryDue(rule, now) {
			due = append(due, pending{NewKey(RecurringSource, now, schedule.KindSecondary), render(cfg.SecondaryText, cfg.Mention)})
		}
	}

	due = append(due, d.dueOneOffs(now, snap, cfg)...)

	if len(due) > 0 {
		d.setState(StateDispatching)
		d.deliver(ctx, cfg.Target, due)
	}

	d.reaper.Reap(ctx, now, snap)

	if n := d.record.Prune(now); n > 0 {
		d.log.Debug("dispatch record pruned", logx.Int("dropped", n), logx.Int("kept", d.record.Len()))
	}
	d.delivered.Store(int64(d.record.Len()))
	return nil
}

func (d *Dispatcher) dueOneOffs(now time.Time, snap []eventstore.Record, cfg Config) []pending {
	var out []pending
	seen := make(map[int64]struct{}, len(snap))
	for _, rec := range snap {
		seen[rec.ID] = struct{}{}
		if rec.Err != nil {
			if _, logged := d.malformed[rec.ID]; !logged {
				d.malformed[rec.ID] = struct{}{}
				d.log.Warn("skipping malformed event", logx.Int64("id", rec.ID), logx.Err(rec.Err))
			}
			continue
		}
		at, ok := rec.Event.ReminderAt()
		if !ok || now.Before(at) || !now.Before(at.Add(time.Minute)) {
			continue
		}
		out = append(out, pending{
			key:  NewKey(eventSource(rec.ID), at, schedule.KindOneOff),
			text: renderEvent(cfg.EventText, rec.Event),
		})
	}
	for id := range d.malformed {
		if _, ok := seen[id]; !ok {
			delete(d.malformed, id)
		}
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, target kit.ChatTarget, due []pending) {
	for _, p := range due {
		if d.record.Has(p.key) {
			continue
		}
		fields := []logx.Field{
			logx.String("source", p.key.Source),
			logx.String("kind", string(p.key.Kind)),
			logx.Time("at", p.key.At()),
		}
		if err := d.sender.Send(ctx, target, p.text); err != nil {
			if p.key.Source == RecurringSource {
				d.log.Warn("recurring reminder failed, no retry until next occurrence", append(fields, logx.Err(err))...)
			} else {
				d.log.Warn("event reminder failed, retrying next tick while still due", append(fields, logx.Err(err))...)
			}
			d.publish(eventbus.TypeReminderFailed, p.key, err)
			continue
		}
		d.record.Mark(p.key)
		d.log.Info("reminder sent", fields...)
		d.publish(eventbus.TypeReminderSent, p.key, nil)
	}
}

func (d *Dispatcher) publish(typ string, k Key, err error) {
	if d.bus == nil {
		return
	}
	r := eventbus.Reminder{Source: k.Source, Kind: string(k.Kind), At: k.At()}
	if err != nil {
		r.Err = err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: r})
}

// Start schedules Tick every minute. In-flight ticks keep running after ctx
// is cancelled; use Stop to wait for them.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.cron != nil {
		return nil
	}
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cl := cronLogger{log: d.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc("* * * * *", func() {
		if err := d.Tick(tickCtx, time.Now()); err != nil && !errors.Is(err, ErrTickInProgress) {
			d.log.Error("tick failed", logx.Err(err))
		}
	}); err != nil {
		cancel()
		return err
	}
	c.Start()
	d.cron, d.tickCancel = c, cancel
	d.log.Info("dispatcher started")
	return nil
}

// Stop halts the schedule and waits for the in-flight tick, or until ctx is
// done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.lifeMu.Lock()
	c, cancel := d.cron, d.tickCancel
	d.cron, d.tickCancel = nil, nil
	d.lifeMu.Unlock()
	if c == nil {
		return nil
	}
	defer cancel()
	select {
	case <-c.Stop().Done():
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.log.Warn("dispatcher stop timed out, abandoning in-flight tick")
		return ctx.Err()
	}
}

func eventSource(id int64) string { return "event:" + strconv.FormatInt(id, 10) }

func render(tmpl, mention string) string {
	return strings.ReplaceAll(tmpl, "{mention}", mention)
}

func renderEvent(tmpl string, ev eventstore.Event) string {
	return strings.NewReplacer(
		"{name}", html.EscapeString(ev.Name),
		"{lead}", strconv.Itoa(ev.LeadMinutes),
	).Replace(tmpl)
}
