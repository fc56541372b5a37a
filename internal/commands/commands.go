// Package commands is the chat surface of the bot: event and rule
// management commands, their inline-button callbacks and the edit
// conversation.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"abyssbot/internal/apperr"
	"abyssbot/internal/dispatch"
	"abyssbot/internal/editflow"
	"abyssbot/internal/eventbus"
	"abyssbot/internal/eventstore"
	"abyssbot/internal/rulestore"
	"abyssbot/internal/storage"
	"abyssbot/internal/transport/telegram/router"
	logx "abyssbot/pkg/logx"
)

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type StatusSource interface {
	Status() dispatch.Status
}

type Deps struct {
	Events *eventstore.Store
	Rules  *rulestore.Store
	Audit  Auditor
	Edits  *editflow.Tracker
	Bus    eventbus.Bus
	Status StatusSource
	Now    func() time.Time
	Log    logx.Logger
}

type Handler struct {
	events *eventstore.Store
	rules  *rulestore.Store
	audit  Auditor
	edits  *editflow.Tracker
	bus    eventbus.Bus
	status StatusSource
	now    func() time.Time
	log    logx.Logger
}

func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Edits == nil {
		d.Edits = editflow.New(editflow.DefaultTTL)
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Handler{
		events: d.Events,
		rules:  d.Rules,
		audit:  d.Audit,
		edits:  d.Edits,
		bus:    d.Bus,
		status: d.Status,
		now:    d.Now,
		log:    d.Log.With(logx.String("comp", "commands")),
	}
}

const (
	scopeEvent = "ev"
	scopeRule  = "rule"
)

func (h *Handler) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "addevent",
			Aliases:     []string{"add"},
			Description: "add a one-off event",
			Usage: "/addevent \"name\" \"time\" [lead|no]\n" +
				"/addevent \"Guild raid\" \"25-12-2025 18:30\" 15\n" +
				"/addevent Raid 1d 2h 10",
			Access:  router.AccessAdmin,
			Timeout: 15 * time.Second,
			Handle:  h.cmdAddEvent,
		},
		{
			Route:       "editevent",
			Aliases:     []string{"edit"},
			Description: "change an event's name, time or lead",
			Usage:       "/editevent [id] [name|time|lead value]",
			Access:      router.AccessAdmin,
			Timeout:     15 * time.Second,
			Handle:      h.cmdEditEvent,
		},
		{
			Route:       "removeevent",
			Aliases:     []string{"rm"},
			Description: "delete an event",
			Usage:       "/removeevent [id]",
			Access:      router.AccessAdmin,
			Timeout:     15 * time.Second,
			Handle:      h.cmdRemoveEvent,
		},
		{
			Route:       "events",
			Description: "list all events",
			Usage:       "/events [page]",
			Handle:      h.cmdEvents,
		},
		{
			Route:       "upcoming",
			Aliases:     []string{"next"},
			Description: "next 4 upcoming events",
			Handle:      h.cmdUpcoming,
		},
		{
			Route:       "rule",
			Description: "show the weekly Abyss rule",
			Handle:      h.cmdRule,
		},
		{
			Route:       "rule set",
			Description: "change the weekly Abyss rule",
			Usage: "/rule set days tue,fri,sun\n" +
				"/rule set hours 0,4,8,12,16,20\n" +
				"/rule set reminder_hours 8,12,16,20\n" +
				"/rule set round2 on|off\n" +
				"/rule set offset 30",
			Access:  router.AccessOwner,
			Timeout: 15 * time.Second,
			Handle:  h.cmdRuleSet,
		},
		{
			Route:       "status",
			Description: "dispatcher status",
			Access:      router.AccessAdmin,
			Handle:      h.cmdStatus,
		},
	}
}

func (h *Handler) Callbacks() []router.CallbackRoute {
	ev := func(action string, fn router.CallbackHandlerFunc, access router.Access) router.CallbackRoute {
		return router.CallbackRoute{Scope: scopeEvent, Action: action, Access: access, Timeout: 15 * time.Second, Handle: fn}
	}
	return []router.CallbackRoute{
		ev("page", h.cbEventsPage, router.AccessEveryone),
		ev("rm", h.cbRemoveAsk, router.AccessAdmin),
		ev("rmyes", h.cbRemoveYes, router.AccessAdmin),
		ev("rmno", h.cbRemoveNo, router.AccessAdmin),
		ev("edit", h.cbEditBegin, router.AccessAdmin),
		ev("field", h.cbEditField, router.AccessAdmin),
		ev("cancel", h.cbEditCancel, router.AccessAdmin),
		{Scope: scopeRule, Action: "day", Access: router.AccessOwner, Timeout: 15 * time.Second, Handle: h.cbRuleDay},
		{Scope: scopeRule, Action: "r2", Access: router.AccessOwner, Timeout: 15 * time.Second, Handle: h.cbRuleRound2},
	}
}

// record writes an audit entry and publishes the change. Audit failures are
// logged, never shown to the user.
func (h *Handler) record(ctx context.Context, req *router.Request, action, target string, err error, detail string) {
	e := storage.AuditEntry{
		At:            h.now().UTC(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Action:        action,
		Target:        target,
		OK:            err == nil,
		Detail:        detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if h.audit != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if aerr := h.audit.AppendAudit(actx, e); aerr != nil {
			req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
		}
		cancel()
	}
	if err != nil || h.bus == nil {
		return
	}
	typ := eventbus.TypeEventChanged
	if strings.HasPrefix(action, "rule.") {
		typ = eventbus.TypeRuleChanged
	}
	h.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.Change{Action: action, Target: target, ActorID: req.FromID}})
}

func location(req *router.Request) *time.Location {
	if req.Config == nil {
		return time.UTC
	}
	return req.Config.Reminders.Location()
}

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon 02 Jan 2006 15:04 MST")
}

// countdown renders d as "1d 2h 5m", "5m" or "now".
func countdown(d time.Duration) string {
	if d < time.Minute {
		return "now"
	}
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	mins := int((d - time.Duration(hours)*time.Hour) / time.Minute)
	var parts []string
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	if mins > 0 {
		parts = append(parts, strconv.Itoa(mins)+"m")
	}
	return strings.Join(parts, " ")
}

func leadText(lead int) string {
	if lead <= 0 {
		return "no reminder"
	}
	return fmt.Sprintf("%d min before", lead)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id < 0 {
		return 0, apperr.Invalid("id", "expected an event number, got %q", s)
	}
	return id, nil
}
