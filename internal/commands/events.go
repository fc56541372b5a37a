package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"abyssbot/internal/apperr"
	"abyssbot/internal/editflow"
	"abyssbot/internal/eventstore"
	"abyssbot/internal/schedule"
	"abyssbot/internal/transport/telegram/router"
	logx "abyssbot/pkg/logx"
	"abyssbot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

const (
	eventsPageSize = 10
	upcomingCount  = 4
	pickerMax      = 20
)

var numbers = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣"}

// parseWhen splits the arguments after the name into a start time and an
// optional lead token. The longest prefix that parses as a time wins, and at
// most one token may follow it.
func (h *Handler) parseWhen(rest []string) (start, lead string, err error) {
	if len(rest) == 0 {
		return "", "", apperr.Invalid("time", "missing")
	}
	now := h.now()
	for n := len(rest); n >= 1 && len(rest)-n <= 1; n-- {
		when := strings.Join(rest[:n], " ")
		if _, perr := schedule.ParseTime(when, now); perr != nil {
			if err == nil {
				err = perr
			}
			continue
		}
		if n < len(rest) {
			lead = rest[n]
		}
		return when, lead, nil
	}
	return "", "", err
}

func (h *Handler) cmdAddEvent(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return apperr.Invalid("", "usage: /addevent \"name\" \"time\" [lead|no]")
	}
	name := req.Args[0]
	when, leadArg, err := h.parseWhen(req.Args[1:])
	if err != nil {
		return err
	}
	now := h.now()
	start, err := schedule.ParseTime(when, now)
	if err != nil {
		return err
	}
	if !start.After(now) {
		return apperr.Invalid("time", "%s is in the past", formatTime(start, location(req)))
	}
	lead, err := schedule.ParseLead(leadArg)
	if err != nil {
		return err
	}

	id, err := h.events.Add(ctx, name, start, lead)
	h.record(ctx, req, "event.add", strconv.FormatInt(id, 10), err, fmt.Sprintf("name=%q start=%s lead=%d", name, start.Format("2006-01-02T15:04Z"), lead))
	if err != nil {
		return err
	}
	msg := tgui.New().
		Title("✅", "Event added").
		KV("ID", "#"+strconv.FormatInt(id, 10)).
		KV("Name", strings.TrimSpace(name)).
		KV("Start", formatTime(start, location(req))).
		KV("In", countdown(start.Sub(now))).
		KV("Reminder", leadText(lead)).
		Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handler) renderEvents(req *router.Request, page int) tgui.Message {
	loc := location(req)
	all := h.events.List()
	p := tgui.Paginate(all, page, eventsPageSize)

	c := tgui.New().Title("📅", "Events")
	if len(all) == 0 {
		c.Line("No events. Add one with /addevent.")
	}
	for _, ev := range p.Items {
		c.Raw(tgui.JoinH(" ",
			tgui.Code("#"+strconv.FormatInt(ev.ID, 10)),
			tgui.B(ev.Name),
		))
		c.Line("   " + formatTime(ev.Start, loc) + " · " + leadText(ev.LeadMinutes))
	}
	if broken := h.brokenCount(); broken > 0 {
		c.Blank().Line(fmt.Sprintf("⚠️ %d stored event(s) could not be read and are ignored.", broken))
	}
	if p.Pages > 1 {
		c.Blank().Raw(tgui.I(p.Label()))
		var row []tele.Btn
		if p.HasPrev {
			row = append(row, tgui.Btn("◀️ Prev", tgui.Data(scopeEvent, "page", strconv.Itoa(p.Index-1))))
		}
		if p.HasNext {
			row = append(row, tgui.Btn("Next ▶️", tgui.Data(scopeEvent, "page", strconv.Itoa(p.Index+1))))
		}
		c.Inline(tgui.NewInline().Row(row...))
	}
	return c.Build()
}

func (h *Handler) brokenCount() int {
	n := 0
	for _, r := range h.events.Snapshot() {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func (h *Handler) cmdEvents(ctx context.Context, req *router.Request) error {
	page := 0
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			page = n - 1
		}
	}
	_, err := h.renderEvents(req, page).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handler) cbEventsPage(ctx context.Context, req *router.Request, payload string) error {
	page, err := strconv.Atoi(payload)
	if err != nil || page < 0 {
		return apperr.Invalid("page", "bad page %q", payload)
	}
	ref, ok := req.MessageRef()
	if !ok {
		return nil
	}
	return h.renderEvents(req, page).Edit(ctx, req.Adapter, ref)
}

func (h *Handler) cmdUpcoming(ctx context.Context, req *router.Request) error {
	now := h.now()
	evs := h.events.Upcoming(now, upcomingCount)
	if len(evs) == 0 {
		return req.Reply(ctx, "📭 No upcoming events.")
	}
	loc := location(req)
	c := tgui.New().Title("📅", "Upcoming Events")
	for i, ev := range evs {
		c.Blank()
		c.Raw(tgui.JoinH(" ", tgui.H(numbers[i]), tgui.B(ev.Name), tgui.Esc("- "+formatTime(ev.Start, loc))))
		c.Line("⏳ " + countdown(ev.Start.Sub(now)))
	}
	_, err := c.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// pickEvent sends a list of event buttons bound to action.
func (h *Handler) pickEvent(ctx context.Context, req *router.Request, title, action string) error {
	evs := h.events.List()
	if len(evs) == 0 {
		return req.Reply(ctx, "No events found.")
	}
	loc := location(req)
	kb := tgui.NewInline()
	for i, ev := range evs {
		if i == pickerMax {
			break
		}
		label := "#" + strconv.FormatInt(ev.ID, 10) + " " + tgui.TruncRunes(ev.Name, 24) + " · " + ev.Start.In(loc).Format("02-01 15:04")
		kb.Row(tgui.Btn(label, tgui.Data(scopeEvent, action, strconv.FormatInt(ev.ID, 10))))
	}
	_, err := tgui.New().Title("", title).Inline(kb).Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// --- remove ---

func (h *Handler) cmdRemoveEvent(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return h.pickEvent(ctx, req, "Choose an event to delete:", "rm")
	}
	id, err := parseID(req.Args[0])
	if err != nil {
		return err
	}
	return h.askRemove(ctx, req, id)
}

func (h *Handler) askRemove(ctx context.Context, req *router.Request, id int64) error {
	ev, err := h.events.Get(id)
	if err != nil {
		return err
	}
	sid := strconv.FormatInt(id, 10)
	msg := tgui.New().
		Title("🗑", "Delete this event?").
		KV("Name", ev.Name).
		KV("Start", formatTime(ev.Start, location(req))).
		Inline(tgui.ConfirmInline(tgui.Data(scopeEvent, "rmyes", sid), tgui.Data(scopeEvent, "rmno", sid))).
		Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handler) cbRemoveAsk(ctx context.Context, req *router.Request, payload string) error {
	id, err := parseID(payload)
	if err != nil {
		return err
	}
	return h.askRemove(ctx, req, id)
}

func (h *Handler) cbRemoveYes(ctx context.Context, req *router.Request, payload string) error {
	id, err := parseID(payload)
	if err != nil {
		return err
	}
	ev, err := h.events.Remove(ctx, id)
	h.record(ctx, req, "event.remove", payload, err, ev.Name)
	if err != nil {
		return err
	}
	return h.replaceOrReply(ctx, req, "🗑 Deleted <b>"+tgui.Esc(ev.Name).String()+"</b>")
}

func (h *Handler) cbRemoveNo(ctx context.Context, req *router.Request, _ string) error {
	return h.replaceOrReply(ctx, req, "❌ Cancelled.")
}

// replaceOrReply edits the message holding the buttons, falling back to a
// new message.
func (h *Handler) replaceOrReply(ctx context.Context, req *router.Request, html string) error {
	if ref, ok := req.MessageRef(); ok {
		if err := tgui.New().Raw(tgui.H(html)).Build().Edit(ctx, req.Adapter, ref); err == nil {
			return nil
		}
	}
	return req.Reply(ctx, html)
}

// --- edit ---

func editKey(req *router.Request) editflow.Key {
	return editflow.Key{ChatID: req.Chat.ChatID, UserID: req.FromID}
}

func (h *Handler) cmdEditEvent(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return h.pickEvent(ctx, req, "Choose an event to edit:", "edit")
	}
	id, err := parseID(req.Args[0])
	if err != nil {
		return err
	}
	if len(req.Args) >= 3 {
		f, ok := editflow.ParseField(req.Args[1])
		if !ok {
			return apperr.Invalid("field", "expected name, time or lead, got %q", req.Args[1])
		}
		return h.applyEdit(ctx, req, id, f, strings.Join(req.Args[2:], " "))
	}
	return h.beginEdit(ctx, req, id)
}

func (h *Handler) beginEdit(ctx context.Context, req *router.Request, id int64) error {
	ev, err := h.events.Get(id)
	if err != nil {
		return err
	}
	h.edits.Begin(editKey(req), id)
	sid := strconv.FormatInt(id, 10)
	kb := tgui.NewInline().
		Row(
			tgui.Btn("✏️ Name", tgui.Data(scopeEvent, "field", sid+":"+string(editflow.FieldName))),
			tgui.Btn("🕒 Time", tgui.Data(scopeEvent, "field", sid+":"+string(editflow.FieldTime))),
			tgui.Btn("⏰ Reminder", tgui.Data(scopeEvent, "field", sid+":"+string(editflow.FieldLead))),
		).
		Row(tgui.Btn("Cancel", tgui.Data(scopeEvent, "cancel", sid)))
	msg := tgui.New().
		Title("✏️", "Edit event #"+sid).
		KV("Name", ev.Name).
		KV("Start", formatTime(ev.Start, location(req))).
		KV("Reminder", leadText(ev.LeadMinutes)).
		Line("Choose a field:").
		Inline(kb).
		Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handler) cbEditBegin(ctx context.Context, req *router.Request, payload string) error {
	id, err := parseID(payload)
	if err != nil {
		return err
	}
	return h.beginEdit(ctx, req, id)
}

var fieldPrompts = map[editflow.Field]string{
	editflow.FieldName: "Send the new name.",
	editflow.FieldTime: "Send the new time (DD-MM-YYYY HH:MM in UTC, or like 1d 2h 30m).",
	editflow.FieldLead: "Send the reminder lead in minutes, or \"no\".",
}

func (h *Handler) cbEditField(ctx context.Context, req *router.Request, payload string) error {
	idPart, fieldPart, _ := strings.Cut(payload, ":")
	id, err := parseID(idPart)
	if err != nil {
		return err
	}
	f, ok := editflow.ParseField(fieldPart)
	if !ok {
		return apperr.Invalid("field", "unknown field %q", fieldPart)
	}
	if _, err := h.edits.Choose(editKey(req), id, f); err != nil {
		if errors.Is(err, editflow.ErrNoSession) || errors.Is(err, editflow.ErrWrongState) {
			return req.Reply(ctx, "This edit has expired. Start again with /editevent "+idPart)
		}
		return err
	}
	return req.Reply(ctx, fieldPrompts[f]+" Send \"cancel\" to stop.")
}

func (h *Handler) cbEditCancel(ctx context.Context, req *router.Request, _ string) error {
	_, _ = h.edits.Cancel(editKey(req))
	return h.replaceOrReply(ctx, req, "❌ Edit cancelled.")
}

// OnText consumes the value of a pending edit. Messages from users without
// a pending edit are ignored.
func (h *Handler) OnText(ctx context.Context, req *router.Request) error {
	if req.Role < router.AccessAdmin || len(req.Args) == 0 {
		return nil
	}
	k := editKey(req)
	s, ok := h.edits.Pending(k)
	if !ok {
		return nil
	}
	text := strings.TrimSpace(req.Args[0])
	if strings.EqualFold(text, "cancel") {
		_, _ = h.edits.Cancel(k)
		return req.Reply(ctx, "❌ Edit cancelled.")
	}
	if err := h.applyEdit(ctx, req, s.EventID, s.Field, text); err != nil {
		if apperr.IsNotFound(err) {
			_, _ = h.edits.Cancel(k)
		}
		// validation errors keep the session so the user can retry
		return err
	}
	if _, err := h.edits.Complete(k); err != nil {
		req.Logger.Debug("edit session already gone", logx.Err(err))
	}
	return nil
}

func (h *Handler) applyEdit(ctx context.Context, req *router.Request, id int64, f editflow.Field, value string) error {
	var p eventstore.Patch
	switch f {
	case editflow.FieldName:
		p.Name = &value
	case editflow.FieldTime:
		start, err := schedule.ParseTime(value, h.now())
		if err != nil {
			return err
		}
		p.Start = &start
	case editflow.FieldLead:
		lead, err := schedule.ParseLead(value)
		if err != nil {
			return err
		}
		p.LeadMinutes = &lead
	}
	ev, err := h.events.Update(ctx, id, p)
	h.record(ctx, req, "event.edit", strconv.FormatInt(id, 10), err, string(f)+"="+value)
	if err != nil {
		return err
	}
	msg := tgui.New().
		Title("✅", "Event updated").
		KV("ID", "#"+strconv.FormatInt(ev.ID, 10)).
		KV("Name", ev.Name).
		KV("Start", formatTime(ev.Start, location(req))).
		KV("Reminder", leadText(ev.LeadMinutes)).
		Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}
