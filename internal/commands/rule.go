package commands

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"abyssbot/internal/apperr"
	"abyssbot/internal/schedule"
	"abyssbot/internal/transport/telegram/router"
	logx "abyssbot/pkg/logx"
	"abyssbot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

const previewCount = 4

var dayShort = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

var dayNames = map[string]int{
	"mon": schedule.Monday, "monday": schedule.Monday,
	"tue": schedule.Tuesday, "tues": schedule.Tuesday, "tuesday": schedule.Tuesday,
	"wed": schedule.Wednesday, "wednesday": schedule.Wednesday,
	"thu": schedule.Thursday, "thur": schedule.Thursday, "thurs": schedule.Thursday, "thursday": schedule.Thursday,
	"fri": schedule.Friday, "friday": schedule.Friday,
	"sat": schedule.Saturday, "saturday": schedule.Saturday,
	"sun": schedule.Sunday, "sunday": schedule.Sunday,
}

func splitList(args []string) []string {
	joined := strings.Join(args, ",")
	return strings.FieldsFunc(joined, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
}

func isNone(parts []string) bool {
	if len(parts) != 1 {
		return false
	}
	switch strings.ToLower(parts[0]) {
	case "none", "-", "off", "empty":
		return true
	}
	return false
}

// parseDays accepts day names ("tue", "Friday") or numbers 0..6 (0=Monday).
func parseDays(args []string) ([]int, error) {
	parts := splitList(args)
	if len(parts) == 0 {
		return nil, apperr.Invalid(schedule.FieldDays, "missing; use names like tue,fri,sun or \"none\"")
	}
	if isNone(parts) {
		return []int{}, nil
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		d, ok := dayNames[strings.ToLower(p)]
		if !ok {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, apperr.Invalid(schedule.FieldDays, "unknown day %q", p)
			}
			d = n
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out, nil
}

func parseHours(field string, args []string) ([]int, error) {
	parts := splitList(args)
	if len(parts) == 0 {
		return nil, apperr.Invalid(field, "missing; use hours like 0,4,8 or \"none\"")
	}
	if isNone(parts) {
		return []int{}, nil
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSuffix(p, ":00"), "h"))
		if err != nil {
			return nil, apperr.Invalid(field, "%q is not an hour", p)
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true", "1", "enable", "enabled":
		return true, nil
	case "off", "no", "false", "0", "disable", "disabled":
		return false, nil
	}
	return false, apperr.Invalid(schedule.FieldSecondaryEnabled, "expected on or off, got %q", s)
}

func formatDays(days []int) string {
	if len(days) == 0 {
		return "none"
	}
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(dayShort) {
			names = append(names, dayShort[d])
		}
	}
	return strings.Join(names, ", ")
}

func formatHours(hours []int) string {
	if len(hours) == 0 {
		return "none"
	}
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = fmt.Sprintf("%02d:00", h)
	}
	return strings.Join(parts, ", ")
}

func (h *Handler) renderRule(req *router.Request, r schedule.Rule) tgui.Message {
	loc := location(req)
	c := tgui.New().
		Title("🌀", "Abyss schedule").
		KV("Days", formatDays(r.Weekdays)).
		KV("Hours", formatHours(r.Hours)+" UTC").
		KV("Reminder hours", formatHours(r.ReminderHours)+" UTC")
	if r.SecondaryEnabled {
		c.KV("Round 2", fmt.Sprintf("on, %d min after", r.SecondaryOffsetMinutes))
	} else {
		c.KV("Round 2", "off")
	}

	next, err := schedule.NextTriggers(r, h.now(), previewCount)
	c.Blank().Raw(tgui.B("Next reminders"))
	switch {
	case err != nil:
		h.log.Warn("rule preview failed", logx.Err(err))
		c.Line("unavailable")
	case len(next) == 0:
		c.Line("none, the rule never fires")
	default:
		for _, t := range next {
			label := "Abyss"
			if t.Kind == schedule.KindSecondary {
				label = "Round 2"
			}
			c.Line("• " + formatTime(t.At, loc) + " · " + label)
		}
	}

	if req.Role >= router.AccessOwner {
		c.Inline(ruleKeyboard(r))
	}
	return c.Build()
}

func ruleKeyboard(r schedule.Rule) *tgui.Inline {
	kb := tgui.NewInline()
	btns := make([]tele.Btn, 0, len(dayShort))
	for d, name := range dayShort {
		mark := "▫️ "
		if slices.Contains(r.Weekdays, d) {
			mark = "✅ "
		}
		btns = append(btns, tgui.Btn(mark+name, tgui.Data(scopeRule, "day", strconv.Itoa(d))))
	}
	kb.Row(btns[:4]...).Row(btns[4:]...)
	r2 := "Round 2: off"
	if r.SecondaryEnabled {
		r2 = "Round 2: on"
	}
	return kb.Row(tgui.Btn("🔁 "+r2, tgui.Data(scopeRule, "r2", "")))
}

func (h *Handler) cmdRule(ctx context.Context, req *router.Request) error {
	r, err := h.rules.Load(ctx)
	if err != nil {
		return err
	}
	_, err = h.renderRule(req, r).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handler) cmdRuleSet(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return apperr.Invalid("", "usage: /rule set days|hours|reminder_hours|round2|offset <value>")
	}
	key := strings.ToLower(req.Args[0])
	vals := req.Args[1:]

	var apply func(*schedule.Rule) error
	switch key {
	case "days", "day", "weekdays":
		days, err := parseDays(vals)
		if err != nil {
			return err
		}
		apply = func(r *schedule.Rule) error { r.Weekdays = days; return nil }
	case "hours", "hour":
		hours, err := parseHours(schedule.FieldHours, vals)
		if err != nil {
			return err
		}
		apply = func(r *schedule.Rule) error { r.Hours = hours; return nil }
	case "reminder_hours", "reminders", "reminder":
		hours, err := parseHours(schedule.FieldReminderHours, vals)
		if err != nil {
			return err
		}
		apply = func(r *schedule.Rule) error { r.ReminderHours = hours; return nil }
	case "round2", "r2", "secondary":
		on, err := parseSwitch(vals[0])
		if err != nil {
			return err
		}
		apply = func(r *schedule.Rule) error {
			r.SecondaryEnabled = on
			if on && r.SecondaryOffsetMinutes == 0 {
				r.SecondaryOffsetMinutes = schedule.DefaultSecondaryOffset
			}
			return nil
		}
	case "offset", "round2_offset":
		n, err := strconv.Atoi(strings.TrimSuffix(vals[0], "m"))
		if err != nil {
			return apperr.Invalid(schedule.FieldSecondaryOffset, "%q is not a number of minutes", vals[0])
		}
		apply = func(r *schedule.Rule) error { r.SecondaryOffsetMinutes = n; return nil }
	default:
		return apperr.Invalid("field", "unknown rule field %q", req.Args[0])
	}

	return h.updateRule(ctx, req, key+"="+strings.Join(vals, ","), apply, false)
}

// updateRule applies fn and shows the resulting rule, editing the callback
// message when edit is set.
func (h *Handler) updateRule(ctx context.Context, req *router.Request, detail string, fn func(*schedule.Rule) error, edit bool) error {
	r, err := h.rules.Update(ctx, fn)
	h.record(ctx, req, "rule.set", "rule", err, detail)
	if err != nil {
		return err
	}
	msg := h.renderRule(req, r)
	if edit {
		if ref, ok := req.MessageRef(); ok {
			return msg.Edit(ctx, req.Adapter, ref)
		}
	}
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handler) cbRuleDay(ctx context.Context, req *router.Request, payload string) error {
	d, err := strconv.Atoi(payload)
	if err != nil || d < 0 || d >= len(dayShort) {
		return apperr.Invalid(schedule.FieldDays, "bad day %q", payload)
	}
	return h.updateRule(ctx, req, "toggle day="+dayShort[d], func(r *schedule.Rule) error {
		if i := slices.Index(r.Weekdays, d); i >= 0 {
			r.Weekdays = slices.Delete(r.Weekdays, i, i+1)
		} else {
			r.Weekdays = append(r.Weekdays, d)
			slices.Sort(r.Weekdays)
		}
		return nil
	}, true)
}

func (h *Handler) cbRuleRound2(ctx context.Context, req *router.Request, _ string) error {
	return h.updateRule(ctx, req, "toggle round2", func(r *schedule.Rule) error {
		r.SecondaryEnabled = !r.SecondaryEnabled
		if r.SecondaryEnabled && r.SecondaryOffsetMinutes == 0 {
			r.SecondaryOffsetMinutes = schedule.DefaultSecondaryOffset
		}
		return nil
	}, true)
}
