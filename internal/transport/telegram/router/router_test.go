package router

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"abyssbot/internal/apperr"
	kit "abyssbot/internal/transport"
	"abyssbot/internal/transport/transporttest"
	logx "abyssbot/pkg/logx"
)

const (
	ownerID = 1
	adminID = 2
	userID  = 3
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{`/addevent "Guild raid" "2h 30m" 15`, []string{"/addevent", "Guild raid", "2h 30m", "15"}},
		{`/addevent “Guild raid” 1d`, []string{"/addevent", "Guild raid", "1d"}},
		{`/addevent Abyss's  turn`, []string{"/addevent", "Abyss's", "turn"}},
		{`/x ""`, []string{"/x", ""}},
		{`  `, nil},
	}
	for _, tt := range tests {
		if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandWordAndCallback(t *testing.T) {
	t.Parallel()
	if w := commandWord("/AddEvent@AbyssBot"); w != "addevent" {
		t.Fatalf("commandWord = %q", w)
	}
	s, a, p, ok := splitCallback("ev:del:7:x")
	if !ok || s != "ev" || a != "del" || p != "7:x" {
		t.Fatalf("splitCallback = %q %q %q %v", s, a, p, ok)
	}
	if _, _, _, ok := splitCallback("nothing"); ok {
		t.Fatal("malformed callback accepted")
	}
}

func TestRoles(t *testing.T) {
	t.Parallel()
	r := NewRoles([]int64{ownerID}, []int64{adminID, ownerID})
	if r.Of(ownerID) != AccessOwner || r.Of(adminID) != AccessAdmin || r.Of(userID) != AccessEveryone {
		t.Fatal("unexpected roles")
	}
	if !r.Allows(ownerID, AccessAdmin) || r.Allows(adminID, AccessOwner) {
		t.Fatal("role ordering broken")
	}
	r.Set(nil, nil)
	if r.Of(ownerID) != AccessEveryone {
		t.Fatal("Set did not replace roles")
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Rule Set":  "rule_set",
		"add-event": "add_event",
		"9lives":    "cmd_9lives",
		"__x__":     "x",
		"ümlaut!":   "mlaut",
		"":          "",
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

type harness struct {
	m       *CommandManager
	adapter *transporttest.Adapter
	updates chan kit.Update
	calls   chan *Request
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		adapter: &transporttest.Adapter{},
		updates: make(chan kit.Update),
		calls:   make(chan *Request, 8),
	}
	record := func(ctx context.Context, req *Request) error {
		h.calls <- req
		return nil
	}
	h.m = NewCommandManager(logx.Nop(), h.adapter, nil, NewRoles([]int64{ownerID}, []int64{adminID}))
	h.m.SetRegistry([]Command{
		{Route: "ping", Handle: record},
		{Route: "events", Aliases: []string{"ev"}, Handle: record},
		{Route: "rule", Handle: record},
		{Route: "rule set", Access: AccessOwner, Handle: record},
		{Route: "removeevent", Access: AccessAdmin, Handle: record},
		{Route: "broken", Handle: func(context.Context, *Request) error {
			return apperr.Invalid("time", "cannot parse %q", "soon")
		}},
	}, []CallbackRoute{
		{Scope: "ev", Action: "del", Access: AccessAdmin, Handle: func(ctx context.Context, req *Request, payload string) error {
			return record(ctx, req)
		}},
	})
	h.m.SetTextHandler(record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.m.DispatchLoop(ctx, h.updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) message(from int64, text string) {
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: from, Text: text}}
}

func (h *harness) wait(t *testing.T) *Request {
	t.Helper()
	select {
	case r := <-h.calls:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
		return nil
	}
}

func (h *harness) waitSent(t *testing.T, sub string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range h.adapter.Sent() {
			if strings.Contains(s.Text, sub) {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no message containing %q in %+v", sub, h.adapter.Sent())
}

func TestRoutesCommandsAndArgs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.message(userID, "/ping@AbyssBot a \"b c\"")
	r := h.wait(t)
	if r.Command != "ping" || !reflect.DeepEqual(r.Args, []string{"a", "b c"}) || r.Role != AccessEveryone {
		t.Fatalf("req = %+v", r)
	}

	h.message(ownerID, "/rule set days 1,4")
	r = h.wait(t)
	if r.Command != "rule set" || !reflect.DeepEqual(r.Path, []string{"rule", "set"}) || !reflect.DeepEqual(r.Args, []string{"days", "1,4"}) {
		t.Fatalf("req = %+v", r)
	}

	h.message(ownerID, "/rule_set hours 8")
	if r = h.wait(t); r.Command != "rule set" {
		t.Fatalf("menu alias routed to %q", r.Command)
	}

	h.message(userID, "/ev")
	if r = h.wait(t); r.Command != "events" {
		t.Fatalf("alias routed to %q", r.Command)
	}
}

func TestAccessDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.message(adminID, "/rule set days 1")
	h.waitSent(t, "owner only")

	h.message(userID, "/removeevent 1")
	h.waitSent(t, "admin only")

	h.message(adminID, "/removeevent 1")
	if r := h.wait(t); r.Role != AccessAdmin {
		t.Fatalf("role = %s", r.Role)
	}
}

func TestUnknownAndErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.message(userID, "/nope")
	h.waitSent(t, "Unknown command")

	h.message(userID, "/broken")
	h.waitSent(t, "invalid time")
}

func TestTextAndCallbacks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.message(userID, "just chatting")
	if r := h.wait(t); r.Command != "text" || r.Args[0] != "just chatting" {
		t.Fatalf("req = %+v", r)
	}

	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: adminID, ChatID: -100, MessageID: 9, Data: "ev:del:7"}}
	r := h.wait(t)
	if r.Payload != "7" {
		t.Fatalf("payload = %q", r.Payload)
	}
	if ref, ok := r.MessageRef(); !ok || ref.MessageID != 9 {
		t.Fatalf("MessageRef = %+v, %v", ref, ok)
	}

	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c2", FromID: userID, ChatID: -100, Data: "ev:del:7"}}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, a := range h.adapter.Answers() {
			if a == "Not allowed." {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("answers = %q", h.adapter.Answers())
}

func TestHelp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	top := h.m.helpText(nil, AccessEveryone)
	if !strings.Contains(top, "/ping") || !strings.Contains(top, "🔒 <code>/removeevent</code>") {
		t.Fatalf("top help:\n%s", top)
	}
	if strings.Contains(top, "🔒 <code>/rule</code>") {
		t.Fatal("/rule is usable by everyone and must not be locked")
	}
	node := h.m.helpText([]string{"rule"}, AccessEveryone)
	if !strings.Contains(node, "/rule set") {
		t.Fatalf("rule help:\n%s", node)
	}
	if got := h.m.helpText([]string{"zzz"}, AccessEveryone); !strings.Contains(got, "Unknown command") {
		t.Fatalf("unknown help: %s", got)
	}
}
