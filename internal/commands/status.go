package commands

import (
	"context"
	"strconv"

	"abyssbot/internal/transport/telegram/router"
	"abyssbot/pkg/tgui"
)

func (h *Handler) cmdStatus(ctx context.Context, req *router.Request) error {
	c := tgui.New().Title("📟", "Status")
	if h.status != nil {
		st := h.status.Status()
		c.KV("Dispatcher", st.State.String())
		if st.LastTick.IsZero() {
			c.KV("Last tick", "never")
		} else {
			c.KV("Last tick", formatTime(st.LastTick, location(req)))
		}
		c.KV("Delivered", strconv.Itoa(st.Delivered))
	}
	c.KV("Events", strconv.Itoa(len(h.events.List())))
	if n := h.brokenCount(); n > 0 {
		c.KV("Unreadable events", strconv.Itoa(n))
	}
	c.KV("Pending edits", strconv.Itoa(h.edits.Len()))
	c.KV("Your role", req.Role.String())
	_, err := c.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}
