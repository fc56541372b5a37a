package sdnotify

import (
	"context"
	"testing"
	"time"

	logx "abyssbot/pkg/logx"
)

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	Ready(logx.Nop())
	Stopping(logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		Watchdog(ctx, logx.Nop())
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Watchdog kept running without a watchdog configured")
	}
}
