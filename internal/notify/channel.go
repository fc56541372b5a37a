// Package notify is the outbound side of the dispatcher: one synchronous,
// rate limited, timeout bounded send per call. It never retries.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"abyssbot/internal/apperr"
	kit "abyssbot/internal/transport"
	logx "abyssbot/pkg/logx"
)

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
}

type Channel struct {
	adapter kit.Adapter
	log     logx.Logger

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(adapter kit.Adapter, cfg Config, log logx.Logger) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Channel{adapter: adapter, log: log.With(logx.String("comp", "notify"))}
	c.Apply(cfg)
	return c
}

// Apply swaps limits at runtime.
func (c *Channel) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	c.mu.Lock()
	c.cfg = cfg
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.mu.Unlock()
}

// Send delivers text as HTML to target. Waiting for the limiter counts
// against the send timeout. Any failure comes back as
// *apperr.TransientDispatchError.
func (c *Channel) Send(ctx context.Context, target kit.ChatTarget, text string) error {
	c.mu.RLock()
	cfg, lim := c.cfg, c.limiter
	c.mu.RUnlock()

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	if err := lim.Wait(sctx); err != nil {
		return c.fail(target, err)
	}

	// the adapter may ignore ctx; race it against the deadline
	done := make(chan error, 1)
	go func() {
		_, err := c.adapter.SendText(sctx, target, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return c.fail(target, err)
		}
	case <-sctx.Done():
		return c.fail(target, sctx.Err())
	}
	c.log.Debug("sent", logx.String("target", target.String()), logx.Duration("took", time.Since(start)))
	return nil
}

func (c *Channel) fail(target kit.ChatTarget, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = errors.New("send timed out")
	}
	return &apperr.TransientDispatchError{Target: target.String(), Err: err}
}
