// Package app wires config, storage, the reminder dispatcher and the
// Telegram command surface into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"abyssbot/internal/commands"
	"abyssbot/internal/config"
	"abyssbot/internal/dispatch"
	"abyssbot/internal/editflow"
	"abyssbot/internal/eventbus"
	"abyssbot/internal/eventstore"
	"abyssbot/internal/notify"
	"abyssbot/internal/rulestore"
	"abyssbot/internal/runtime/supervisor"
	"abyssbot/internal/storage"
	kit "abyssbot/internal/transport"
	telegram "abyssbot/internal/transport/telegram/adapter"
	"abyssbot/internal/transport/telegram/router"
	logx "abyssbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notify.Channel
	disp    *dispatch.Dispatcher
	cmdm    *router.CommandManager

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	pollTimeout, err := cfg.Telegram.PollWait()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	// Bring logging up with the Telegram sink off, set its target, then
	// apply the real config so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, logSender(ad))
	if chatID := cfg.Telegram.GroupLogChatID(); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	rules := rulestore.New(store, log)
	if _, err := rules.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load rule: %w", err)
	}
	events, err := eventstore.Open(ctx, store, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load events: %w", err)
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notify.New(ad, ncfg, log)

	bus := eventbus.New()
	disp := dispatch.New(rules, events, notif, bus, mapDispatchConfig(cfg), log)

	roles := router.NewRoles(cfg.Telegram.OwnerUserIDs, cfg.Telegram.AdminUserIDs)
	cmdm := router.NewCommandManager(log, ad, cfgm, roles)
	h := commands.New(commands.Deps{
		Events: events,
		Rules:  rules,
		Audit:  store,
		Edits:  editflow.New(editflow.DefaultTTL),
		Bus:    bus,
		Status: disp,
		Log:    log,
	})
	cmdm.SetRegistry(h.Commands(), h.Callbacks())
	cmdm.SetTextHandler(h.OnText)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		disp:    disp,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// a reload must pass the same checks as the initial load
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapNotifyConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if err := a.disp.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("announce", func(c context.Context) {
		cfg := a.cfgm.Get()
		chatID := cfg.Telegram.GroupLogChatID()
		if chatID == 0 {
			return
		}
		sctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		to := kit.ChatTarget{ChatID: chatID, ThreadID: cfg.Logging.Telegram.ThreadID}
		msg := "✅ <b>" + a.botName() + "</b> is online."
		if _, err := a.adapter.SendText(sctx, to, msg, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
			a.log.Warn("startup announcement failed", logx.Err(err))
		}
	})

	a.log.Info("app started")
	return nil
}

func (a *App) botName() string {
	if u := a.adapter.Username(); u != "" {
		return "@" + u
	}
	return "bot"
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.Change:
		a.log.Info("change", logx.String("type", e.Type), logx.String("action", d.Action),
			logx.String("target", d.Target), logx.Int64("actor", d.ActorID))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// applyConfig fans a validated reload out to the live components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart {
		a.log.Warn("some config changes need a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}

	// target first so Apply does not warn when Telegram logging is enabled
	a.logs.SetTelegramTarget(newCfg.Telegram.GroupLogChatID(), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.Roles().Set(newCfg.Telegram.OwnerUserIDs, newCfg.Telegram.AdminUserIDs)

	if ncfg, err := mapNotifyConfig(newCfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.disp.Apply(mapDispatchConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds fn by max without extending the caller's deadline
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	// the in-flight tick may still be sending, so the adapter goes after it
	step("dispatcher", 5*time.Second, a.disp.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
