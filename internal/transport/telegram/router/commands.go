// Package router turns Telegram updates into command, callback and
// free-text handler calls on a bounded worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"abyssbot/internal/config"
	"abyssbot/internal/runtime/supervisor"
	kit "abyssbot/internal/transport"
	logx "abyssbot/pkg/logx"
)

type Command struct {
	// Route is a space separated command path, e.g. "rule set".
	Route       string
	Aliases     []string // root level, e.g. "add" for "addevent"
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button data of the form "scope:action:payload".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Role         Access
	Path         []string
	Command      string
	Args         []string
	Payload      string
	ReqID        string

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
}

// Reply sends an HTML message to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// ReplyMarkup is Reply with an adapter specific keyboard.
func (r *Request) ReplyMarkup(ctx context.Context, text string, markup any) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkupAdapter: markup})
}

// MessageRef is the message a callback button belongs to.
func (r *Request) MessageRef() (kit.MessageRef, bool) {
	cb := r.Update.Callback
	if cb == nil {
		return kit.MessageRef{}, false
	}
	return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}, true
}

type ConfigSource interface {
	Get() *config.Config
}

type CommandManager struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode
	menu  []kit.BotCommand
	text  HandlerFunc

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	roles   *Roles
	log     logx.Logger
	adapter kit.Adapter
	cfg     ConfigSource

	runMu sync.Mutex
	sup   *supervisor.Supervisor
	jobs  chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfg ConfigSource, roles *Roles) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if roles == nil {
		roles = NewRoles(nil, nil)
	}
	return &CommandManager{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		roles:     roles,
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		cfg:       cfg,
		jobs:      make(chan func(), 256),
	}
}

func (m *CommandManager) Roles() *Roles { return m.roles }

// SetTextHandler installs the handler for plain (non-command) messages.
// It runs on the worker pool like commands and should return quickly when
// the message is not for it.
func (m *CommandManager) SetTextHandler(h HandlerFunc) {
	m.mu.Lock()
	m.text = h
	m.mu.Unlock()
}

// SetRegistry replaces all commands and callbacks. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args, req.Role))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(strings.ToLower(c.Route))
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		// multi-token routes also answer to /a_b for Telegram's menu
		if len(route) > 1 {
			if name, ok := telegramCommandNameFromRoute(route); ok {
				alias[name] = leaf
			}
		}
		for _, a := range c.Aliases {
			if a = sanitizeTelegramCommand(a); a != "" {
				alias[a] = leaf
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		if r.Scope == "" || r.Action == "" || r.Handle == nil {
			continue
		}
		if cb[r.Scope] == nil {
			cb[r.Scope] = map[string]CallbackRoute{}
		}
		cb[r.Scope][r.Action] = r
	}

	menu := buildTelegramMenuCommands(root)
	m.mu.Lock()
	m.root, m.alias, m.menu = root, alias, menu
	m.mu.Unlock()
	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	m.runMu.Lock()
	sup := m.sup
	m.runMu.Unlock()
	if sup != nil {
		m.pushMenu(sup)
	}
}

func (m *CommandManager) pushMenu(sup *supervisor.Supervisor) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	m.mu.RLock()
	menu := m.menu
	m.mu.RUnlock()
	sup.Go("telegram.menu.update", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("update command menu failed", logx.Err(err))
		}
		return nil
	})
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log), supervisor.WithCancelOnError(false))
	jobs := make(chan func(), cap(m.jobs))
	m.runMu.Lock()
	m.sup, m.jobs = sup, jobs
	m.runMu.Unlock()
	m.pushMenu(sup)

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers))

	defer func() {
		m.runMu.Lock()
		m.sup = nil
		close(jobs)
		m.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) enqueue(fn func()) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.sup == nil {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			m.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			m.routeCallback(ctx, up)
		}
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") {
		m.mu.RLock()
		h := m.text
		m.mu.RUnlock()
		if h == nil || text == "" {
			return
		}
		req := m.newRequest(up, chat, msg.FromID, msg.FromUsername, "text")
		req.Args = []string{text}
		final := Chain(h, MWPanicRecover(m.log), MWErrorReply())
		m.enqueue(func() { _ = final(ctx, req) })
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word, args := commandWord(parts[0]), parts[1:]

	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	var (
		node *cmdNode
		path []string
	)
	if leaf, ok := alias[word]; ok {
		node, path = leaf, splitRoute(leaf.cmd.Route)
	} else {
		var found bool
		node, path, args, found = root.walk(word, args)
		if !found {
			_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
			return
		}
	}
	if node.cmd == nil {
		_, _ = m.adapter.SendText(ctx, chat, m.helpText(path, m.roles.Of(msg.FromID)), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}

	cmd := *node.cmd
	req := m.newRequest(up, chat, msg.FromID, msg.FromUsername, cmd.Route)
	if req.Role < cmd.Access {
		_, _ = m.adapter.SendText(ctx, chat, "You are not allowed to use this command ("+cmd.Access.String()+" only).", nil)
		return
	}
	req.Path, req.Args = path, args

	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWErrorReply(),
		MWTimeout(cmd.Timeout),
	)
	if !m.enqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	scope, action, payload, ok := splitCallback(cb.Data)
	if !ok {
		return
	}
	m.cbMu.RLock()
	route, ok := m.callbacks[scope][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "This button has expired.")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID, cb.FromUsername, "cb:"+scope+":"+action)
	if req.Role < route.Access {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "Not allowed.")
		return
	}
	req.Payload = payload

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWErrorReply(),
		MWTimeout(route.Timeout),
	)
	if !m.enqueue(func() {
		_ = final(ctx, req)
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "Busy, try again.")
	}
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, username, command string) *Request {
	rid := newReqID()
	var cfg *config.Config
	if m.cfg != nil {
		cfg = m.cfg.Get()
	}
	return &Request{
		Update:       up,
		Chat:         chat,
		FromID:       fromID,
		FromUsername: username,
		Role:         m.roles.Of(fromID),
		Command:      command,
		ReqID:        rid,
		Adapter:      m.adapter,
		Config:       cfg,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}
