// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "abyssbot/internal/transport"
)

type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

type Edit struct {
	Ref  kit.MessageRef
	Text string
}

// Adapter records everything sent through it. Set Fail to make sends fail;
// set Block to make them hang until ctx is done.
type Adapter struct {
	mu      sync.Mutex
	sent    []Sent
	edits   []Edit
	answers []string
	nextID  int

	Fail  error
	Block bool
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error                         { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	fail, block := a.Fail, a.Block
	a.mu.Unlock()
	if block {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	if fail != nil {
		return kit.MessageRef{}, fail
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Sent{To: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	a.nextID++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, Edit{Ref: ref, Text: text})
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, text)
	return nil
}

func (a *Adapter) SetFail(err error) {
	a.mu.Lock()
	a.Fail = err
	a.mu.Unlock()
}

func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

func (a *Adapter) Edits() []Edit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Edit(nil), a.edits...)
}

func (a *Adapter) Answers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.answers...)
}

func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent, a.edits, a.answers = nil, nil, nil
	a.mu.Unlock()
}
