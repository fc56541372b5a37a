package tgui

import (
	"context"
	"strings"

	kit "abyssbot/internal/transport"
)

// Message is rendered text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Card builds an HTML message line by line. Plain strings are escaped;
// use Raw for pre-rendered H.
type Card struct {
	lines []string
	kb    *Inline
}

func New() *Card { return &Card{} }

// Title adds a bold title, optionally prefixed by an emoji.
func (c *Card) Title(emoji, title string) *Card {
	line := B(strings.TrimSpace(title)).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = e + " " + line
	}
	c.lines = append(c.lines, line)
	return c
}

func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, Esc(s).String())
	return c
}

func (c *Card) Raw(h H) *Card {
	c.lines = append(c.lines, h.String())
	return c
}

func (c *Card) Blank() *Card {
	c.lines = append(c.lines, "")
	return c
}

// KV adds "• <b>key</b>: value".
func (c *Card) KV(key, value string) *Card {
	c.lines = append(c.lines, "• "+B(key).String()+": "+Esc(value).String())
	return c
}

func (c *Card) Inline(kb *Inline) *Card {
	c.kb = kb
	return c
}

func (c *Card) Build() Message {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if c.kb != nil && c.kb.Len() > 0 {
		opt.ReplyMarkupAdapter = c.kb.Markup()
	}
	return Message{Text: strings.Trim(strings.Join(c.lines, "\n"), "\n"), Opt: opt}
}
