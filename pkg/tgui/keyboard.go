package tgui

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "scope:action[:payload]".
func Data(scope, action, payload string) string {
	s := strings.TrimSpace(scope) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	return s
}

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
	err  error
}

func NewInline() *Inline { return &Inline{rm: &tele.ReplyMarkup{}} }

// Row appends a row. Buttons with oversized data are dropped and reported by
// Err.
func (i *Inline) Row(btns ...tele.Btn) *Inline {
	row := make([]tele.Btn, 0, len(btns))
	for _, b := range btns {
		if len(b.Data) > MaxCallbackDataLen {
			i.err = ErrCallbackDataTooLong
			continue
		}
		row = append(row, b)
	}
	if len(row) > 0 {
		i.rows = append(i.rows, i.rm.Row(row...))
		i.rm.Inline(i.rows...)
	}
	return i
}

func (i *Inline) Len() int                  { return len(i.rows) }
func (i *Inline) Err() error                { return i.err }
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn is a callback button with raw data.
func Btn(text, data string) tele.Btn { return tele.Btn{Text: text, Data: data} }

// ConfirmInline is a one-row YES / NO keyboard.
func ConfirmInline(yesData, noData string) *Inline {
	return NewInline().Row(Btn("✅ YES", yesData), Btn("❌ NO", noData))
}
