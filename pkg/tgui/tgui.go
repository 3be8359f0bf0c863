package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Reply builds a resized reply keyboard whose buttons send their label as text.
type Reply struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewReply() *Reply {
	return &Reply{rm: &tele.ReplyMarkup{ResizeKeyboard: true}}
}

func (r *Reply) Row(labels ...string) *Reply {
	btns := make([]tele.Btn, 0, len(labels))
	for _, l := range labels {
		btns = append(btns, r.rm.Text(l))
	}
	r.rows = append(r.rows, r.rm.Row(btns...))
	r.rm.Reply(r.rows...)
	return r
}

func (r *Reply) Markup() *tele.ReplyMarkup { return r.rm }

// RemoveKeyboard hides any reply keyboard currently shown.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
