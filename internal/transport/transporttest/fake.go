// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	kit "postbot/internal/transport"
)

// Sent is one recorded outbound call.
type Sent struct {
	Op       string // text | media | edit_text | edit_caption | answer
	To       kit.ChatTarget
	Ref      kit.MessageRef
	Text     string
	Media    kit.Media
	Opt      *kit.SendOptions
	Callback string
}

// Fake records every call. Sends to chats listed in FailChats fail with
// kit.ErrDelivery.
type Fake struct {
	mu        sync.Mutex
	nextID    int
	sent      []Sent
	failChats map[int64]bool
	failAll   bool
	members   map[int64]kit.MemberStatus
	out       chan<- kit.Update
}

func New() *Fake {
	return &Fake{failChats: map[int64]bool{}, members: map[int64]kit.MemberStatus{}}
}

// FailChat makes every send or edit addressed to chatID fail.
func (f *Fake) FailChat(chatID int64) {
	f.mu.Lock()
	f.failChats[chatID] = true
	f.mu.Unlock()
}

// FailAll makes every call fail.
func (f *Fake) FailAll(fail bool) {
	f.mu.Lock()
	f.failAll = fail
	f.mu.Unlock()
}

// SetMember sets the status MemberStatus reports for userID.
func (f *Fake) SetMember(userID int64, st kit.MemberStatus) {
	f.mu.Lock()
	f.members[userID] = st
	f.mu.Unlock()
}

// Sent returns a copy of every recorded call.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns the recorded calls addressed to chatID.
func (f *Fake) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.To.ChatID == chatID || s.Ref.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Ops returns recorded calls with the given op.
func (f *Fake) Ops(op string) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.Op == op {
			out = append(out, s)
		}
	}
	return out
}

func (f *Fake) Reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

// Push delivers an update to the channel passed to Start.
func (f *Fake) Push(up kit.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	if out != nil {
		out <- up
	}
}

func (f *Fake) record(s Sent, chatID int64) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failChats[chatID] {
		return kit.MessageRef{}, fmt.Errorf("%w: chat %d unreachable", kit.ErrDelivery, chatID)
	}
	f.nextID++
	f.sent = append(f.sent, s)
	return kit.MessageRef{ChatID: chatID, MessageID: f.nextID}, nil
}

func (f *Fake) Start(ctx context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *Fake) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.out = nil
	f.mu.Unlock()
	return nil
}

func (f *Fake) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(Sent{Op: "text", To: to, Text: text, Opt: opt}, to.ChatID)
}

func (f *Fake) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(Sent{Op: "media", To: to, Media: m, Text: m.Caption, Opt: opt}, to.ChatID)
}

func (f *Fake) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	_, err := f.record(Sent{Op: "edit_text", Ref: ref, Text: text, Opt: opt}, ref.ChatID)
	return err
}

func (f *Fake) EditCaption(ctx context.Context, ref kit.MessageRef, caption string, opt *kit.SendOptions) error {
	_, err := f.record(Sent{Op: "edit_caption", Ref: ref, Text: caption, Opt: opt}, ref.ChatID)
	return err
}

func (f *Fake) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	_, err := f.record(Sent{Op: "answer", Callback: callbackID, Text: text}, 0)
	return err
}

func (f *Fake) MemberStatus(ctx context.Context, chat kit.ChatTarget, userID int64) (kit.MemberStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", fmt.Errorf("%w: member lookup failed", kit.ErrDelivery)
	}
	if st, ok := f.members[userID]; ok {
		return st, nil
	}
	return kit.MemberLeft, nil
}

var _ kit.Adapter = (*Fake)(nil)
