package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// MediaKind is the attachment carried by a message or a post.
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaNone, MediaPhoto, MediaVideo:
		return true
	}
	return false
}

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type User struct {
	ID        int64
	Username  string // without "@", may be empty
	FirstName string
}

type Message struct {
	ID        int
	ChatID    int64
	From      User
	Text      string // text or caption
	Media     MediaKind
	MediaRef  string // platform file id
	IsPrivate bool
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	MessageID int
	Data      string
	HasMedia  bool // the message carrying the button is a photo/video
}

// ChatTarget addresses a chat either by numeric id or by public @username.
type ChatTarget struct {
	ChatID   int64
	Username string
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

// ParseTarget accepts "@name", "name" or a numeric chat id such as "-100123".
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, errors.New("empty chat")
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ChatTarget{ChatID: id}, nil
	}
	name := strings.TrimPrefix(s, "@")
	if name == "" || strings.ContainsAny(name, " @/") {
		return ChatTarget{}, fmt.Errorf("invalid chat %q", s)
	}
	return ChatTarget{Username: name}, nil
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ParseModeHTML selects Telegram's HTML formatting.
const ParseModeHTML = "HTML"

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyMarkup    any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
	RemoveKeyboard bool
}

// HTML returns send options for HTML text with an optional markup.
func HTML(markup any) *SendOptions {
	return &SendOptions{ParseMode: ParseModeHTML, DisablePreview: true, ReplyMarkup: markup}
}

type Media struct {
	Kind    MediaKind
	Ref     string
	Caption string
}

// MemberStatus is a user's role in a chat as reported by the platform.
type MemberStatus string

const (
	MemberCreator       MemberStatus = "creator"
	MemberAdministrator MemberStatus = "administrator"
	MemberMember        MemberStatus = "member"
	MemberRestricted    MemberStatus = "restricted"
	MemberLeft          MemberStatus = "left"
	MemberKicked        MemberStatus = "kicked"
)

// Subscribed reports whether the status counts as an active subscription.
func (s MemberStatus) Subscribed() bool {
	switch s {
	case MemberCreator, MemberAdministrator, MemberMember:
		return true
	}
	return false
}

// ErrDelivery wraps every failure to hand a message to the platform.
var ErrDelivery = errors.New("channel delivery failed")

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	EditCaption(ctx context.Context, ref MessageRef, caption string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	MemberStatus(ctx context.Context, chat ChatTarget, userID int64) (MemberStatus, error)
}

// BotCommand is one entry in the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
