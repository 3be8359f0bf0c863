// Package conversation drives the per-user dialogue that turns a few
// messages into a post draft.
//
// The machine knows nothing about Telegram: it consumes typed inputs and
// returns the transition together with the reply the caller should render.
package conversation

import (
	"time"

	"postbot/internal/posts"
)

type State int

const (
	Idle State = iota
	AwaitingText
	AwaitingMedia
	AwaitingAnonymity
	AwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingText:
		return "awaiting_text"
	case AwaitingMedia:
		return "awaiting_media"
	case AwaitingAnonymity:
		return "awaiting_anonymity"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	}
	return "unknown"
}

type Session struct {
	State     State
	Draft     posts.Draft
	UpdatedAt time.Time
}

type InputKind int

const (
	InputCreate InputKind = iota + 1
	InputText
	InputPhoto
	InputVideo
	InputSkip
	InputAnonymous
	InputAttributed
	InputConfirm
	InputRestart
)

func (k InputKind) String() string {
	switch k {
	case InputCreate:
		return "create"
	case InputText:
		return "text"
	case InputPhoto:
		return "photo"
	case InputVideo:
		return "video"
	case InputSkip:
		return "skip"
	case InputAnonymous:
		return "anonymous"
	case InputAttributed:
		return "attributed"
	case InputConfirm:
		return "confirm"
	case InputRestart:
		return "restart"
	}
	return "unknown"
}

// Input is one classified user action.
type Input struct {
	Kind     InputKind
	UserID   int64
	Username string // public handle, empty when the user has none
	Text     string
	MediaRef string
}

// Reply tells the caller what to show after a transition.
type Reply int

const (
	ReplyNone Reply = iota
	ReplyBanned
	ReplyAskText
	ReplyAskMedia
	ReplyAskAnonymity
	ReplyNoHandle
	ReplyPreview
	ReplySubmitted
	ReplyInvalid
)

type Result struct {
	From  State
	To    State
	Reply Reply
	// Draft is the session draft after the transition.
	Draft posts.Draft
	// PostID is set on ReplySubmitted.
	PostID int64
	// Invalid is set on ReplyInvalid.
	Invalid *posts.ValidationError
}

// Handled reports whether the input matched the current state.
func (r Result) Handled() bool { return r.Reply != ReplyNone }
