// Package posts owns the post lifecycle: a validated draft becomes a pending
// post, and exactly one moderation decision moves it to approved or rejected.
package posts

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"postbot/internal/storage"
	kit "postbot/internal/transport"
)

// MaxCaptionText bounds the text of media posts. Telegram captions hold 1024
// characters and the channel footer needs some of them. Moderation prompts
// carry a longer header and cut the text further on their own.
const MaxCaptionText = 900

// Draft is what the conversation collected.
type Draft struct {
	Text      string
	MediaKind kit.MediaKind
	MediaRef  string
	Anonymous bool
}

// Validate reports the first problem that would make the draft unpublishable.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Text) == "" {
		return invalid(ReasonEmptyText, "text is empty")
	}
	if !d.MediaKind.Valid() {
		return invalid(ReasonUnknownMedia, string(d.MediaKind))
	}
	if d.MediaKind == kit.MediaNone && d.MediaRef != "" {
		return invalid(ReasonMediaMismatch, "media reference without media")
	}
	if d.MediaKind != kit.MediaNone && d.MediaRef == "" {
		return invalid(ReasonMediaMismatch, "media without reference")
	}
	if d.MediaKind != kit.MediaNone {
		if n := utf8.RuneCountInString(d.Text); n > MaxCaptionText {
			return invalid(ReasonTooLong, fmt.Sprintf("%d characters, media posts allow %d", n, MaxCaptionText))
		}
	}
	return nil
}

type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

func (d Decision) status() (storage.PostStatus, bool) {
	switch d {
	case Approve:
		return storage.StatusApproved, true
	case Reject:
		return storage.StatusRejected, true
	}
	return "", false
}

// Reviewer hands a freshly submitted post to the moderators.
type Reviewer interface {
	Deliver(ctx context.Context, p storage.Post) (int, error)
}

// SubmittedEvent is the payload of eventbus.PostSubmitted.
type SubmittedEvent struct {
	PostID int64
	UserID int64
}

// DecidedEvent is the payload of eventbus.PostDecided and eventbus.PostPublished.
type DecidedEvent struct {
	PostID   int64
	UserID   int64
	AdminID  int64
	Decision Decision
}
