package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postbot/internal/posts"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

// Users answers the ban check.
type Users interface {
	GetUser(ctx context.Context, id int64) (storage.User, error)
}

// Submitter persists a confirmed draft.
type Submitter interface {
	Submit(ctx context.Context, userID int64, d posts.Draft) (int64, error)
}

// Machine applies inputs to sessions. Calls for the same user must not
// overlap; the update loop guarantees that.
type Machine struct {
	sessions SessionStore
	users    Users
	posts    Submitter
	log      logx.Logger
	now      func() time.Time
}

func NewMachine(sessions SessionStore, users Users, submitter Submitter, log logx.Logger) *Machine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Machine{
		sessions: sessions,
		users:    users,
		posts:    submitter,
		log:      log.With(logx.String("comp", "conversation")),
		now:      time.Now,
	}
}

// State returns the user's current state.
func (m *Machine) State(userID int64) State {
	if s, ok := m.sessions.Get(userID); ok {
		return s.State
	}
	return Idle
}

// Session returns the user's session, if any.
func (m *Machine) Session(userID int64) (Session, bool) {
	return m.sessions.Get(userID)
}

// Reset drops the user's session, if any.
func (m *Machine) Reset(userID int64) { m.sessions.Delete(userID) }

// Handle applies one input. Inputs that do not fit the current state are
// ignored: the result has ReplyNone and nothing changes.
func (m *Machine) Handle(ctx context.Context, in Input) (Result, error) {
	cur, _ := m.sessions.Get(in.UserID)
	res := Result{From: cur.State, To: cur.State, Draft: cur.Draft}

	banned, err := m.banned(ctx, in.UserID)
	if err != nil {
		return res, err
	}
	if banned {
		res.Reply = ReplyBanned
		return res, nil
	}

	next := cur
	switch {
	case in.Kind == InputCreate:
		next = Session{State: AwaitingText}
		res.Reply = ReplyAskText

	case cur.State == AwaitingText && in.Kind == InputText:
		next.Draft.Text = in.Text
		next.State = AwaitingMedia
		res.Reply = ReplyAskMedia

	case cur.State == AwaitingMedia && (in.Kind == InputPhoto || in.Kind == InputVideo):
		next.Draft.MediaKind = kit.MediaPhoto
		if in.Kind == InputVideo {
			next.Draft.MediaKind = kit.MediaVideo
		}
		next.Draft.MediaRef = in.MediaRef
		next.State = AwaitingAnonymity
		res.Reply = ReplyAskAnonymity

	case cur.State == AwaitingMedia && in.Kind == InputSkip:
		next.Draft.MediaKind = kit.MediaNone
		next.Draft.MediaRef = ""
		next.State = AwaitingAnonymity
		res.Reply = ReplyAskAnonymity

	case cur.State == AwaitingAnonymity && in.Kind == InputAnonymous:
		next.Draft.Anonymous = true
		next.State = AwaitingConfirmation
		res.Reply = ReplyPreview

	case cur.State == AwaitingAnonymity && in.Kind == InputAttributed:
		if in.Username == "" {
			res.Reply = ReplyNoHandle
			return res, nil
		}
		next.Draft.Anonymous = false
		next.State = AwaitingConfirmation
		res.Reply = ReplyPreview

	case cur.State == AwaitingConfirmation && in.Kind == InputRestart:
		next = Session{State: AwaitingText}
		res.Reply = ReplyAskText

	case cur.State == AwaitingConfirmation && in.Kind == InputConfirm:
		return m.confirm(ctx, in.UserID, cur, res)

	default:
		return res, nil
	}

	next.UpdatedAt = m.now()
	m.sessions.Put(in.UserID, next)
	res.To = next.State
	res.Draft = next.Draft
	m.log.Debug("transition", logx.Int64("user_id", in.UserID), logx.String("input", in.Kind.String()), logx.String("from", res.From.String()), logx.String("to", res.To.String()))
	return res, nil
}

func (m *Machine) confirm(ctx context.Context, userID int64, cur Session, res Result) (Result, error) {
	id, err := m.posts.Submit(ctx, userID, cur.Draft)
	var ve *posts.ValidationError
	switch {
	case err == nil:
		m.sessions.Delete(userID)
		res.To = Idle
		res.Draft = posts.Draft{}
		res.Reply = ReplySubmitted
		res.PostID = id
		return res, nil
	case errors.As(err, &ve):
		m.sessions.Put(userID, Session{State: AwaitingText, UpdatedAt: m.now()})
		res.To = AwaitingText
		res.Draft = posts.Draft{}
		res.Reply = ReplyInvalid
		res.Invalid = ve
		return res, nil
	case errors.Is(err, posts.ErrBanned):
		m.sessions.Delete(userID)
		res.To = Idle
		res.Reply = ReplyBanned
		return res, nil
	default:
		// keep the draft so the user can confirm again
		return res, fmt.Errorf("submit draft: %w", err)
	}
}

func (m *Machine) banned(ctx context.Context, userID int64) (bool, error) {
	u, err := m.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user %d: %w", userID, err)
	}
	return u.Banned, nil
}
