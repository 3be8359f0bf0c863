package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postbot/internal/eventbus"
	"postbot/internal/messages"
	"postbot/internal/notifier"
	"postbot/internal/observability/metrics"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

type Option func(*Manager)

func WithBus(b eventbus.Bus) Option {
	return func(m *Manager) {
		if b != nil {
			m.bus = b
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now for decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	store   storage.Store
	send    *notifier.Sender
	msgs    *messages.Catalog
	channel kit.ChatTarget
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	now     func() time.Time

	locks    keyLock
	reviewer Reviewer
}

func NewManager(store storage.Store, send *notifier.Sender, msgs *messages.Catalog, channel kit.ChatTarget, log logx.Logger, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if msgs == nil {
		msgs = messages.Default()
	}
	m := &Manager{
		store:   store,
		send:    send,
		msgs:    msgs,
		channel: channel,
		log:     log.With(logx.String("comp", "posts")),
		bus:     eventbus.Nop{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetReviewer wires the moderation fan-out. Call before the first Submit.
func (m *Manager) SetReviewer(r Reviewer) { m.reviewer = r }

// Submit validates the draft, persists it as pending and fans it out to the
// moderators. Banned users get ErrBanned and nothing is written.
func (m *Manager) Submit(ctx context.Context, userID int64, d Draft) (int64, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	u, err := m.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		if u.Banned {
			return 0, ErrBanned
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return 0, fmt.Errorf("load user %d: %w", userID, err)
	}

	id, err := m.store.CreatePost(ctx, storage.Post{
		UserID:    userID,
		Text:      d.Text,
		MediaKind: d.MediaKind,
		MediaRef:  d.MediaRef,
		Anonymous: d.Anonymous,
		Status:    storage.StatusPending,
		CreatedAt: m.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("create post: %w", err)
	}
	m.log.Info("post submitted", logx.Int64("post_id", id), logx.Int64("user_id", userID), logx.String("media", string(d.MediaKind)), logx.Bool("anonymous", d.Anonymous))
	m.metrics.PostSubmitted()
	m.bus.Publish(eventbus.Event{Type: eventbus.PostSubmitted, Data: SubmittedEvent{PostID: id, UserID: userID}})

	if m.reviewer != nil {
		p, err := m.store.GetPost(ctx, id)
		if err != nil {
			m.log.Warn("reload submitted post failed", logx.Int64("post_id", id), logx.Err(err))
			return id, nil
		}
		n, err := m.reviewer.Deliver(ctx, p)
		if err != nil {
			m.log.Warn("moderation fan-out failed", logx.Int64("post_id", id), logx.Err(err))
		} else if n == 0 {
			m.log.Warn("no moderator received the post", logx.Int64("post_id", id))
		}
	}
	return id, nil
}

// Moderate applies a decision to a pending post. It reports false when the
// post was already decided; only the call that reports true runs the effects.
func (m *Manager) Moderate(ctx context.Context, postID, adminID int64, d Decision) (bool, error) {
	status, ok := d.status()
	if !ok {
		return false, fmt.Errorf("unknown decision %q", d)
	}
	unlock := m.locks.lock(postID)
	defer unlock()

	p, err := m.store.GetPost(ctx, postID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load post %d: %w", postID, err)
	}
	if p.Status != storage.StatusPending {
		return false, nil
	}
	at := m.now()
	applied, err := m.store.SetPostDecision(ctx, postID, status, adminID, at)
	if err != nil {
		return false, fmt.Errorf("decide post %d: %w", postID, err)
	}
	if !applied {
		return false, nil
	}

	m.log.Info("post decided", logx.Int64("post_id", postID), logx.Int64("admin_id", adminID), logx.String("decision", string(d)))
	m.metrics.PostDecided(string(d))
	ev := DecidedEvent{PostID: postID, UserID: p.UserID, AdminID: adminID, Decision: d}
	m.bus.Publish(eventbus.Event{Type: eventbus.PostDecided, Data: ev})

	notice := messages.UserRejected
	if d == Approve {
		notice = messages.UserApproved
		if m.publish(ctx, p) {
			m.metrics.PostPublished()
			m.bus.Publish(eventbus.Event{Type: eventbus.PostPublished, Data: ev})
		}
	}
	m.send.Text(ctx, kit.ChatTarget{ChatID: p.UserID}, m.msgs.Text(notice, postID), kit.HTML(nil))
	return true, nil
}

func (m *Manager) publish(ctx context.Context, p storage.Post) bool {
	body := ChannelText(m.msgs, p)
	_, ok := m.send.Media(ctx, m.channel, kit.Media{Kind: p.MediaKind, Ref: p.MediaRef, Caption: body}, kit.HTML(nil))
	if !ok {
		m.log.Error("publish to channel failed", logx.Int64("post_id", p.ID))
	}
	return ok
}

// ChannelText renders the public form of a post.
func ChannelText(msgs *messages.Catalog, p storage.Post) string {
	if p.Anonymous {
		return msgs.Text(messages.ChannelPostAnonymous, p.Text)
	}
	return msgs.Text(messages.ChannelPost, p.Text, Author(p))
}

// Author is the public attribution: the handle, or a mention link when the
// author has none.
func Author(p storage.Post) tgui.H {
	if p.Username != "" {
		return tgui.B("@" + p.Username)
	}
	name := p.FirstName
	if name == "" {
		name = fmt.Sprintf("user %d", p.UserID)
	}
	return tgui.Mention(name, p.UserID)
}

// ListPending returns the moderation queue, oldest first.
func (m *Manager) ListPending(ctx context.Context) ([]storage.Post, error) {
	return m.store.ListPendingPosts(ctx)
}

// Get returns one post.
func (m *Manager) Get(ctx context.Context, id int64) (storage.Post, error) {
	p, err := m.store.GetPost(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Post{}, ErrNotFound
	}
	return p, err
}
