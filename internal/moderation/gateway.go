// Package moderation delivers pending posts to the moderators and turns
// their button presses into lifecycle decisions.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"postbot/internal/messages"
	"postbot/internal/notifier"
	"postbot/internal/posts"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

// CallbackScope prefixes the callback data of moderation buttons.
const CallbackScope = "mod"

const (
	ModePerAdmin = "per_admin"
	ModeGroup    = "group"
)

var ErrBadCallback = errors.New("malformed moderation callback")

// Lifecycle is the part of posts.Manager the gateway drives.
type Lifecycle interface {
	Moderate(ctx context.Context, postID, adminID int64, d posts.Decision) (bool, error)
	Get(ctx context.Context, id int64) (storage.Post, error)
	ListPending(ctx context.Context) ([]storage.Post, error)
}

// Store is the storage surface the gateway needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (storage.User, error)
	IsAdmin(ctx context.Context, id int64) (bool, error)
	ListAdminIDs(ctx context.Context) ([]int64, error)
	SavePrompt(ctx context.Context, p storage.PromptRef) error
	ListPrompts(ctx context.Context, postID int64) ([]storage.PromptRef, error)
}

type Config struct {
	// Mode is ModePerAdmin (default) or ModeGroup.
	Mode string
	// ReviewChat receives the single prompt in group mode.
	ReviewChat kit.ChatTarget
}

// Prompt is a rendered moderation message.
type Prompt struct {
	Text   string
	Media  kit.Media
	Markup *tele.ReplyMarkup
}

// Resolution is a parsed moderation button press.
type Resolution struct {
	PostID   int64
	AdminID  int64
	Decision posts.Decision
}

// Outcome reports what Decide did.
type Outcome struct {
	Resolution
	Applied bool // this press decided the post
	Denied  bool // caller is not an admin
	Missing bool // post does not exist
}

type Gateway struct {
	cfg   Config
	store Store
	posts Lifecycle
	send  *notifier.Sender
	msgs  *messages.Catalog
	log   logx.Logger
}

func New(cfg Config, store Store, lc Lifecycle, send *notifier.Sender, msgs *messages.Catalog, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	if msgs == nil {
		msgs = messages.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePerAdmin
	}
	return &Gateway{
		cfg:   cfg,
		store: store,
		posts: lc,
		send:  send,
		msgs:  msgs,
		log:   log.With(logx.String("comp", "moderation")),
	}
}

// Render builds the prompt admins see for p, with decision buttons.
func (g *Gateway) Render(p storage.Post) (Prompt, error) {
	id := strconv.FormatInt(p.ID, 10)
	approve, err := tgui.SafeData(CallbackScope, string(posts.Approve), id)
	if err != nil {
		return Prompt{}, fmt.Errorf("approve button: %w", err)
	}
	reject, err := tgui.SafeData(CallbackScope, string(posts.Reject), id)
	if err != nil {
		return Prompt{}, fmt.Errorf("reject button: %w", err)
	}
	kb := tgui.NewInline().Row(
		tgui.Btn(g.msgs.Button(messages.BtnApprove), approve),
		tgui.Btn(g.msgs.Button(messages.BtnReject), reject),
	)
	body := g.body(p)
	return Prompt{
		Text:   body,
		Media:  kit.Media{Kind: p.MediaKind, Ref: p.MediaRef, Caption: body},
		Markup: kb.Markup(),
	}, nil
}

// body renders the prompt text. For media posts the post text is cut so that
// the prompt, and later the prompt plus the decided line, fit in a caption.
func (g *Gateway) body(p storage.Post) string {
	var author string
	if p.Username != "" {
		author = g.msgs.Text(messages.ModAuthor, p.Username, p.UserID)
	} else {
		name := p.FirstName
		if name == "" {
			name = "-"
		}
		author = g.msgs.Text(messages.ModAuthorNoHandle, name, p.UserID)
	}
	render := func(text string) string {
		return g.msgs.Text(messages.ModPrompt, p.ID, tgui.Raw(author), tgui.Raw(MediaStatus(g.msgs, p.MediaKind)), tgui.Raw(Contact(g.msgs, p.Anonymous, p.Username)), text)
	}
	if p.MediaKind == kit.MediaNone {
		return render(p.Text)
	}
	room := tgui.MaxCaptionLen - tgui.PlainLen(render("")) - g.decidedRoom(p.ID)
	return render(tgui.TruncUTF16(p.Text, room))
}

// maxUsernameLen is the longest public handle Telegram allows.
const maxUsernameLen = 32

// decidedRoom is the caption space the longest possible decided line takes.
func (g *Gateway) decidedRoom(postID int64) int {
	admin := "@" + strings.Repeat("w", maxUsernameLen)
	n := 0
	for _, k := range []messages.Key{messages.ModDecidedApproved, messages.ModDecidedRejected} {
		n = max(n, tgui.PlainLen(decidedSep+g.msgs.Text(k, postID, admin)))
	}
	return n
}

// MediaStatus renders the media line shared by prompts and previews.
func MediaStatus(msgs *messages.Catalog, k kit.MediaKind) string {
	switch k {
	case kit.MediaPhoto:
		return msgs.Text(messages.MediaPhoto)
	case kit.MediaVideo:
		return msgs.Text(messages.MediaVideo)
	}
	return msgs.Text(messages.MediaNone)
}

// Contact renders the attribution choice shared by prompts and previews.
func Contact(msgs *messages.Catalog, anonymous bool, username string) string {
	if anonymous || username == "" {
		return msgs.Text(messages.ContactAnonymous)
	}
	return msgs.Text(messages.ContactHandle, username)
}

func (g *Gateway) targets(ctx context.Context) ([]kit.ChatTarget, error) {
	if g.cfg.Mode == ModeGroup {
		return []kit.ChatTarget{g.cfg.ReviewChat}, nil
	}
	ids, err := g.store.ListAdminIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	out := make([]kit.ChatTarget, 0, len(ids))
	for _, id := range ids {
		out = append(out, kit.ChatTarget{ChatID: id})
	}
	return out, nil
}

// Deliver sends the prompt for p to every moderator and records where each
// copy landed. A failed copy does not stop the others.
func (g *Gateway) Deliver(ctx context.Context, p storage.Post) (int, error) {
	targets, err := g.targets(ctx)
	if err != nil {
		return 0, err
	}
	pr, err := g.Render(p)
	if err != nil {
		return 0, err
	}
	opt := kit.HTML(pr.Markup)
	hasMedia := p.MediaKind != kit.MediaNone && p.MediaRef != ""

	delivered := 0
	for _, to := range targets {
		ref, ok := g.send.Media(ctx, to, pr.Media, opt)
		if !ok {
			continue
		}
		delivered++
		if err := g.store.SavePrompt(ctx, storage.PromptRef{PostID: p.ID, ChatID: ref.ChatID, MessageID: ref.MessageID, HasMedia: hasMedia}); err != nil {
			g.log.Warn("record prompt failed", logx.Int64("post_id", p.ID), logx.Int64("chat_id", ref.ChatID), logx.Err(err))
		}
	}
	g.log.Debug("prompt delivered", logx.Int64("post_id", p.ID), logx.String("mode", g.cfg.Mode), logx.Int("delivered", delivered), logx.Int("targets", len(targets)))
	return delivered, nil
}

// Redeliver re-sends prompts for the whole queue, oldest first. It returns
// how many posts reached at least one moderator.
func (g *Gateway) Redeliver(ctx context.Context) (int, error) {
	pending, err := g.posts.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	n := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		got, err := g.Deliver(ctx, p)
		if err != nil {
			return n, err
		}
		if got > 0 {
			n++
		}
	}
	return n, nil
}

// Resolve parses "mod:<decision>:<post id>" callback data.
func (g *Gateway) Resolve(cb kit.Callback) (Resolution, error) {
	scope, action, payload, err := tgui.ParseData(cb.Data)
	if err != nil || scope != CallbackScope {
		return Resolution{}, ErrBadCallback
	}
	d := posts.Decision(action)
	if d != posts.Approve && d != posts.Reject {
		return Resolution{}, fmt.Errorf("%w: decision %q", ErrBadCallback, action)
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return Resolution{}, fmt.Errorf("%w: post id %q", ErrBadCallback, payload)
	}
	return Resolution{PostID: id, AdminID: cb.From.ID, Decision: d}, nil
}

// Decide handles one moderation button press end to end.
func (g *Gateway) Decide(ctx context.Context, cb kit.Callback) (Outcome, error) {
	r, err := g.Resolve(cb)
	if err != nil {
		g.send.Answer(ctx, cb.ID, "")
		return Outcome{}, err
	}
	out := Outcome{Resolution: r}

	isAdmin, err := g.store.IsAdmin(ctx, r.AdminID)
	if err != nil {
		g.send.Answer(ctx, cb.ID, g.msgs.Text(messages.CommandError))
		return out, fmt.Errorf("check admin %d: %w", r.AdminID, err)
	}
	if !isAdmin {
		out.Denied = true
		g.send.Answer(ctx, cb.ID, g.msgs.Text(messages.ModNotAdmin))
		return out, nil
	}

	applied, err := g.posts.Moderate(ctx, r.PostID, r.AdminID, r.Decision)
	if errors.Is(err, posts.ErrNotFound) {
		out.Missing = true
		g.send.Answer(ctx, cb.ID, g.msgs.Text(messages.ModPostMissing))
		return out, nil
	}
	if err != nil {
		g.send.Answer(ctx, cb.ID, g.msgs.Text(messages.CommandError))
		return out, err
	}
	out.Applied = applied

	p, err := g.posts.Get(ctx, r.PostID)
	if err != nil {
		return out, fmt.Errorf("reload post %d: %w", r.PostID, err)
	}
	clicked := storage.PromptRef{PostID: p.ID, ChatID: cb.ChatID, MessageID: cb.MessageID, HasMedia: cb.HasMedia}

	if !applied {
		g.send.Answer(ctx, cb.ID, g.msgs.Text(messages.ModAlreadyDecided))
		g.rewrite(ctx, p, []storage.PromptRef{clicked})
		return out, nil
	}

	answer := messages.ModAnswerRejected
	if r.Decision == posts.Approve {
		answer = messages.ModAnswerApproved
	}
	g.send.Answer(ctx, cb.ID, g.msgs.Text(answer))

	refs, err := g.store.ListPrompts(ctx, p.ID)
	if err != nil {
		g.log.Warn("list prompts failed", logx.Int64("post_id", p.ID), logx.Err(err))
	}
	g.rewrite(ctx, p, appendUnique(refs, clicked))
	return out, nil
}

// rewrite replaces prompts with the final status and drops their buttons.
func (g *Gateway) rewrite(ctx context.Context, p storage.Post, refs []storage.PromptRef) {
	text := g.decidedText(ctx, p)
	for _, ref := range refs {
		if ref.ChatID == 0 || ref.MessageID == 0 {
			continue
		}
		g.send.Edit(ctx, kit.MessageRef{ChatID: ref.ChatID, MessageID: ref.MessageID}, ref.HasMedia, text, kit.HTML(nil))
	}
}

func (g *Gateway) decidedText(ctx context.Context, p storage.Post) string {
	admin := tgui.Esc(strconv.FormatInt(p.DecidedBy, 10))
	if u, err := g.store.GetUser(ctx, p.DecidedBy); err == nil && u.Username != "" {
		admin = tgui.Esc("@" + u.Username)
	}
	key := messages.ModDecidedRejected
	if p.Status == storage.StatusApproved {
		key = messages.ModDecidedApproved
	}
	return g.body(p) + decidedSep + g.msgs.Text(key, p.ID, admin)
}

const decidedSep = "\n\n"

func appendUnique(refs []storage.PromptRef, ref storage.PromptRef) []storage.PromptRef {
	for _, r := range refs {
		if r.ChatID == ref.ChatID && r.MessageID == ref.MessageID {
			return refs
		}
	}
	return append(refs, ref)
}
