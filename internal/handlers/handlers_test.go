package handlers

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"postbot/internal/conversation"
	"postbot/internal/messages"
	"postbot/internal/moderation"
	"postbot/internal/notifier"
	"postbot/internal/notifier/broadcast"
	"postbot/internal/posts"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/internal/transport/telegram/router"
	"postbot/internal/transport/transporttest"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

const (
	admin int64 = 10
	ann   int64 = 1
)

var channel = kit.ChatTarget{ChatID: -1001}

type harness struct {
	store   storage.Store
	ad      *transporttest.Fake
	machine *conversation.Machine
	r       *router.Router
	msgs    *messages.Catalog
}

func newHarness(t *testing.T, gate bool) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.BootstrapAdmins(ctx, []int64{admin}))

	ad := transporttest.New()
	send := notifier.NewSender(ad, logx.Nop())
	msgs := messages.Default()
	mgr := posts.NewManager(st, send, msgs, channel, logx.Nop())
	gw := moderation.New(moderation.Config{}, st, mgr, send, msgs, logx.Nop())
	mgr.SetReviewer(gw)
	machine := conversation.NewMachine(conversation.NewMemoryStore(), st, mgr, logx.Nop())

	h := New(Deps{
		Store:            st,
		Adapter:          ad,
		Send:             send,
		Msgs:             msgs,
		Machine:          machine,
		Gateway:          gw,
		Broadcast:        broadcast.New(broadcast.Config{QueueSize: 1}, st, send, msgs, logx.Nop()),
		Channel:          channel,
		SubscriptionGate: gate,
	})
	r := router.New(logx.Nop(), st)
	h.Register(r)
	return &harness{store: st, ad: ad, machine: machine, r: r, msgs: msgs}
}

func (h *harness) say(t *testing.T, from kit.User, text string) {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: from.ID, From: from, Text: text, IsPrivate: true}}
	require.NoError(t, h.r.Dispatch(context.Background(), up))
}

func (h *harness) photo(t *testing.T, from kit.User, ref string) {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: from.ID, From: from, Media: kit.MediaPhoto, MediaRef: ref, IsPrivate: true}}
	require.NoError(t, h.r.Dispatch(context.Background(), up))
}

func (h *harness) last(t *testing.T, chatID int64) transporttest.Sent {
	t.Helper()
	out := h.ad.SentTo(chatID)
	require.NotEmpty(t, out)
	return out[len(out)-1]
}

func user(id int64, name string) kit.User { return kit.User{ID: id, Username: name, FirstName: "U"} }

func TestStartTracksUserAndShowsMenu(t *testing.T) {
	h := newHarness(t, false)
	h.say(t, user(ann, "ann"), "/start")

	u, err := h.store.GetUser(context.Background(), ann)
	require.NoError(t, err)
	require.Equal(t, "ann", u.Username)
	require.Equal(t, h.msgs.Text(messages.Welcome), h.last(t, ann).Text)
}

func TestSubscriptionGate(t *testing.T) {
	h := newHarness(t, true)
	h.say(t, user(ann, "ann"), "/start")
	require.Equal(t, h.msgs.Text(messages.SubscriptionRequired, "-1001"), h.last(t, ann).Text)

	h.say(t, user(ann, "ann"), h.msgs.Button(messages.BtnWritePost))
	require.Equal(t, conversation.Idle, h.machine.State(ann))

	h.say(t, user(ann, "ann"), h.msgs.Button(messages.BtnCheckSub))
	require.Equal(t, h.msgs.Text(messages.NotSubscribed, "-1001"), h.last(t, ann).Text)

	h.ad.SetMember(ann, kit.MemberMember)
	h.say(t, user(ann, "ann"), h.msgs.Button(messages.BtnCheckSub))
	require.Equal(t, h.msgs.Text(messages.Welcome), h.last(t, ann).Text)

	h.say(t, user(ann, "ann"), h.msgs.Button(messages.BtnWritePost))
	require.Equal(t, conversation.AwaitingText, h.machine.State(ann))
}

func TestConversationSubmitsPostForReview(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	u := user(ann, "ann")

	h.say(t, u, h.msgs.Button(messages.BtnWritePost))
	require.Equal(t, h.msgs.Text(messages.AskText), h.last(t, ann).Text)

	h.say(t, u, "hello <world>")
	require.Equal(t, h.msgs.Text(messages.AskMedia), h.last(t, ann).Text)

	h.photo(t, u, "PH1")
	require.Equal(t, h.msgs.Text(messages.AskAnonymity), h.last(t, ann).Text)

	h.say(t, u, h.msgs.Button(messages.BtnLeaveContact))
	preview := h.last(t, ann)
	require.Equal(t, "media", preview.Op)
	require.Equal(t, "PH1", preview.Media.Ref)
	require.Contains(t, preview.Media.Caption, "hello &lt;world&gt;")
	require.Contains(t, preview.Media.Caption, "@ann")

	h.say(t, u, h.msgs.Button(messages.BtnYesSend))
	require.Equal(t, h.msgs.Text(messages.SentForReview, int64(1)), h.last(t, ann).Text)
	require.Equal(t, conversation.Idle, h.machine.State(ann))

	p, err := h.store.GetPost(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "hello <world>", p.Text)
	require.False(t, p.Anonymous)
	require.Equal(t, storage.StatusPending, p.Status)

	prompt := h.last(t, admin)
	require.Equal(t, "media", prompt.Op)
	require.Contains(t, prompt.Media.Caption, "#1")
}

func TestRestartClearsDraft(t *testing.T) {
	h := newHarness(t, false)
	u := user(ann, "")

	h.say(t, u, h.msgs.Button(messages.BtnWritePost))
	h.say(t, u, "draft")
	h.say(t, u, h.msgs.Button(messages.BtnSkipMedia))

	// no public handle: contact cannot be attached
	h.say(t, u, h.msgs.Button(messages.BtnLeaveContact))
	require.Equal(t, h.msgs.Text(messages.NoHandle), h.last(t, ann).Text)
	require.Equal(t, conversation.AwaitingAnonymity, h.machine.State(ann))

	h.say(t, u, h.msgs.Button(messages.BtnAnonymous))
	require.Equal(t, conversation.AwaitingConfirmation, h.machine.State(ann))

	h.say(t, u, h.msgs.Button(messages.BtnNoRestart))
	require.Equal(t, conversation.AwaitingText, h.machine.State(ann))
	s, ok := h.machine.Session(ann)
	require.True(t, ok)
	require.Empty(t, s.Draft.Text)
}

func TestIdleTextIsIgnored(t *testing.T) {
	h := newHarness(t, false)
	h.say(t, user(ann, "ann"), "just chatting")
	require.Empty(t, h.ad.SentTo(ann))
}

func TestAdminCommandsAreDeniedToUsers(t *testing.T) {
	h := newHarness(t, false)
	h.say(t, user(ann, "ann"), "/ban 5")
	require.Equal(t, h.msgs.Text(messages.NotAdmin), h.last(t, ann).Text)

	_, err := h.store.GetUser(context.Background(), 5)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBanResetsConversationAndNotifies(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.say(t, user(ann, "ann"), h.msgs.Button(messages.BtnWritePost))
	require.Equal(t, conversation.AwaitingText, h.machine.State(ann))

	h.say(t, user(admin, "boss"), "/ban 1")
	require.Equal(t, h.msgs.Text(messages.BannedAdmin, int64(1)), h.last(t, admin).Text)
	require.Equal(t, h.msgs.Text(messages.BannedNotice), h.last(t, ann).Text)
	require.Equal(t, conversation.Idle, h.machine.State(ann))

	u, err := h.store.GetUser(ctx, ann)
	require.NoError(t, err)
	require.True(t, u.Banned)

	h.say(t, user(ann, "ann"), h.msgs.Button(messages.BtnWritePost))
	require.Equal(t, h.msgs.Text(messages.BannedNotice), h.last(t, ann).Text)
	require.Equal(t, conversation.Idle, h.machine.State(ann))

	h.say(t, user(admin, "boss"), "/unban 1")
	u, err = h.store.GetUser(ctx, ann)
	require.NoError(t, err)
	require.False(t, u.Banned)
	require.Equal(t, h.msgs.Text(messages.UnbannedNotice), h.last(t, ann).Text)
}

func TestBanRequiresNumericID(t *testing.T) {
	h := newHarness(t, false)
	h.say(t, user(admin, "boss"), "/ban @ann")
	require.Equal(t, h.msgs.Text(messages.Usage, "/ban ID"), h.last(t, admin).Text)
}

func TestAdminManagement(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	boss := user(admin, "boss")

	h.say(t, boss, "/addadmin 30")
	require.Equal(t, h.msgs.Text(messages.AdminAdded, int64(30)), h.last(t, admin).Text)
	h.say(t, boss, "/addadmin 30")
	require.Equal(t, h.msgs.Text(messages.AdminExists, int64(30)), h.last(t, admin).Text)

	h.say(t, boss, "/deladmin 10")
	require.Equal(t, h.msgs.Text(messages.CannotRemoveSelf), h.last(t, admin).Text)

	h.say(t, boss, "/deladmin 30")
	require.Equal(t, h.msgs.Text(messages.AdminRemoved, int64(30)), h.last(t, admin).Text)
	ok, err := h.store.IsAdmin(ctx, 30)
	require.NoError(t, err)
	require.False(t, ok)

	h.say(t, boss, "/deladmin 30")
	require.Equal(t, h.msgs.Text(messages.AdminMissing, int64(30)), h.last(t, admin).Text)
}

func TestStats(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, err := h.store.UpsertUser(ctx, storage.User{ID: ann, Username: "ann"})
	require.NoError(t, err)
	_, err = h.store.CreatePost(ctx, storage.Post{UserID: ann, Text: "x"})
	require.NoError(t, err)

	h.say(t, user(admin, "boss"), "/stats")
	// the admin is tracked by the request itself
	require.Equal(t, h.msgs.Text(messages.Stats, 2, 0, 1, 1, 0, 0), h.last(t, admin).Text)

	h.say(t, user(admin, "boss"), "/stats 1")
	require.Equal(t, "User @ann (1): 1 posts, banned: no", h.last(t, admin).Text)

	h.say(t, user(admin, "boss"), "/stats 404")
	require.Equal(t, h.msgs.Text(messages.UserUnknown, int64(404)), h.last(t, admin).Text)
}

func TestBroadcastCommand(t *testing.T) {
	h := newHarness(t, false)
	boss := user(admin, "boss")

	h.say(t, boss, "/broadcast   ")
	require.Equal(t, h.msgs.Text(messages.Usage, "/broadcast TEXT"), h.last(t, admin).Text)

	h.say(t, boss, "/rasil big news")
	require.Contains(t, h.last(t, admin).Text, "big news")

	// the dispatcher is not started, so its single queue slot stays taken
	h.say(t, boss, "/broadcast again")
	require.Equal(t, h.msgs.Text(messages.BroadcastQueueFull), h.last(t, admin).Text)
}

func TestModerationButtonPublishes(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	u := user(ann, "ann")
	h.say(t, u, h.msgs.Button(messages.BtnWritePost))
	h.say(t, u, "publish me")
	h.say(t, u, h.msgs.Button(messages.BtnSkipMedia))
	h.say(t, u, h.msgs.Button(messages.BtnAnonymous))
	h.say(t, u, h.msgs.Button(messages.BtnYesSend))

	refs, err := h.store.ListPrompts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	cb := &kit.Callback{
		ID:        "cb1",
		From:      user(admin, "boss"),
		ChatID:    refs[0].ChatID,
		MessageID: refs[0].MessageID,
		Data:      tgui.Data(moderation.CallbackScope, string(posts.Approve), strconv.FormatInt(1, 10)),
	}
	require.NoError(t, h.r.Dispatch(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: cb}))

	out := h.ad.SentTo(channel.ChatID)
	require.Len(t, out, 1)
	require.Equal(t, "publish me", out[0].Text)
	require.Equal(t, h.msgs.Text(messages.UserApproved, int64(1)), h.last(t, ann).Text)

	p, err := h.store.GetPost(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, storage.StatusApproved, p.Status)
}

func TestPendingRedeliversQueue(t *testing.T) {
	h := newHarness(t, false)
	boss := user(admin, "boss")
	h.say(t, boss, "/pending")
	require.Equal(t, h.msgs.Text(messages.PendingEmpty), h.last(t, admin).Text)

	_, err := h.store.CreatePost(context.Background(), storage.Post{UserID: ann, Text: "waiting"})
	require.NoError(t, err)
	h.say(t, boss, "/pending")
	require.Equal(t, h.msgs.Text(messages.PendingRedelivered, 1), h.last(t, admin).Text)
}
