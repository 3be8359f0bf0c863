package moderation

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"postbot/internal/messages"
	"postbot/internal/notifier"
	"postbot/internal/posts"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/internal/transport/transporttest"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

var channel = kit.ChatTarget{ChatID: -1001}

type harness struct {
	store storage.Store
	ad    *transporttest.Fake
	mgr   *posts.Manager
	gw    *Gateway
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.BootstrapAdmins(ctx, []int64{10, 20}))
	_, err = st.UpsertUser(ctx, storage.User{ID: 10, Username: "boss"})
	require.NoError(t, err)
	_, err = st.UpsertUser(ctx, storage.User{ID: 1, Username: "ann", FirstName: "Ann"})
	require.NoError(t, err)

	ad := transporttest.New()
	send := notifier.NewSender(ad, logx.Nop())
	mgr := posts.NewManager(st, send, nil, channel, logx.Nop())
	gw := New(cfg, st, mgr, send, nil, logx.Nop())
	mgr.SetReviewer(gw)
	return &harness{store: st, ad: ad, mgr: mgr, gw: gw}
}

func (h *harness) submit(t *testing.T, d posts.Draft) int64 {
	t.Helper()
	id, err := h.mgr.Submit(context.Background(), 1, d)
	require.NoError(t, err)
	return id
}

func click(adminID int64, data string, ref storage.PromptRef) kit.Callback {
	return kit.Callback{ID: "cb", From: kit.User{ID: adminID}, ChatID: ref.ChatID, MessageID: ref.MessageID, Data: data, HasMedia: ref.HasMedia}
}

func TestRenderShowsAuthorAndButtons(t *testing.T) {
	h := newHarness(t, Config{})
	pr, err := h.gw.Render(storage.Post{ID: 5, UserID: 1, Username: "ann", Text: "a<b", Anonymous: true})
	require.NoError(t, err)

	require.Contains(t, pr.Text, "@ann (1)")
	require.Contains(t, pr.Text, "a&lt;b")
	require.Contains(t, pr.Text, "#5")
	require.Contains(t, pr.Text, "Contact: anonymous")

	rows := pr.Markup.InlineKeyboard
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 2)
	require.Equal(t, "mod:approve:5", rows[0][0].Data)
	require.Equal(t, "mod:reject:5", rows[0][1].Data)
}

func TestMediaPromptFitsCaptionLimit(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	handle := strings.Repeat("h", 32)
	_, err := h.store.UpsertUser(ctx, storage.User{ID: 30, Username: strings.Repeat("a", 32)})
	require.NoError(t, err)

	p := storage.Post{
		ID: 12345, UserID: 2, Username: handle,
		Text:      strings.Repeat("я", posts.MaxCaptionText),
		MediaKind: kit.MediaPhoto, MediaRef: "PH",
	}
	pr, err := h.gw.Render(p)
	require.NoError(t, err)
	require.LessOrEqual(t, tgui.PlainLen(pr.Media.Caption), tgui.MaxCaptionLen)
	require.Contains(t, pr.Media.Caption, "@"+handle)
	require.Contains(t, pr.Media.Caption, "…")

	for _, st := range []storage.PostStatus{storage.StatusApproved, storage.StatusRejected} {
		p.Status, p.DecidedBy = st, 30
		decided := h.gw.decidedText(ctx, p)
		require.LessOrEqual(t, tgui.PlainLen(decided), tgui.MaxCaptionLen, st)
		require.Contains(t, decided, "by @"+strings.Repeat("a", 32))
	}

	// short media posts and text posts keep their full text
	short := storage.Post{ID: 7, UserID: 1, Username: "ann", Text: "short one", MediaKind: kit.MediaVideo, MediaRef: "V"}
	pr, err = h.gw.Render(short)
	require.NoError(t, err)
	require.Contains(t, pr.Media.Caption, "short one")

	long := storage.Post{ID: 8, UserID: 1, Username: handle, Text: strings.Repeat("x", 2000)}
	pr, err = h.gw.Render(long)
	require.NoError(t, err)
	require.Contains(t, pr.Text, long.Text)
}

func TestDeliverPerAdminSurvivesOneFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.ad.FailChat(20)
	id := h.submit(t, posts.Draft{Text: "hi", MediaKind: kit.MediaPhoto, MediaRef: "PH"})

	require.Len(t, h.ad.SentTo(10), 1)
	require.Equal(t, "media", h.ad.SentTo(10)[0].Op)
	require.Empty(t, h.ad.SentTo(20))

	refs, err := h.store.ListPrompts(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, int64(10), refs[0].ChatID)
	require.True(t, refs[0].HasMedia)
}

func TestDeliverGroupMode(t *testing.T) {
	h := newHarness(t, Config{Mode: ModeGroup, ReviewChat: kit.ChatTarget{ChatID: -500}})
	id := h.submit(t, posts.Draft{Text: "hi"})

	require.Len(t, h.ad.SentTo(-500), 1)
	require.Empty(t, h.ad.SentTo(10))
	refs, err := h.store.ListPrompts(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.False(t, refs[0].HasMedia)
}

func TestResolve(t *testing.T) {
	h := newHarness(t, Config{})
	r, err := h.gw.Resolve(kit.Callback{From: kit.User{ID: 10}, Data: "mod:reject:42"})
	require.NoError(t, err)
	require.Equal(t, Resolution{PostID: 42, AdminID: 10, Decision: posts.Reject}, r)

	for _, bad := range []string{"", "mod", "x:approve:1", "mod:maybe:1", "mod:approve:", "mod:approve:-3"} {
		_, err := h.gw.Resolve(kit.Callback{Data: bad})
		require.ErrorIs(t, err, ErrBadCallback, bad)
	}
}

func TestDecideRewritesEveryPrompt(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := h.submit(t, posts.Draft{Text: "news"})
	refs, err := h.store.ListPrompts(ctx, id)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	h.ad.Reset()

	out, err := h.gw.Decide(ctx, click(10, "mod:approve:"+itoa(id), refs[0]))
	require.NoError(t, err)
	require.True(t, out.Applied)

	answers := h.ad.Ops("answer")
	require.Len(t, answers, 1)
	require.Equal(t, messages.Default().Text(messages.ModAnswerApproved), answers[0].Text)

	edits := h.ad.Ops("edit_text")
	require.Len(t, edits, 2)
	for _, e := range edits {
		require.Contains(t, e.Text, "approved by @boss")
		require.Nil(t, e.Opt.ReplyMarkup)
	}
	require.Len(t, h.ad.SentTo(channel.ChatID), 1)
}

func TestDecideMissAnswersAlreadyDecided(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := h.submit(t, posts.Draft{Text: "news"})
	refs, err := h.store.ListPrompts(ctx, id)
	require.NoError(t, err)

	_, err = h.gw.Decide(ctx, click(10, "mod:reject:"+itoa(id), refs[0]))
	require.NoError(t, err)
	h.ad.Reset()

	out, err := h.gw.Decide(ctx, click(20, "mod:approve:"+itoa(id), refs[1]))
	require.NoError(t, err)
	require.False(t, out.Applied)

	answers := h.ad.Ops("answer")
	require.Len(t, answers, 1)
	require.Equal(t, messages.Default().Text(messages.ModAlreadyDecided), answers[0].Text)

	edits := h.ad.Ops("edit_text")
	require.Len(t, edits, 1)
	require.Equal(t, refs[1].ChatID, edits[0].Ref.ChatID)
	require.Contains(t, edits[0].Text, "rejected by @boss")
	require.Empty(t, h.ad.SentTo(channel.ChatID))
}

func TestDecideDeniesNonAdmin(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := h.submit(t, posts.Draft{Text: "news"})

	out, err := h.gw.Decide(ctx, kit.Callback{ID: "cb", From: kit.User{ID: 1}, Data: "mod:approve:" + itoa(id)})
	require.NoError(t, err)
	require.True(t, out.Denied)

	p, err := h.mgr.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, storage.StatusPending, p.Status)
}

func TestDecideMissingPost(t *testing.T) {
	h := newHarness(t, Config{})
	out, err := h.gw.Decide(context.Background(), kit.Callback{ID: "cb", From: kit.User{ID: 10}, Data: "mod:approve:999"})
	require.NoError(t, err)
	require.True(t, out.Missing)
	require.Equal(t, messages.Default().Text(messages.ModPostMissing), h.ad.Ops("answer")[0].Text)
}

func TestRedeliverSendsWholeQueue(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.submit(t, posts.Draft{Text: "one"})
	h.submit(t, posts.Draft{Text: "two"})
	h.ad.Reset()

	n, err := h.gw.Redeliver(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	toBoss := h.ad.SentTo(10)
	require.Len(t, toBoss, 2)
	require.Contains(t, toBoss[0].Text, "one")
	require.Contains(t, toBoss[1].Text, "two")
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
