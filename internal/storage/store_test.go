package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	s := &sqlStore{numbered: true}
	require.Equal(t, "SELECT $1, $2", s.q("SELECT ?, ?"))
	require.Equal(t, "SELECT ?", (&sqlStore{}).q("SELECT ?"))
}

func TestUpsertUserReportsNew(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	isNew, err := st.UpsertUser(ctx, User{ID: 10, Username: "ann", FirstName: "Ann"})
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = st.UpsertUser(ctx, User{ID: 10, Username: "ann2", FirstName: "Ann"})
	require.NoError(t, err)
	require.False(t, isNew)

	u, err := st.GetUser(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "ann2", u.Username)
	require.False(t, u.Banned)
	require.False(t, u.CreatedAt.IsZero())

	_, err = st.GetUser(ctx, 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBanExcludesFromActiveUsers(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	for _, id := range []int64{3, 1, 2} {
		_, err := st.UpsertUser(ctx, User{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, st.SetBanned(ctx, 2, true))
	// banning an unknown user creates the row
	require.NoError(t, st.SetBanned(ctx, 7, true))

	ids, err := st.ListActiveUserIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, ids)

	u, err := st.GetUser(ctx, 7)
	require.NoError(t, err)
	require.True(t, u.Banned)

	require.NoError(t, st.SetBanned(ctx, 2, false))
	ids, err = st.ListActiveUserIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)
}

func TestPostRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	_, err := st.UpsertUser(ctx, User{ID: 5, Username: "bob"})
	require.NoError(t, err)

	id, err := st.CreatePost(ctx, Post{UserID: 5, Text: "hi <b>", MediaKind: kit.MediaPhoto, MediaRef: "F1", Anonymous: true})
	require.NoError(t, err)
	require.Positive(t, id)

	p, err := st.GetPost(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "hi <b>", p.Text)
	require.Equal(t, kit.MediaPhoto, p.MediaKind)
	require.Equal(t, "F1", p.MediaRef)
	require.True(t, p.Anonymous)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, "bob", p.Username)
	require.True(t, p.ReviewedAt.IsZero())

	_, err = st.GetPost(ctx, id+100)
	require.ErrorIs(t, err, ErrNotFound)

	n, err := st.CountUserPosts(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSetPostDecisionIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	id, err := st.CreatePost(ctx, Post{UserID: 1, Text: "x"})
	require.NoError(t, err)

	at := time.Now()
	ok, err := st.SetPostDecision(ctx, id, StatusApproved, 42, at)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.SetPostDecision(ctx, id, StatusRejected, 43, at)
	require.NoError(t, err)
	require.False(t, ok)

	p, err := st.GetPost(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, p.Status)
	require.Equal(t, int64(42), p.DecidedBy)
	require.Equal(t, at.UnixMilli(), p.PublishedAt.UnixMilli())

	_, err = st.SetPostDecision(ctx, id, StatusPending, 1, at)
	require.Error(t, err)
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	id, err := st.CreatePost(ctx, Post{UserID: 1, Text: "x"})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StatusApproved
			if i%2 == 1 {
				status = StatusRejected
			}
			ok, err := st.SetPostDecision(ctx, id, status, int64(i+1), time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestListPendingIsOldestFirst(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	base := time.Now()

	late, err := st.CreatePost(ctx, Post{UserID: 1, Text: "late", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	early, err := st.CreatePost(ctx, Post{UserID: 1, Text: "early", CreatedAt: base})
	require.NoError(t, err)
	tie, err := st.CreatePost(ctx, Post{UserID: 1, Text: "tie", CreatedAt: base})
	require.NoError(t, err)
	decided, err := st.CreatePost(ctx, Post{UserID: 1, Text: "gone", CreatedAt: base.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = st.SetPostDecision(ctx, decided, StatusRejected, 9, time.Now())
	require.NoError(t, err)

	pending, err := st.ListPendingPosts(ctx)
	require.NoError(t, err)
	var ids []int64
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []int64{early, tie, late}, ids)
}

func TestAdminsAndStats(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	require.NoError(t, st.BootstrapAdmins(ctx, []int64{1, 2}))
	require.NoError(t, st.BootstrapAdmins(ctx, []int64{1, 2}))
	added, err := st.AddAdmin(ctx, 3, 1)
	require.NoError(t, err)
	require.True(t, added)
	added, err = st.AddAdmin(ctx, 3, 1)
	require.NoError(t, err)
	require.False(t, added)

	ids, err := st.ListAdminIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)

	removed, err := st.RemoveAdmin(ctx, 2)
	require.NoError(t, err)
	require.True(t, removed)
	is, err := st.IsAdmin(ctx, 2)
	require.NoError(t, err)
	require.False(t, is)

	_, err = st.UpsertUser(ctx, User{ID: 10})
	require.NoError(t, err)
	require.NoError(t, st.SetBanned(ctx, 11, true))
	a, _ := st.CreatePost(ctx, Post{UserID: 10, Text: "a"})
	_, _ = st.CreatePost(ctx, Post{UserID: 10, Text: "b"})
	_, err = st.SetPostDecision(ctx, a, StatusApproved, 1, time.Now())
	require.NoError(t, err)

	stats, err := st.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Users: 2, Banned: 1, Posts: 2, Pending: 1, Approved: 1}, stats)
}

func TestPromptsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	ref := PromptRef{PostID: 1, ChatID: 100, MessageID: 7, HasMedia: true}
	require.NoError(t, st.SavePrompt(ctx, ref))
	require.NoError(t, st.SavePrompt(ctx, ref))
	require.NoError(t, st.SavePrompt(ctx, PromptRef{PostID: 1, ChatID: 200, MessageID: 8}))

	got, err := st.ListPrompts(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []PromptRef{ref, {PostID: 1, ChatID: 200, MessageID: 8}}, got)
}
