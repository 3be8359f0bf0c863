package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"postbot/internal/posts"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

type fakeUsers map[int64]storage.User

func (f fakeUsers) GetUser(_ context.Context, id int64) (storage.User, error) {
	u, ok := f[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

type fakeSubmitter struct {
	drafts []posts.Draft
	err    error
}

func (f *fakeSubmitter) Submit(_ context.Context, _ int64, d posts.Draft) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if err := d.Validate(); err != nil {
		return 0, err
	}
	f.drafts = append(f.drafts, d)
	return int64(len(f.drafts)), nil
}

func newMachine(users fakeUsers, sub *fakeSubmitter) (*Machine, *MemoryStore) {
	st := NewMemoryStore()
	return NewMachine(st, users, sub, logx.Nop()), st
}

func step(t *testing.T, m *Machine, in Input) Result {
	t.Helper()
	res, err := m.Handle(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestHappyPathWithPhoto(t *testing.T) {
	sub := &fakeSubmitter{}
	m, st := newMachine(fakeUsers{}, sub)
	u := Input{UserID: 1, Username: "ann"}

	in := u
	in.Kind = InputCreate
	require.Equal(t, ReplyAskText, step(t, m, in).Reply)

	in = u
	in.Kind, in.Text = InputText, "  keep  spacing "
	res := step(t, m, in)
	require.Equal(t, AwaitingMedia, res.To)
	require.Equal(t, "  keep  spacing ", res.Draft.Text)

	in = u
	in.Kind, in.MediaRef = InputPhoto, "PH1"
	res = step(t, m, in)
	require.Equal(t, AwaitingAnonymity, res.To)
	require.Equal(t, kit.MediaPhoto, res.Draft.MediaKind)

	in = u
	in.Kind = InputAttributed
	res = step(t, m, in)
	require.Equal(t, ReplyPreview, res.Reply)
	require.Equal(t, AwaitingConfirmation, res.To)
	require.False(t, res.Draft.Anonymous)

	in = u
	in.Kind = InputConfirm
	res = step(t, m, in)
	require.Equal(t, ReplySubmitted, res.Reply)
	require.Equal(t, int64(1), res.PostID)
	require.Equal(t, Idle, res.To)
	require.Zero(t, st.Len())
	require.Equal(t, []posts.Draft{{Text: "  keep  spacing ", MediaKind: kit.MediaPhoto, MediaRef: "PH1"}}, sub.drafts)
}

func TestAttributedWithoutHandleStays(t *testing.T) {
	m, _ := newMachine(fakeUsers{}, &fakeSubmitter{})
	for _, k := range []InputKind{InputCreate, InputText, InputSkip} {
		step(t, m, Input{Kind: k, UserID: 2, Text: "hi"})
	}
	res := step(t, m, Input{Kind: InputAttributed, UserID: 2})
	require.Equal(t, ReplyNoHandle, res.Reply)
	require.Equal(t, AwaitingAnonymity, res.To)
	require.Equal(t, "hi", res.Draft.Text)

	res = step(t, m, Input{Kind: InputAnonymous, UserID: 2})
	require.Equal(t, AwaitingConfirmation, res.To)
	require.True(t, res.Draft.Anonymous)
	require.Equal(t, kit.MediaNone, res.Draft.MediaKind)
}

func TestBannedUserNeverLeavesIdle(t *testing.T) {
	m, st := newMachine(fakeUsers{3: {ID: 3, Banned: true}}, &fakeSubmitter{})
	for _, k := range []InputKind{InputCreate, InputText, InputPhoto, InputSkip, InputAnonymous, InputConfirm} {
		res := step(t, m, Input{Kind: k, UserID: 3, Text: "x", MediaRef: "F"})
		require.Equal(t, ReplyBanned, res.Reply)
		require.Equal(t, Idle, res.To)
	}
	require.Zero(t, st.Len())
}

func TestNonMatchingInputIsIgnored(t *testing.T) {
	m, _ := newMachine(fakeUsers{}, &fakeSubmitter{})
	res := step(t, m, Input{Kind: InputText, UserID: 4, Text: "hello"})
	require.False(t, res.Handled())
	require.Equal(t, Idle, m.State(4))

	step(t, m, Input{Kind: InputCreate, UserID: 4})
	res = step(t, m, Input{Kind: InputConfirm, UserID: 4})
	require.False(t, res.Handled())
	require.Equal(t, AwaitingText, m.State(4))
}

func TestRestartDiscardsDraft(t *testing.T) {
	m, _ := newMachine(fakeUsers{}, &fakeSubmitter{})
	for _, in := range []Input{
		{Kind: InputCreate},
		{Kind: InputText, Text: "first"},
		{Kind: InputVideo, MediaRef: "V"},
		{Kind: InputAnonymous},
	} {
		in.UserID = 5
		step(t, m, in)
	}
	res := step(t, m, Input{Kind: InputRestart, UserID: 5})
	require.Equal(t, ReplyAskText, res.Reply)
	require.Equal(t, AwaitingText, res.To)
	require.Equal(t, posts.Draft{}, res.Draft)
}

func TestCreateClearsStaleDraft(t *testing.T) {
	m, _ := newMachine(fakeUsers{}, &fakeSubmitter{})
	step(t, m, Input{Kind: InputCreate, UserID: 6})
	step(t, m, Input{Kind: InputText, UserID: 6, Text: "old"})
	res := step(t, m, Input{Kind: InputCreate, UserID: 6})
	require.Equal(t, AwaitingText, res.To)
	require.Empty(t, res.Draft.Text)
}

func TestConfirmInvalidReturnsToText(t *testing.T) {
	m, _ := newMachine(fakeUsers{}, &fakeSubmitter{})
	for _, in := range []Input{
		{Kind: InputCreate},
		{Kind: InputText, Text: "   "},
		{Kind: InputSkip},
		{Kind: InputAnonymous},
	} {
		in.UserID = 7
		step(t, m, in)
	}
	res := step(t, m, Input{Kind: InputConfirm, UserID: 7})
	require.Equal(t, ReplyInvalid, res.Reply)
	require.NotNil(t, res.Invalid)
	require.Equal(t, posts.ReasonEmptyText, res.Invalid.Reason)
	require.Equal(t, AwaitingText, m.State(7))
}

func TestConfirmStorageErrorKeepsSession(t *testing.T) {
	boom := errors.New("disk full")
	m, _ := newMachine(fakeUsers{}, &fakeSubmitter{err: boom})
	for _, in := range []Input{
		{Kind: InputCreate},
		{Kind: InputText, Text: "t"},
		{Kind: InputSkip},
		{Kind: InputAnonymous},
	} {
		in.UserID = 8
		step(t, m, in)
	}
	_, err := m.Handle(context.Background(), Input{Kind: InputConfirm, UserID: 8})
	require.ErrorIs(t, err, boom)
	require.Equal(t, AwaitingConfirmation, m.State(8))
}

func TestMemoryStorePrune(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now()
	st.Put(1, Session{State: AwaitingText, UpdatedAt: now.Add(-2 * time.Hour)})
	st.Put(2, Session{State: AwaitingMedia, UpdatedAt: now})
	require.Equal(t, 1, st.Prune(now.Add(-time.Hour)))
	_, ok := st.Get(1)
	require.False(t, ok)
	require.Equal(t, 1, st.Len())
}

func TestPruneLoopStopsWithContext(t *testing.T) {
	st := NewMemoryStore()
	st.Put(1, Session{UpdatedAt: time.Now().Add(-time.Hour)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		PruneLoop(ctx, st, 5*time.Millisecond, time.Minute, logx.Nop())
		close(done)
	}()
	require.Eventually(t, func() bool { return st.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prune loop did not stop")
	}
}
