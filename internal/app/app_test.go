package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"postbot/internal/config"
	"postbot/internal/messages"
	"postbot/internal/moderation"
	kit "postbot/internal/transport"
	"postbot/internal/transport/transporttest"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func baseConfig(dir string) string {
	return `
telegram:
  channel: "@news"
  admin_ids: [10]
storage:
  path: ` + filepath.Join(dir, "bot.db") + `
broadcast:
  delay: 1ms
logging:
  level: error
`
}

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestNewRejectsMissingToken(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, baseConfig(dir))
	_, err := New(context.Background(), p, WithEnv(env(nil)), WithAdapter(transporttest.New()))
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestNewRejectsBrokenMessages(t *testing.T) {
	dir := t.TempDir()
	msgs := filepath.Join(dir, "messages.yaml")
	require.NoError(t, os.WriteFile(msgs, []byte("nope:\n  x: \"y\"\n"), 0o644))
	p := writeConfig(t, dir, baseConfig(dir)+"messages_path: "+msgs+"\n")

	_, err := New(context.Background(), p, WithEnv(env(map[string]string{config.EnvToken: "t"})), WithAdapter(transporttest.New()))
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestStartServesUpdatesAndStops(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, baseConfig(dir))
	ad := transporttest.New()
	ctx := context.Background()

	a, err := New(ctx, p, WithEnv(env(map[string]string{config.EnvToken: "t"})), WithAdapter(ad))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	isAdmin, err := a.store.IsAdmin(ctx, 10)
	require.NoError(t, err)
	require.True(t, isAdmin)

	ad.Push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: 5, From: kit.User{ID: 5, Username: "ann"}, Text: "/start", IsPrivate: true,
	}})
	want := messages.Default().Text(messages.Welcome)
	require.Eventually(t, func() bool {
		for _, s := range ad.SentTo(5) {
			if s.Text == want {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	u, err := a.store.GetUser(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "ann", u.Username)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
	<-a.Done()
	require.NoError(t, a.Err())
}

func TestReloadAppliesNewConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, baseConfig(dir))
	ctx := context.Background()

	a, err := New(ctx, p, WithEnv(env(map[string]string{config.EnvToken: "t"})), WithAdapter(transporttest.New()))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background(), StopSignal) }()

	// give the watcher a moment to attach
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, baseConfig(dir)+"digest:\n  enabled: true\n  schedule: \"@every 1h\"\n")

	require.Eventually(t, func() bool {
		return a.cfgm.Get().Digest.Enabled
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConfigMapping(t *testing.T) {
	cfg := &config.Config{
		Telegram:   config.TelegramConfig{Channel: "@news", ReviewChat: "-100500", LogChat: 77},
		Moderation: config.ModerationConfig{Mode: config.ModeGroup},
		Broadcast:  config.BroadcastConfig{Delay: "250ms"},
		Logging:    config.LoggingConfig{Telegram: config.LoggingTelegram{Enabled: true}},
		Metrics:    config.MetricsConfig{Enabled: true},
	}

	mc := mapModerationConfig(cfg)
	require.Equal(t, moderation.ModeGroup, mc.Mode)
	require.Equal(t, kit.ChatTarget{ChatID: -100500}, mc.ReviewChat)

	bc := mapBroadcastConfig(cfg)
	require.Equal(t, 250*time.Millisecond, bc.Delay)
	require.Equal(t, config.DefaultBroadcastWorker, bc.Workers)

	sc := mapStorageConfig(cfg)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, config.DefaultSQLitePath, sc.Path)

	lc := mapLogConfig(cfg)
	require.True(t, lc.Chat.Enabled)
	require.Equal(t, int64(77), lc.Chat.ChatID)

	require.Equal(t, config.DefaultMetricsAddr, mapMetricsConfig(cfg).Addr)
	require.Equal(t, config.DefaultDigestSchedule, mapDigestConfig(cfg).Schedule)
}
