package messages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"postbot/internal/config"
	"postbot/pkg/tgui"
)

func TestDefaultCatalogCoversEveryKey(t *testing.T) {
	c := Default()
	for _, k := range Keys() {
		require.NotEmpty(t, c.tmpl[k], "key %s", k)
	}
}

func TestTextEscapesStringsButNotHTML(t *testing.T) {
	c := Default()
	require.Equal(t, "Thanks! Post #42 was sent for review.", c.Text(SentForReview, int64(42)))

	got := c.Text(ChannelPost, "a <b> & c", tgui.B("@ann"))
	require.Equal(t, "a &lt;b&gt; &amp; c\n\n👤 <b>@ann</b>", got)
}

func TestYesNoFollowsCatalog(t *testing.T) {
	require.Equal(t, "yes", Default().YesNo(true))
	require.Equal(t, "no", Default().YesNo(false))

	p := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(p, []byte("status:\n  flag_yes: \"да\"\n"), 0o644))
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "да", c.YesNo(true))
}

func TestLoadOverrides(t *testing.T) {
	p := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(p, []byte("post_creation:\n  sent_for_review: \"#{post_id} queued\"\n"), 0o644))

	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "#7 queued", c.Text(SentForReview, 7))
	// untouched keys keep their defaults
	require.Equal(t, Default().Text(AskText), c.Text(AskText))
}

func TestLoadRejectsUnknownKeysAndPlaceholders(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown key":         "nope:\n  x: \"hi\"\n",
		"unknown placeholder": "user_notifications:\n  approved: \"{post} ok\"\n",
		"non-string":          "welcome:\n  greeting: [1, 2]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
			_, err := Load(p)
			require.ErrorIs(t, err, config.ErrConfig)
		})
	}
}

func TestLoadEmptyPathIsDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Button(BtnWritePost), c.Button(BtnWritePost))
}
