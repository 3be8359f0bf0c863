package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget(" @news ")
	require.NoError(t, err)
	require.Equal(t, ChatTarget{Username: "news"}, got)

	got, err = ParseTarget("-100123")
	require.NoError(t, err)
	require.Equal(t, ChatTarget{ChatID: -100123}, got)

	for _, bad := range []string{"", "@", "a b", "t.me/x"} {
		_, err := ParseTarget(bad)
		require.Error(t, err, bad)
	}
}

func TestMemberStatusSubscribed(t *testing.T) {
	require.True(t, MemberCreator.Subscribed())
	require.True(t, MemberMember.Subscribed())
	require.False(t, MemberLeft.Subscribed())
	require.False(t, MemberKicked.Subscribed())
	require.False(t, MemberStatus("").Subscribed())
}
