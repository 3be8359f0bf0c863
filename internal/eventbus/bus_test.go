package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: PostSubmitted, Data: 1})
	b.Publish(Event{Type: PostDecided, Data: 1})

	got := <-a
	require.Equal(t, PostSubmitted, got.Type)
	require.False(t, got.Time.IsZero())
	require.Len(t, a, 0)
	require.Len(t, c, 2)

	unsubA()
	unsubA()
	_, ok := <-a
	require.False(t, ok)

	b.Publish(Event{Type: PostPublished})
	require.Len(t, c, 3)
}
