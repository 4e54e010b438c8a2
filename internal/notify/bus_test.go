package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOutAndDrops(t *testing.T) {
	b := New()

	fast := make(chan Notice, 10)
	slow := make(chan Notice, 1)
	require.NoError(t, b.Subscribe("fast", fast))
	require.NoError(t, b.Subscribe("slow", slow))

	for i := 0; i < 3; i++ {
		b.Publish(Notice{Kind: KindStateChanged, To: "playing"})
	}

	assert.Len(t, fast, 3)
	assert.Len(t, slow, 1)

	fs, err := b.Stats("fast")
	require.NoError(t, err)
	assert.Equal(t, SubscriberStats{Sent: 3}, fs)

	ss, err := b.Stats("slow")
	require.NoError(t, err)
	assert.Equal(t, SubscriberStats{Sent: 1, Dropped: 2}, ss)

	assert.Equal(t, uint64(3), b.Published())
	assert.False(t, (<-fast).Time.IsZero(), "publish stamps the notice")
}

func TestBus_SubscribeErrors(t *testing.T) {
	b := New()
	ch := make(chan Notice, 1)

	require.NoError(t, b.Subscribe("a", ch))
	assert.ErrorIs(t, b.Subscribe("a", ch), ErrSubscriberExists)
	assert.ErrorIs(t, b.Subscribe("b", nil), ErrNilChannel)
	assert.ErrorIs(t, b.Unsubscribe("missing"), ErrSubscriberNotFound)

	require.NoError(t, b.Unsubscribe("a"))
	b.Publish(Notice{Kind: KindError})
	assert.Empty(t, ch)

	b.Close()
	assert.ErrorIs(t, b.Subscribe("c", ch), ErrBusClosed)
	b.Publish(Notice{Kind: KindError})
	_, err := b.Stats("a")
	assert.ErrorIs(t, err, ErrSubscriberNotFound)
}
