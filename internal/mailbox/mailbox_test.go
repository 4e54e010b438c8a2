package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMailbox_FIFO(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := New[int]()
	defer m.Close()

	for i := 0; i < 100; i++ {
		require.True(t, m.Post(i))
	}

	for want := 0; want < 100; want++ {
		select {
		case got := <-m.C():
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for item %d", want)
		}
	}
	assert.Equal(t, uint64(100), m.Posted())
}

func TestMailbox_PostNeverBlocks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := New[int]()
	defer m.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			m.Post(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Post blocked without a consumer")
	}
	// One item may already sit in the pump waiting on the channel.
	assert.GreaterOrEqual(t, m.Len(), 9999)
}

func TestMailbox_ConcurrentProducers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := New[int]()
	defer m.Close()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m.Post(i)
			}
		}()
	}

	received := 0
	timeout := time.After(2 * time.Second)
	for received < producers*perProducer {
		select {
		case <-m.C():
			received++
		case <-timeout:
			t.Fatalf("received %d of %d", received, producers*perProducer)
		}
	}
	wg.Wait()
}

func TestMailbox_CloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := New[string]()
	m.Post("pending")
	m.Close()
	m.Close()

	assert.False(t, m.Post("late"))

	// Receive side closes; a pending item may or may not be delivered first.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-m.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("receive channel not closed after Close")
		}
	}
}
