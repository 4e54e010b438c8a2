package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_AdvanceFiresInDeadlineOrder(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "retry") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "fallback") })

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, order)
	assert.Equal(t, 2, c.Pending())

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"fallback", "retry"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestManual_StopCancels(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop reports already stopped")

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestManual_ChainedTimersInsideWindow(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	count := 0
	var schedule func()
	schedule = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, schedule)
		}
	}
	c.AfterFunc(time.Second, schedule)

	c.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
	assert.Equal(t, time.Unix(10, 0), c.Now())
}

func TestSystem_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	System().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("system timer did not fire")
	}
}
