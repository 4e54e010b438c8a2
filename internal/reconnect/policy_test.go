package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/clock"
)

// harness drives a Policy the way the session controller does: every due
// timer is fired and every attempt is resolved by the outcome function.
type harness struct {
	t      *testing.T
	clk    *clock.Manual
	policy *Policy
	fired  []uint64
	opened []string
}

func newHarness(t *testing.T, cfg Config, fallback string) *harness {
	h := &harness{t: t, clk: clock.NewManual(time.Unix(0, 0))}
	h.policy = New(cfg, fallback, h.clk, func(gen uint64) {
		h.fired = append(h.fired, gen)
	})
	return h
}

// run starts primary and plays attempts until the machine settles in
// Playing or Exhausted. ok(address) decides each attempt's outcome.
func (h *harness) run(primary string, ok func(address string) bool) []Decision {
	var decisions []Decision

	gen := h.policy.Start(primary)
	addr := primary

	for i := 0; i < 100; i++ {
		h.opened = append(h.opened, addr)
		if ok(addr) {
			require.True(h.t, h.policy.OnPlaying(gen))
			return decisions
		}

		out := h.policy.OnFailure(gen)
		decisions = append(decisions, out.Decision)
		if out.Decision == GiveUp {
			return decisions
		}

		h.fired = nil
		h.clk.Advance(out.Delay)
		require.Len(h.t, h.fired, 1)

		var fired bool
		addr, gen, fired = h.policy.Fire(h.fired[0])
		require.True(h.t, fired)
	}

	h.t.Fatal("policy did not settle")
	return nil
}

func TestPolicy_PrimaryFailsFallbackPlays(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3}, "rtsp://b")

	decisions := h.run("rtsp://a", func(addr string) bool { return addr == "rtsp://b" })

	assert.Equal(t, []string{"rtsp://a", "rtsp://a", "rtsp://a", "rtsp://b"}, h.opened)
	assert.Equal(t, []Decision{Retry, Retry, Fallback}, decisions)
	assert.Equal(t, Playing, h.policy.State())
	assert.Equal(t, 0, h.policy.Failures())
	assert.True(t, h.policy.Target().OnFallback())

	stats := h.policy.Stats()
	assert.Equal(t, uint64(4), stats.Attempts)
	assert.Equal(t, uint64(2), stats.Reconnects)
	assert.Equal(t, uint64(1), stats.FallbackSwitches)
}

func TestPolicy_BothFailExhausts(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2}, "rtsp://b")

	decisions := h.run("rtsp://a", func(string) bool { return false })

	assert.Equal(t, []string{"rtsp://a", "rtsp://a", "rtsp://b", "rtsp://b"}, h.opened)
	assert.Equal(t, []Decision{Retry, Fallback, Retry, GiveUp}, decisions)
	assert.Equal(t, Exhausted, h.policy.State())
	assert.Equal(t, uint64(1), h.policy.Stats().Exhaustions)
	assert.False(t, h.policy.Pending())
	assert.Zero(t, h.clk.Pending())
}

func TestPolicy_NoFallbackExhaustsAfterNAttempts(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		h := newHarness(t, Config{MaxAttempts: n}, "")

		h.run("rtsp://a", func(string) bool { return false })

		assert.Len(t, h.opened, n, "max attempts %d", n)
		assert.Equal(t, Exhausted, h.policy.State())
	}
}

func TestPolicy_FallbackEqualToPrimaryIsNotASwitch(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2}, "rtsp://a")

	decisions := h.run("rtsp://a", func(string) bool { return false })

	assert.Equal(t, []Decision{Retry, GiveUp}, decisions)
	assert.Equal(t, uint64(0), h.policy.Stats().FallbackSwitches)
}

func TestPolicy_FailureAfterFallbackPlayingRetriesFallback(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2}, "rtsp://b")

	h.run("rtsp://a", func(addr string) bool { return addr == "rtsp://b" })
	require.Equal(t, Playing, h.policy.State())

	out := h.policy.OnFailure(h.policy.Generation())
	assert.Equal(t, Retry, out.Decision)
	assert.Equal(t, "rtsp://b", out.Address)
	assert.Equal(t, 1, out.Failures)

	h.clk.Advance(out.Delay)
	_, gen, ok := h.policy.Fire(h.fired[len(h.fired)-1])
	require.True(t, ok)

	out = h.policy.OnFailure(gen)
	assert.Equal(t, GiveUp, out.Decision, "fallback exhaustion does not go back to the primary")
}

func TestPolicy_StartCancelsPendingTimer(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3, RetryDelay: 2 * time.Second}, "")

	gen := h.policy.Start("rtsp://old")
	out := h.policy.OnFailure(gen)
	require.Equal(t, Retry, out.Decision)
	require.True(t, h.policy.Pending())

	newGen := h.policy.Start("rtsp://new")
	assert.False(t, h.policy.Pending())
	assert.Zero(t, h.clk.Pending())

	h.clk.Advance(time.Minute)
	assert.Empty(t, h.fired)

	_, _, ok := h.policy.Fire(gen)
	assert.False(t, ok, "stale timer is a no-op")
	assert.Equal(t, Connecting, h.policy.State())
	assert.Equal(t, "rtsp://new", h.policy.Target().Current)
	assert.Greater(t, newGen, gen)
}

func TestPolicy_StaleEventsIgnored(t *testing.T) {
	h := newHarness(t, Config{}, "")

	old := h.policy.Start("rtsp://a")
	cur := h.policy.Start("rtsp://a")

	assert.Equal(t, Ignored, h.policy.OnFailure(old).Decision)
	assert.False(t, h.policy.OnPlaying(old))
	assert.Equal(t, 0, h.policy.Failures())

	assert.True(t, h.policy.OnPlaying(cur))
	out := h.policy.OnFailure(cur)
	require.Equal(t, Retry, out.Decision)
	assert.Equal(t, Ignored, h.policy.OnFailure(cur).Decision, "a second error of the same attempt is not counted")
}

func TestPolicy_StopCancelsAndKeepsExhausted(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3}, "")

	gen := h.policy.Start("rtsp://a")
	h.policy.OnFailure(gen)
	h.policy.Stop()

	assert.Equal(t, Idle, h.policy.State())
	assert.False(t, h.policy.Pending())
	_, _, ok := h.policy.Fire(gen)
	assert.False(t, ok)

	h2 := newHarness(t, Config{MaxAttempts: 1}, "")
	h2.run("rtsp://a", func(string) bool { return false })
	h2.policy.Stop()
	assert.Equal(t, Exhausted, h2.policy.State())

	h2.policy.Start("rtsp://a")
	assert.Equal(t, Connecting, h2.policy.State())
}

func TestPolicy_BackoffSchedule(t *testing.T) {
	p := New(Config{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second, Backoff: true}, "", clock.NewManual(time.Unix(0, 0)), nil)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, d := range want {
		assert.Equal(t, d, p.retryDelay(i+1), "failure %d", i+1)
	}

	fixed := New(Config{RetryDelay: time.Second}, "", clock.NewManual(time.Unix(0, 0)), nil)
	assert.Equal(t, time.Second, fixed.retryDelay(4))
}

func TestPolicy_Reconfigure(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 1}, "rtsp://b")

	h.run("rtsp://a", func(addr string) bool { return addr == "rtsp://b" })
	require.True(t, h.policy.Target().OnFallback())

	h.policy.Reconfigure(Config{MaxAttempts: 4}, "rtsp://c")

	target := h.policy.Target()
	assert.Equal(t, "rtsp://a", target.Current, "current address stays one of the pair")
	assert.Equal(t, "rtsp://c", target.Fallback)
	assert.Equal(t, 4, h.policy.Config().MaxAttempts)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fallback_switch", FallbackSwitch.String())
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.Equal(t, "exhausted", GiveUp.String())
}
