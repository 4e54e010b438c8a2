// Package reconnect implements the bounded retry and fallback state machine
// driving connect attempts of a stream session.
//
// Policy is not safe for concurrent use; its owner serializes access. Retry
// timers do not call back into the Policy: they hand the generation they
// were scheduled for to the owner, which then calls Fire.
package reconnect

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/clock"
)

// State is the reconnect state.
type State int

const (
	Idle State = iota
	Connecting
	Playing
	Retrying
	FallbackSwitch
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Playing:
		return "playing"
	case Retrying:
		return "retrying"
	case FallbackSwitch:
		return "fallback_switch"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision is the result of reporting a failure.
type Decision int

const (
	// Ignored means the failure belonged to a stale or inactive attempt.
	Ignored Decision = iota
	// Retry means the same address is retried after Outcome.Delay.
	Retry
	// Fallback means the fallback address is tried after Outcome.Delay.
	Fallback
	// GiveUp means both addresses are exhausted; no more automatic
	// attempts until Start.
	GiveUp
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Fallback:
		return "fallback"
	case GiveUp:
		return "exhausted"
	default:
		return "ignored"
	}
}

// Config bounds retries.
type Config struct {
	// MaxAttempts is the number of connection attempts per address.
	MaxAttempts int
	// RetryDelay is the delay before retrying the same address.
	RetryDelay time.Duration
	// FallbackDelay is the delay before the first attempt on the fallback.
	FallbackDelay time.Duration
	// MaxRetryDelay caps the exponential schedule.
	MaxRetryDelay time.Duration
	// Backoff doubles RetryDelay per failed attempt.
	Backoff bool
}

// DefaultConfig returns the default retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		RetryDelay:    2 * time.Second,
		FallbackDelay: 1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		Backoff:       false,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = def.FallbackDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	return c
}

// Target is the address pair. Current is always Primary or Fallback.
type Target struct {
	Primary  string
	Fallback string
	Current  string
}

// OnFallback reports whether the current address is the fallback.
func (t Target) OnFallback() bool {
	return t.Fallback != "" && t.Current == t.Fallback && t.Current != t.Primary
}

// Outcome describes what OnFailure decided.
type Outcome struct {
	Decision Decision
	// Address is the address of the next attempt, for Retry and Fallback.
	Address string
	// Delay before the next attempt.
	Delay time.Duration
	// Failures on the failed address, including this one.
	Failures int
}

// Stats are cumulative counters.
type Stats struct {
	Attempts         uint64
	Reconnects       uint64
	FallbackSwitches uint64
	Exhaustions      uint64
}

// Policy is the reconnect state machine.
type Policy struct {
	cfg   Config
	clock clock.Clock
	fire  func(generation uint64)

	state      State
	target     Target
	failures   int
	generation uint64
	timer      clock.Timer

	stats Stats
}

// New creates a Policy. fire is invoked from the clock's goroutine when a
// scheduled attempt is due; it must not block.
func New(cfg Config, fallback string, clk clock.Clock, fire func(generation uint64)) *Policy {
	if clk == nil {
		clk = clock.System()
	}
	return &Policy{
		cfg:    cfg.withDefaults(),
		clock:  clk,
		fire:   fire,
		target: Target{Fallback: fallback},
	}
}

// Start resets the machine for an explicit play of primary and returns the
// generation of the first attempt.
func (p *Policy) Start(primary string) uint64 {
	p.cancelTimer()
	p.generation++
	p.target.Primary = primary
	p.target.Current = primary
	p.failures = 0
	p.state = Connecting
	p.stats.Attempts++

	slog.Debug("reconnect: start",
		"address", primary,
		"fallback", p.target.Fallback,
		"generation", p.generation,
	)

	return p.generation
}

// OnPlaying records a successful connect. Returns false for stale generations.
func (p *Policy) OnPlaying(generation uint64) bool {
	if generation != p.generation || (p.state != Connecting && p.state != Playing) {
		return false
	}
	p.state = Playing
	p.failures = 0
	return true
}

// OnFailure records a failed or lost connection and schedules the next attempt.
func (p *Policy) OnFailure(generation uint64) Outcome {
	if generation != p.generation || (p.state != Connecting && p.state != Playing) {
		return Outcome{Decision: Ignored}
	}

	p.failures++
	failed := p.target.Current
	out := Outcome{Failures: p.failures}

	switch {
	case p.failures < p.cfg.MaxAttempts:
		out.Decision = Retry
		out.Address = failed
		out.Delay = p.retryDelay(p.failures)
		p.state = Retrying
		p.stats.Reconnects++

	case p.canSwitch():
		out.Decision = Fallback
		out.Address = p.target.Fallback
		out.Delay = p.cfg.FallbackDelay
		p.target.Current = p.target.Fallback
		p.failures = 0
		p.state = FallbackSwitch
		p.stats.FallbackSwitches++

	default:
		out.Decision = GiveUp
		p.state = Exhausted
		p.stats.Exhaustions++
		p.cancelTimer()
		slog.Warn("reconnect: attempts exhausted",
			"address", failed,
			"failures", out.Failures,
			"on_fallback", p.target.OnFallback(),
		)
		return out
	}

	p.schedule(out.Delay)

	slog.Info("reconnect: scheduling attempt",
		"decision", out.Decision.String(),
		"failed_address", failed,
		"next_address", out.Address,
		"failures", out.Failures,
		"max_attempts", p.cfg.MaxAttempts,
		"delay", out.Delay,
	)

	return out
}

// Fire starts the attempt scheduled for generation. It returns the address
// to open and the generation of the new attempt, or ok=false when the timer
// is stale.
func (p *Policy) Fire(generation uint64) (address string, next uint64, ok bool) {
	if generation != p.generation || (p.state != Retrying && p.state != FallbackSwitch) {
		return "", 0, false
	}
	p.timer = nil
	p.generation++
	p.state = Connecting
	p.stats.Attempts++
	return p.target.Current, p.generation, true
}

// Stop cancels any pending attempt and invalidates the current generation.
// An exhausted machine stays exhausted until Start.
func (p *Policy) Stop() {
	p.cancelTimer()
	p.generation++
	p.failures = 0
	if p.state != Exhausted {
		p.state = Idle
	}
}

// Reconfigure replaces the retry settings and fallback address for later decisions.
func (p *Policy) Reconfigure(cfg Config, fallback string) {
	p.cfg = cfg.withDefaults()
	if p.target.OnFallback() && fallback != p.target.Fallback {
		// Keep Current pointing at one of the two addresses.
		p.target.Current = p.target.Primary
		p.failures = 0
	}
	p.target.Fallback = fallback
}

// State returns the current state.
func (p *Policy) State() State { return p.state }

// Target returns the address pair.
func (p *Policy) Target() Target { return p.target }

// Generation returns the generation of the current attempt.
func (p *Policy) Generation() uint64 { return p.generation }

// Failures returns the failure count on the current address.
func (p *Policy) Failures() int { return p.failures }

// Config returns the effective settings.
func (p *Policy) Config() Config { return p.cfg }

// Stats returns cumulative counters.
func (p *Policy) Stats() Stats { return p.stats }

// Pending reports whether a retry timer is armed.
func (p *Policy) Pending() bool { return p.timer != nil }

func (p *Policy) canSwitch() bool {
	t := p.target
	return t.Fallback != "" && t.Fallback != t.Primary && t.Current == t.Primary
}

func (p *Policy) schedule(delay time.Duration) {
	p.cancelTimer()
	gen := p.generation
	fire := p.fire
	p.timer = p.clock.AfterFunc(delay, func() {
		if fire != nil {
			fire(gen)
		}
	})
}

func (p *Policy) cancelTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// retryDelay is RetryDelay, or RetryDelay * 2^(failures-1) capped at
// MaxRetryDelay when Backoff is set.
func (p *Policy) retryDelay(failures int) time.Duration {
	if !p.cfg.Backoff || failures < 1 {
		return p.cfg.RetryDelay
	}
	shift := failures - 1
	if shift > 30 {
		shift = 30
	}
	delay := p.cfg.RetryDelay * time.Duration(1<<uint(shift))
	if delay > p.cfg.MaxRetryDelay || delay <= 0 {
		delay = p.cfg.MaxRetryDelay
	}
	return delay
}
