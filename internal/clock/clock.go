// Package clock abstracts deferred invocations so retry scheduling can be
// driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending deferred invocation.
type Timer interface {
	// Stop cancels the invocation. Returns false if it already fired or was stopped.
	Stop() bool
}

// Clock schedules deferred invocations.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// System returns a Clock backed by the time package.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a Clock whose time only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTimer struct {
	clock   *Manual
	seq     uint64
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{clock: m, seq: m.seq, at: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and runs every timer that became due,
// in deadline order. Timers scheduled by those callbacks run too if they fall
// inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		due := m.nextDueLocked(target)
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		due.fired = true
		if due.at.After(m.now) {
			m.now = due.at
		}
		m.mu.Unlock()

		due.f()
	}
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live

	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})

	if len(m.timers) == 0 || m.timers[0].at.After(target) {
		return nil
	}
	return m.timers[0]
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
