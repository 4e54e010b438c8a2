package framestats

import (
	"sync"
	"time"
)

// DefaultWindow is how many recent frame timestamps a Meter keeps.
const DefaultWindow = 120

// Meter counts rendered and dropped frames and keeps a ring of recent frame
// timestamps. Safe for concurrent use.
type Meter struct {
	mu       sync.Mutex
	times    []time.Time
	next     int
	full     bool
	rendered uint64
	dropped  uint64
	last     time.Time
}

// NewMeter creates a Meter keeping window timestamps.
func NewMeter(window int) *Meter {
	if window < 2 {
		window = DefaultWindow
	}
	return &Meter{times: make([]time.Time, window)}
}

// Rendered records a frame shown at t.
func (m *Meter) Rendered(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rendered++
	m.last = t
	m.times[m.next] = t
	m.next = (m.next + 1) % len(m.times)
	if m.next == 0 {
		m.full = true
	}
}

// Dropped records a frame that could not be shown.
func (m *Meter) Dropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

// LastFrameAt returns when the last frame was rendered, zero if none.
func (m *Meter) LastFrameAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Snapshot is a point-in-time view of a Meter.
type Snapshot struct {
	Rendered    uint64
	Dropped     uint64
	LastFrameAt time.Time
	FPS         FPSStats
}

// Snapshot computes FPS statistics over the retained window.
func (m *Meter) Snapshot() Snapshot {
	m.mu.Lock()
	times := m.ordered()
	s := Snapshot{Rendered: m.rendered, Dropped: m.dropped, LastFrameAt: m.last}
	m.mu.Unlock()

	if len(times) >= 2 {
		window := times[len(times)-1].Sub(times[0])
		// n timestamps span n-1 intervals.
		window += window / time.Duration(len(times)-1)
		s.FPS = CalculateFPSStats(times, window)
	} else {
		s.FPS = FPSStats{Frames: len(times)}
	}
	return s
}

// Reset clears counters and the timestamp window.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.times {
		m.times[i] = time.Time{}
	}
	m.next, m.full = 0, false
	m.rendered, m.dropped = 0, 0
	m.last = time.Time{}
}

func (m *Meter) ordered() []time.Time {
	if !m.full {
		return append([]time.Time(nil), m.times[:m.next]...)
	}
	out := make([]time.Time, 0, len(m.times))
	out = append(out, m.times[m.next:]...)
	return append(out, m.times[:m.next]...)
}
