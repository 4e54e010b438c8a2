// Package mailbox provides an unbounded single-consumer queue.
//
// Producers call Post, which never blocks. A pump goroutine hands items to the
// consumer over a channel in arrival order. This keeps producers running on
// foreign threads (GStreamer bus watchers, timer callbacks) from ever waiting
// on the consumer.
package mailbox

import "sync"

// Mailbox is an unbounded FIFO with a channel-based receive side.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool

	out       chan T
	done      chan struct{}
	closeOnce sync.Once
	posted    uint64
}

// New creates a Mailbox and starts its pump goroutine.
// Close must be called to stop the pump.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.pump()
	return m
}

// Post enqueues v. Returns false if the mailbox is closed.
func (m *Mailbox[T]) Post(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.items = append(m.items, v)
	m.posted++
	m.cond.Signal()
	return true
}

// C returns the receive channel. It is closed after Close.
func (m *Mailbox[T]) C() <-chan T {
	return m.out
}

// Len returns the number of items waiting for the consumer.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Posted returns the total number of accepted items.
func (m *Mailbox[T]) Posted() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted
}

// Close stops the pump and discards pending items. Idempotent.
func (m *Mailbox[T]) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.items = nil
		m.cond.Broadcast()
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *Mailbox[T]) pump() {
	defer close(m.out)

	var zero T
	for {
		m.mu.Lock()
		for len(m.items) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		v := m.items[0]
		m.items[0] = zero
		m.items = m.items[1:]
		m.mu.Unlock()

		select {
		case m.out <- v:
		case <-m.done:
			return
		}
	}
}
