// Package notify fans session notices out to independent subscribers.
//
// Publish never blocks: a subscriber whose channel is full misses the notice
// and the drop is counted.
package notify

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusClosed          = errors.New("notify: bus is closed")
	ErrSubscriberExists   = errors.New("notify: subscriber already exists")
	ErrSubscriberNotFound = errors.New("notify: subscriber not found")
	ErrNilChannel         = errors.New("notify: channel cannot be nil")
)

// Kind identifies a notice.
type Kind string

const (
	KindError            Kind = "error"
	KindRecordingStopped Kind = "recording_stopped"
	KindStateChanged     Kind = "state_changed"
)

// Notice is one session notification.
type Notice struct {
	Kind      Kind      `json:"kind" msgpack:"kind"`
	SessionID string    `json:"session_id" msgpack:"session_id"`
	Time      time.Time `json:"time" msgpack:"time"`
	Message   string    `json:"message,omitempty" msgpack:"message,omitempty"`
	Category  string    `json:"category,omitempty" msgpack:"category,omitempty"`
	Path      string    `json:"path,omitempty" msgpack:"path,omitempty"`
	From      string    `json:"from,omitempty" msgpack:"from,omitempty"`
	To        string    `json:"to,omitempty" msgpack:"to,omitempty"`
}

// SubscriberStats counts deliveries to one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch      chan<- Notice
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes notices.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id.
func (b *Bus) Subscribe(id string, ch chan<- Notice) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if ch == nil {
		return ErrNilChannel
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber. Its channel is not closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Publish delivers n to every subscriber without blocking.
func (b *Bus) Publish(n Notice) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if n.Time.IsZero() {
		n.Time = time.Now()
	}

	b.published.Add(1)

	for _, s := range b.subscribers {
		select {
		case s.ch <- n:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats returns delivery counters for id.
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}, nil
}

// Published returns how many notices were published.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close drops all subscribers. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subscribers = nil
}
