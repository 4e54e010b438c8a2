package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/mailbox"
)

// ErrReleased is returned when the engine instance has been released.
var ErrReleased = errors.New("engine: released")

// Handle exclusively owns one Engine instance.
//
// Events from every engine instance the handle creates are funnelled into one
// unbounded queue exposed by Events, so the consumer never has to re-subscribe.
// Release is idempotent; after it, Stop and surface calls are no-ops and Open
// re-creates the engine through the factory.
type Handle struct {
	mu       sync.Mutex
	factory  Factory
	eng      Engine
	releases int
	closed   bool

	events *mailbox.Mailbox[Event]
}

// NewHandle creates the handle and eagerly builds the first engine so that a
// missing runtime fails at construction time.
func NewHandle(factory Factory) (*Handle, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine: factory is required")
	}

	h := &Handle{
		factory: factory,
		events:  mailbox.New[Event](),
	}

	eng, err := factory(h.emit)
	if err != nil {
		h.events.Close()
		return nil, fmt.Errorf("engine: create: %w", err)
	}
	h.eng = eng

	return h, nil
}

func (h *Handle) emit(ev Event) {
	h.events.Post(ev)
}

// Events returns the single-consumer event channel.
func (h *Handle) Events() <-chan Event {
	return h.events.C()
}

// Open starts connecting to address, re-creating the engine if it was released.
func (h *Handle) Open(ctx context.Context, generation uint64, address string, opts Options) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrReleased
	}

	if h.eng == nil {
		eng, err := h.factory(h.emit)
		if err != nil {
			return fmt.Errorf("engine: re-create: %w", err)
		}
		h.eng = eng
		slog.Debug("engine: handle re-initialized after release")
	}

	return h.eng.Open(ctx, generation, address, opts)
}

// Stop stops the current pipeline. No-op when released.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.eng == nil {
		return nil
	}
	return contain("stop", func() error { return h.eng.Stop(ctx) })
}

// AttachSurface binds s to the engine output. No-op when released.
func (h *Handle) AttachSurface(s Surface) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.eng == nil {
		return nil
	}
	return h.eng.AttachSurface(s)
}

// DetachSurface unbinds the current surface. No-op when released.
func (h *Handle) DetachSurface() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.eng == nil {
		return nil
	}
	return h.eng.DetachSurface()
}

// Capabilities reports the engine capabilities, zero when released.
func (h *Handle) Capabilities() Capabilities {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.eng == nil {
		return Capabilities{}
	}
	return h.eng.Capabilities()
}

// Released reports whether no engine instance is currently held.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eng == nil
}

// Releases returns how many engine instances have been released.
func (h *Handle) Releases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

// Release releases the engine instance exactly once. Idempotent.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releaseLocked()
}

// Close releases the engine and terminates the event stream. The handle
// cannot be re-initialized afterwards.
func (h *Handle) Close() error {
	h.mu.Lock()
	err := h.releaseLocked()
	h.closed = true
	h.mu.Unlock()

	h.events.Close()
	return err
}

func (h *Handle) releaseLocked() error {
	if h.eng == nil {
		return nil
	}

	eng := h.eng
	h.eng = nil
	h.releases++

	return contain("release", eng.Release)
}

// contain converts a panic raised by engine code into an error so release
// paths always run to completion.
func contain(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: %s panicked: %v", op, r)
		}
	}()
	return fn()
}
