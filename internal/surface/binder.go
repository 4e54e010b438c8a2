// Package surface binds display targets to the engine and provides the
// headless targets used by the CLI and the control plane.
package surface

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
)

// Target is the part of the engine a Binder drives.
type Target interface {
	AttachSurface(s engine.Surface) error
	DetachSurface() error
}

// Binder keeps at most one surface bound to a Target. Not safe for
// concurrent use.
type Binder struct {
	target   Target
	bound    engine.Surface
	bindings atomic.Uint64
}

// NewBinder creates a Binder for target.
func NewBinder(target Target) *Binder {
	return &Binder{target: target}
}

// Attach binds s, detaching the current surface first. Attaching the
// surface that is already bound re-binds it.
func (b *Binder) Attach(s engine.Surface) error {
	if s == nil {
		return fmt.Errorf("surface: nil surface")
	}

	if b.bound != nil {
		if err := b.Detach(); err != nil {
			return fmt.Errorf("surface: detach %s before attaching %s: %w", b.bound.ID(), s.ID(), err)
		}
	}

	if err := b.target.AttachSurface(s); err != nil {
		return fmt.Errorf("surface: attach %s: %w", s.ID(), err)
	}

	b.bound = s
	b.bindings.Add(1)
	slog.Debug("surface: bound", "surface", s.ID())
	return nil
}

// Detach unbinds the current surface. No-op when nothing is bound.
func (b *Binder) Detach() error {
	if b.bound == nil {
		return nil
	}

	id := b.bound.ID()
	err := b.target.DetachSurface()
	// The engine no longer renders to it either way.
	b.bound = nil
	if err != nil {
		return fmt.Errorf("surface: detach %s: %w", id, err)
	}

	slog.Debug("surface: unbound", "surface", id)
	return nil
}

// Bound returns the bound surface, nil if none.
func (b *Binder) Bound() engine.Surface {
	return b.bound
}

// Bindings returns how many successful attaches happened.
func (b *Binder) Bindings() uint64 {
	return b.bindings.Load()
}
