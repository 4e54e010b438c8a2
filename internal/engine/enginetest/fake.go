// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
)

// Outcome is what the fake does when asked to open an address.
type Outcome int

const (
	// Play emits Opening then Playing (and RecordingStarted for file branches).
	Play Outcome = iota
	// Fail emits Opening then a network Error.
	Fail
	// Hang emits Opening only.
	Hang
)

// OpenCall records one Open invocation.
type OpenCall struct {
	Generation uint64
	Address    string
	Options    engine.Options
}

// Engine is a fake engine.Engine.
type Engine struct {
	mu sync.Mutex

	emit     engine.Emit
	outcomes map[string]Outcome
	fallback Outcome
	caps     engine.Capabilities

	opens       []OpenCall
	stops       int
	releases    int
	attached    engine.Surface
	attachCalls int
	detachCalls int
	current     uint64
	open        bool

	// Errors injected into the matching calls.
	OpenErr    error
	StopErr    error
	AttachErr  error
	DetachErr  error
	ReleaseErr error
	// PanicOnRelease makes Release panic, for containment tests.
	PanicOnRelease bool
}

// New returns a fake that plays every address unless told otherwise.
func New() *Engine {
	return &Engine{outcomes: make(map[string]Outcome)}
}

// Factory returns an engine.Factory handing out this fake.
func (f *Engine) Factory() engine.Factory {
	return func(emit engine.Emit) (engine.Engine, error) {
		f.mu.Lock()
		f.emit = emit
		f.mu.Unlock()
		return f, nil
	}
}

// FailingFactory returns a factory that always errors.
func FailingFactory(err error) engine.Factory {
	return func(engine.Emit) (engine.Engine, error) {
		return nil, err
	}
}

// SetOutcome scripts the behavior for address.
func (f *Engine) SetOutcome(address string, o Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[address] = o
}

// SetDefaultOutcome scripts the behavior for unscripted addresses.
func (f *Engine) SetDefaultOutcome(o Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = o
}

// SetCapabilities overrides the reported capabilities.
func (f *Engine) SetCapabilities(c engine.Capabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = c
}

func (f *Engine) Open(ctx context.Context, generation uint64, address string, opts engine.Options) error {
	f.mu.Lock()
	if f.OpenErr != nil {
		err := f.OpenErr
		f.mu.Unlock()
		return err
	}
	if err := ctx.Err(); err != nil {
		f.mu.Unlock()
		return err
	}

	f.opens = append(f.opens, OpenCall{Generation: generation, Address: address, Options: opts})
	f.current = generation
	f.open = true

	outcome, ok := f.outcomes[address]
	if !ok {
		outcome = f.fallback
	}
	emit := f.emit
	f.mu.Unlock()

	emit(engine.Event{Kind: engine.EventOpening, Generation: generation})
	switch outcome {
	case Play:
		emit(engine.Event{Kind: engine.EventPlaying, Generation: generation})
		if opts.Recording() {
			emit(engine.Event{Kind: engine.EventRecordingStarted, Generation: generation, Source: opts.RecordElement})
		}
	case Fail:
		emit(engine.Event{
			Kind:       engine.EventError,
			Generation: generation,
			Category:   engine.ErrCategoryNetwork,
			Message:    "Could not open resource for reading and writing.",
			Source:     "source",
		})
	}
	return nil
}

func (f *Engine) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	f.open = false
	return f.StopErr
}

func (f *Engine) AttachSurface(s engine.Surface) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attachCalls++
	if f.AttachErr != nil {
		return f.AttachErr
	}
	if f.attached != nil {
		return errors.New("enginetest: surface already attached")
	}
	f.attached = s
	return nil
}

func (f *Engine) DetachSurface() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.detachCalls++
	if f.DetachErr != nil {
		return f.DetachErr
	}
	f.attached = nil
	return nil
}

func (f *Engine) Capabilities() engine.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps
}

func (f *Engine) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.releases++
	f.open = false
	f.attached = nil
	if f.PanicOnRelease {
		panic("enginetest: release exploded")
	}
	return f.ReleaseErr
}

// Emit injects an event for the current generation when ev.Generation is 0.
func (f *Engine) Emit(ev engine.Event) {
	f.mu.Lock()
	if ev.Generation == 0 {
		ev.Generation = f.current
	}
	emit := f.emit
	f.mu.Unlock()
	emit(ev)
}

// Opens returns a copy of every Open call.
func (f *Engine) Opens() []OpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OpenCall(nil), f.opens...)
}

// Addresses returns the address of every Open call, in order.
func (f *Engine) Addresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.opens))
	for i, o := range f.opens {
		out[i] = o.Address
	}
	return out
}

// Stops returns how many times Stop was called.
func (f *Engine) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// Releases returns how many times Release was called.
func (f *Engine) Releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

// Attached returns the bound surface.
func (f *Engine) Attached() engine.Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

// AttachCalls and DetachCalls count surface calls.
func (f *Engine) AttachCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachCalls
}

func (f *Engine) DetachCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detachCalls
}

// Surface is a minimal engine.Surface recording rendered frames.
type Surface struct {
	Name string

	mu      sync.Mutex
	frames  int
	bound   bool
	BindErr error
	binds   int
	unbinds int
}

func (s *Surface) ID() string { return s.Name }

func (s *Surface) Render(engine.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *Surface) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BindErr != nil {
		return s.BindErr
	}
	s.binds++
	s.bound = true
	return nil
}

func (s *Surface) Unbind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbinds++
	s.bound = false
	return nil
}

// Bound reports whether Bind was called without a matching Unbind.
func (s *Surface) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Frames returns the number of rendered frames.
func (s *Surface) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
