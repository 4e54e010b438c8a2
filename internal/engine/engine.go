// Package engine defines the media engine boundary used by the session
// controller and the exclusive Handle that owns one engine instance.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Frame is one decoded video frame delivered to a Surface.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	// Data holds interleaved RGB bytes (Width*Height*3).
	Data    []byte
	TraceID string
}

// Surface is a display target the engine renders decoded frames onto.
type Surface interface {
	// ID identifies the surface in logs.
	ID() string
	// Render draws one frame. It is called from the engine's streaming thread
	// and must not block.
	Render(frame Frame) error
}

// Bindable is implemented by surfaces that hold native resources which must be
// acquired on attach and released on detach.
type Bindable interface {
	Bind() error
	Unbind() error
}

// Options is the engine-level option set produced for one connect attempt.
type Options struct {
	// Latency is the network/live buffering window.
	Latency time.Duration
	// TCPTimeout bounds connection establishment.
	TCPTimeout time.Duration
	// ForceTCP selects interleaved TCP transport for RTSP.
	ForceTCP bool
	// HardwareDecode allows hardware decoders to be picked.
	HardwareDecode bool
	// SinkDescription is the launch fragment appended after the decoder.
	SinkDescription string
	// DisplayElement names the display sink inside SinkDescription.
	DisplayElement string
	// RecordElement names the file sink inside SinkDescription, empty for display only.
	RecordElement string
	// RecordPath is the normalized output file, empty for display only.
	RecordPath string
	// Width and Height of rendered RGB frames.
	Width  int
	Height int
}

// Recording reports whether the options carry a file branch.
func (o Options) Recording() bool {
	return o.RecordElement != ""
}

// Capabilities describes optional engine behavior.
type Capabilities struct {
	// AudioOnlyContinuation is true when playback survives losing the video surface.
	AudioOnlyContinuation bool
}

// Engine is one native player instance.
//
// Open replaces any previous pipeline and returns once connecting has begun;
// the outcome is reported through events. Stop finalizes a file branch before
// tearing the pipeline down. After Release every method may return ErrReleased.
type Engine interface {
	Open(ctx context.Context, generation uint64, address string, opts Options) error
	Stop(ctx context.Context) error
	AttachSurface(s Surface) error
	DetachSurface() error
	Capabilities() Capabilities
	Release() error
}

// Emit delivers an engine event. Implementations must not block.
type Emit func(Event)

// Factory builds an engine reporting through emit.
type Factory func(emit Emit) (Engine, error)

// EventKind enumerates engine events.
type EventKind int

const (
	EventOpening EventKind = iota
	EventPlaying
	EventBuffering
	EventRecordingStarted
	EventEndReached
	EventStopped
	EventError
)

var eventKindNames = [...]string{
	EventOpening:          "opening",
	EventPlaying:          "playing",
	EventBuffering:        "buffering",
	EventRecordingStarted: "recording_started",
	EventEndReached:       "end_reached",
	EventStopped:          "stopped",
	EventError:            "error",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is an asynchronous notification from the engine.
type Event struct {
	Kind       EventKind
	Generation uint64
	// Percent is set for EventBuffering.
	Percent int
	// Category, Message and Debug are set for EventError.
	Category ErrorCategory
	Message  string
	Debug    string
	// Recording marks an error raised by the file branch.
	Recording bool
	// Source is the element that raised the event, when known.
	Source string
}
