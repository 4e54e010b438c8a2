// Package gstengine implements engine.Engine on top of GStreamer via go-gst.
//
// One Engine owns at most one pipeline at a time. Open replaces the current
// pipeline, a bus monitor goroutine translates bus messages into engine
// events, and the display appsink renders decoded RGB frames onto the
// attached surface.
package gstengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
)

// ErrSurfaceAttached is returned by AttachSurface when a surface is already bound.
var ErrSurfaceAttached = errors.New("gstengine: surface already attached")

// Config tunes pipeline shutdown.
type Config struct {
	// EOSTimeout bounds how long Stop waits for the muxer to finalize a file.
	EOSTimeout time.Duration
	// ShutdownTimeout bounds how long teardown waits for the bus monitor.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default shutdown timeouts.
func DefaultConfig() Config {
	return Config{
		EOSTimeout:      5 * time.Second,
		ShutdownTimeout: 3 * time.Second,
	}
}

// Stats are frame counters accumulated across pipelines.
type Stats struct {
	Frames        uint64
	FramesDropped uint64
	BytesRead     uint64
}

// Engine is a GStreamer-backed engine.Engine.
type Engine struct {
	cfg  Config
	emit engine.Emit

	mu         sync.Mutex
	pipeline   *gst.Pipeline
	appSink    *app.Sink
	opts       engine.Options
	address    string
	generation uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	eosDone    chan struct{}
	released   bool

	// Set by the monitor, read by Stop.
	failed       atomic.Bool
	recordFailed atomic.Bool
	stopping     atomic.Bool

	surfaceMu sync.RWMutex
	surface   engine.Surface

	frameCount    atomic.Uint64
	framesDropped atomic.Uint64
	bytesRead     atomic.Uint64
}

// New creates an engine reporting through emit.
//
// Fails fast if GStreamer is not usable on this host.
func New(cfg Config, emit engine.Emit) (*Engine, error) {
	if emit == nil {
		return nil, fmt.Errorf("gstengine: emit function is required")
	}
	if cfg.EOSTimeout <= 0 {
		cfg.EOSTimeout = DefaultConfig().EOSTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("gstengine: %w", err)
	}

	return &Engine{cfg: cfg, emit: emit}, nil
}

// NewFactory adapts New to engine.Factory.
func NewFactory(cfg Config) engine.Factory {
	return func(emit engine.Emit) (engine.Engine, error) {
		return New(cfg, emit)
	}
}

// Open builds and starts a pipeline for address, replacing any current one.
func (e *Engine) Open(ctx context.Context, generation uint64, address string, opts engine.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return engine.ErrReleased
	}

	e.teardownLocked()

	launch := BuildLaunch(address, opts)

	slog.Info("gstengine: opening stream",
		"address", address,
		"generation", generation,
		"recording", opts.Recording(),
		"record_path", opts.RecordPath,
		"latency", opts.Latency,
	)
	slog.Debug("gstengine: launch line", "launch", launch)

	if err := ctx.Err(); err != nil {
		return err
	}

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("gstengine: failed to create pipeline: %w", err)
	}

	displayName := opts.DisplayElement
	if displayName == "" {
		displayName = "display"
	}
	displayElem, err := pipeline.GetElementByName(displayName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("gstengine: display sink %q not found: %w", displayName, err)
	}
	appSink := app.SinkFromElement(displayElem)
	if appSink == nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("gstengine: element %q is not an appsink", displayName)
	}

	width, height := opts.Width, opts.Height
	appSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return e.onNewSample(s, width, height)
		},
	})

	e.pipeline = pipeline
	e.appSink = appSink
	e.opts = opts
	e.address = address
	e.generation = generation
	e.failed.Store(false)
	e.recordFailed.Store(false)
	e.stopping.Store(false)
	e.eosDone = make(chan struct{})

	e.emit(engine.Event{Kind: engine.EventOpening, Generation: generation, Source: address})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		e.teardownLocked()
		return fmt.Errorf("gstengine: failed to start pipeline: %w", err)
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.monitor(monitorCtx, monitorState{
		pipeline:   pipeline,
		generation: generation,
		opts:       opts,
		eosDone:    e.eosDone,
	})

	return nil
}

// Stop finalizes the file branch, if any, and tears the pipeline down.
//
// When recording and the pipeline is healthy, an EOS event is pushed so the
// muxer writes its trailer; Stop waits for it to reach the bus, bounded by
// EOSTimeout and ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return engine.ErrReleased
	}
	if e.pipeline == nil {
		return nil
	}

	var finalizeErr error
	if e.finalizeOnStop() {
		e.stopping.Store(true)
		if ok := e.pipeline.SendEvent(gst.NewEOSEvent()); !ok {
			finalizeErr = fmt.Errorf("gstengine: EOS event rejected, %s may be truncated", e.opts.RecordPath)
		} else {
			timer := time.NewTimer(e.cfg.EOSTimeout)
			select {
			case <-e.eosDone:
				slog.Debug("gstengine: recording finalized", "path", e.opts.RecordPath)
			case <-timer.C:
				finalizeErr = fmt.Errorf("gstengine: timed out finalizing %s", e.opts.RecordPath)
			case <-ctx.Done():
				finalizeErr = fmt.Errorf("gstengine: finalizing %s: %w", e.opts.RecordPath, ctx.Err())
			}
			timer.Stop()
		}
		if finalizeErr != nil {
			slog.Warn("gstengine: recording finalize incomplete", "error", finalizeErr)
		}
	}

	generation := e.generation
	e.teardownLocked()

	e.emit(engine.Event{Kind: engine.EventStopped, Generation: generation})

	return finalizeErr
}

// finalizeOnStop reports whether Stop has a healthy file branch to drain.
// Once the pipeline or its file branch failed, no EOS will reach the bus.
func (e *Engine) finalizeOnStop() bool {
	return e.opts.Recording() && !e.failed.Load() && !e.recordFailed.Load()
}

// AttachSurface binds s as the render target.
func (e *Engine) AttachSurface(s engine.Surface) error {
	if s == nil {
		return fmt.Errorf("gstengine: nil surface")
	}

	e.surfaceMu.Lock()
	defer e.surfaceMu.Unlock()

	if e.surface != nil {
		return fmt.Errorf("%w: %s", ErrSurfaceAttached, e.surface.ID())
	}
	if b, ok := s.(engine.Bindable); ok {
		if err := b.Bind(); err != nil {
			return fmt.Errorf("gstengine: bind surface %s: %w", s.ID(), err)
		}
	}

	e.surface = s
	slog.Debug("gstengine: surface attached", "surface", s.ID())
	return nil
}

// DetachSurface unbinds the current surface. Frames are dropped until a new
// one is attached.
func (e *Engine) DetachSurface() error {
	e.surfaceMu.Lock()
	defer e.surfaceMu.Unlock()

	if e.surface == nil {
		return nil
	}

	s := e.surface
	e.surface = nil

	if b, ok := s.(engine.Bindable); ok {
		if err := b.Unbind(); err != nil {
			return fmt.Errorf("gstengine: unbind surface %s: %w", s.ID(), err)
		}
	}

	slog.Debug("gstengine: surface detached", "surface", s.ID())
	return nil
}

// Capabilities reports that video-less continuation is not supported: the
// display appsink is part of every pipeline.
func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{AudioOnlyContinuation: false}
}

// Release tears down the pipeline and detaches the surface. Idempotent.
func (e *Engine) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	e.teardownLocked()
	e.mu.Unlock()

	stats := e.Stats()
	slog.Info("gstengine: released",
		"frames", stats.Frames,
		"frames_dropped", stats.FramesDropped,
		"bytes_read", stats.BytesRead,
	)

	return e.DetachSurface()
}

// Stats returns frame counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Frames:        e.frameCount.Load(),
		FramesDropped: e.framesDropped.Load(),
		BytesRead:     e.bytesRead.Load(),
	}
}

// teardownLocked stops the monitor and releases the pipeline. Caller holds e.mu.
func (e *Engine) teardownLocked() {
	if e.pipeline == nil {
		return
	}

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownTimeout):
		slog.Warn("gstengine: bus monitor did not stop in time")
	}

	if err := e.pipeline.SetState(gst.StateNull); err != nil {
		slog.Error("gstengine: failed to set pipeline to NULL", "error", err)
	}

	e.pipeline = nil
	e.appSink = nil
	e.opts = engine.Options{}
	e.address = ""
	e.stopping.Store(false)
}

// checkGStreamerAvailable creates a throwaway element to verify the runtime.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	return nil
}
