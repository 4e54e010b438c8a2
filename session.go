package streamsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/clock"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine/gstengine"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/framestats"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/mailbox"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/notify"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/reconnect"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/recording"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/sink"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/surface"
)

// releaseTimeout bounds how long Release waits for the event loop.
const releaseTimeout = 3 * time.Second

// FileProvider creates recording files when a play call does not name one.
type FileProvider interface {
	CreateRecordingFile(ctx context.Context) (string, error)
}

// Option customizes a session.
type Option func(*options)

type options struct {
	clock   clock.Clock
	files   FileProvider
	notices *notify.Bus
	id      string
}

// WithClock replaces the clock driving retry timers and frame timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithFileProvider replaces the provider of generated recording paths.
func WithFileProvider(p FileProvider) Option {
	return func(o *options) { o.files = p }
}

// WithNotices publishes every callback as a notice on bus.
func WithNotices(bus *notify.Bus) Option {
	return func(o *options) { o.notices = bus }
}

// WithSessionID sets the ID used in logs and notices. Defaults to a uuid.
func WithSessionID(id string) Option {
	return func(o *options) { o.id = id }
}

// StreamSession is the session controller. It exclusively owns one engine
// handle, one surface binder, one reconnect policy and one recording tracker.
type StreamSession struct {
	id      string
	cb      Callbacks
	clock   clock.Clock
	files   FileProvider
	notices *notify.Bus

	handle *engine.Handle
	fires  *mailbox.Mailbox[uint64]
	meter  *framestats.Meter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Set while the event loop runs callbacks. Release called from one of
	// them must not wait for the loop to exit.
	inLoop atomic.Bool

	mu           sync.Mutex
	cfg          Config
	configurator *sink.Configurator
	policy       *reconnect.Policy
	binder       *surface.Binder
	tracker      recording.Tracker
	manifest     *recording.Manifest

	intent        sink.Intent
	profile       sink.Profile
	lastAddress   string
	recordBase    string
	recordAttempt int

	opened       bool
	playing      bool
	playingSince time.Time
	reduced      bool
	released     bool
	lastState    State
	errorCounts  map[string]uint64
	created      time.Time
}

var _ SessionController = (*StreamSession)(nil)

// New creates a session whose engine is built by factory. The engine is
// created immediately so a missing runtime fails here.
func New(cfg Config, factory engine.Factory, cb Callbacks, opts ...Option) (*StreamSession, error) {
	cfg = cfg.withDefaults()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.System()
	}
	if o.files == nil {
		o.files = recording.NewProvider(recording.ProviderConfig{
			Dir:       cfg.Recordings.Dir,
			Prefix:    cfg.Recordings.Prefix,
			Container: cfg.Recordings.Container,
		}, o.clock)
	}
	if o.id == "" {
		o.id = uuid.New().String()
	}

	handle, err := engine.NewHandle(factory)
	if err != nil {
		return nil, fmt.Errorf("stream-session: %w", err)
	}

	s := &StreamSession{
		id:           o.id,
		cb:           cb,
		clock:        o.clock,
		files:        o.files,
		notices:      o.notices,
		handle:       handle,
		fires:        mailbox.New[uint64](),
		meter:        framestats.NewMeter(framestats.DefaultWindow),
		done:         make(chan struct{}),
		cfg:          cfg,
		configurator: sink.New(sinkConfig(cfg.Sink)),
		binder:       surface.NewBinder(handle),
		intent:       sink.Display(),
		errorCounts:  make(map[string]uint64),
		created:      o.clock.Now(),
	}
	s.policy = reconnect.New(reconnectConfig(cfg.Reconnect), cfg.Reconnect.FallbackAddress, o.clock, func(gen uint64) {
		s.fires.Post(gen)
	})
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.loop()

	slog.Info("stream-session: created",
		"session_id", s.id,
		"fallback", cfg.Reconnect.FallbackAddress,
		"max_attempts", s.policy.Config().MaxAttempts,
		"ownership", cfg.Ownership.String(),
	)

	return s, nil
}

// NewGStreamer creates a session backed by the GStreamer engine.
func NewGStreamer(cfg Config, cb Callbacks, opts ...Option) (*StreamSession, error) {
	return New(cfg, gstengine.NewFactory(gstengine.DefaultConfig()), cb, opts...)
}

// ID returns the session ID.
func (s *StreamSession) ID() string {
	return s.id
}

// PlayStream stops any current playback and connects to address, display
// only. Connection results are reported through Callbacks; the returned
// error only covers invalid calls.
func (s *StreamSession) PlayStream(ctx context.Context, address string) error {
	return s.play(ctx, address, sink.Display(), nil)
}

// PlayStreamWithRecording is PlayStream plus a recording of the same
// pipeline to path. An empty path is generated by the FileProvider before
// connecting. When no valid recording can be set up the session plays
// display only and reports a *RecordingError.
func (s *StreamSession) PlayStreamWithRecording(ctx context.Context, address, path string) error {
	if address == "" {
		return ErrEmptyAddress
	}

	var recErr error
	if path == "" {
		generated, err := s.files.CreateRecordingFile(ctx)
		if err != nil {
			recErr = &RecordingError{Err: err}
		} else {
			path = generated
		}
	}

	if recErr != nil {
		return s.play(ctx, address, sink.Display(), recErr)
	}
	return s.play(ctx, address, sink.DisplayAndRecord(path), nil)
}

func (s *StreamSession) play(ctx context.Context, address string, intent sink.Intent, recErr error) error {
	if address == "" {
		return ErrEmptyAddress
	}

	var d dispatch
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	if recErr != nil {
		slog.Warn("stream-session: recording unavailable, playing display only", "error", recErr)
		s.reportLocked(recErr, CategoryRecording, &d)
	}
	s.startLocked(ctx, address, intent, &d)
	s.noteStateLocked(&d)
	s.mu.Unlock()

	d.run()
	return nil
}

// StopPlayback finalizes an active recording, stops the engine and cancels
// any pending retry. Safe to call when idle or released.
func (s *StreamSession) StopPlayback(ctx context.Context) error {
	var d dispatch
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}

	s.stopLocked(ctx, &d)
	s.forgetRecordingLocked()
	if s.cfg.DetachOnStop {
		if err := s.binder.Detach(); err != nil {
			slog.Warn("stream-session: detach on stop failed", "error", err)
		}
	}
	s.noteStateLocked(&d)
	s.mu.Unlock()

	d.run()
	return nil
}

// AttachSurface binds target, replacing the current surface.
func (s *StreamSession) AttachSurface(target Surface) error {
	var d dispatch
	s.mu.Lock()
	err := s.attachLocked(target, &d)
	s.noteStateLocked(&d)
	s.mu.Unlock()

	d.run()
	return err
}

// DetachSurface unbinds the current surface. No-op when none is bound.
func (s *StreamSession) DetachSurface() error {
	var d dispatch
	s.mu.Lock()
	err := s.detachLocked(&d)
	s.noteStateLocked(&d)
	s.mu.Unlock()

	d.run()
	return err
}

// IsPlaying reports whether the engine confirmed playback of the current attempt.
func (s *StreamSession) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// IsRecording reports whether a confirmed recording is being written.
func (s *StreamSession) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Active()
}

// CurrentRecordingPath returns the path of the requested or active
// recording, empty when there is none.
func (s *StreamSession) CurrentRecordingPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Path()
}

// State returns the reconnect state.
func (s *StreamSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.State()
}

// Stats returns a snapshot of the session.
func (s *StreamSession) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.policy.Stats()
	target := s.policy.Target()
	frames := s.meter.Snapshot()

	errs := make(map[string]uint64, len(s.errorCounts))
	for k, v := range s.errorCounts {
		errs[k] = v
	}

	return Stats{
		SessionID:        s.id,
		State:            s.policy.State().String(),
		Address:          target.Current,
		Primary:          target.Primary,
		Fallback:         target.Fallback,
		OnFallback:       target.OnFallback(),
		Failures:         s.policy.Failures(),
		Attempts:         ps.Attempts,
		Reconnects:       ps.Reconnects,
		FallbackSwitches: ps.FallbackSwitches,
		Exhaustions:      ps.Exhaustions,
		Playing:          s.playing,
		Recording:        s.tracker.Active(),
		RecordingPath:    s.tracker.Path(),
		ReducedMode:      s.reduced,
		SurfaceAttached:  s.binder.Bound() != nil,
		SurfaceBindings:  s.binder.Bindings(),
		FramesRendered:   frames.Rendered,
		FramesDropped:    frames.Dropped,
		FPSMean:          frames.FPS.FPSMean,
		FPSStdDev:        frames.FPS.FPSStdDev,
		FPSStable:        frames.FPS.IsStable,
		Errors:           errs,
		Uptime:           s.clock.Now().Sub(s.created),
		Released:         s.released,
	}
}

// Reconfigure applies new reconnect settings to later decisions. A pending
// retry keeps its delay.
func (s *StreamSession) Reconfigure(settings ReconnectSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.Reconnect = settings
	s.policy.Reconfigure(reconnectConfig(settings), settings.FallbackAddress)

	slog.Info("stream-session: reconnect settings updated",
		"fallback", settings.FallbackAddress,
		"max_attempts", s.policy.Config().MaxAttempts,
		"retry_delay", s.policy.Config().RetryDelay,
	)
}

// Release stops playback, detaches the surface and releases the engine.
// It is terminal and idempotent; every step runs even when an earlier one
// fails. It may be called from a callback.
func (s *StreamSession) Release() error {
	var d dispatch
	var errs []error

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	s.stopLocked(ctx, &d)
	cancel()
	s.forgetRecordingLocked()

	if err := s.binder.Detach(); err != nil {
		slog.Warn("stream-session: detach during release failed", "error", err)
		errs = append(errs, err)
	}
	s.noteStateLocked(&d)
	s.mu.Unlock()

	if err := s.handle.Close(); err != nil {
		slog.Warn("stream-session: engine release failed", "error", err)
		errs = append(errs, err)
	}
	s.fires.Close()

	if s.inLoop.Load() {
		slog.Debug("stream-session: released from a callback, event loop exits on return")
	} else {
		select {
		case <-s.done:
		case <-time.After(releaseTimeout):
			slog.Warn("stream-session: event loop did not stop in time", "timeout", releaseTimeout)
		}
	}

	d.run()

	slog.Info("stream-session: released", "session_id", s.id)
	return errors.Join(errs...)
}

func (s *StreamSession) loop() {
	defer close(s.done)

	events := s.handle.Events()
	fires := s.fires.C()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case gen, ok := <-fires:
			if !ok {
				fires = nil
				continue
			}
			s.handleFire(gen)
		}
	}
}

func (s *StreamSession) handleEvent(ev engine.Event) {
	var d dispatch
	s.mu.Lock()
	if !s.released {
		s.handleEventLocked(ev, &d)
		s.noteStateLocked(&d)
	}
	s.mu.Unlock()

	s.runInLoop(&d)
}

func (s *StreamSession) handleEventLocked(ev engine.Event, d *dispatch) {
	if ev.Generation != s.policy.Generation() {
		slog.Debug("stream-session: stale event ignored",
			"event", ev.Kind.String(),
			"generation", ev.Generation,
			"current", s.policy.Generation(),
		)
		return
	}

	switch ev.Kind {
	case engine.EventOpening:
		slog.Debug("stream-session: opening", "address", s.policy.Target().Current)

	case engine.EventPlaying:
		if s.policy.OnPlaying(ev.Generation) && !s.playing {
			s.playing = true
			s.playingSince = s.clock.Now()
			s.tracker.SetPlaying(true)
			slog.Info("stream-session: playing",
				"address", s.policy.Target().Current,
				"on_fallback", s.policy.Target().OnFallback(),
			)
		}

	case engine.EventBuffering:
		slog.Debug("stream-session: buffering", "percent", ev.Percent)

	case engine.EventRecordingStarted:
		if s.tracker.Confirm() {
			path := s.tracker.Path()
			if s.cfg.Recordings.Manifest {
				m := recording.NewManifest(path, s.policy.Target().Current, s.clock.Now())
				s.manifest = &m
			}
			slog.Info("stream-session: recording started", "path", path)
		}

	case engine.EventEndReached:
		slog.Info("stream-session: end of stream", "address", s.policy.Target().Current)
		s.policy.Stop()
		s.closeEngineLocked(s.ctx)
		s.playing = false
		if path, ok := s.tracker.Finish(); ok {
			s.recordingStoppedLocked(path, recording.OutcomeEnded, d)
		} else {
			s.manifest = nil
		}
		s.forgetRecordingLocked()

	case engine.EventStopped:
		slog.Debug("stream-session: engine stopped", "generation", ev.Generation)

	case engine.EventError:
		if ev.Recording {
			s.recordingErrorLocked(ev, d)
			return
		}
		s.failureLocked(ev, d)
	}
}

func (s *StreamSession) handleFire(gen uint64) {
	var d dispatch
	s.mu.Lock()
	if !s.released {
		s.fireLocked(gen, &d)
		s.noteStateLocked(&d)
	}
	s.mu.Unlock()

	s.runInLoop(&d)
}

func (s *StreamSession) runInLoop(d *dispatch) {
	s.inLoop.Store(true)
	defer s.inLoop.Store(false)
	d.run()
}

func (s *StreamSession) fireLocked(gen uint64, d *dispatch) {
	address, next, ok := s.policy.Fire(gen)
	if !ok {
		slog.Debug("stream-session: stale retry ignored", "generation", gen)
		return
	}

	if s.recordBase != "" {
		s.recordAttempt++
		s.intent = sink.DisplayAndRecord(recording.AttemptPath(s.recordBase, s.recordAttempt))
	}

	s.connectLocked(s.ctx, next, address, d)
}

// startLocked is the explicit play: it resets the reconnect machine.
func (s *StreamSession) startLocked(ctx context.Context, address string, intent sink.Intent, d *dispatch) {
	s.stopLocked(ctx, d)

	s.lastAddress = address
	s.intent = intent
	s.recordBase = intent.Path
	s.recordAttempt = 0

	gen := s.policy.Start(address)
	s.connectLocked(ctx, gen, address, d)
}

func (s *StreamSession) connectLocked(ctx context.Context, gen uint64, address string, d *dispatch) {
	opts, err := s.configurator.Configure(s.intent, s.profile)
	if err != nil && s.intent.Recording() {
		recErr := &RecordingError{Path: s.intent.Path, Err: err}
		slog.Warn("stream-session: recording sink rejected, playing display only", "error", recErr)
		s.reportLocked(recErr, CategoryRecording, d)
		s.forgetRecordingLocked()
		opts, err = s.configurator.Configure(s.intent, s.profile)
	}
	if err != nil {
		s.failureLocked(engine.Event{
			Kind:       engine.EventError,
			Generation: gen,
			Category:   engine.ErrCategoryUnknown,
			Message:    err.Error(),
		}, d)
		return
	}

	if s.intent.Recording() {
		s.tracker.Request(s.intent.Path)
	} else {
		s.tracker.Reset()
	}

	onFallback := s.policy.Target().OnFallback()
	metrics.RecordConnectAttempt(onFallback)

	slog.Info("stream-session: connecting",
		"address", address,
		"on_fallback", onFallback,
		"generation", gen,
		"intent", s.intent.String(),
		"profile", s.profile.String(),
	)

	if err := s.handle.Open(ctx, gen, address, opts); err != nil {
		s.opened = false
		s.failureLocked(engine.Event{
			Kind:       engine.EventError,
			Generation: gen,
			Category:   engine.ErrCategoryUnknown,
			Message:    err.Error(),
		}, d)
		return
	}
	s.opened = true
}

// failureLocked handles a failed or lost connection.
func (s *StreamSession) failureLocked(ev engine.Event, d *dispatch) {
	target := s.policy.Target()

	out := s.policy.OnFailure(ev.Generation)
	if out.Decision == reconnect.Ignored {
		slog.Debug("stream-session: failure ignored", "state", s.policy.State().String(), "message", ev.Message)
		return
	}

	s.playing = false
	if path, wasActive := s.tracker.Fail(); wasActive {
		s.recordingFailedLocked(path, ev.Message, d)
	}

	connErr := &ConnectionError{
		Address:  target.Current,
		Category: ev.Category.String(),
		Attempt:  out.Failures,
		Err:      errors.New(ev.Message),
	}
	slog.Warn("stream-session: connection failed",
		"address", target.Current,
		"category", connErr.Category,
		"attempt", out.Failures,
		"decision", out.Decision.String(),
		"error", ev.Message,
	)
	s.reportLocked(connErr, connErr.Category, d)

	switch out.Decision {
	case reconnect.Fallback:
		metrics.RecordFallbackSwitch()
		slog.Warn("stream-session: switching to fallback", "fallback", out.Address, "delay", out.Delay)

	case reconnect.GiveUp:
		s.closeEngineLocked(s.ctx)
		s.forgetRecordingLocked()
		metrics.RecordExhausted()

		final := s.policy.Target()
		exhausted := &ExhaustedError{
			Primary:  final.Primary,
			Fallback: final.Fallback,
			Attempts: s.policy.Config().MaxAttempts,
		}
		slog.Error("stream-session: giving up", "error", exhausted)
		s.reportLocked(exhausted, CategoryExhausted, d)
	}
}

// recordingErrorLocked drops the file branch; display playback continues.
func (s *StreamSession) recordingErrorLocked(ev engine.Event, d *dispatch) {
	path, wasActive := s.tracker.Fail()
	if wasActive {
		s.recordingFailedLocked(path, ev.Message, d)
	}
	s.forgetRecordingLocked()

	recErr := &RecordingError{Path: path, Err: errors.New(ev.Message)}
	slog.Warn("stream-session: recording failed, display continues", "path", path, "error", ev.Message)
	s.reportLocked(recErr, CategoryRecording, d)
}

// stopLocked cancels retries, stops the engine (finalizing the file branch)
// and reports an active recording as stopped.
func (s *StreamSession) stopLocked(ctx context.Context, d *dispatch) {
	s.policy.Stop()
	s.closeEngineLocked(ctx)
	s.playing = false

	if path, ok := s.tracker.Finish(); ok {
		s.recordingStoppedLocked(path, recording.OutcomeStopped, d)
	} else {
		s.manifest = nil
	}
}

func (s *StreamSession) closeEngineLocked(ctx context.Context) {
	if !s.opened {
		return
	}
	s.opened = false

	if ctx.Err() != nil {
		// Released or cancelled: still give the muxer its bounded finalize window.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.cfg.StopTimeout)
		defer cancel()
	}
	if err := s.handle.Stop(ctx); err != nil {
		slog.Warn("stream-session: engine stop failed", "error", err)
	}
}

// forgetRecordingLocked ends recording for the rest of the session until
// the next explicit play.
func (s *StreamSession) forgetRecordingLocked() {
	s.recordBase = ""
	s.recordAttempt = 0
	s.intent = sink.Display()
	s.tracker.Reset()
}

func (s *StreamSession) recordingStoppedLocked(path string, outcome recording.Outcome, d *dispatch) {
	metrics.RecordRecording(string(outcome))
	slog.Info("stream-session: recording stopped", "path", path, "outcome", string(outcome))

	s.writeManifestLocked(outcome, "", d)

	if s.notices != nil {
		bus, n := s.notices, notify.Notice{Kind: notify.KindRecordingStopped, SessionID: s.id, Path: path}
		d.add(func() { bus.Publish(n) })
	}
	if cb := s.cb.OnRecordingStopped; cb != nil {
		d.add(func() { cb(path) })
	}
}

func (s *StreamSession) recordingFailedLocked(path, message string, d *dispatch) {
	metrics.RecordRecording(string(recording.OutcomeFailed))
	slog.Warn("stream-session: recording interrupted", "path", path, "error", message)

	s.writeManifestLocked(recording.OutcomeFailed, message, d)
}

func (s *StreamSession) writeManifestLocked(outcome recording.Outcome, message string, d *dispatch) {
	if s.manifest == nil {
		return
	}
	m := *s.manifest
	m.Error = message
	s.manifest = nil
	finishedAt := s.clock.Now()

	d.add(func() {
		path, err := recording.WriteManifest(m, outcome, finishedAt)
		if err != nil {
			slog.Warn("stream-session: manifest not written", "recording", m.Path, "error", err)
			return
		}
		slog.Debug("stream-session: manifest written", "path", path)
	})
}

func (s *StreamSession) attachLocked(target Surface, d *dispatch) error {
	if s.released {
		return ErrReleased
	}
	if target == nil {
		return fmt.Errorf("stream-session: nil surface")
	}

	metered := surface.NewMetered(target, s.meter, s.clock.Now)
	if err := s.binder.Attach(metered); err != nil {
		return s.surfaceFailedLocked("attach", target.ID(), err, d)
	}

	metrics.RecordSurfaceBinding()
	slog.Info("stream-session: surface attached", "surface", target.ID())
	return nil
}

func (s *StreamSession) detachLocked(d *dispatch) error {
	if s.released {
		return nil
	}
	bound := s.binder.Bound()
	if bound == nil {
		return nil
	}

	if err := s.binder.Detach(); err != nil {
		return s.surfaceFailedLocked("detach", bound.ID(), err, d)
	}

	slog.Info("stream-session: surface detached", "surface", bound.ID())
	return nil
}

// surfaceFailedLocked reports a surface error and stops playback when the
// engine cannot continue without video.
func (s *StreamSession) surfaceFailedLocked(op, id string, err error, d *dispatch) error {
	surfErr := &SurfaceError{Op: op, Surface: id, Err: err}
	slog.Error("stream-session: surface error", "op", op, "surface", id, "error", err)
	s.reportLocked(surfErr, CategorySurface, d)

	if s.opened && !s.handle.Capabilities().AudioOnlyContinuation {
		slog.Warn("stream-session: engine cannot continue without a surface, stopping")
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
		s.stopLocked(ctx, d)
		cancel()
		s.forgetRecordingLocked()
	}
	return surfErr
}

// reportLocked counts err under label and queues OnError.
func (s *StreamSession) reportLocked(err error, label string, d *dispatch) {
	s.errorCounts[label]++
	metrics.RecordError(label)

	if s.notices != nil {
		bus := s.notices
		n := notify.Notice{Kind: notify.KindError, SessionID: s.id, Message: err.Error(), Category: category(err)}
		d.add(func() { bus.Publish(n) })
	}
	if cb := s.cb.OnError; cb != nil {
		d.add(func() { cb(err) })
	}
}

func (s *StreamSession) noteStateLocked(d *dispatch) {
	current := s.policy.State()
	if current == s.lastState {
		return
	}
	old := s.lastState
	s.lastState = current

	metrics.SetState(int(current))
	slog.Debug("stream-session: state changed", "from", old.String(), "to", current.String())

	if s.notices != nil {
		bus := s.notices
		n := notify.Notice{Kind: notify.KindStateChanged, SessionID: s.id, From: old.String(), To: current.String()}
		d.add(func() { bus.Publish(n) })
	}
	if cb := s.cb.OnStateChanged; cb != nil {
		d.add(func() { cb(old, current) })
	}
}

// dispatch collects callbacks while the session lock is held and runs them
// after it is released.
type dispatch struct {
	fns []func()
}

func (d *dispatch) add(fn func()) {
	d.fns = append(d.fns, fn)
}

func (d *dispatch) run() {
	for _, fn := range d.fns {
		fn()
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.IdleFrameTimeout <= 0 {
		c.IdleFrameTimeout = def.IdleFrameTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	return c
}

func reconnectConfig(r ReconnectSettings) reconnect.Config {
	return reconnect.Config{
		MaxAttempts:   r.MaxAttempts,
		RetryDelay:    r.RetryDelay,
		FallbackDelay: r.FallbackDelay,
		MaxRetryDelay: r.MaxRetryDelay,
		Backoff:       r.Backoff,
	}
}

func sinkConfig(s SinkSettings) sink.Config {
	return sink.Config{
		DisplayLatency:    s.DisplayLatency,
		RecordLatency:     s.RecordLatency,
		ReducedLatency:    s.ReducedLatency,
		DisplayTCPTimeout: s.DisplayTCPTimeout,
		RecordTCPTimeout:  s.RecordTCPTimeout,
		RecordQueue:       s.RecordQueue,
		ForceTCP:          s.ForceTCP,
		HardwareDecode:    s.HardwareDecode,
		Width:             s.Width,
		Height:            s.Height,
	}
}
