package streamsession

import (
	"context"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/recording"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/sink"
)

// Resume handles the host becoming visible. It attaches target (when not
// nil) and, if the session is idle, replays the last address display only.
// An exhausted session waits for an explicit play.
func (s *StreamSession) Resume(target Surface) error {
	if target != nil {
		if err := s.AttachSurface(target); err != nil {
			return err
		}
	}

	var d dispatch
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}

	switch state := s.policy.State(); {
	case s.lastAddress == "":
	case state == StateExhausted:
		slog.Info("stream-session: resume without replay, session exhausted", "address", s.lastAddress)
	case state == StateIdle:
		slog.Info("stream-session: resuming playback", "address", s.lastAddress)
		s.startLocked(s.ctx, s.lastAddress, sink.Display(), &d)
	}
	s.noteStateLocked(&d)
	s.mu.Unlock()

	d.run()
	return nil
}

// Pause handles the host becoming hidden. Outside reduced mode it stops
// playback and detaches the surface; in reduced mode it does nothing.
func (s *StreamSession) Pause() error {
	var d dispatch
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	if s.reduced {
		s.mu.Unlock()
		slog.Debug("stream-session: pause ignored in reduced mode")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	s.stopLocked(ctx, &d)
	cancel()
	s.forgetRecordingLocked()

	err := s.detachLocked(&d)
	s.noteStateLocked(&d)
	s.mu.Unlock()

	d.run()
	return err
}

// EnterReducedMode switches to the reduced-size buffering profile and makes
// sure frames keep flowing: an idle session, or a playing one whose surface
// got no frame within IdleFrameTimeout, is reconnected. Playback is never
// stopped by this call.
func (s *StreamSession) EnterReducedMode() error {
	var d dispatch
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}

	s.reduced = true
	s.profile = sink.ProfileReducedSize

	state := s.policy.State()
	switch {
	case s.lastAddress == "" || state == StateExhausted:
	case state == StateIdle:
		slog.Info("stream-session: reduced mode, reconnecting idle session", "address", s.lastAddress)
		s.restartLocked(&d)
	case s.playing && s.framesStalledLocked():
		slog.Info("stream-session: reduced mode, frames stalled, reconnecting",
			"address", s.lastAddress,
			"idle_timeout", s.cfg.IdleFrameTimeout,
		)
		s.restartLocked(&d)
	}
	s.noteStateLocked(&d)
	s.mu.Unlock()

	d.run()
	return nil
}

// ExitReducedMode stops playback and restores the standard profile. The
// host disposes the reduced presentation afterwards.
func (s *StreamSession) ExitReducedMode() error {
	var d dispatch
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}

	s.reduced = false
	s.profile = sink.ProfileStandard

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	s.stopLocked(ctx, &d)
	cancel()
	s.forgetRecordingLocked()
	s.noteStateLocked(&d)
	s.mu.Unlock()

	d.run()
	return nil
}

// Destroy handles host destruction. It is Release.
func (s *StreamSession) Destroy() error {
	return s.Release()
}

// restartLocked reconnects to the last address with the current profile.
// A recording in progress continues in the next attempt file.
func (s *StreamSession) restartLocked(d *dispatch) {
	base, attempt := s.recordBase, s.recordAttempt

	intent := sink.Display()
	if base != "" {
		attempt++
		intent = sink.DisplayAndRecord(recording.AttemptPath(base, attempt))
	}

	s.startLocked(s.ctx, s.lastAddress, intent, d)

	if base != "" && s.intent.Recording() {
		s.recordBase = base
		s.recordAttempt = attempt
	}
}

// framesStalledLocked reports whether the bound surface went without frames
// for longer than IdleFrameTimeout since playback started.
func (s *StreamSession) framesStalledLocked() bool {
	if s.binder.Bound() == nil {
		return false
	}
	last := s.meter.LastFrameAt()
	if last.Before(s.playingSince) {
		last = s.playingSince
	}
	return s.clock.Now().Sub(last) > s.cfg.IdleFrameTimeout
}
