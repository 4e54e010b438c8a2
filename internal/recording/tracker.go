// Package recording tracks the file branch of a session and provides the
// recording file paths, directory checks and completion manifests.
package recording

// Tracker records whether a recording is active and where it is written.
//
// A recording is active only once it was requested, the engine confirmed the
// file sink, and the stream is playing. Finish and Fail clear the state; only
// Finish reports a successfully stopped recording. Not safe for concurrent use.
type Tracker struct {
	path      string
	confirmed bool
	playing   bool
}

// Request sets the path of a pending recording.
func (t *Tracker) Request(path string) {
	t.path = path
	t.confirmed = false
}

// Confirm marks the file sink as accepted by the engine.
func (t *Tracker) Confirm() bool {
	if t.path == "" {
		return false
	}
	t.confirmed = true
	return true
}

// SetPlaying records whether the stream is currently playing.
func (t *Tracker) SetPlaying(playing bool) {
	t.playing = playing
}

// Active reports whether a confirmed recording is being written.
func (t *Tracker) Active() bool {
	return t.path != "" && t.confirmed && t.playing
}

// Pending reports whether a recording was requested but not yet confirmed.
func (t *Tracker) Pending() bool {
	return t.path != "" && !t.confirmed
}

// Path returns the current (pending or active) recording path.
func (t *Tracker) Path() string {
	return t.path
}

// Finish clears the state. ok is true only when an active recording was
// stopped; a file sink confirmed before the stream ever played is not a
// finished recording. It never reports the same recording twice.
func (t *Tracker) Finish() (path string, ok bool) {
	path, ok = t.path, t.Active()
	t.Reset()
	return path, ok
}

// Fail clears the state after an engine error. wasActive tells whether the
// recording had been confirmed; a failed recording is never reported as
// stopped.
func (t *Tracker) Fail() (path string, wasActive bool) {
	path, wasActive = t.path, t.path != "" && t.confirmed
	t.Reset()
	return path, wasActive
}

// Reset forgets the recording without reporting it.
func (t *Tracker) Reset() {
	t.path = ""
	t.confirmed = false
	t.playing = false
}
