package streamsession

import (
	"errors"
	"fmt"
)

var (
	// ErrReleased is returned by operations on a released session.
	ErrReleased = errors.New("stream-session: session released")
	// ErrEmptyAddress is returned when a play call has no address.
	ErrEmptyAddress = errors.New("stream-session: empty stream address")
	// ErrAlreadyOwned is returned by an exclusive Source acquired twice.
	ErrAlreadyOwned = errors.New("stream-session: session already owned")
)

// Error categories used in notices and error counters.
const (
	CategoryConnection = "connection"
	CategorySurface    = "surface"
	CategoryRecording  = "recording"
	CategoryExhausted  = "exhausted"
)

// ConnectionError reports a failed or lost connection. The session handles
// it by retrying or switching to the fallback.
type ConnectionError struct {
	Address string
	// Category is the engine error category (network, codec, auth, unknown).
	Category string
	// Attempt is the failure count on Address, including this one.
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream-session: connection to %s failed (%s, attempt %d): %v",
		e.Address, e.Category, e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SurfaceError reports a failed attach or detach.
type SurfaceError struct {
	// Op is "attach" or "detach".
	Op      string
	Surface string
	Err     error
}

func (e *SurfaceError) Error() string {
	return fmt.Sprintf("stream-session: %s surface %s: %v", e.Op, e.Surface, e.Err)
}

func (e *SurfaceError) Unwrap() error { return e.Err }

// RecordingError reports that the recording part of a session was dropped.
// Display playback is not affected.
type RecordingError struct {
	Path string
	Err  error
}

func (e *RecordingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("stream-session: recording failed: %v", e.Err)
	}
	return fmt.Sprintf("stream-session: recording %s failed: %v", e.Path, e.Err)
}

func (e *RecordingError) Unwrap() error { return e.Err }

// ExhaustedError is terminal: every attempt on the primary and fallback
// addresses failed. The session stays stopped until the next explicit play.
type ExhaustedError struct {
	Primary  string
	Fallback string
	// Attempts per address.
	Attempts int
}

func (e *ExhaustedError) Error() string {
	if e.Fallback == "" || e.Fallback == e.Primary {
		return fmt.Sprintf("stream-session: unable to connect to %s after %d attempts", e.Primary, e.Attempts)
	}
	return fmt.Sprintf("stream-session: unable to connect to %s or fallback %s after %d attempts each",
		e.Primary, e.Fallback, e.Attempts)
}

// category maps an error to its notice and counter category.
func category(err error) string {
	var (
		connErr    *ConnectionError
		surfErr    *SurfaceError
		recErr     *RecordingError
		exhaustErr *ExhaustedError
	)
	switch {
	case errors.As(err, &exhaustErr):
		return CategoryExhausted
	case errors.As(err, &recErr):
		return CategoryRecording
	case errors.As(err, &surfErr):
		return CategorySurface
	case errors.As(err, &connErr):
		return CategoryConnection
	default:
		return "unknown"
	}
}
