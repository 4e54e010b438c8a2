package streamsession

import (
	"context"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/reconnect"
)

// Surface is a display target the engine renders decoded frames onto.
type Surface = engine.Surface

// Frame is one decoded RGB frame.
type Frame = engine.Frame

// State is the reconnect state of a session.
type State = reconnect.State

const (
	StateIdle           = reconnect.Idle
	StateConnecting     = reconnect.Connecting
	StatePlaying        = reconnect.Playing
	StateRetrying       = reconnect.Retrying
	StateFallbackSwitch = reconnect.FallbackSwitch
	StateExhausted      = reconnect.Exhausted
)

// OwnershipMode selects how sessions are handed out by a Source.
type OwnershipMode int

const (
	// OwnershipExclusive gives the session to exactly one owner.
	OwnershipExclusive OwnershipMode = iota
	// OwnershipShared reference-counts one session between many owners.
	OwnershipShared
)

func (m OwnershipMode) String() string {
	if m == OwnershipShared {
		return "shared"
	}
	return "exclusive"
}

// ParseOwnership parses "exclusive" or "shared". Anything else is exclusive.
func ParseOwnership(s string) OwnershipMode {
	if s == "shared" {
		return OwnershipShared
	}
	return OwnershipExclusive
}

// Callbacks are invoked without any session lock held, at most once per
// logical event. Nil callbacks are skipped.
type Callbacks struct {
	// OnError receives every reported error. err.Error() is the host message.
	OnError func(err error)
	// OnRecordingStopped receives the path of a successfully finalized recording.
	OnRecordingStopped func(path string)
	// OnStateChanged receives reconnect state transitions.
	OnStateChanged func(old, new State)
}

// ReconnectSettings bound automatic reconnection. They can be changed on a
// running session with Reconfigure.
type ReconnectSettings struct {
	// FallbackAddress is tried once the primary address is exhausted. Empty disables it.
	FallbackAddress string
	// MaxAttempts is the number of connection attempts per address (default 3).
	MaxAttempts int
	// RetryDelay before retrying the same address (default 2s).
	RetryDelay time.Duration
	// FallbackDelay before the first attempt on the fallback (default 1s).
	FallbackDelay time.Duration
	// MaxRetryDelay caps RetryDelay when Backoff is set (default 30s).
	MaxRetryDelay time.Duration
	// Backoff doubles the retry delay after every failure.
	Backoff bool
}

// SinkSettings shape the engine options of every connect attempt.
type SinkSettings struct {
	DisplayLatency    time.Duration
	RecordLatency     time.Duration
	ReducedLatency    time.Duration
	DisplayTCPTimeout time.Duration
	RecordTCPTimeout  time.Duration
	RecordQueue       time.Duration
	ForceTCP          bool
	HardwareDecode    bool
	Width             int
	Height            int
}

// RecordingSettings configure generated recording files.
type RecordingSettings struct {
	// Dir is where generated recordings go. Empty means ~/Downloads/Flight Eye.
	Dir string
	// Prefix of generated names (default "recording_").
	Prefix string
	// Container is mp4 (default), mkv or ts.
	Container string
	// Manifest writes a JSON sidecar next to every finished recording.
	Manifest bool
}

// Config configures a session.
type Config struct {
	Reconnect  ReconnectSettings
	Sink       SinkSettings
	Recordings RecordingSettings
	Ownership  OwnershipMode

	// DetachOnStop detaches the surface when playback is stopped.
	DetachOnStop bool
	// IdleFrameTimeout is how long a playing stream may go without rendering
	// before EnterReducedMode reconnects it (default 3s).
	IdleFrameTimeout time.Duration
	// StopTimeout bounds stops that are not driven by a caller context (default 6s).
	StopTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Reconnect: ReconnectSettings{
			MaxAttempts:   3,
			RetryDelay:    2 * time.Second,
			FallbackDelay: 1 * time.Second,
			MaxRetryDelay: 30 * time.Second,
		},
		Sink: SinkSettings{
			DisplayLatency:    1000 * time.Millisecond,
			RecordLatency:     3000 * time.Millisecond,
			ReducedLatency:    5000 * time.Millisecond,
			DisplayTCPTimeout: 10 * time.Second,
			RecordTCPTimeout:  5 * time.Second,
			RecordQueue:       5 * time.Second,
			ForceTCP:          true,
			HardwareDecode:    true,
			Width:             1280,
			Height:            720,
		},
		Ownership:        OwnershipExclusive,
		DetachOnStop:     false,
		IdleFrameTimeout: 3 * time.Second,
		StopTimeout:      6 * time.Second,
	}
}

// Stats is a point-in-time view of a session.
type Stats struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`

	Address    string `json:"address"`
	Primary    string `json:"primary"`
	Fallback   string `json:"fallback,omitempty"`
	OnFallback bool   `json:"on_fallback"`

	// Failures on the current address.
	Failures         int    `json:"failures"`
	Attempts         uint64 `json:"attempts"`
	Reconnects       uint64 `json:"reconnects"`
	FallbackSwitches uint64 `json:"fallback_switches"`
	Exhaustions      uint64 `json:"exhaustions"`

	Playing       bool   `json:"playing"`
	Recording     bool   `json:"recording"`
	RecordingPath string `json:"recording_path,omitempty"`
	ReducedMode   bool   `json:"reduced_mode"`

	SurfaceAttached bool    `json:"surface_attached"`
	SurfaceBindings uint64  `json:"surface_bindings"`
	FramesRendered  uint64  `json:"frames_rendered"`
	FramesDropped   uint64  `json:"frames_dropped"`
	FPSMean         float64 `json:"fps_mean"`
	FPSStdDev       float64 `json:"fps_stddev"`
	FPSStable       bool    `json:"fps_stable"`

	Errors   map[string]uint64 `json:"errors,omitempty"`
	Uptime   time.Duration     `json:"uptime"`
	Released bool              `json:"released"`
}

// SessionController is the contract a host drives.
type SessionController interface {
	// PlayStream stops current playback and connects to address, display only.
	PlayStream(ctx context.Context, address string) error
	// PlayStreamWithRecording connects to address and records to path. An
	// empty path is generated.
	PlayStreamWithRecording(ctx context.Context, address, path string) error
	// StopPlayback finalizes an active recording and stops. No-op when idle.
	StopPlayback(ctx context.Context) error

	AttachSurface(s Surface) error
	DetachSurface() error

	IsPlaying() bool
	IsRecording() bool
	CurrentRecordingPath() string
	State() State
	Stats() Stats

	Reconfigure(settings ReconnectSettings)

	Resume(s Surface) error
	Pause() error
	EnterReducedMode() error
	ExitReducedMode() error
	Destroy() error

	// Release is terminal and idempotent.
	Release() error
}
