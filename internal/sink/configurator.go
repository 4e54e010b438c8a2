// Package sink translates a playback intent into the engine option set,
// including the GStreamer launch fragment that duplicates the decoded stream
// into a display branch and a file branch.
package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
)

// Element names used inside the generated launch fragment. File branch
// elements share the "rec" prefix so engine errors can be attributed to it.
const (
	DisplayElement = "display"
	RecordElement  = "recfile"
	RecordPrefix   = "rec"
	teeElement     = "dup"
)

// Mode selects which sinks an attempt feeds.
type Mode int

const (
	ModeDisplay Mode = iota
	ModeDisplayAndRecord
)

// Intent is the tagged variant Display | DisplayAndRecord(path).
type Intent struct {
	Mode Mode
	Path string
}

// Display returns the display-only intent.
func Display() Intent {
	return Intent{Mode: ModeDisplay}
}

// DisplayAndRecord returns the duplicating intent writing to path.
func DisplayAndRecord(path string) Intent {
	return Intent{Mode: ModeDisplayAndRecord, Path: path}
}

// Recording reports whether the intent carries a file branch.
func (i Intent) Recording() bool {
	return i.Mode == ModeDisplayAndRecord
}

func (i Intent) String() string {
	if i.Recording() {
		return "display+record"
	}
	return "display"
}

// Profile selects the buffering profile.
type Profile int

const (
	// ProfileStandard is the full-size presentation.
	ProfileStandard Profile = iota
	// ProfileReducedSize is used while the host shows a reduced-size window.
	ProfileReducedSize
)

func (p Profile) String() string {
	if p == ProfileReducedSize {
		return "reduced"
	}
	return "standard"
}

// Errors returned by Configure. They are recording failures by nature.
var (
	ErrInvalidPath          = errors.New("sink: invalid recording path")
	ErrUnsupportedContainer = errors.New("sink: unsupported recording container")
)

// Config holds the buffering and decode settings for each profile.
type Config struct {
	DisplayLatency time.Duration
	RecordLatency  time.Duration
	ReducedLatency time.Duration

	DisplayTCPTimeout time.Duration
	RecordTCPTimeout  time.Duration

	// RecordQueue is how much media the file branch may buffer before
	// back-pressuring the tee.
	RecordQueue time.Duration

	ForceTCP       bool
	HardwareDecode bool

	Width  int
	Height int

	// Encoder is the launch fragment used to re-encode the file branch.
	Encoder string
}

// DefaultConfig returns the default profile settings.
func DefaultConfig() Config {
	return Config{
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
		Encoder:           "x264enc tune=zerolatency speed-preset=ultrafast",
	}
}

// Configurator builds engine options from intents.
type Configurator struct {
	cfg Config
}

// New creates a Configurator. Zero fields fall back to DefaultConfig.
func New(cfg Config) *Configurator {
	def := DefaultConfig()
	if cfg.DisplayLatency <= 0 {
		cfg.DisplayLatency = def.DisplayLatency
	}
	if cfg.RecordLatency <= 0 {
		cfg.RecordLatency = def.RecordLatency
	}
	if cfg.ReducedLatency <= 0 {
		cfg.ReducedLatency = def.ReducedLatency
	}
	if cfg.DisplayTCPTimeout <= 0 {
		cfg.DisplayTCPTimeout = def.DisplayTCPTimeout
	}
	if cfg.RecordTCPTimeout <= 0 {
		cfg.RecordTCPTimeout = def.RecordTCPTimeout
	}
	if cfg.RecordQueue <= 0 {
		cfg.RecordQueue = def.RecordQueue
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Encoder == "" {
		cfg.Encoder = def.Encoder
	}
	return &Configurator{cfg: cfg}
}

// Configure produces the option set for one connect attempt.
//
// For DisplayAndRecord the returned SinkDescription tees the decoded stream
// into the display appsink and a file writer; an invalid path or container
// is an error, never a silent downgrade to display only.
func (c *Configurator) Configure(intent Intent, profile Profile) (engine.Options, error) {
	opts := engine.Options{
		Latency:        c.cfg.DisplayLatency,
		TCPTimeout:     c.cfg.DisplayTCPTimeout,
		ForceTCP:       c.cfg.ForceTCP,
		HardwareDecode: c.cfg.HardwareDecode,
		DisplayElement: DisplayElement,
		Width:          c.cfg.Width,
		Height:         c.cfg.Height,
	}

	display := c.displayBranch()

	if !intent.Recording() {
		opts.SinkDescription = display
	} else {
		path, err := NormalizePath(intent.Path)
		if err != nil {
			return engine.Options{}, err
		}
		mux, err := muxerFor(path)
		if err != nil {
			return engine.Options{}, err
		}

		opts.Latency = c.cfg.RecordLatency
		opts.TCPTimeout = c.cfg.RecordTCPTimeout
		opts.RecordElement = RecordElement
		opts.RecordPath = path
		opts.SinkDescription = fmt.Sprintf(
			"tee name=%s allow-not-linked=true "+
				"%s. ! queue name=displayqueue leaky=downstream max-size-buffers=2 ! %s "+
				"%s. ! queue name=recqueue max-size-time=%d max-size-buffers=0 max-size-bytes=0 ! "+
				"videoconvert name=recconvert ! %s name=recenc ! h264parse name=recparse ! "+
				"%s ! filesink name=%s location=%s sync=false",
			teeElement,
			teeElement, display,
			teeElement, c.cfg.RecordQueue.Nanoseconds(),
			c.cfg.Encoder,
			mux, RecordElement, Quote(path),
		)
	}

	if profile == ProfileReducedSize && opts.Latency < c.cfg.ReducedLatency {
		opts.Latency = c.cfg.ReducedLatency
	}

	slog.Debug("sink: options configured",
		"intent", intent.String(),
		"profile", profile.String(),
		"latency", opts.Latency,
		"record_path", opts.RecordPath,
	)

	return opts, nil
}

func (c *Configurator) displayBranch() string {
	return fmt.Sprintf(
		"videoconvert ! videoscale ! video/x-raw,format=RGB,width=%d,height=%d ! "+
			"appsink name=%s sync=false max-buffers=1 drop=true",
		c.cfg.Width, c.cfg.Height, DisplayElement,
	)
}

func muxerFor(path string) (string, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".mp4"):
		return "mp4mux name=recmux fragment-duration=1000", nil
	case strings.HasSuffix(lower, ".mkv"):
		return "matroskamux name=recmux", nil
	case strings.HasSuffix(lower, ".ts"):
		return "mpegtsmux name=recmux", nil
	default:
		return "", fmt.Errorf("%w: %q (want .mp4, .mkv or .ts)", ErrUnsupportedContainer, path)
	}
}
