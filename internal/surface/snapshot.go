package surface

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
)

// ErrNotBound is returned when rendering to an unbound surface.
var ErrNotBound = errors.New("surface: not bound")

// DiscardSurface accepts and counts frames.
type DiscardSurface struct {
	Name   string
	frames atomic.Uint64
}

func (d *DiscardSurface) ID() string {
	if d.Name == "" {
		return "discard"
	}
	return d.Name
}

func (d *DiscardSurface) Render(engine.Frame) error {
	d.frames.Add(1)
	return nil
}

// Frames returns how many frames were rendered.
func (d *DiscardSurface) Frames() uint64 {
	return d.frames.Load()
}

// SnapshotConfig configures a SnapshotSurface.
type SnapshotConfig struct {
	// Dir receives the image files.
	Dir string
	// Format is "png" or "jpeg".
	Format string
	// Quality for JPEG encoding (1-100).
	Quality int
	// Interval is the minimum time between two written snapshots.
	Interval time.Duration
}

// SnapshotSurface keeps the latest frame and periodically writes it to disk.
// Encoding happens on its own goroutine between Bind and Unbind; Render only
// hands frames over and never blocks.
type SnapshotSurface struct {
	cfg SnapshotConfig

	mu      sync.Mutex
	latest  engine.Frame
	hasLast bool
	lastAt  time.Time
	pending chan engine.Frame
	done    chan struct{}
	wg      sync.WaitGroup

	written atomic.Uint64
	skipped atomic.Uint64
}

// NewSnapshotSurface validates cfg and creates the output directory.
func NewSnapshotSurface(cfg SnapshotConfig) (*SnapshotSurface, error) {
	if cfg.Format == "" {
		cfg.Format = "png"
	}
	if cfg.Format != "png" && cfg.Format != "jpeg" {
		return nil, fmt.Errorf("surface: unsupported snapshot format %q", cfg.Format)
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		cfg.Quality = 90
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("surface: snapshot directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("surface: create snapshot directory: %w", err)
	}
	return &SnapshotSurface{cfg: cfg}, nil
}

func (s *SnapshotSurface) ID() string {
	return "snapshot:" + s.cfg.Dir
}

// Bind starts the encoder goroutine.
func (s *SnapshotSurface) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return nil
	}
	s.pending = make(chan engine.Frame, 1)
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.encodeLoop(s.pending, s.done)
	return nil
}

// Unbind stops the encoder goroutine after it finishes the current image.
func (s *SnapshotSurface) Unbind() error {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.done)
	s.pending = nil
	s.done = nil
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Render stores the frame and queues it for writing when the interval has
// elapsed since the last queued snapshot.
func (s *SnapshotSurface) Render(frame engine.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return ErrNotBound
	}

	s.latest = frame
	s.hasLast = true

	if !s.lastAt.IsZero() && frame.Timestamp.Sub(s.lastAt) < s.cfg.Interval {
		return nil
	}

	select {
	case s.pending <- frame:
		s.lastAt = frame.Timestamp
	default:
		s.skipped.Add(1)
	}
	return nil
}

// Latest returns the most recent frame.
func (s *SnapshotSurface) Latest() (engine.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLast
}

// Written returns how many images were written.
func (s *SnapshotSurface) Written() uint64 {
	return s.written.Load()
}

func (s *SnapshotSurface) encodeLoop(pending <-chan engine.Frame, done <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-done:
			return
		case frame := <-pending:
			path, err := s.write(frame)
			if err != nil {
				slog.Warn("surface: snapshot failed", "seq", frame.Seq, "error", err)
				continue
			}
			s.written.Add(1)
			slog.Debug("surface: snapshot written", "path", path, "trace_id", frame.TraceID)
		}
	}
}

func (s *SnapshotSurface) write(frame engine.Frame) (string, error) {
	img, err := toRGBA(frame)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("frame_%06d_%s.%s", frame.Seq, frame.Timestamp.Format("20060102_150405.000"), s.cfg.Format)
	path := filepath.Join(s.cfg.Dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch s.cfg.Format {
	case "png":
		err = png.Encode(file, img)
	case "jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: s.cfg.Quality})
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", s.cfg.Format, err)
	}

	return path, nil
}

// toRGBA converts packed RGB bytes into an opaque RGBA image.
func toRGBA(frame engine.Frame) (*image.RGBA, error) {
	pixels := frame.Width * frame.Height
	if pixels <= 0 || len(frame.Data) < pixels*3 {
		return nil, fmt.Errorf("surface: frame %d has %d bytes for %dx%d RGB", frame.Seq, len(frame.Data), frame.Width, frame.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < pixels; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+0]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}
