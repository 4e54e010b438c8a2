package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/clock"
)

const (
	// DefaultPrefix prefixes generated file names.
	DefaultPrefix = "recording_"
	// DefaultContainer is the extension of generated files.
	DefaultContainer = "mp4"
	// DefaultFolder is the folder created under the user's downloads directory.
	DefaultFolder = "Flight Eye"

	timestampLayout = "20060102_150405"
	maxCollisions   = 1000
)

// ProviderConfig configures where recordings are created.
type ProviderConfig struct {
	// Dir is the output directory. Empty means DefaultDir().
	Dir string
	// Prefix of generated names, DefaultPrefix when empty.
	Prefix string
	// Container extension without the dot: mp4, mkv or ts.
	Container string
}

// DefaultDir returns "<home>/Downloads/Flight Eye", or a temp directory when
// the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), DefaultFolder)
	}
	return filepath.Join(home, "Downloads", DefaultFolder)
}

// Provider creates unique recording files.
type Provider struct {
	cfg   ProviderConfig
	gate  *DirGate
	clock clock.Clock
}

// NewProvider creates a Provider. A nil clock uses the system clock.
func NewProvider(cfg ProviderConfig, clk clock.Clock) *Provider {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	cfg.Container = strings.TrimPrefix(strings.ToLower(cfg.Container), ".")
	if cfg.Container == "" {
		cfg.Container = DefaultContainer
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Provider{cfg: cfg, gate: NewDirGate(), clock: clk}
}

// Dir returns the output directory.
func (p *Provider) Dir() string {
	return p.cfg.Dir
}

// CreateRecordingFile makes sure the output directory is writable and
// reserves a new file named <prefix>yyyyMMdd_HHmmss.<ext>. A name already
// taken gets a _N suffix. The returned path is absolute.
func (p *Provider) CreateRecordingFile(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir, err := filepath.Abs(p.cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("recording: resolve %s: %w", p.cfg.Dir, err)
	}
	if err := p.gate.Check(dir); err != nil {
		return "", err
	}

	stamp := p.clock.Now().Format(timestampLayout)
	base := p.cfg.Prefix + stamp

	for n := 0; n < maxCollisions; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		path := filepath.Join(dir, name+"."+p.cfg.Container)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("recording: create %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("recording: close %s: %w", path, err)
		}

		slog.Debug("recording: file reserved", "path", path)
		return path, nil
	}

	return "", fmt.Errorf("recording: no free name for %s in %s", base, dir)
}

// AttemptPath returns the file used by reconnect attempt n of a recording
// started at path. Attempt 0 is path itself; later attempts get a _retryN
// suffix so a failed partial file is never overwritten.
func AttemptPath(path string, n int) string {
	if n <= 0 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_retry%d%s", strings.TrimSuffix(path, ext), n, ext)
}
