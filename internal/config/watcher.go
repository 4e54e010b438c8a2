package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher holds the current configuration and reloads it when the file changes.
// A file that fails to load or validate leaves the current configuration in place.
type Watcher struct {
	path     string
	debounce time.Duration

	mu      sync.RWMutex
	current *Config

	listenersMu sync.RWMutex
	listeners   []func(old, updated *Config)

	fsw  *fsnotify.Watcher
	wg   sync.WaitGroup
	stop sync.Once
}

// NewWatcher creates a Watcher seeded with initial, which was loaded from path.
func NewWatcher(path string, initial *Config) *Watcher {
	return &Watcher{path: filepath.Clean(path), debounce: DefaultDebounce, current: initial}
}

// Get returns the current configuration.
func (w *Watcher) Get() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn to run after every successful reload. Listeners run
// on the reload goroutine.
func (w *Watcher) OnChange(fn func(old, updated *Config)) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Reload loads the file, swapping the current configuration on success.
func (w *Watcher) Reload() error {
	updated, err := Load(w.path)
	if err != nil {
		slog.Error("config: reload failed, keeping current configuration", "path", w.path, "error", err)
		return fmt.Errorf("reload config: %w", err)
	}

	w.mu.Lock()
	old := w.current
	w.current = updated
	w.mu.Unlock()

	w.listenersMu.RLock()
	listeners := append(([]func(old, updated *Config))(nil), w.listeners...)
	w.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(old, updated)
	}

	slog.Info("config: reloaded", "path", w.path)
	return nil
}

// Start watches the file's directory until ctx is cancelled or Close is
// called. Watching the directory catches editors that replace the file.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	w.fsw = fsw

	slog.Info("config: watching for changes", "path", w.path)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops watching and waits for the watch goroutine.
func (w *Watcher) Close() error {
	var err error
	w.stop.Do(func() {
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.stop.Do(func() { _ = w.fsw.Close() })
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			slog.Debug("config: file changed", "op", event.Op.String())

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, func() {
				_ = w.Reload()
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("config: watcher error", "error", err)
		}
	}
}
