package recording

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrNotWritable is returned when a recording directory cannot be used.
var ErrNotWritable = errors.New("recording: directory not writable")

// DirGate verifies that recording directories can be created and written.
// Successful checks are remembered.
type DirGate struct {
	mu      sync.Mutex
	granted map[string]bool
}

// NewDirGate creates an empty gate.
func NewDirGate() *DirGate {
	return &DirGate{granted: make(map[string]bool)}
}

// Check creates dir if needed and probes it with a temporary file.
func (g *DirGate) Check(dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.granted[dir] {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotWritable, dir, err)
	}

	probe, err := os.CreateTemp(dir, ".stream-session-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotWritable, dir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)

	g.granted[dir] = true
	return nil
}

// Revoke forgets a successful check, forcing the next Check to probe again.
func (g *DirGate) Revoke(dir string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.granted, dir)
}
