package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// Outcome is how a recording ended.
type Outcome string

const (
	OutcomeStopped Outcome = "stopped"
	OutcomeEnded   Outcome = "ended"
	OutcomeFailed  Outcome = "failed"
)

// Manifest is the JSON sidecar written next to a finished recording.
type Manifest struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Address    string    `json:"address"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    Outcome   `json:"outcome"`
	SizeBytes  int64     `json:"size_bytes"`
	Error      string    `json:"error,omitempty"`
}

// NewManifest describes a recording of address written to path.
func NewManifest(path, address string, startedAt time.Time) Manifest {
	return Manifest{
		ID:        uuid.New().String(),
		Path:      path,
		Address:   address,
		StartedAt: startedAt,
	}
}

// ManifestPath returns the sidecar path for a recording.
func ManifestPath(recordingPath string) string {
	return recordingPath + ".json"
}

// WriteManifest finalizes m and writes it atomically next to the recording.
func WriteManifest(m Manifest, outcome Outcome, finishedAt time.Time) (string, error) {
	m.Outcome = outcome
	m.FinishedAt = finishedAt
	if info, err := os.Stat(m.Path); err == nil {
		m.SizeBytes = info.Size()
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("recording: marshal manifest: %w", err)
	}

	path := ManifestPath(m.Path)

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("recording: create pending manifest: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(append(data, '\n')); err != nil {
		return "", fmt.Errorf("recording: write manifest: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("recording: replace manifest: %w", err)
	}

	return path, nil
}

// ReadManifest loads a sidecar.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("recording: read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("recording: parse manifest %s: %w", path, err)
	}
	return m, nil
}
