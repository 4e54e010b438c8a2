package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const sampleYAML = `
instance_id: hangar-3
stream:
  primary_url: rtsp://10.0.0.5:8554/cam
  fallback_url: rtsp://10.0.0.6:8554/cam
  max_attempts: 4
engine:
  hardware_decode: false
recording:
  directory: /var/lib/stream-session
  container: MKV
mqtt:
  broker: tcp://localhost:1883
  payload_format: msgpack
health:
  port: 8081
logging:
  level: DEBUG
  format: json
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "hangar-3", cfg.InstanceID)
	assert.Equal(t, 4, cfg.Stream.MaxAttempts)
	assert.Equal(t, 2000, cfg.Stream.RetryDelayMS)
	assert.Equal(t, 1000, cfg.Stream.FallbackDelayMS)
	assert.Equal(t, 30000, cfg.Stream.MaxRetryDelayMS)

	assert.Equal(t, 1000, cfg.Engine.LatencyMS)
	assert.Equal(t, 3000, cfg.Engine.RecordLatencyMS)
	assert.Equal(t, 5000, cfg.Engine.ReducedLatencyMS)
	assert.Equal(t, 1280, cfg.Engine.Width)
	assert.False(t, BoolOr(cfg.Engine.HardwareDecode, true))
	assert.True(t, BoolOr(cfg.Engine.ForceTCP, true))

	assert.Equal(t, "mkv", cfg.Recording.Container)
	assert.Equal(t, "recording_", cfg.Recording.Prefix)
	assert.Equal(t, "exclusive", cfg.Session.Ownership)
	assert.Equal(t, 3000, cfg.Session.IdleFrameTimeoutMS)

	assert.Equal(t, "stream-session/control/hangar-3", cfg.MQTT.Topics.Control)
	assert.Equal(t, "stream-session/events/hangar-3", cfg.MQTT.Topics.Events)
	assert.Equal(t, "stream-session/status/hangar-3", cfg.MQTT.Topics.Status)
	assert.Equal(t, "stream-session-hangar-3", cfg.MQTT.ClientID)
	assert.Equal(t, "msgpack", cfg.MQTT.PayloadFormat)
	assert.Equal(t, 10.0, cfg.MQTT.CommandRateHz)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing instance", func(c *Config) { c.InstanceID = "" }},
		{"bad instance", func(c *Config) { c.InstanceID = "Hangar 3" }},
		{"no scheme", func(c *Config) { c.Stream.PrimaryURL = "10.0.0.5/cam" }},
		{"negative attempts", func(c *Config) { c.Stream.MaxAttempts = -1 }},
		{"cap below delay", func(c *Config) { c.Stream.RetryDelayMS = 5000; c.Stream.MaxRetryDelayMS = 1000 }},
		{"container", func(c *Config) { c.Recording.Container = "avi" }},
		{"prefix separator", func(c *Config) { c.Recording.Prefix = "a/b" }},
		{"ownership", func(c *Config) { c.Session.Ownership = "global" }},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"payload", func(c *Config) { c.MQTT.PayloadFormat = "xml" }},
		{"port", func(c *Config) { c.Health.Port = 70000 }},
		{"level", func(c *Config) { c.Logging.Level = "trace" }},
		{"format", func(c *Config) { c.Logging.Format = "logfmt" }},
		{"size", func(c *Config) { c.Engine.Width = 640; c.Engine.Height = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{InstanceID: "ok"}
			tt.mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}

func TestValidate_FilePathAddress(t *testing.T) {
	cfg := &Config{InstanceID: "ok", Stream: StreamConfig{PrimaryURL: "/media/clip.mp4"}}
	require.NoError(t, Validate(cfg))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Stream.MaxAttempts)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "stream-session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial)
	w.debounce = 20 * time.Millisecond

	var reloads atomic.Int32
	var lastAttempts atomic.Int32
	w.OnChange(func(old, updated *Config) {
		lastAttempts.Store(int32(updated.Stream.MaxAttempts))
		reloads.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	updated := []byte("instance_id: hangar-3\nstream:\n  max_attempts: 7\n")
	require.NoError(t, os.WriteFile(path, updated, 0o644))

	require.Eventually(t, func() bool { return reloads.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(7), lastAttempts.Load())
	assert.Equal(t, 7, w.Get().Stream.MaxAttempts)

	// An invalid file keeps the current configuration.
	require.NoError(t, os.WriteFile(path, []byte("instance_id: \"\"\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 7, w.Get().Stream.MaxAttempts)

	require.NoError(t, w.Close())
}

func TestWatcher_ReloadKeepsCurrentOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instance_id: BAD ID\n"), 0o644))

	initial := Default()
	w := NewWatcher(path, initial)

	require.Error(t, w.Reload())
	assert.Same(t, initial, w.Get())
}
