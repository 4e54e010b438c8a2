// Package config loads the stream-session YAML configuration and watches it
// for changes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete stream-session configuration.
type Config struct {
	InstanceID string          `yaml:"instance_id"`
	Stream     StreamConfig    `yaml:"stream"`
	Engine     EngineConfig    `yaml:"engine"`
	Recording  RecordingConfig `yaml:"recording"`
	Session    SessionConfig   `yaml:"session"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	Health     HealthConfig    `yaml:"health"`
	Logging    LoggingConfig   `yaml:"logging"`
}

// StreamConfig holds the addresses and retry policy.
type StreamConfig struct {
	PrimaryURL      string `yaml:"primary_url"`
	FallbackURL     string `yaml:"fallback_url"`
	MaxAttempts     int    `yaml:"max_attempts"`
	RetryDelayMS    int    `yaml:"retry_delay_ms"`
	FallbackDelayMS int    `yaml:"fallback_delay_ms"`
	Backoff         bool   `yaml:"backoff"`
	MaxRetryDelayMS int    `yaml:"max_retry_delay_ms"`
}

// EngineConfig holds buffering profiles and decode settings.
type EngineConfig struct {
	LatencyMS        int   `yaml:"latency_ms"`
	RecordLatencyMS  int   `yaml:"record_latency_ms"`
	ReducedLatencyMS int   `yaml:"reduced_latency_ms"`
	TCPTimeoutMS     int   `yaml:"tcp_timeout_ms"`
	ForceTCP         *bool `yaml:"force_tcp"`
	HardwareDecode   *bool `yaml:"hardware_decode"`
	Width            int   `yaml:"width"`
	Height           int   `yaml:"height"`
}

// RecordingConfig controls where recordings go.
type RecordingConfig struct {
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
	Container string `yaml:"container"` // mp4, mkv, ts
	Manifest  bool   `yaml:"manifest"`
}

// SessionConfig controls ownership and surface policy.
type SessionConfig struct {
	Ownership          string `yaml:"ownership"` // exclusive, shared
	DetachOnStop       *bool  `yaml:"detach_on_stop"`
	IdleFrameTimeoutMS int    `yaml:"idle_frame_timeout_ms"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables the
// control plane.
type MQTTConfig struct {
	Broker         string     `yaml:"broker"`
	ClientID       string     `yaml:"client_id"`
	Username       string     `yaml:"username"`
	Password       string     `yaml:"password"`
	Topics         MQTTTopics `yaml:"topics"`
	QoS            byte       `yaml:"qos"`
	PayloadFormat  string     `yaml:"payload_format"` // json, msgpack
	CommandRateHz  float64    `yaml:"command_rate_hz"`
	CommandBurst   int        `yaml:"command_burst"`
	ConnectTimeout int        `yaml:"connect_timeout_s"`
}

// MQTTTopics contains topic names.
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Status  string `yaml:"status"`
}

// HealthConfig configures the health/metrics HTTP server. Port 0 disables it.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{InstanceID: "stream-session"}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: defaults are invalid: %v", err))
	}
	return cfg
}

// BoolOr dereferences b, returning def when unset.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
