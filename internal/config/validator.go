package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if err := validateStream(&cfg.Stream); err != nil {
		return err
	}
	if err := validateEngine(&cfg.Engine); err != nil {
		return err
	}
	if err := validateRecording(&cfg.Recording); err != nil {
		return err
	}
	if err := validateSession(&cfg.Session); err != nil {
		return err
	}
	if err := validateMQTT(&cfg.MQTT, cfg.InstanceID); err != nil {
		return err
	}

	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535")
	}

	return validateLogging(&cfg.Logging)
}

func validateStream(s *StreamConfig) error {
	for name, addr := range map[string]string{"stream.primary_url": s.PrimaryURL, "stream.fallback_url": s.FallbackURL} {
		if addr == "" {
			continue
		}
		if err := validateAddress(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if s.MaxAttempts < 0 {
		return fmt.Errorf("stream.max_attempts must be >= 0")
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = 3
	}
	if s.RetryDelayMS <= 0 {
		s.RetryDelayMS = 2000
	}
	if s.FallbackDelayMS <= 0 {
		s.FallbackDelayMS = 1000
	}
	if s.MaxRetryDelayMS <= 0 {
		s.MaxRetryDelayMS = 30000
	}
	if s.MaxRetryDelayMS < s.RetryDelayMS {
		return fmt.Errorf("stream.max_retry_delay_ms must be >= stream.retry_delay_ms")
	}
	return nil
}

func validateAddress(addr string) error {
	if strings.HasPrefix(addr, "/") {
		return nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("url %q has no scheme", addr)
	}
	return nil
}

func validateEngine(e *EngineConfig) error {
	if e.LatencyMS <= 0 {
		e.LatencyMS = 1000
	}
	if e.RecordLatencyMS <= 0 {
		e.RecordLatencyMS = 3000
	}
	if e.ReducedLatencyMS <= 0 {
		e.ReducedLatencyMS = 5000
	}
	if e.TCPTimeoutMS <= 0 {
		e.TCPTimeoutMS = 10000
	}
	if e.Width == 0 && e.Height == 0 {
		e.Width, e.Height = 1280, 720
	}
	if e.Width <= 0 || e.Height <= 0 {
		return fmt.Errorf("engine.width and engine.height must be > 0")
	}
	return nil
}

func validateRecording(r *RecordingConfig) error {
	r.Container = strings.TrimPrefix(strings.ToLower(r.Container), ".")
	switch r.Container {
	case "":
		r.Container = "mp4"
	case "mp4", "mkv", "ts":
	default:
		return fmt.Errorf("recording.container must be mp4, mkv or ts, got %q", r.Container)
	}
	if r.Prefix == "" {
		r.Prefix = "recording_"
	}
	if strings.ContainsAny(r.Prefix, `/\`) {
		return fmt.Errorf("recording.prefix must not contain path separators")
	}
	return nil
}

func validateSession(s *SessionConfig) error {
	switch s.Ownership {
	case "":
		s.Ownership = "exclusive"
	case "exclusive", "shared":
	default:
		return fmt.Errorf("session.ownership must be exclusive or shared, got %q", s.Ownership)
	}
	if s.IdleFrameTimeoutMS <= 0 {
		s.IdleFrameTimeoutMS = 3000
	}
	return nil
}

func validateMQTT(m *MQTTConfig, instanceID string) error {
	if m.ClientID == "" {
		m.ClientID = "stream-session-" + instanceID
	}
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("stream-session/control/%s", instanceID)
	}
	if m.Topics.Events == "" {
		m.Topics.Events = fmt.Sprintf("stream-session/events/%s", instanceID)
	}
	if m.Topics.Status == "" {
		m.Topics.Status = fmt.Sprintf("stream-session/status/%s", instanceID)
	}
	if m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	switch m.PayloadFormat {
	case "":
		m.PayloadFormat = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.payload_format must be json or msgpack, got %q", m.PayloadFormat)
	}
	if m.CommandRateHz < 0 {
		return fmt.Errorf("mqtt.command_rate_hz must be >= 0")
	}
	if m.CommandRateHz == 0 {
		m.CommandRateHz = 10
	}
	if m.CommandBurst <= 0 {
		m.CommandBurst = 5
	}
	if m.ConnectTimeout <= 0 {
		m.ConnectTimeout = 10
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch strings.ToLower(l.Level) {
	case "":
		l.Level = "info"
	case "debug", "info", "warn", "error":
		l.Level = strings.ToLower(l.Level)
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "":
		l.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}
	return nil
}
