package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	streamsession "github.com/e7canasta/orion-care-sensor/modules/stream-session"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/surface"
)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// sessionConfig maps a validated file configuration onto session settings.
func sessionConfig(cfg *config.Config) streamsession.Config {
	out := streamsession.DefaultConfig()

	out.Reconnect = reconnectSettings(cfg)

	out.Sink.DisplayLatency = ms(cfg.Engine.LatencyMS)
	out.Sink.RecordLatency = ms(cfg.Engine.RecordLatencyMS)
	out.Sink.ReducedLatency = ms(cfg.Engine.ReducedLatencyMS)
	out.Sink.DisplayTCPTimeout = ms(cfg.Engine.TCPTimeoutMS)
	out.Sink.ForceTCP = config.BoolOr(cfg.Engine.ForceTCP, out.Sink.ForceTCP)
	out.Sink.HardwareDecode = config.BoolOr(cfg.Engine.HardwareDecode, out.Sink.HardwareDecode)
	out.Sink.Width = cfg.Engine.Width
	out.Sink.Height = cfg.Engine.Height

	out.Recordings = streamsession.RecordingSettings{
		Dir:       cfg.Recording.Directory,
		Prefix:    cfg.Recording.Prefix,
		Container: cfg.Recording.Container,
		Manifest:  cfg.Recording.Manifest,
	}

	out.Ownership = streamsession.ParseOwnership(cfg.Session.Ownership)
	out.DetachOnStop = config.BoolOr(cfg.Session.DetachOnStop, out.DetachOnStop)
	out.IdleFrameTimeout = ms(cfg.Session.IdleFrameTimeoutMS)

	return out
}

func reconnectSettings(cfg *config.Config) streamsession.ReconnectSettings {
	return streamsession.ReconnectSettings{
		FallbackAddress: cfg.Stream.FallbackURL,
		MaxAttempts:     cfg.Stream.MaxAttempts,
		RetryDelay:      ms(cfg.Stream.RetryDelayMS),
		FallbackDelay:   ms(cfg.Stream.FallbackDelayMS),
		MaxRetryDelay:   ms(cfg.Stream.MaxRetryDelayMS),
		Backoff:         cfg.Stream.Backoff,
	}
}

// newSurface builds a "discard" or "snapshot" surface.
func newSurface(kind, dir string, interval time.Duration) (streamsession.Surface, error) {
	switch kind {
	case "", "discard":
		return &surface.DiscardSurface{Name: "discard"}, nil
	case "snapshot":
		s, err := surface.NewSnapshotSurface(surface.SnapshotConfig{
			Dir:      dir,
			Format:   "png",
			Interval: interval,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown surface kind %q", kind)
	}
}

// statusMap flattens session stats for the control plane.
func statusMap(st streamsession.Stats) map[string]any {
	data, err := json.Marshal(st)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}
