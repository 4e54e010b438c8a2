package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	streamsession "github.com/e7canasta/orion-care-sensor/modules/stream-session"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/notify"
)

const (
	defaultConfigPath = "config/stream-session.yaml"
	shutdownTimeout   = 5 * time.Second
	snapshotInterval  = 2 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session as a service",
	Long: `Run one stream session as a long-lived service.

The service:
1. Loads and validates the YAML configuration
2. Plays stream.primary_url when set
3. Accepts commands on the MQTT control topic and publishes session
   notices on the events topic (when mqtt.broker is set)
4. Serves /health, /readiness and /metrics (when health.port is set)
5. Applies stream retry settings from the file on change

A "release" command or SIGINT/SIGTERM stops the service.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", defaultConfigPath, "path to configuration file")
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := initLogging(cmd, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}

	slog.Info("stream-session service starting",
		"version", Version,
		"instance_id", cfg.InstanceID,
		"config", path,
	)

	sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	bus := notify.New()
	defer bus.Close()

	settings := sessionConfig(cfg)
	source := streamsession.NewSource(settings.Ownership, func() (*streamsession.StreamSession, error) {
		return streamsession.NewGStreamer(settings, serviceCallbacks(),
			streamsession.WithNotices(bus),
			streamsession.WithSessionID(cfg.InstanceID),
		)
	})
	session, err := source.Acquire()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		if err := session.Release(); err != nil {
			slog.Warn("session release failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Health.Port > 0 {
		hs := metrics.NewHealthServer(fmt.Sprintf(":%d", cfg.Health.Port), func() (any, bool) {
			st := session.Stats()
			return st, !st.Released && st.State != streamsession.StateExhausted.String()
		})
		g.Go(hs.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	if cfg.MQTT.Broker != "" {
		handler, transport, err := startControl(gctx, cfg, session, bus, cancel)
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			err := handler.Stop()
			transport.Close()
			return err
		})
	}

	watcher := config.NewWatcher(path, cfg)
	watcher.OnChange(func(old, updated *config.Config) {
		if old.Stream == updated.Stream {
			return
		}
		session.Reconfigure(reconnectSettings(updated))
	})
	if err := watcher.Start(gctx); err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return watcher.Close()
		})
	}

	if cfg.Stream.PrimaryURL != "" {
		if err := session.PlayStream(gctx, cfg.Stream.PrimaryURL); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	}

	err = g.Wait()
	slog.Info("stream-session service stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serviceCallbacks() streamsession.Callbacks {
	return streamsession.Callbacks{
		OnError: func(err error) {
			var ex *streamsession.ExhaustedError
			if errors.As(err, &ex) {
				slog.Error("stream unavailable, waiting for a play command", "error", err)
				return
			}
			slog.Warn("session error", "error", err)
		},
		OnRecordingStopped: func(path string) {
			slog.Info("recording finalized", "path", path)
		},
	}
}

// startControl connects to the broker and maps control commands onto the
// session. A release command also ends the service through shutdown.
func startControl(ctx context.Context, cfg *config.Config, session streamsession.SessionController,
	bus *notify.Bus, shutdown context.CancelFunc) (*control.Handler, *control.MQTTTransport, error) {

	transport, err := control.DialMQTT(ctx, cfg.MQTT)
	if err != nil {
		return nil, nil, err
	}

	codec, err := control.NewCodec(cfg.MQTT.PayloadFormat)
	if err != nil {
		transport.Close()
		return nil, nil, err
	}

	opts := control.Options{
		Topics: control.Topics{
			Control: cfg.MQTT.Topics.Control,
			Events:  cfg.MQTT.Topics.Events,
			Status:  cfg.MQTT.Topics.Status,
		},
		QoS:       cfg.MQTT.QoS,
		Codec:     codec,
		RateHz:    cfg.MQTT.CommandRateHz,
		Burst:     cfg.MQTT.CommandBurst,
		SessionID: cfg.InstanceID,
		Notices:   bus,
	}

	handler, err := control.NewHandler(transport, opts, commandCallbacks(ctx, session, shutdown))
	if err != nil {
		transport.Close()
		return nil, nil, err
	}
	if err := handler.Start(ctx); err != nil {
		transport.Close()
		return nil, nil, err
	}
	return handler, transport, nil
}

func commandCallbacks(ctx context.Context, session streamsession.SessionController, shutdown context.CancelFunc) control.CommandCallbacks {
	return control.CommandCallbacks{
		OnPlayStream: func(url string) error {
			return session.PlayStream(ctx, url)
		},
		OnPlayWithRecording: func(url, path string) error {
			return session.PlayStreamWithRecording(ctx, url, path)
		},
		OnStopPlayback: func() error {
			stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return session.StopPlayback(stopCtx)
		},
		OnGetStatus: func() map[string]any {
			return statusMap(session.Stats())
		},
		OnRelease: func() error {
			err := session.Release()
			shutdown()
			return err
		},
		OnAttachSurface: func(kind, dir string) error {
			target, err := newSurface(kind, dir, snapshotInterval)
			if err != nil {
				return err
			}
			return session.AttachSurface(target)
		},
		OnDetachSurface:    session.DetachSurface,
		OnEnterReducedMode: session.EnterReducedMode,
		OnExitReducedMode:  session.ExitReducedMode,
		OnResume: func() error {
			return session.Resume(nil)
		},
		OnPause: session.Pause,
	}
}
