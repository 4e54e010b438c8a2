package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	streamsession "github.com/e7canasta/orion-care-sensor/modules/stream-session"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a stream until interrupted",
	Long: `Play a stream through the session controller.

Frames are counted by a discard surface, or written as PNG snapshots when
--snapshot-dir is set. The command ends on SIGINT/SIGTERM, after --duration,
or when every attempt on the primary and fallback addresses failed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPlayback(cmd, false)
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Play a stream and record it to a file",
	Long: `Play a stream and record the same pipeline to a file.

Without --output a file is generated in --dir. A JSON manifest is written
next to the recording when it is finalized.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPlayback(cmd, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{playCmd, recordCmd} {
		c.Flags().String("url", "", "stream address (required)")
		c.Flags().String("fallback", "", "fallback stream address")
		c.Flags().Int("max-attempts", 3, "attempts per address before switching or giving up")
		c.Flags().Duration("retry-delay", 2*time.Second, "delay between attempts on the same address")
		c.Flags().Bool("backoff", false, "double the retry delay after each failure")
		c.Flags().Duration("duration", 0, "stop after this long (0 = until interrupted)")
		c.Flags().Duration("stats-interval", 10*time.Second, "interval between stats log lines (0 = off)")
		c.Flags().String("snapshot-dir", "", "write PNG snapshots of rendered frames to this directory")
		c.Flags().Duration("snapshot-interval", 2*time.Second, "minimum time between snapshots")
		_ = c.MarkFlagRequired("url")
		rootCmd.AddCommand(c)
	}

	recordCmd.Flags().StringP("output", "o", "", "recording file (.mp4, .mkv or .ts)")
	recordCmd.Flags().String("dir", "", "directory for generated recordings")
	recordCmd.Flags().Bool("manifest", true, "write a JSON manifest next to the recording")
}

func runPlayback(cmd *cobra.Command, record bool) error {
	flags := cmd.Flags()
	url, _ := flags.GetString("url")
	fallback, _ := flags.GetString("fallback")
	maxAttempts, _ := flags.GetInt("max-attempts")
	retryDelay, _ := flags.GetDuration("retry-delay")
	backoff, _ := flags.GetBool("backoff")
	duration, _ := flags.GetDuration("duration")
	statsInterval, _ := flags.GetDuration("stats-interval")
	snapshotDir, _ := flags.GetString("snapshot-dir")
	snapshotInterval, _ := flags.GetDuration("snapshot-interval")

	cfg := streamsession.DefaultConfig()
	cfg.Reconnect.FallbackAddress = fallback
	cfg.Reconnect.MaxAttempts = maxAttempts
	cfg.Reconnect.RetryDelay = retryDelay
	cfg.Reconnect.Backoff = backoff

	var output string
	if record {
		output, _ = flags.GetString("output")
		cfg.Recordings.Dir, _ = flags.GetString("dir")
		cfg.Recordings.Manifest, _ = flags.GetBool("manifest")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	exhausted := make(chan error, 1)
	callbacks := streamsession.Callbacks{
		OnError: func(err error) {
			var ex *streamsession.ExhaustedError
			if errors.As(err, &ex) {
				select {
				case exhausted <- err:
				default:
				}
				return
			}
			slog.Warn("session error", "error", err)
		},
		OnRecordingStopped: func(path string) {
			fmt.Fprintf(cmd.OutOrStdout(), "recording finalized: %s\n", path)
		},
		OnStateChanged: func(old, updated streamsession.State) {
			slog.Info("session state", "from", old.String(), "to", updated.String())
		},
	}

	session, err := streamsession.NewGStreamer(cfg, callbacks)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Release(); err != nil {
			slog.Warn("release failed", "error", err)
		}
	}()

	kind := "discard"
	if snapshotDir != "" {
		kind = "snapshot"
	}
	target, err := newSurface(kind, snapshotDir, snapshotInterval)
	if err != nil {
		return err
	}
	if err := session.AttachSurface(target); err != nil {
		return err
	}

	if record {
		err = session.PlayStreamWithRecording(ctx, url, output)
	} else {
		err = session.PlayStream(ctx, url)
	}
	if err != nil {
		return err
	}

	var ticks <-chan time.Time
	if statsInterval > 0 {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	var runErr error
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case runErr = <-exhausted:
			break wait
		case <-ticks:
			st := session.Stats()
			slog.Info("stats",
				"state", st.State,
				"address", st.Address,
				"frames", st.FramesRendered,
				"fps", fmt.Sprintf("%.2f", st.FPSMean),
				"recording", st.RecordingPath,
			)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
	defer cancel()
	if err := session.StopPlayback(stopCtx); err != nil {
		slog.Warn("stop failed", "error", err)
	}

	out, err := json.MarshalIndent(session.Stats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	return runErr
}
