// Package cmd implements the CLI commands for stream-session.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "stream-session",
	Short:   "Live stream playback with recording, reconnect and fallback",
	Version: Version,
	Long: `stream-session drives a GStreamer pipeline for one live stream.

It retries a failing address, switches to a fallback address when the
primary is exhausted, and can record the stream to a file while it plays.

Examples:
  # Play for 30 seconds and write a snapshot every 2 seconds
  stream-session play --url rtsp://192.168.1.100/stream --snapshot-dir ./frames --duration 30s

  # Record with a fallback camera
  stream-session record --url rtsp://cam-a/stream --fallback rtsp://cam-b/stream --dir ./videos

  # Run as a service controlled over MQTT
  stream-session serve --config config/stream-session.yaml`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initLogging(cmd, "", "")
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initLogging installs the default slog logger. Explicit flags win over the
// level and format passed in (usually from the config file).
func initLogging(cmd *cobra.Command, level, format string) error {
	flags := cmd.Flags()

	if level == "" || flags.Changed("log-level") {
		level, _ = flags.GetString("log-level")
	}
	if format == "" || flags.Changed("log-format") {
		format, _ = flags.GetString("log-format")
	}
	if debug, _ := flags.GetBool("debug"); debug {
		level = "debug"
	}

	logger, err := newLogger(level, format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
