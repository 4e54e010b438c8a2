// Package main is the entry point for the stream-session tool.
//
// stream-session plays a live stream through the session controller, with
// optional recording, automatic reconnect and fallback. It runs either as a
// one-shot player/recorder or as a long-running service controlled over MQTT.
package main

import (
	"os"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/cmd/stream-session/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
