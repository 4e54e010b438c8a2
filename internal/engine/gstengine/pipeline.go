package gstengine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/sink"
)

// sourceElement is the name given to the network/file source in every launch.
const sourceElement = "source"

// rtspProtocolsTCP is the rtspsrc "protocols" flag value for TCP only.
const rtspProtocolsTCP = 4

// BuildLaunch assembles the full launch line for one attempt:
//
//	<source> ! <decoder> ! video/x-raw ! <opts.SinkDescription>
//
// RTSP addresses use rtspsrc with the configured latency and transport,
// everything else goes through uridecodebin.
func BuildLaunch(address string, opts engine.Options) string {
	var b strings.Builder

	if isRTSP(address) {
		fmt.Fprintf(&b, "rtspsrc name=%s location=%s latency=%d ntp-sync=false",
			sourceElement, sink.Quote(address), opts.Latency.Milliseconds())
		if opts.ForceTCP {
			fmt.Fprintf(&b, " protocols=%d", rtspProtocolsTCP)
		}
		if opts.TCPTimeout > 0 {
			fmt.Fprintf(&b, " tcp-timeout=%d", opts.TCPTimeout.Microseconds())
		}
		b.WriteString(" ! application/x-rtp,media=video ! decodebin name=decoder")
		if !opts.HardwareDecode {
			b.WriteString(" force-sw-decoders=true")
		}
	} else {
		fmt.Fprintf(&b, "uridecodebin name=%s uri=%s caps=video/x-raw buffer-duration=%d",
			sourceElement, sink.Quote(toURI(address)), opts.Latency.Nanoseconds())
	}

	b.WriteString(" ! video/x-raw ! ")
	b.WriteString(opts.SinkDescription)

	return b.String()
}

func isRTSP(address string) bool {
	lower := strings.ToLower(address)
	return strings.HasPrefix(lower, "rtsp://") ||
		strings.HasPrefix(lower, "rtsps://") ||
		strings.HasPrefix(lower, "rtspt://")
}

// toURI turns bare file paths into file:// URIs.
func toURI(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	abs, err := filepath.Abs(address)
	if err != nil {
		abs = address
	}
	return "file://" + filepath.ToSlash(abs)
}
