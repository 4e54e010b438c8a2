// Package streamsession controls a live stream playback session: one media
// engine, one display surface, an optional recording of the same decoded
// stream, and bounded reconnection with a fallback address.
//
// # Quick Start
//
//	session, err := streamsession.NewGStreamer(streamsession.DefaultConfig(), streamsession.Callbacks{
//	    OnError:            func(err error) { log.Println(err) },
//	    OnRecordingStopped: func(path string) { log.Println("saved", path) },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Release()
//
//	_ = session.AttachSurface(mySurface)
//	_ = session.PlayStreamWithRecording(ctx, "rtsp://192.168.1.100/stream", "")
//
// # Connection Lifecycle
//
// Every explicit play resets the reconnect machine:
//
//	Idle → Connecting → Playing
//	Connecting|Playing → Retrying → Connecting          (failures < MaxAttempts)
//	Retrying → FallbackSwitch → Connecting              (primary exhausted)
//	FallbackSwitch|Retrying → Exhausted                 (fallback exhausted)
//
// Exhausted is terminal until the next PlayStream or PlayStreamWithRecording.
// Retry timers are tied to a connect generation, so a timer that fires after
// a new play started is ignored.
//
// # Recording
//
// Recording duplicates the decoded stream into the display sink and a file
// writer inside one engine pipeline. A recording counts as active only after
// the engine confirms the file sink and the stream plays. StopPlayback and
// end of stream finalize the file and report OnRecordingStopped exactly once;
// an engine error clears the recording without reporting it as stopped.
// Reconnect attempts write to "<name>_retryN.<ext>" so a partial file is never
// overwritten.
//
// # Errors
//
// Errors reach the host through Callbacks.OnError:
//
//   - *ConnectionError: informational, the session retries on its own
//   - *SurfaceError: attach or detach failed; also returned to the caller
//   - *RecordingError: only the recording is dropped, display continues
//   - *ExhaustedError: terminal, reported once per exhaustion
//
// # Thread Safety
//
// All methods are safe for concurrent use. Engine events are queued and
// applied by a single goroutine; callbacks run after the session lock is
// released and may call back into the session.
//
// # Ownership
//
// A session exclusively owns its engine. To share one stream between several
// consumers, use NewSource with OwnershipShared: every Acquire returns a Lease
// and the last released Lease releases the session.
package streamsession
