package gstengine

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/sink"
)

// ClassifyGStreamerError categorizes a bus error.
//
// go-gst's GError does not expose the error domain, so classification relies
// on the message and debug strings. Errors posted by file branch elements are
// always recording errors regardless of their text.
func ClassifyGStreamerError(source string, gerr *gst.GError) engine.ErrorCategory {
	if gerr == nil {
		return engine.ErrCategoryUnknown
	}
	if isRecordingSource(source) {
		return engine.ErrCategoryRecording
	}
	return engine.Classify(gerr.Error(), gerr.DebugString())
}

func isRecordingSource(source string) bool {
	return strings.HasPrefix(source, sink.RecordPrefix)
}
