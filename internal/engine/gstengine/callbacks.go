package gstengine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
)

// onNewSample pulls one RGB frame from the display appsink and renders it on
// the attached surface. Frames with no surface are counted as dropped.
func (e *Engine) onNewSample(s *app.Sink, width, height int) gst.FlowReturn {
	sample := s.PullSample()
	if sample == nil {
		slog.Warn("gstengine: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstengine: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}

	// GStreamer reuses the buffer after Unmap.
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := e.frameCount.Add(1)
	e.bytesRead.Add(uint64(len(frameData)))

	frame := engine.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	e.surfaceMu.RLock()
	surface := e.surface
	e.surfaceMu.RUnlock()

	if surface == nil {
		e.framesDropped.Add(1)
		return gst.FlowOK
	}

	if err := surface.Render(frame); err != nil {
		e.framesDropped.Add(1)
		slog.Debug("gstengine: render failed, dropping frame",
			"surface", surface.ID(),
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
	}

	return gst.FlowOK
}
