package gstengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
)

// monitorState is the per-pipeline snapshot the bus monitor works from, so it
// never needs the engine lock.
type monitorState struct {
	pipeline   *gst.Pipeline
	generation uint64
	opts       engine.Options
	eosDone    chan struct{}
}

// monitor polls the pipeline bus and emits engine events until the pipeline
// ends, fails or ctx is cancelled.
//
// A file branch error is reported with Recording set and monitoring goes on,
// any other error ends the attempt.
func (e *Engine) monitor(ctx context.Context, st monitorState) {
	defer e.wg.Done()
	defer close(st.eosDone)

	bus := st.pipeline.GetPipelineBus()
	pipelineName := st.pipeline.GetName()
	playing := false
	recording := false

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstengine: context cancelled, stopping bus monitor", "generation", st.generation)
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			if e.stopping.Load() {
				slog.Debug("gstengine: EOS after stop request", "generation", st.generation)
				return
			}
			slog.Info("gstengine: end of stream", "generation", st.generation)
			e.emit(engine.Event{Kind: engine.EventEndReached, Generation: st.generation})
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			source := msg.Source()
			category := ClassifyGStreamerError(source, gerr)
			fileBranch := st.opts.Recording() && category == engine.ErrCategoryRecording

			message, debug := "", ""
			if gerr != nil {
				message, debug = gerr.Error(), gerr.DebugString()
			}

			slog.Error("gstengine: pipeline error",
				"error", message,
				"debug", debug,
				"source", source,
				"category", category.String(),
				"generation", st.generation,
			)

			e.emit(engine.Event{
				Kind:       engine.EventError,
				Generation: st.generation,
				Category:   category,
				Message:    message,
				Debug:      debug,
				Recording:  fileBranch,
				Source:     source,
			})

			if fileBranch {
				e.recordFailed.Store(true)
				continue
			}
			e.failed.Store(true)
			return

		case gst.MessageStateChanged:
			_, newState := msg.ParseStateChanged()
			if newState != gst.StatePlaying {
				continue
			}
			source := msg.Source()
			switch {
			case source == pipelineName && !playing:
				playing = true
				slog.Info("gstengine: pipeline playing", "generation", st.generation)
				e.emit(engine.Event{Kind: engine.EventPlaying, Generation: st.generation})
			case st.opts.Recording() && source == st.opts.RecordElement && !recording:
				recording = true
				slog.Info("gstengine: recording started", "path", st.opts.RecordPath)
				e.emit(engine.Event{
					Kind:       engine.EventRecordingStarted,
					Generation: st.generation,
					Source:     source,
				})
			}

		case gst.MessageBuffering:
			percent := msg.ParseBuffering()
			e.emit(engine.Event{Kind: engine.EventBuffering, Generation: st.generation, Percent: percent})
		}
	}
}
