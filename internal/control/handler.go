// Package control exposes a stream session over an MQTT control plane.
//
// Commands arrive on the control topic, are rate limited and queued, then
// executed one at a time. Every command gets a Response on the status topic.
// Session notices are forwarded to the events topic.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/notify"
)

const (
	commandQueueSize = 10
	noticeQueueSize  = 64
	noticeSubscriber = "control"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command" msgpack:"command"`
	Params  map[string]any `json:"params,omitempty" msgpack:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack" msgpack:"command_ack"`
	Status     string         `json:"status" msgpack:"status"`
	Data       map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
	Error      string         `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp  string         `json:"timestamp" msgpack:"timestamp"`
}

// CommandCallbacks contains callback functions for commands. A nil callback
// answers its command with a "not implemented" error.
type CommandCallbacks struct {
	OnPlayStream        func(url string) error
	OnPlayWithRecording func(url, path string) error
	OnStopPlayback      func() error
	OnGetStatus         func() map[string]any
	OnRelease           func() error
	// kind is "discard" or "snapshot"; dir is only used by snapshot surfaces.
	OnAttachSurface    func(kind, dir string) error
	OnDetachSurface    func() error
	OnEnterReducedMode func() error
	OnExitReducedMode  func() error
	OnResume           func() error
	OnPause            func() error
}

// Topics names the three control plane topics.
type Topics struct {
	Control string
	Events  string
	Status  string
}

// Options configures a Handler.
type Options struct {
	Topics    Topics
	QoS       byte
	Codec     Codec
	RateHz    float64
	Burst     int
	SessionID string
	// Notices, when set, are forwarded to the events topic.
	Notices *notify.Bus
}

// Handler handles control plane commands
type Handler struct {
	opts      Options
	transport Transport
	callbacks CommandCallbacks
	limiter   *rate.Limiter

	commands chan Command
	notices  chan notify.Notice

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHandler creates a new control plane handler
func NewHandler(transport Transport, opts Options, callbacks CommandCallbacks) (*Handler, error) {
	if transport == nil {
		return nil, errors.New("control: transport is required")
	}
	if opts.Topics.Control == "" || opts.Topics.Status == "" {
		return nil, errors.New("control: control and status topics are required")
	}
	if opts.Codec == nil {
		opts.Codec = jsonCodec{}
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}

	limit := rate.Inf
	if opts.RateHz > 0 {
		limit = rate.Limit(opts.RateHz)
	}

	return &Handler{
		opts:      opts,
		transport: transport,
		callbacks: callbacks,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		commands:  make(chan Command, commandQueueSize),
	}, nil
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return errors.New("control: handler already started")
	}

	slog.Info("subscribing to control plane",
		"topic", h.opts.Topics.Control,
		"qos", h.opts.QoS,
		"codec", h.opts.Codec.Name(),
	)

	if err := h.transport.Subscribe(h.opts.Topics.Control, h.opts.QoS, h.messageHandler); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.started = true

	h.wg.Add(1)
	go h.processCommands(ctx)

	if h.opts.Notices != nil && h.opts.Topics.Events != "" {
		h.notices = make(chan notify.Notice, noticeQueueSize)
		if err := h.opts.Notices.Subscribe(noticeSubscriber, h.notices); err != nil {
			slog.Warn("control: notices not forwarded", "error", err)
		} else {
			h.wg.Add(1)
			go h.forwardNotices(ctx)
		}
	}

	slog.Info("control plane handler started")
	return nil
}

// Stop stops the control plane handler. Safe to call more than once.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if !h.started || h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	cancel := h.cancel
	h.mu.Unlock()

	err := h.transport.Unsubscribe(h.opts.Topics.Control)

	if h.opts.Notices != nil && h.notices != nil {
		_ = h.opts.Notices.Unsubscribe(noticeSubscriber)
	}

	cancel()
	h.wg.Wait()

	slog.Info("control plane handler stopped")
	return err
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(payload []byte) {
	var cmd Command
	if err := h.opts.Codec.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid payload",
		})
		return
	}

	if !h.limiter.Allow() {
		slog.Warn("control command rate limited", "command", cmd.Command)
		h.sendResponse(Response{CommandAck: cmd.Command, Status: "error", Error: "rate limited"})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		return
	}

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
		h.sendResponse(Response{CommandAck: cmd.Command, Status: "error", Error: "command queue full"})
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

func (h *Handler) forwardNotices(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-h.notices:
			if n.SessionID == "" {
				n.SessionID = h.opts.SessionID
			}
			payload, err := h.opts.Codec.Marshal(n)
			if err != nil {
				slog.Error("failed to encode notice", "kind", n.Kind, "error", err)
				continue
			}
			if err := h.transport.Publish(h.opts.Topics.Events, h.opts.QoS, payload); err != nil {
				slog.Warn("failed to publish notice", "kind", n.Kind, "error", err)
			}
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "play_stream":
		url, err := stringParam(cmd.Params, "url", true)
		if err != nil {
			return failed(resp, err)
		}
		run(&resp, "playing", h.callbacks.OnPlayStream != nil, func() error {
			return h.callbacks.OnPlayStream(url)
		})

	case "play_with_recording":
		url, err := stringParam(cmd.Params, "url", true)
		if err != nil {
			return failed(resp, err)
		}
		path, err := stringParam(cmd.Params, "path", false)
		if err != nil {
			return failed(resp, err)
		}
		run(&resp, "recording", h.callbacks.OnPlayWithRecording != nil, func() error {
			return h.callbacks.OnPlayWithRecording(url, path)
		})

	case "stop_playback":
		run(&resp, "stopped", h.callbacks.OnStopPlayback != nil, h.callbacks.OnStopPlayback)

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return failed(resp, errors.New("get_status not implemented"))
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "release":
		run(&resp, "released", h.callbacks.OnRelease != nil, h.callbacks.OnRelease)

	case "attach_surface":
		kind, err := stringParam(cmd.Params, "kind", false)
		if err != nil {
			return failed(resp, err)
		}
		if kind == "" {
			kind = "discard"
		}
		if kind != "discard" && kind != "snapshot" {
			return failed(resp, fmt.Errorf("unknown surface kind %q", kind))
		}
		dir, err := stringParam(cmd.Params, "dir", kind == "snapshot")
		if err != nil {
			return failed(resp, err)
		}
		run(&resp, "attached", h.callbacks.OnAttachSurface != nil, func() error {
			return h.callbacks.OnAttachSurface(kind, dir)
		})

	case "detach_surface":
		run(&resp, "detached", h.callbacks.OnDetachSurface != nil, h.callbacks.OnDetachSurface)

	case "enter_reduced_mode":
		run(&resp, "reduced", h.callbacks.OnEnterReducedMode != nil, h.callbacks.OnEnterReducedMode)

	case "exit_reduced_mode":
		run(&resp, "standard", h.callbacks.OnExitReducedMode != nil, h.callbacks.OnExitReducedMode)

	case "resume":
		run(&resp, "resumed", h.callbacks.OnResume != nil, h.callbacks.OnResume)

	case "pause":
		run(&resp, "paused", h.callbacks.OnPause != nil, h.callbacks.OnPause)

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

// run fills resp from fn, or reports the command as not implemented.
func run(resp *Response, status string, implemented bool, fn func() error) {
	if !implemented {
		resp.Status = "error"
		resp.Error = resp.CommandAck + " not implemented"
		return
	}
	if err := fn(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return
	}
	resp.Status = status
}

func failed(resp Response, err error) Response {
	resp.Status = "error"
	resp.Error = err.Error()
	return resp
}

func stringParam(params map[string]any, key string, required bool) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing parameter %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	if required && s == "" {
		return "", fmt.Errorf("parameter %q is empty", key)
	}
	return s, nil
}

// sendResponse sends a command response
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := h.opts.Codec.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if err := h.transport.Publish(h.opts.Topics.Status, h.opts.QoS, payload); err != nil {
		slog.Error("failed to publish response", "command", resp.CommandAck, "error", err)
		return
	}

	slog.Debug("control response sent", "command", resp.CommandAck, "status", resp.Status)
}
