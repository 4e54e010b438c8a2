package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/notify"
)

type published struct {
	topic   string
	payload []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte)
	published []published
	subErr    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func([]byte))}
}

func (f *fakeTransport) Subscribe(topic string, _ byte, onMessage func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.handlers[topic] = onMessage
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeTransport) Publish(topic string, _ byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: payload})
	return nil
}

func (f *fakeTransport) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (f *fakeTransport) on(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

var testTopics = Topics{Control: "ss/control/t", Events: "ss/events/t", Status: "ss/status/t"}

func decodeResponses(t *testing.T, codec Codec, msgs []published) []Response {
	t.Helper()
	out := make([]Response, 0, len(msgs))
	for _, m := range msgs {
		var r Response
		require.NoError(t, codec.Unmarshal(m.payload, &r))
		out = append(out, r)
	}
	return out
}

func TestHandleCommand(t *testing.T) {
	var gotURL, gotPath, gotKind, gotDir string
	boom := errors.New("boom")

	h, err := NewHandler(newFakeTransport(), Options{Topics: testTopics}, CommandCallbacks{
		OnPlayStream: func(url string) error { gotURL = url; return nil },
		OnPlayWithRecording: func(url, path string) error {
			gotURL, gotPath = url, path
			return nil
		},
		OnStopPlayback:  func() error { return boom },
		OnGetStatus:     func() map[string]any { return map[string]any{"state": "playing"} },
		OnAttachSurface: func(kind, dir string) error { gotKind, gotDir = kind, dir; return nil },
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		cmd    Command
		status string
		errMsg string
	}{
		{"play", Command{Command: "play_stream", Params: map[string]any{"url": "rtsp://cam"}}, "playing", ""},
		{"play missing url", Command{Command: "play_stream"}, "error", `missing parameter "url"`},
		{"play bad url type", Command{Command: "play_stream", Params: map[string]any{"url": 5}}, "error", `parameter "url" must be a string`},
		{"record", Command{Command: "play_with_recording", Params: map[string]any{"url": "rtsp://cam", "path": "/tmp/a.mp4"}}, "recording", ""},
		{"stop error", Command{Command: "stop_playback"}, "error", "boom"},
		{"status", Command{Command: "get_status"}, "success", ""},
		{"release missing", Command{Command: "release"}, "error", "release not implemented"},
		{"attach snapshot", Command{Command: "attach_surface", Params: map[string]any{"kind": "snapshot", "dir": "/tmp/snap"}}, "attached", ""},
		{"attach snapshot no dir", Command{Command: "attach_surface", Params: map[string]any{"kind": "snapshot"}}, "error", `missing parameter "dir"`},
		{"attach unknown", Command{Command: "attach_surface", Params: map[string]any{"kind": "window"}}, "error", `unknown surface kind "window"`},
		{"unknown", Command{Command: "reboot"}, "error", "unknown command: reboot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.handleCommand(tt.cmd)
			assert.Equal(t, tt.cmd.Command, resp.CommandAck)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.errMsg, resp.Error)
		})
	}

	assert.Equal(t, "rtsp://cam", gotURL)
	assert.Equal(t, "/tmp/a.mp4", gotPath)
	assert.Equal(t, "snapshot", gotKind)
	assert.Equal(t, "/tmp/snap", gotDir)
}

func TestHandleCommand_StatusData(t *testing.T) {
	h, err := NewHandler(newFakeTransport(), Options{Topics: testTopics}, CommandCallbacks{
		OnGetStatus: func() map[string]any { return map[string]any{"state": "retrying", "attempts": 2} },
	})
	require.NoError(t, err)

	resp := h.handleCommand(Command{Command: "get_status"})
	assert.Equal(t, "retrying", resp.Data["state"])
	assert.Equal(t, 2, resp.Data["attempts"])
}

func TestHandler_EndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, format := range []string{"json", "msgpack"} {
		t.Run(format, func(t *testing.T) {
			codec, err := NewCodec(format)
			require.NoError(t, err)

			tr := newFakeTransport()
			played := make(chan string, 1)
			h, err := NewHandler(tr, Options{Topics: testTopics, Codec: codec}, CommandCallbacks{
				OnPlayStream: func(url string) error { played <- url; return nil },
			})
			require.NoError(t, err)
			require.NoError(t, h.Start(context.Background()))

			payload, err := codec.Marshal(Command{Command: "play_stream", Params: map[string]any{"url": "rtsp://cam"}})
			require.NoError(t, err)
			tr.deliver(testTopics.Control, payload)

			select {
			case url := <-played:
				assert.Equal(t, "rtsp://cam", url)
			case <-time.After(2 * time.Second):
				t.Fatal("command not executed")
			}

			require.Eventually(t, func() bool { return len(tr.on(testTopics.Status)) == 1 }, 2*time.Second, 5*time.Millisecond)
			resp := decodeResponses(t, codec, tr.on(testTopics.Status))[0]
			assert.Equal(t, "play_stream", resp.CommandAck)
			assert.Equal(t, "playing", resp.Status)
			assert.NotEmpty(t, resp.Timestamp)

			require.NoError(t, h.Stop())
			require.NoError(t, h.Stop())
		})
	}
}

func TestHandler_InvalidPayload(t *testing.T) {
	tr := newFakeTransport()
	h, err := NewHandler(tr, Options{Topics: testTopics}, CommandCallbacks{})
	require.NoError(t, err)

	h.messageHandler([]byte("{not json"))

	resps := decodeResponses(t, jsonCodec{}, tr.on(testTopics.Status))
	require.Len(t, resps, 1)
	assert.Equal(t, "unknown", resps[0].CommandAck)
	assert.Equal(t, "invalid payload", resps[0].Error)
}

func TestHandler_RateLimited(t *testing.T) {
	tr := newFakeTransport()
	h, err := NewHandler(tr, Options{Topics: testTopics, RateHz: 0.001, Burst: 2}, CommandCallbacks{})
	require.NoError(t, err)

	payload, err := jsonCodec{}.Marshal(Command{Command: "get_status"})
	require.NoError(t, err)

	// Not started: accepted commands wait in the queue.
	for i := 0; i < 4; i++ {
		h.messageHandler(payload)
	}

	assert.Len(t, h.commands, 2)
	resps := decodeResponses(t, jsonCodec{}, tr.on(testTopics.Status))
	require.Len(t, resps, 2)
	for _, r := range resps {
		assert.Equal(t, "rate limited", r.Error)
	}
}

func TestHandler_QueueFull(t *testing.T) {
	tr := newFakeTransport()
	h, err := NewHandler(tr, Options{Topics: testTopics, Burst: 100}, CommandCallbacks{})
	require.NoError(t, err)

	payload, err := jsonCodec{}.Marshal(Command{Command: "get_status"})
	require.NoError(t, err)

	for i := 0; i < commandQueueSize+1; i++ {
		h.messageHandler(payload)
	}

	resps := decodeResponses(t, jsonCodec{}, tr.on(testTopics.Status))
	require.Len(t, resps, 1)
	assert.Equal(t, "command queue full", resps[0].Error)
}

func TestHandler_ForwardsNotices(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := newFakeTransport()
	bus := notify.New()
	defer bus.Close()

	h, err := NewHandler(tr, Options{Topics: testTopics, Notices: bus, SessionID: "s-1"}, CommandCallbacks{})
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))

	bus.Publish(notify.Notice{Kind: notify.KindRecordingStopped, Path: "/tmp/a.mp4"})

	require.Eventually(t, func() bool { return len(tr.on(testTopics.Events)) == 1 }, 2*time.Second, 5*time.Millisecond)

	var n notify.Notice
	require.NoError(t, jsonCodec{}.Unmarshal(tr.on(testTopics.Events)[0].payload, &n))
	assert.Equal(t, notify.KindRecordingStopped, n.Kind)
	assert.Equal(t, "s-1", n.SessionID)
	assert.Equal(t, "/tmp/a.mp4", n.Path)

	require.NoError(t, h.Stop())
	_, err = bus.Stats(noticeSubscriber)
	assert.ErrorIs(t, err, notify.ErrSubscriberNotFound)
}

func TestHandler_StartErrors(t *testing.T) {
	_, err := NewHandler(nil, Options{Topics: testTopics}, CommandCallbacks{})
	require.Error(t, err)

	_, err = NewHandler(newFakeTransport(), Options{}, CommandCallbacks{})
	require.Error(t, err)

	tr := newFakeTransport()
	tr.subErr = errors.New("not connected")
	h, err := NewHandler(tr, Options{Topics: testTopics}, CommandCallbacks{})
	require.NoError(t, err)
	require.Error(t, h.Start(context.Background()))
	require.NoError(t, h.Stop())
}

func TestNewCodec(t *testing.T) {
	c, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = NewCodec("msgpack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())

	_, err = NewCodec("xml")
	require.Error(t, err)
}
