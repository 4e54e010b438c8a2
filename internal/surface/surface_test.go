package surface

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine/enginetest"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/framestats"
)

func TestBinder_AttachTwiceLeavesOneBinding(t *testing.T) {
	fake := enginetest.New()
	b := NewBinder(fake)

	first := &enginetest.Surface{Name: "first"}
	second := &enginetest.Surface{Name: "second"}

	require.NoError(t, b.Attach(first))
	require.NoError(t, b.Attach(second))

	assert.Same(t, second, fake.Attached())
	assert.Same(t, second, b.Bound())
	assert.Equal(t, 2, fake.AttachCalls())
	assert.Equal(t, 1, fake.DetachCalls(), "the previous binding is detached first")
	assert.Equal(t, uint64(2), b.Bindings())

	require.NoError(t, b.Attach(second), "re-attaching the same surface re-binds")
	assert.Same(t, second, fake.Attached())
}

func TestBinder_DetachIdempotent(t *testing.T) {
	fake := enginetest.New()
	b := NewBinder(fake)

	require.NoError(t, b.Detach())
	assert.Equal(t, 0, fake.DetachCalls())

	require.NoError(t, b.Attach(&enginetest.Surface{Name: "s"}))
	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach())
	assert.Equal(t, 1, fake.DetachCalls())
	assert.Nil(t, fake.Attached())
}

func TestBinder_Errors(t *testing.T) {
	fake := enginetest.New()
	b := NewBinder(fake)

	fake.AttachErr = errors.New("no window")
	err := b.Attach(&enginetest.Surface{Name: "s"})
	require.ErrorIs(t, err, fake.AttachErr)
	assert.Nil(t, b.Bound())

	fake.AttachErr = nil
	require.NoError(t, b.Attach(&enginetest.Surface{Name: "s"}))

	fake.DetachErr = errors.New("gone")
	require.ErrorIs(t, b.Detach(), fake.DetachErr)
	assert.Nil(t, b.Bound(), "a failed detach still forgets the binding")

	require.Error(t, b.Attach(nil))
}

func TestMetered_CountsRenders(t *testing.T) {
	meter := framestats.NewMeter(10)
	now := time.Unix(10, 0)
	inner := &enginetest.Surface{Name: "inner"}
	m := NewMetered(inner, meter, func() time.Time { return now })

	require.NoError(t, m.Render(engine.Frame{Seq: 1}))
	require.NoError(t, m.Bind())
	assert.True(t, inner.Bound())
	require.NoError(t, m.Unbind())

	assert.Equal(t, "inner", m.ID())
	assert.Same(t, inner, m.Unwrap())
	assert.Equal(t, uint64(1), meter.Snapshot().Rendered)
	assert.Equal(t, now, meter.LastFrameAt())

	snap, err := NewSnapshotSurface(SnapshotConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	failing := NewMetered(snap, meter, nil)
	require.ErrorIs(t, failing.Render(engine.Frame{}), ErrNotBound)
	assert.Equal(t, uint64(1), meter.Snapshot().Dropped)
}

func TestDiscardSurface(t *testing.T) {
	d := &DiscardSurface{}
	assert.Equal(t, "discard", d.ID())
	require.NoError(t, d.Render(engine.Frame{}))
	require.NoError(t, d.Render(engine.Frame{}))
	assert.Equal(t, uint64(2), d.Frames())
}

func rgbFrame(seq uint64, at time.Time) engine.Frame {
	const w, h = 4, 2
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i * 10)
	}
	return engine.Frame{Seq: seq, Timestamp: at, Width: w, Height: h, Data: data, TraceID: "trace"}
}

func TestSnapshotSurface_WritesAtInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	s, err := NewSnapshotSurface(SnapshotConfig{Dir: dir, Format: "png", Interval: time.Second})
	require.NoError(t, err)

	require.NoError(t, s.Bind())

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Render(rgbFrame(1, start)))
	require.Eventually(t, func() bool { return s.Written() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Render(rgbFrame(2, start.Add(100*time.Millisecond))))
	require.NoError(t, s.Render(rgbFrame(3, start.Add(1500*time.Millisecond))))
	require.Eventually(t, func() bool { return s.Written() == 2 }, 2*time.Second, 10*time.Millisecond)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.Seq)

	require.NoError(t, s.Unbind())
	require.NoError(t, s.Unbind())

	files, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.ErrorIs(t, s.Render(rgbFrame(4, start.Add(5*time.Second))), ErrNotBound)
}

func TestSnapshotSurface_Config(t *testing.T) {
	_, err := NewSnapshotSurface(SnapshotConfig{Dir: t.TempDir(), Format: "bmp"})
	require.Error(t, err)

	_, err = NewSnapshotSurface(SnapshotConfig{})
	require.Error(t, err)

	_, err = toRGBA(engine.Frame{Width: 4, Height: 4, Data: make([]byte, 3)})
	require.Error(t, err)
}
