package streamsession_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	streamsession "github.com/e7canasta/orion-care-sensor/modules/stream-session"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine/enginetest"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/recording"
)

func TestPauseResume_ReplaysLastAddress(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, testConfig(t, "", 3))
	defer f.session.Release()

	view := &enginetest.Surface{Name: "view"}
	require.NoError(t, f.session.AttachSurface(view))
	require.NoError(t, f.session.PlayStream(context.Background(), addrA))
	f.waitPlaying(t)

	require.NoError(t, f.session.Pause())
	assert.False(t, f.session.IsPlaying())
	assert.Nil(t, f.fake.Attached())
	assert.Equal(t, streamsession.StateIdle, f.session.State())

	require.NoError(t, f.session.Resume(view))
	f.waitPlaying(t)
	require.NotNil(t, f.fake.Attached())
	assert.Equal(t, "view", f.fake.Attached().ID())
	assert.Equal(t, []string{addrA, addrA}, f.fake.Addresses())
}

func TestPause_DropsRecording(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t, "", 3)
	f := newFixture(t, cfg)
	defer f.session.Release()

	path := filepath.Join(cfg.Recordings.Dir, "clip.mp4")
	require.NoError(t, f.session.PlayStreamWithRecording(context.Background(), addrA, path))
	require.Eventually(t, f.session.IsRecording, waitFor, tick)

	require.NoError(t, f.session.Pause())
	assert.Equal(t, []string{path}, f.rec.stoppedPaths())

	require.NoError(t, f.session.Resume(nil))
	f.waitPlaying(t)
	assert.False(t, f.fake.Opens()[1].Options.Recording(), "resume replays display only")
	assert.False(t, f.session.IsRecording())
}

func TestResume_WithoutAddressOnlyAttaches(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, testConfig(t, "", 3))
	defer f.session.Release()

	require.NoError(t, f.session.Resume(&enginetest.Surface{Name: "view"}))
	assert.NotNil(t, f.fake.Attached())
	assert.Empty(t, f.fake.Opens())
}

func TestResume_ExhaustedWaitsForPlay(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, testConfig(t, "", 1))
	defer f.session.Release()
	f.fake.SetOutcome(addrA, enginetest.Fail)

	require.NoError(t, f.session.PlayStream(context.Background(), addrA))
	require.Eventually(t, func() bool {
		return f.session.State() == streamsession.StateExhausted
	}, waitFor, tick)

	require.NoError(t, f.session.Resume(nil))
	assert.Equal(t, []string{addrA}, f.fake.Addresses())
	assert.Equal(t, streamsession.StateExhausted, f.session.State())
}

func TestResume_WhilePlayingDoesNotReconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, testConfig(t, "", 3))
	defer f.session.Release()

	require.NoError(t, f.session.PlayStream(context.Background(), addrA))
	f.waitPlaying(t)

	require.NoError(t, f.session.Resume(&enginetest.Surface{Name: "view"}))
	assert.Len(t, f.fake.Opens(), 1)
	assert.True(t, f.session.IsPlaying())
}

func TestReducedMode_KeepsPlayingAndIgnoresPause(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, testConfig(t, "", 3))
	defer f.session.Release()

	require.NoError(t, f.session.AttachSurface(&enginetest.Surface{Name: "pip"}))
	require.NoError(t, f.session.PlayStream(context.Background(), addrA))
	f.waitPlaying(t)

	require.NoError(t, f.session.EnterReducedMode())
	assert.Len(t, f.fake.Opens(), 1, "fresh playback is not restarted")
	assert.True(t, f.session.Stats().ReducedMode)

	require.NoError(t, f.session.Pause())
	assert.True(t, f.session.IsPlaying())
	assert.NotNil(t, f.fake.Attached())

	require.NoError(t, f.session.ExitReducedMode())
	assert.False(t, f.session.IsPlaying())
	assert.False(t, f.session.Stats().ReducedMode)
	assert.Equal(t, streamsession.StateIdle, f.session.State())
}

func TestReducedMode_RestartsStalledPlayback(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t, "", 3)
	cfg.IdleFrameTimeout = 3 * time.Second
	f := newFixture(t, cfg)
	defer f.session.Release()

	require.NoError(t, f.session.AttachSurface(&enginetest.Surface{Name: "pip"}))
	require.NoError(t, f.session.PlayStream(context.Background(), addrA))
	f.waitPlaying(t)

	// Frames keep arriving: no restart.
	f.clk.Advance(4 * time.Second)
	require.NoError(t, f.fake.Attached().Render(engine.Frame{Seq: 1}))
	require.NoError(t, f.session.EnterReducedMode())
	assert.Len(t, f.fake.Opens(), 1)
	assert.Equal(t, uint64(1), f.session.Stats().FramesRendered)

	// Then they stop.
	f.clk.Advance(4 * time.Second)
	require.NoError(t, f.session.EnterReducedMode())
	f.waitPlaying(t)

	opens := f.fake.Opens()
	require.Len(t, opens, 2)
	assert.Equal(t, addrA, opens[1].Address)
	assert.Equal(t, 5*time.Second, opens[1].Options.Latency, "reduced profile latency")
}

func TestReducedMode_RestartContinuesRecording(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t, "", 3)
	f := newFixture(t, cfg)
	defer f.session.Release()

	path := filepath.Join(cfg.Recordings.Dir, "clip.mp4")
	require.NoError(t, f.session.AttachSurface(&enginetest.Surface{Name: "pip"}))
	require.NoError(t, f.session.PlayStreamWithRecording(context.Background(), addrA, path))
	require.Eventually(t, f.session.IsRecording, waitFor, tick)

	f.clk.Advance(10 * time.Second)
	require.NoError(t, f.session.EnterReducedMode())
	require.Eventually(t, f.session.IsRecording, waitFor, tick)

	assert.Equal(t, []string{path}, f.rec.stoppedPaths(), "first file finalized")
	assert.Equal(t, recording.AttemptPath(path, 1), f.session.CurrentRecordingPath())
}

func TestReducedMode_IdleSessionReconnects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, testConfig(t, "", 3))
	defer f.session.Release()

	require.NoError(t, f.session.PlayStream(context.Background(), addrA))
	f.waitPlaying(t)
	require.NoError(t, f.session.StopPlayback(context.Background()))

	require.NoError(t, f.session.EnterReducedMode())
	f.waitPlaying(t)
	assert.Equal(t, []string{addrA, addrA}, f.fake.Addresses())
}

func TestDestroy_Releases(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, testConfig(t, "", 3))

	require.NoError(t, f.session.PlayStream(context.Background(), addrA))
	f.waitPlaying(t)

	require.NoError(t, f.session.Destroy())
	assert.Equal(t, 1, f.fake.Releases())
	assert.ErrorIs(t, f.session.Resume(nil), streamsession.ErrReleased)
	assert.ErrorIs(t, f.session.EnterReducedMode(), streamsession.ErrReleased)
	assert.NoError(t, f.session.Pause())
	assert.NoError(t, f.session.ExitReducedMode())
}
