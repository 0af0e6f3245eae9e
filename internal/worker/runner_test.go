package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/device"
	"github.com/xkilldash9x/droidpilot/internal/mocks"
	"github.com/xkilldash9x/droidpilot/internal/navigation"
)

// fakeTransport plays back screens and records every gesture.
type fakeTransport struct {
	mu          sync.Mutex
	snaps       []*schemas.ScreenSnapshot
	i           int
	pingErr     error
	relaunchErr error
	calls       []string
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTransport) Sample(context.Context) (*schemas.ScreenSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.snaps[min(f.i, len(f.snaps)-1)]
	f.i++
	return snap, nil
}

func (f *fakeTransport) Tap(_ context.Context, p schemas.Point) error {
	f.record("tap")
	return nil
}

func (f *fakeTransport) Swipe(context.Context, schemas.Point, schemas.Point, int) error {
	f.record("swipe")
	return nil
}

func (f *fakeTransport) PressKey(_ context.Context, code int) error {
	f.record(fmt.Sprintf("key:%d", code))
	return nil
}

func (f *fakeTransport) TypeText(_ context.Context, text string) error {
	f.record("type:" + text)
	return nil
}

func (f *fakeTransport) Relaunch(_ context.Context, pkg string) error {
	f.record("relaunch:" + pkg)
	return f.relaunchErr
}

func (f *fakeTransport) Ping(context.Context) error {
	f.record("ping")
	return f.pingErr
}

func runnerConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.HumanoidCfg.Enabled = false
	cfg.NavigationCfg.StepDelay = 0
	cfg.NavigationCfg.WallClock = time.Minute
	cfg.DeviceCfg.BootTimeout = time.Minute
	cfg.DeviceCfg.RemoteDir = "/sdcard/DCIM/droidpilot"
	cfg.WorkerCfg.PayloadRoot = "/media"
	cfg.WorkerCfg.DeviceNames = map[string]string{"alice": "alice-phone"}
	cfg.AutomationCfg.AppPackage = "com.example.app"
	cfg.WorkerCfg.ReviewDir = ""
	return cfg
}

func publishJob(t *testing.T) schemas.Job {
	goal, err := schemas.EncodeGoal(schemas.Goal{Flow: schemas.FlowPublish, Caption: "golden hour"})
	require.NoError(t, err)
	return schemas.Job{ID: "j1", Account: "alice", PayloadRef: "clip.mp4", GoalParams: goal, Attempts: 1}
}

var ports = PortRange{Start: 20000, End: 20099}

func TestDeviceRunnerPublishes(t *testing.T) {
	dm := &mocks.MockDeviceManager{}
	dev := schemas.Device{ID: "d1", Name: "alice-phone", Status: schemas.DeviceRunning}
	dm.On("WaitReady", mock.Anything, "alice-phone", time.Minute).Return(dev, nil)
	dm.On("EnableControl", mock.Anything, "d1", 20000, 20099).Return(nil)
	dm.On("PushFile", mock.Anything, "d1", "/media/clip.mp4", "/sdcard/DCIM/droidpilot").
		Return("/sdcard/DCIM/droidpilot/clip.mp4", nil)
	dm.On("DisableControl", mock.Anything, "d1").Return(nil)

	tr := &fakeTransport{snaps: []*schemas.ScreenSnapshot{
		mocks.HomeFeed(),
		mocks.CreationMenu(),
		mocks.MediaPicker(),
		mocks.MediaPicker(),
		mocks.Editor(),
		mocks.CaptionEntry(""),
		mocks.CaptionEntry("golden hour"),
		mocks.PublishSuccess(),
	}}
	r := NewDeviceRunner(dm, tr, nil, ports, runnerConfig(), zaptest.NewLogger(t))

	out := r.Run(context.Background(), publishJob(t))

	require.True(t, out.Succeeded(), out.String())
	assert.Equal(t, []string{"ping", "relaunch:com.example.app"}, tr.calls[:2])
	assert.Contains(t, tr.calls, "type:golden hour")
	dm.AssertExpectations(t)
}

func suspendedScreen() *schemas.ScreenSnapshot {
	return mocks.Snap(mocks.El("message", "Your account has been suspended", "", false, mocks.Row(2)))
}

func TestDeviceRunnerCapturesReviewScreenshot(t *testing.T) {
	dir := t.TempDir()
	cfg := runnerConfig()
	cfg.WorkerCfg.ReviewDir = dir

	dm := &mocks.MockDeviceManager{}
	dev := schemas.Device{ID: "d1", Name: "alice-phone", Status: schemas.DeviceRunning}
	dm.On("WaitReady", mock.Anything, "alice-phone", time.Minute).Return(dev, nil)
	dm.On("EnableControl", mock.Anything, "d1", 20000, 20099).Return(nil)
	dm.On("PushFile", mock.Anything, "d1", "/media/clip.mp4", "/sdcard/DCIM/droidpilot").Return("/sdcard/DCIM/droidpilot/clip.mp4", nil)
	dm.On("Screenshot", mock.Anything, "d1").Return([]byte("\x89PNG fake"), nil).Once()
	dm.On("DisableControl", mock.Anything, "d1").Return(nil)

	tr := &fakeTransport{snaps: []*schemas.ScreenSnapshot{suspendedScreen()}}
	r := NewDeviceRunner(dm, tr, nil, ports, cfg, zaptest.NewLogger(t))

	out := r.Run(context.Background(), publishJob(t))

	require.True(t, out.Permanent(), out.String())
	assert.Equal(t, schemas.CodeAccountSuspended, out.Code)
	assert.Equal(t, filepath.Join(dir, "j1-1.png"), out.Screenshot)
	img, err := os.ReadFile(out.Screenshot)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(img))
	dm.AssertExpectations(t)
}

func TestDeviceRunnerScreenshotFailureKeepsOutcome(t *testing.T) {
	cfg := runnerConfig()
	cfg.WorkerCfg.ReviewDir = t.TempDir()

	dm := &mocks.MockDeviceManager{}
	dev := schemas.Device{ID: "d1", Name: "alice-phone", Status: schemas.DeviceRunning}
	dm.On("WaitReady", mock.Anything, "alice-phone", time.Minute).Return(dev, nil)
	dm.On("EnableControl", mock.Anything, "d1", 20000, 20099).Return(nil)
	dm.On("PushFile", mock.Anything, "d1", mock.Anything, mock.Anything).Return("/sdcard/x.mp4", nil)
	dm.On("Screenshot", mock.Anything, "d1").Return(nil, errors.New("device busy"))
	dm.On("DisableControl", mock.Anything, "d1").Return(nil)

	tr := &fakeTransport{snaps: []*schemas.ScreenSnapshot{suspendedScreen()}}
	out := NewDeviceRunner(dm, tr, nil, ports, cfg, zaptest.NewLogger(t)).Run(context.Background(), publishJob(t))

	assert.Equal(t, schemas.CodeAccountSuspended, out.Code)
	assert.Empty(t, out.Screenshot)
	dm.AssertCalled(t, "DisableControl", mock.Anything, "d1")
}

func TestDeviceRunnerBootTimeout(t *testing.T) {
	dm := &mocks.MockDeviceManager{}
	dm.On("WaitReady", mock.Anything, "alice-phone", time.Minute).
		Return(schemas.Device{}, fmt.Errorf("device alice-phone still starting: %w", device.ErrBootTimeout))
	tr := &fakeTransport{}
	r := NewDeviceRunner(dm, tr, nil, ports, runnerConfig(), zaptest.NewLogger(t))

	out := r.Run(context.Background(), publishJob(t))

	assert.Equal(t, navigation.StateFailed, out.State)
	assert.Equal(t, schemas.CodeDeviceBootTimeout, out.Code)
	assert.False(t, out.Permanent())
	dm.AssertNotCalled(t, "EnableControl", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, tr.calls)
}

func TestDeviceRunnerUnknownDevice(t *testing.T) {
	dm := &mocks.MockDeviceManager{}
	dm.On("WaitReady", mock.Anything, "bob", time.Minute).Return(schemas.Device{}, device.ErrNotFound)
	r := NewDeviceRunner(dm, &fakeTransport{}, nil, ports, runnerConfig(), zaptest.NewLogger(t))

	job := publishJob(t)
	job.Account = "bob"
	out := r.Run(context.Background(), job)
	assert.Equal(t, schemas.CodeDeviceUnavailable, out.Code)
}

func TestDeviceRunnerReleasesControlOnFailure(t *testing.T) {
	t.Run("payload push", func(t *testing.T) {
		dm := &mocks.MockDeviceManager{}
		dm.On("WaitReady", mock.Anything, "alice-phone", time.Minute).Return(schemas.Device{ID: "d1"}, nil)
		dm.On("EnableControl", mock.Anything, "d1", 20000, 20099).Return(nil)
		dm.On("PushFile", mock.Anything, "d1", "/media/clip.mp4", "/sdcard/DCIM/droidpilot").
			Return("", errors.New("device api returned 507: storage full"))
		dm.On("DisableControl", mock.Anything, "d1").Return(nil)
		r := NewDeviceRunner(dm, &fakeTransport{}, nil, ports, runnerConfig(), zaptest.NewLogger(t))

		out := r.Run(context.Background(), publishJob(t))

		assert.Equal(t, schemas.CodePayloadPushFailed, out.Code)
		dm.AssertExpectations(t)
	})

	t.Run("automation agent", func(t *testing.T) {
		dm := &mocks.MockDeviceManager{}
		dm.On("WaitReady", mock.Anything, "alice-phone", time.Minute).Return(schemas.Device{ID: "d1"}, nil)
		dm.On("EnableControl", mock.Anything, "d1", 20000, 20099).Return(nil)
		dm.On("PushFile", mock.Anything, "d1", "/media/clip.mp4", "/sdcard/DCIM/droidpilot").Return("/sdcard/x", nil)
		dm.On("DisableControl", mock.Anything, "d1").Return(nil)
		tr := &fakeTransport{pingErr: errors.New("connection refused")}
		r := NewDeviceRunner(dm, tr, nil, ports, runnerConfig(), zaptest.NewLogger(t))

		out := r.Run(context.Background(), publishJob(t))

		assert.Equal(t, schemas.CodeAutomationError, out.Code)
		dm.AssertExpectations(t)
	})

	t.Run("app launch", func(t *testing.T) {
		dm := &mocks.MockDeviceManager{}
		dm.On("WaitReady", mock.Anything, "alice-phone", time.Minute).Return(schemas.Device{ID: "d1"}, nil)
		dm.On("EnableControl", mock.Anything, "d1", 20000, 20099).Return(nil)
		dm.On("PushFile", mock.Anything, "d1", "/media/clip.mp4", "/sdcard/DCIM/droidpilot").Return("/sdcard/x", nil)
		dm.On("DisableControl", mock.Anything, "d1").Return(nil)
		tr := &fakeTransport{relaunchErr: errors.New("activity not found")}
		r := NewDeviceRunner(dm, tr, nil, ports, runnerConfig(), zaptest.NewLogger(t))

		out := r.Run(context.Background(), publishJob(t))

		assert.Equal(t, schemas.CodeAppNotResponding, out.Code)
		dm.AssertExpectations(t)
	})
}

func TestDeviceRunnerFollowSkipsPayload(t *testing.T) {
	dm := &mocks.MockDeviceManager{}
	dm.On("WaitReady", mock.Anything, "carol", time.Minute).Return(schemas.Device{ID: "d3"}, nil)
	dm.On("EnableControl", mock.Anything, "d3", 20000, 20099).Return(nil)
	dm.On("DisableControl", mock.Anything, "d3").Return(nil)
	tr := &fakeTransport{pingErr: errors.New("connection refused")}
	r := NewDeviceRunner(dm, tr, nil, ports, runnerConfig(), zaptest.NewLogger(t))

	goal, err := schemas.EncodeGoal(schemas.Goal{Flow: schemas.FlowFollow, Target: "dave"})
	require.NoError(t, err)
	r.Run(context.Background(), schemas.Job{ID: "j2", Account: "carol", GoalParams: goal})

	dm.AssertNotCalled(t, "PushFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	dm.AssertExpectations(t)
}

func TestDeviceRunnerAbortsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dm := &mocks.MockDeviceManager{}
	dm.On("WaitReady", mock.Anything, "alice-phone", time.Minute).Return(schemas.Device{}, context.Canceled)
	r := NewDeviceRunner(dm, &fakeTransport{}, nil, ports, runnerConfig(), zaptest.NewLogger(t))

	out := r.Run(ctx, publishJob(t))
	assert.Equal(t, navigation.StateAborted, out.State)
	assert.Equal(t, schemas.CodeShutdown, out.Code)
}

func TestDeviceName(t *testing.T) {
	r := NewDeviceRunner(&mocks.MockDeviceManager{}, &fakeTransport{}, nil, ports, runnerConfig(), zaptest.NewLogger(t))
	assert.Equal(t, "alice-phone", r.DeviceName("alice"))
	assert.Equal(t, "bob", r.DeviceName("bob"))
}
