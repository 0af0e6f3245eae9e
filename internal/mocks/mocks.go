// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// -- Snapshot Source Mock --

// MockSnapshotSource mocks schemas.SnapshotSource.
type MockSnapshotSource struct {
	mock.Mock
}

func (m *MockSnapshotSource) Sample(ctx context.Context) (*schemas.ScreenSnapshot, error) {
	args := m.Called(ctx)
	snap, _ := args.Get(0).(*schemas.ScreenSnapshot)
	return snap, args.Error(1)
}

// -- Gestures Mock --

// MockGestures mocks schemas.Gestures.
type MockGestures struct {
	mock.Mock
}

func (m *MockGestures) Tap(ctx context.Context, p schemas.Point) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockGestures) Swipe(ctx context.Context, from, to schemas.Point, durationMs int) error {
	return m.Called(ctx, from, to, durationMs).Error(0)
}

func (m *MockGestures) PressKey(ctx context.Context, code int) error {
	return m.Called(ctx, code).Error(0)
}

func (m *MockGestures) TypeText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

// -- App Launcher Mock --

// MockAppLauncher mocks schemas.AppLauncher.
type MockAppLauncher struct {
	mock.Mock
}

func (m *MockAppLauncher) Relaunch(ctx context.Context, pkg string) error {
	return m.Called(ctx, pkg).Error(0)
}

// -- Executor Mock --

// MockExecutor mocks schemas.ActionExecutor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, action schemas.Action, snap *schemas.ScreenSnapshot) error {
	return m.Called(ctx, action, snap).Error(0)
}

// -- Oracle Mock --

// MockOracle mocks schemas.Oracle.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Decide(ctx context.Context, snap *schemas.ScreenSnapshot, goal schemas.GoalContext) (schemas.Action, error) {
	args := m.Called(ctx, snap, goal)
	action, _ := args.Get(0).(schemas.Action)
	return action, args.Error(1)
}

// -- Device Provider Mock --

// MockDeviceProvider mocks schemas.DeviceProvider.
type MockDeviceProvider struct {
	mock.Mock
}

func (m *MockDeviceProvider) FindDevice(ctx context.Context, name string) (schemas.Device, error) {
	args := m.Called(ctx, name)
	d, _ := args.Get(0).(schemas.Device)
	return d, args.Error(1)
}

func (m *MockDeviceProvider) StartDevice(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDeviceProvider) StopDevice(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDeviceProvider) EnableControl(ctx context.Context, id string, portStart, portEnd int) error {
	return m.Called(ctx, id, portStart, portEnd).Error(0)
}

func (m *MockDeviceProvider) DisableControl(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDeviceProvider) PushFile(ctx context.Context, id, localPath, remoteDir string) (string, error) {
	args := m.Called(ctx, id, localPath, remoteDir)
	return args.String(0), args.Error(1)
}

func (m *MockDeviceProvider) Screenshot(ctx context.Context, id string) ([]byte, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

// MockDeviceManager adds the boot wait to MockDeviceProvider.
type MockDeviceManager struct {
	MockDeviceProvider
}

func (m *MockDeviceManager) WaitReady(ctx context.Context, name string, timeout time.Duration) (schemas.Device, error) {
	args := m.Called(ctx, name, timeout)
	d, _ := args.Get(0).(schemas.Device)
	return d, args.Error(1)
}
