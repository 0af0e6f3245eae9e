package schemas

import "context"

// SnapshotSource samples the current device screen.
type SnapshotSource interface {
	Sample(ctx context.Context) (*ScreenSnapshot, error)
}

// Gestures are the primitive input effects of the UI automation transport.
type Gestures interface {
	Tap(ctx context.Context, p Point) error
	Swipe(ctx context.Context, from, to Point, durationMs int) error
	PressKey(ctx context.Context, code int) error
	TypeText(ctx context.Context, text string) error
}

// AppLauncher restarts the target application.
type AppLauncher interface {
	Relaunch(ctx context.Context, pkg string) error
}

// ActionExecutor applies a planned action to the device. The index carried by
// the action is resolved against snap.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action, snap *ScreenSnapshot) error
}

// Oracle is the non-deterministic fallback consulted when the classifier is unsure.
type Oracle interface {
	Decide(ctx context.Context, snap *ScreenSnapshot, goal GoalContext) (Action, error)
}

// DeviceStatus is the lifecycle state reported by the device provider.
type DeviceStatus string

const (
	DeviceStopped  DeviceStatus = "stopped"
	DeviceStarting DeviceStatus = "starting"
	DeviceRunning  DeviceStatus = "running"
	DeviceError    DeviceStatus = "error"
)

// Device is a remote handset known to the device provider.
type Device struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Status DeviceStatus `json:"status"`
}

// DeviceProvider manages remote device lifecycle.
type DeviceProvider interface {
	FindDevice(ctx context.Context, name string) (Device, error)
	StartDevice(ctx context.Context, id string) error
	StopDevice(ctx context.Context, id string) error
	EnableControl(ctx context.Context, id string, portStart, portEnd int) error
	DisableControl(ctx context.Context, id string) error
	PushFile(ctx context.Context, id, localPath, remoteDir string) (string, error)
	Screenshot(ctx context.Context, id string) ([]byte, error)
}
