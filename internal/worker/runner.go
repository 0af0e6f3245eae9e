package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/device"
	"github.com/xkilldash9x/droidpilot/internal/humanoid"
	"github.com/xkilldash9x/droidpilot/internal/navigation"
)

// DeviceManager is the device provider as the runner needs it.
type DeviceManager interface {
	schemas.DeviceProvider
	WaitReady(ctx context.Context, name string, timeout time.Duration) (schemas.Device, error)
}

// Transport is the UI automation endpoint bound to this worker.
type Transport interface {
	schemas.SnapshotSource
	schemas.Gestures
	schemas.AppLauncher
	Ping(ctx context.Context) error
}

// PortRange is the device-control port range reserved for one worker.
type PortRange struct {
	Start int
	End   int
}

// DeviceRunner runs a job end to end on the device that belongs to its
// account: boot, control, payload, navigation, release.
type DeviceRunner struct {
	devices   DeviceManager
	transport Transport
	oracle    schemas.Oracle
	touch     *humanoid.Humanoid
	ports     PortRange

	nav        config.NavigationConfig
	deviceCfg  config.DeviceConfig
	workerCfg  config.WorkerConfig
	appPackage string
	logger     *zap.Logger
}

// NewDeviceRunner wires a runner. oracle may be nil.
func NewDeviceRunner(devices DeviceManager, transport Transport, oracle schemas.Oracle, ports PortRange, cfg config.Interface, logger *zap.Logger) *DeviceRunner {
	return &DeviceRunner{
		devices:    devices,
		transport:  transport,
		oracle:     oracle,
		touch:      humanoid.New(cfg.Humanoid()),
		ports:      ports,
		nav:        cfg.Navigation(),
		deviceCfg:  cfg.Device(),
		workerCfg:  cfg.Worker(),
		appPackage: cfg.Automation().AppPackage,
		logger:     logger.Named("runner"),
	}
}

// DeviceName resolves the device that is logged into account.
func (r *DeviceRunner) DeviceName(account string) string {
	if name, ok := r.workerCfg.DeviceNames[account]; ok && name != "" {
		return name
	}
	return account
}

// Run implements JobRunner.
func (r *DeviceRunner) Run(ctx context.Context, job schemas.Job) navigation.Outcome {
	goal, err := job.Goal()
	if err != nil {
		return navigation.Failure(schemas.CodeAutomationError, fmt.Sprintf("bad goal params: %v", err))
	}
	logger := r.logger.With(zap.String("job_id", job.ID), zap.String("account", job.Account))

	name := r.DeviceName(job.Account)
	dev, err := r.devices.WaitReady(ctx, name, r.deviceCfg.BootTimeout)
	if err != nil {
		return r.deviceFailure(ctx, err)
	}
	logger = logger.With(zap.String("device_id", dev.ID))

	if err := r.devices.EnableControl(ctx, dev.ID, r.ports.Start, r.ports.End); err != nil {
		return r.deviceFailure(ctx, fmt.Errorf("enabling control: %w", err))
	}
	defer r.release(ctx, dev, logger)

	if goal.Flow == schemas.FlowPublish {
		local := r.payloadPath(job.PayloadRef)
		remote, err := r.devices.PushFile(ctx, dev.ID, local, r.deviceCfg.RemoteDir)
		if err != nil {
			if ctx.Err() != nil {
				return navigation.Aborted("shutdown during payload push")
			}
			return navigation.Failure(schemas.CodePayloadPushFailed, err.Error())
		}
		logger.Info("Payload pushed.", zap.String("remote_path", remote))
	}

	if err := r.transport.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return navigation.Aborted("shutdown before navigation")
		}
		return navigation.Failure(schemas.CodeAutomationError, fmt.Sprintf("automation agent unreachable: %v", err))
	}
	if err := r.transport.Relaunch(ctx, r.appPackage); err != nil {
		if ctx.Err() != nil {
			return navigation.Aborted("shutdown before navigation")
		}
		return navigation.Failure(schemas.CodeAppNotResponding, fmt.Sprintf("launching %s: %v", r.appPackage, err))
	}

	session, err := navigation.NewSession(navigation.Deps{
		Source:   r.transport,
		Executor: humanoid.NewExecutor(r.touch, r.transport, r.transport, r.appPackage, logger),
		Oracle:   r.oracle,
		Logger:   logger,
	}, r.nav, goal)
	if err != nil {
		return navigation.Failure(schemas.CodeAutomationError, err.Error())
	}
	out := session.Run(ctx)
	if out.Permanent() {
		out.Screenshot = r.captureEvidence(ctx, dev, job, logger)
	}
	return out
}

// captureEvidence saves the device screen for the manual review entry. It
// runs before control is released, and a failed capture only costs the image.
func (r *DeviceRunner) captureEvidence(ctx context.Context, dev schemas.Device, job schemas.Job, logger *zap.Logger) string {
	if r.workerCfg.ReviewDir == "" {
		return ""
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	img, err := r.devices.Screenshot(cctx, dev.ID)
	if err != nil {
		logger.Warn("Failed to capture review screenshot.", zap.Error(err))
		return ""
	}
	path := filepath.Join(r.workerCfg.ReviewDir, fmt.Sprintf("%s-%d.png", job.ID, job.Attempts))
	if err := os.MkdirAll(r.workerCfg.ReviewDir, 0o755); err != nil {
		logger.Warn("Failed to create review dir.", zap.Error(err))
		return ""
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		logger.Warn("Failed to save review screenshot.", zap.Error(err))
		return ""
	}
	logger.Info("Saved review screenshot.", zap.String("path", path))
	return path
}

func (r *DeviceRunner) deviceFailure(ctx context.Context, err error) navigation.Outcome {
	switch {
	case ctx.Err() != nil:
		return navigation.Aborted("shutdown while preparing device")
	case errors.Is(err, device.ErrBootTimeout):
		return navigation.Failure(schemas.CodeDeviceBootTimeout, err.Error())
	default:
		return navigation.Failure(schemas.CodeDeviceUnavailable, err.Error())
	}
}

// release gives the device back even when the job was cancelled.
func (r *DeviceRunner) release(ctx context.Context, dev schemas.Device, logger *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.devices.DisableControl(rctx, dev.ID); err != nil {
		logger.Warn("Failed to disable device control.", zap.Error(err))
	}
	if r.workerCfg.StopDevice {
		if err := r.devices.StopDevice(rctx, dev.ID); err != nil {
			logger.Warn("Failed to stop device.", zap.Error(err))
		}
	}
}

func (r *DeviceRunner) payloadPath(ref string) string {
	if filepath.IsAbs(ref) || r.workerCfg.PayloadRoot == "" {
		return ref
	}
	return filepath.Join(r.workerCfg.PayloadRoot, ref)
}
