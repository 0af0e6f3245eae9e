// Package orchestrator runs the worker pool: it guards the state directory
// against a second instance, seeds the ledger, keeps one process per worker
// alive, sweeps abandoned claims and drives shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/ledger"
	"github.com/xkilldash9x/droidpilot/internal/seed"
)

// ErrRestartLimit is returned from Run when a worker keeps dying.
var ErrRestartLimit = errors.New("worker restart limit reached")

// Ledger is the part of the progress ledger the orchestrator uses.
type Ledger interface {
	Seed(ctx context.Context, jobs []schemas.Job) (ledger.SeedResult, error)
	Sweep(ctx context.Context, staleAfter time.Duration) ([]schemas.Job, error)
	Stats() (schemas.Stats, error)
	Jobs() ([]schemas.Job, error)
}

// RunOptions override configuration for a single Run.
type RunOptions struct {
	Workers  int
	SeedFile string
}

// Orchestrator manages the worker pool of one state directory.
type Orchestrator struct {
	cfg          config.OrchestratorConfig
	deviceNames  map[string]string
	ledger       Ledger
	spawner      Spawner
	devices      schemas.DeviceProvider
	pid          *PIDFile
	metrics      *metrics
	restartDelay time.Duration
	logger       *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDevices enables device teardown on shutdown.
func WithDevices(p schemas.DeviceProvider) Option {
	return func(o *Orchestrator) { o.devices = p }
}

// WithRestartDelay sets the pause before the first restart of a crashed
// worker. Later restarts wait proportionally longer.
func WithRestartDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.restartDelay = d }
}

// New creates an orchestrator. spawner may be nil for the control commands
// that never start workers.
func New(cfg config.Interface, l Ledger, spawner Spawner, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || l == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	oc := cfg.Orchestrator()
	o := &Orchestrator{
		cfg:          oc,
		deviceNames:  cfg.Worker().DeviceNames,
		ledger:       l,
		spawner:      spawner,
		pid:          NewPIDFile(oc.StateDir),
		metrics:      newMetrics(),
		restartDelay: time.Second,
		logger:       logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Seed loads a campaign file into the ledger without starting workers.
func (o *Orchestrator) Seed(ctx context.Context, path string) (ledger.SeedResult, error) {
	jobs, err := seed.LoadJobs(path)
	if err != nil {
		return ledger.SeedResult{}, err
	}
	res, err := o.ledger.Seed(ctx, jobs)
	if err != nil {
		return res, fmt.Errorf("seeding ledger: %w", err)
	}
	o.logger.Info("Ledger seeded.",
		zap.String("file", path),
		zap.Int("added", res.Added),
		zap.Int("skipped", res.Skipped),
		zap.Int("existing", res.Existing))
	return res, nil
}

// Status reports ledger counts by status.
func (o *Orchestrator) Status() (schemas.Stats, error) {
	return o.ledger.Stats()
}

// Stop asks the orchestrator running on this state directory to shut down.
// It returns the pid that was signalled.
func (o *Orchestrator) Stop() (int, error) {
	return o.pid.Signal()
}

// Run starts the pool and blocks until ctx is cancelled or a worker exceeds
// its restart budget. Workers are always stopped before Run returns.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) error {
	if o.spawner == nil {
		return fmt.Errorf("orchestrator has no worker spawner")
	}
	release, err := o.pid.Acquire()
	if err != nil {
		return err
	}
	defer release()

	seedFile := opts.SeedFile
	if seedFile == "" {
		seedFile = o.cfg.SeedFile
	}
	if seedFile != "" {
		if _, err := o.Seed(ctx, seedFile); err != nil {
			return err
		}
	}

	n := opts.Workers
	if n <= 0 {
		n = o.cfg.Workers
	}
	if n <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", n)
	}

	stopMetrics := o.serveMetrics()
	defer stopMetrics()

	o.logger.Info("Starting worker pool.", zap.Int("workers", n), zap.String("state_dir", o.cfg.StateDir))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		spec := o.spec(i)
		g.Go(func() error { return o.supervise(gctx, spec) })
	}
	g.Go(func() error {
		o.maintain(gctx)
		return nil
	})
	err = g.Wait()

	o.teardown(context.WithoutCancel(ctx))
	o.refreshStats()
	o.logger.Info("Worker pool stopped.")
	return err
}

// spec assigns worker i its identity and port ranges.
func (o *Orchestrator) spec(i int) WorkerSpec {
	span := o.cfg.DevicePortSpan
	if span <= 0 {
		span = 100
	}
	start := o.cfg.DevicePortBase + i*span
	return WorkerSpec{
		ID:              fmt.Sprintf("w%02d", i+1),
		AutomationPort:  o.cfg.AutomationBasePort + i,
		DevicePortStart: start,
		DevicePortEnd:   start + span - 1,
	}
}

func (o *Orchestrator) supervise(ctx context.Context, spec WorkerSpec) error {
	logger := o.logger.With(zap.String("worker_id", spec.ID))
	restarts := 0
	for {
		child, err := o.spawner.Spawn(ctx, spec)
		if err != nil {
			return fmt.Errorf("spawning worker %s: %w", spec.ID, err)
		}
		logger.Info("Worker started.",
			zap.Int("pid", child.Pid()),
			zap.Int("automation_port", spec.AutomationPort),
			zap.Int("device_port_start", spec.DevicePortStart),
			zap.Int("device_port_end", spec.DevicePortEnd))
		o.metrics.workersAlive.Inc()

		exited := make(chan error, 1)
		go func() { exited <- child.Wait() }()

		select {
		case <-ctx.Done():
			o.stopChild(child, exited, logger)
			o.metrics.workersAlive.Dec()
			return nil
		case err := <-exited:
			o.metrics.workersAlive.Dec()
			if ctx.Err() != nil {
				return nil
			}
			restarts++
			if restarts > o.cfg.RestartLimit {
				return fmt.Errorf("worker %s exited %d times (last: %v): %w", spec.ID, restarts, err, ErrRestartLimit)
			}
			o.metrics.restarts.Inc()
			logger.Warn("Worker exited unexpectedly, restarting.", zap.Error(err), zap.Int("restart", restarts))
			if !sleepCtx(ctx, o.restartDelay*time.Duration(restarts)) {
				return nil
			}
		}
	}
}

// stopChild lets the worker release its job, then kills it once the grace
// period is over.
func (o *Orchestrator) stopChild(child Child, exited <-chan error, logger *zap.Logger) {
	if err := child.Signal(syscall.SIGTERM); err != nil {
		logger.Warn("Failed to signal worker.", zap.Error(err))
	}
	grace := time.NewTimer(o.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case err := <-exited:
		logger.Info("Worker exited.", zap.Error(err))
	case <-grace.C:
		logger.Warn("Worker ignored shutdown, killing.", zap.Duration("grace_period", o.cfg.GracePeriod))
		if err := child.Kill(); err != nil {
			logger.Warn("Failed to kill worker.", zap.Error(err))
		}
		<-exited
	}
}

// maintain sweeps stale claims and refreshes gauges until ctx is done.
func (o *Orchestrator) maintain(ctx context.Context) {
	interval := o.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	o.sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	if o.cfg.StaleClaimAfter > 0 {
		swept, err := o.ledger.Sweep(ctx, o.cfg.StaleClaimAfter)
		switch {
		case err != nil && ctx.Err() == nil:
			o.logger.Warn("Sweep failed.", zap.Error(err))
		case len(swept) > 0:
			ids := make([]string, len(swept))
			for i, j := range swept {
				ids[i] = j.ID
			}
			o.logger.Warn("Released stale claims.", zap.Strings("job_ids", ids))
		}
	}
	o.refreshStats()
}

func (o *Orchestrator) refreshStats() {
	stats, err := o.ledger.Stats()
	if err != nil {
		o.logger.Warn("Failed to read ledger stats.", zap.Error(err))
		return
	}
	o.metrics.observeStats(stats)
}

// teardown stops the devices of every account in the ledger.
func (o *Orchestrator) teardown(ctx context.Context) {
	if !o.cfg.TeardownDevices || o.devices == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	jobs, err := o.ledger.Jobs()
	if err != nil {
		o.logger.Warn("Skipping device teardown.", zap.Error(err))
		return
	}
	names := make(map[string]struct{})
	for _, j := range jobs {
		names[o.deviceName(j.Account)] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		dev, err := o.devices.FindDevice(ctx, name)
		if err != nil {
			o.logger.Debug("Device not found for teardown.", zap.String("device", name), zap.Error(err))
			continue
		}
		if dev.Status == schemas.DeviceStopped {
			continue
		}
		if err := o.devices.StopDevice(ctx, dev.ID); err != nil {
			o.logger.Warn("Failed to stop device.", zap.String("device", name), zap.Error(err))
			continue
		}
		o.logger.Info("Device stopped.", zap.String("device", name))
	}
}

func (o *Orchestrator) deviceName(account string) string {
	if name := o.deviceNames[account]; name != "" {
		return name
	}
	return account
}

func (o *Orchestrator) serveMetrics() func() {
	if o.cfg.MetricsAddr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.metrics.handler())
	srv := &http.Server{Addr: o.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("Metrics server failed.", zap.Error(err))
		}
	}()
	o.logger.Info("Serving metrics.", zap.String("addr", o.cfg.MetricsAddr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
