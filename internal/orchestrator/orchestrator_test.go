package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/ledger"
	"github.com/xkilldash9x/droidpilot/internal/mocks"
)

// -- Fakes --

type fakeChild struct {
	pid        int
	exit       chan error
	once       sync.Once
	ignoreTerm bool

	mu      sync.Mutex
	signals []os.Signal
	killed  bool
}

func (c *fakeChild) finish(err error) { c.once.Do(func() { c.exit <- err }) }

func (c *fakeChild) Pid() int    { return c.pid }
func (c *fakeChild) Wait() error { return <-c.exit }

func (c *fakeChild) Signal(sig os.Signal) error {
	c.mu.Lock()
	c.signals = append(c.signals, sig)
	c.mu.Unlock()
	if !c.ignoreTerm {
		c.finish(nil)
	}
	return nil
}

func (c *fakeChild) Kill() error {
	c.mu.Lock()
	c.killed = true
	c.mu.Unlock()
	c.finish(errors.New("signal: killed"))
	return nil
}

func (c *fakeChild) wasKilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

type fakeSpawner struct {
	mu         sync.Mutex
	children   []*fakeChild
	specs      []WorkerSpec
	ignoreTerm bool
	// crash decides whether the n-th spawned child dies right away.
	crash func(n int) bool
}

func (s *fakeSpawner) Spawn(_ context.Context, spec WorkerSpec) (Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.children)
	c := &fakeChild{pid: 4000 + n, exit: make(chan error, 1), ignoreTerm: s.ignoreTerm}
	if s.crash != nil && s.crash(n) {
		c.finish(errors.New("exit status 2"))
	}
	s.children = append(s.children, c)
	s.specs = append(s.specs, spec)
	return c, nil
}

func (s *fakeSpawner) spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

func (s *fakeSpawner) all() []*fakeChild {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeChild(nil), s.children...)
}

// -- Helpers --

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.OrchestratorCfg.StateDir = dir
	cfg.OrchestratorCfg.Workers = 2
	cfg.OrchestratorCfg.GracePeriod = time.Second
	cfg.OrchestratorCfg.SweepInterval = 10 * time.Millisecond
	cfg.OrchestratorCfg.StaleClaimAfter = 20 * time.Minute
	cfg.OrchestratorCfg.RestartLimit = 3
	cfg.OrchestratorCfg.MetricsAddr = ""
	cfg.OrchestratorCfg.TeardownDevices = false
	cfg.OrchestratorCfg.SeedFile = ""
	cfg.LedgerCfg.Path = filepath.Join(dir, "ledger.csv")
	cfg.LedgerCfg.LockTimeout = 5 * time.Second
	cfg.LedgerCfg.Timezone = "UTC"
	return cfg
}

func setup(t *testing.T, cfg *config.Config, sp Spawner, opts ...Option) (*Orchestrator, *ledger.Ledger) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	l, err := ledger.New(cfg.Ledger(), logger)
	require.NoError(t, err)
	opts = append([]Option{WithRestartDelay(0)}, opts...)
	o, err := New(cfg, l, sp, logger, opts...)
	require.NoError(t, err)
	// No other process is ever considered alive unless a test says so.
	o.pid.pidExists = func(pid int32) (bool, error) { return int(pid) == os.Getpid(), nil }
	return o, l
}

const campaign = `
jobs:
  - id: j1
    account: alice
    payload: clip.mp4
    caption: hello
  - id: j2
    account: bob
    flow: follow
    target: carol
`

func writeCampaign(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(campaign), 0o644))
	return path
}

// startRun runs the orchestrator in the background and returns a cancel
// func and the channel carrying Run's result.
func startRun(o *Orchestrator, opts RunOptions) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, opts) }()
	return cancel, done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not return")
		return nil
	}
}

// -- Tests --

func TestNewRejectsNilDependencies(t *testing.T) {
	_, err := New(config.NewDefaultConfig(), nil, &fakeSpawner{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSpecAssignsDisjointResources(t *testing.T) {
	cfg := testConfig(t)
	cfg.OrchestratorCfg.AutomationBasePort = 7912
	cfg.OrchestratorCfg.DevicePortBase = 20000
	cfg.OrchestratorCfg.DevicePortSpan = 100
	o, _ := setup(t, cfg, &fakeSpawner{})

	w1, w2 := o.spec(0), o.spec(1)
	assert.Equal(t, WorkerSpec{ID: "w01", AutomationPort: 7912, DevicePortStart: 20000, DevicePortEnd: 20099}, w1)
	assert.Equal(t, WorkerSpec{ID: "w02", AutomationPort: 7913, DevicePortStart: 20100, DevicePortEnd: 20199}, w2)
	assert.Equal(t, []string{
		"--id", "w02", "--automation-port", "7913", "--device-port-start", "20100", "--device-port-end", "20199",
	}, w2.Args())
}

func TestRunStartsPoolAndStopsGracefully(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	sp := &fakeSpawner{}
	o, _ := setup(t, cfg, sp)

	cancel, done := startRun(o, RunOptions{Workers: 3, SeedFile: writeCampaign(t)})
	require.Eventually(t, func() bool { return sp.spawned() == 3 }, 2*time.Second, 5*time.Millisecond)

	data, err := os.ReadFile(o.pid.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))
	assert.Eventually(t, func() bool { return testutil.ToFloat64(o.metrics.workersAlive) == 3 }, time.Second, 5*time.Millisecond)

	stats, err := o.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count(schemas.StatusPending))

	cancel()
	require.NoError(t, waitResult(t, done))

	for _, c := range sp.all() {
		assert.Equal(t, []os.Signal{syscall.SIGTERM}, c.signals)
		assert.False(t, c.wasKilled())
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(o.metrics.workersAlive))
	assert.NoFileExists(t, o.pid.Path())
}

func TestRunKillsWorkersAfterGracePeriod(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	cfg.OrchestratorCfg.GracePeriod = 20 * time.Millisecond
	sp := &fakeSpawner{ignoreTerm: true}
	o, _ := setup(t, cfg, sp)

	cancel, done := startRun(o, RunOptions{Workers: 1})
	require.Eventually(t, func() bool { return sp.spawned() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitResult(t, done))

	assert.True(t, sp.all()[0].wasKilled())
}

func TestRunRestartsCrashedWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	sp := &fakeSpawner{crash: func(n int) bool { return n == 0 }}
	o, _ := setup(t, cfg, sp)

	cancel, done := startRun(o, RunOptions{Workers: 1})
	require.Eventually(t, func() bool { return sp.spawned() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, 1.0, testutil.ToFloat64(o.metrics.restarts))
	sp.mu.Lock()
	assert.Equal(t, sp.specs[0], sp.specs[1], "a restarted worker keeps its identity and ports")
	sp.mu.Unlock()
}

func TestRunGivesUpAfterRestartLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	cfg.OrchestratorCfg.RestartLimit = 2
	sp := &fakeSpawner{crash: func(int) bool { return true }}
	o, _ := setup(t, cfg, sp)

	err := o.Run(context.Background(), RunOptions{Workers: 1})
	require.ErrorIs(t, err, ErrRestartLimit)
	assert.Equal(t, 3, sp.spawned())
	assert.NoFileExists(t, o.pid.Path())
}

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := testConfig(t)
	sp := &fakeSpawner{}
	o, _ := setup(t, cfg, sp)
	require.NoError(t, os.WriteFile(o.pid.Path(), []byte("4242\n"), 0o644))

	o.pid.pidExists = func(pid int32) (bool, error) { return pid == 4242, nil }
	err := o.Run(context.Background(), RunOptions{Workers: 1})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Zero(t, sp.spawned())

	data, err := os.ReadFile(o.pid.Path())
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(data), "the live owner's file is left alone")
}

func TestPIDFileReplacesStaleOwner(t *testing.T) {
	p := NewPIDFile(t.TempDir())
	p.pidExists = func(int32) (bool, error) { return false, nil }
	require.NoError(t, os.WriteFile(p.Path(), []byte("4242\n"), 0o644))

	release, err := p.Acquire()
	require.NoError(t, err)
	pid, err := p.read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	release()
	assert.NoFileExists(t, p.Path())
}

func TestPIDFileReplacesGarbage(t *testing.T) {
	p := NewPIDFile(t.TempDir())
	require.NoError(t, os.WriteFile(p.Path(), []byte("not a pid"), 0o644))

	release, err := p.Acquire()
	require.NoError(t, err)
	defer release()
	pid, err := p.read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFileSingleWinnerOverStaleFile(t *testing.T) {
	p := NewPIDFile(t.TempDir())
	p.pidExists = func(pid int32) (bool, error) { return int(pid) == os.Getpid(), nil }
	require.NoError(t, os.WriteFile(p.Path(), []byte("4242\n"), 0o644))

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		refused int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Acquire()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrAlreadyRunning):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, contenders-1, refused)
	pid, err := p.read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFileIgnoresGarbage(t *testing.T) {
	p := NewPIDFile(t.TempDir())
	require.NoError(t, os.WriteFile(p.Path(), []byte("not a pid"), 0o644))
	pid, alive, err := p.Owner()
	require.NoError(t, err)
	assert.Zero(t, pid)
	assert.False(t, alive)
}

func TestStopWithoutOrchestrator(t *testing.T) {
	o, _ := setup(t, testConfig(t), nil)
	_, err := o.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSeedAndStatus(t *testing.T) {
	o, _ := setup(t, testConfig(t), nil)

	res, err := o.Seed(context.Background(), writeCampaign(t))
	require.NoError(t, err)
	assert.Equal(t, ledger.SeedResult{Added: 2}, res)

	res, err = o.Seed(context.Background(), writeCampaign(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Existing)

	stats, err := o.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Count(schemas.StatusPending))
	assert.Equal(t, 0, stats.Count(schemas.StatusFailed))

	_, err = o.Seed(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunWithoutSpawner(t *testing.T) {
	o, _ := setup(t, testConfig(t), nil)
	assert.Error(t, o.Run(context.Background(), RunOptions{Workers: 1}))
}

func TestRunSweepsStaleClaims(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	cfg.OrchestratorCfg.StaleClaimAfter = time.Nanosecond
	sp := &fakeSpawner{}
	o, l := setup(t, cfg, sp)

	ctx := context.Background()
	_, err := o.Seed(ctx, writeCampaign(t))
	require.NoError(t, err)
	job, ok, err := l.ClaimNext(ctx, "w09", 0)
	require.NoError(t, err)
	require.True(t, ok)

	cancel, done := startRun(o, RunOptions{Workers: 1})
	require.Eventually(t, func() bool {
		jobs, err := l.Jobs()
		if err != nil {
			return false
		}
		for _, j := range jobs {
			if j.ID == job.ID {
				return j.Status == schemas.StatusPending && j.ErrorType == schemas.CodeStaleClaim
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(o.metrics.jobs.WithLabelValues("pending")) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitResult(t, done))
}

func TestRunTearsDownDevices(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	cfg.OrchestratorCfg.TeardownDevices = true
	cfg.WorkerCfg.DeviceNames = map[string]string{"alice": "alice-phone"}

	devices := &mocks.MockDeviceProvider{}
	devices.On("FindDevice", mock.Anything, "alice-phone").
		Return(schemas.Device{ID: "d1", Name: "alice-phone", Status: schemas.DeviceRunning}, nil)
	devices.On("FindDevice", mock.Anything, "bob").
		Return(schemas.Device{ID: "d2", Name: "bob", Status: schemas.DeviceStopped}, nil)
	devices.On("StopDevice", mock.Anything, "d1").Return(nil)

	sp := &fakeSpawner{}
	o, _ := setup(t, cfg, sp, WithDevices(devices))

	cancel, done := startRun(o, RunOptions{Workers: 1, SeedFile: writeCampaign(t)})
	require.Eventually(t, func() bool { return sp.spawned() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitResult(t, done))

	devices.AssertExpectations(t)
	devices.AssertNotCalled(t, "StopDevice", mock.Anything, "d2")
}

func TestObserveStatsCoversEveryStatus(t *testing.T) {
	m := newMetrics()
	m.observeStats(ledger.Count([]schemas.Job{
		{ID: "a", Status: schemas.StatusFailed},
		{ID: "b", Status: schemas.StatusRetrying},
		{ID: "c", Status: schemas.StatusRetrying},
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("retrying")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobs.WithLabelValues("success")))
	assert.Equal(t, len(schemas.AllStatuses), testutil.CollectAndCount(m.jobs))
}
