package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	// ErrAlreadyRunning is returned when another orchestrator holds the pid file.
	ErrAlreadyRunning = errors.New("an orchestrator is already running")
	// ErrNotRunning is returned by Stop when no live orchestrator is recorded.
	ErrNotRunning = errors.New("no orchestrator is running")
)

// PIDFile is the instance lock of one state directory.
type PIDFile struct {
	path      string
	pidExists func(int32) (bool, error)
}

// NewPIDFile returns the lock for stateDir.
func NewPIDFile(stateDir string) *PIDFile {
	return &PIDFile{path: filepath.Join(stateDir, "orchestrator.pid"), pidExists: process.PidExists}
}

// Path of the pid file.
func (p *PIDFile) Path() string { return p.path }

// Acquire records the current process. The pid file is created exclusively;
// a file left behind by a dead process is replaced. Contenders serialize on
// <pidfile>.lock so only one of them can replace a stale file.
func (p *PIDFile) Acquire() (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	guard := flock.New(p.path + ".lock")
	if err := guard.Lock(); err != nil {
		return nil, fmt.Errorf("locking %s: %w", guard.Path(), err)
	}
	defer func() { _ = guard.Unlock() }()

	self := os.Getpid()
	err = p.create(self)
	if errors.Is(err, os.ErrExist) {
		pid, alive, ownerErr := p.Owner()
		switch {
		case ownerErr != nil:
			return nil, ownerErr
		case alive:
			return nil, fmt.Errorf("%w (pid %d, %s)", ErrAlreadyRunning, pid, p.path)
		}
		if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale pid file: %w", err)
		}
		err = p.create(self)
	}
	if err != nil {
		return nil, fmt.Errorf("writing pid file: %w", err)
	}

	return func() {
		// Leave a file that a newer instance has already rewritten.
		if pid, err := p.read(); err == nil && pid == self {
			_ = os.Remove(p.path)
		}
	}, nil
}

func (p *PIDFile) create(pid int) error {
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		f.Close()
		_ = os.Remove(p.path)
		return err
	}
	return f.Close()
}

// Owner reports the recorded pid and whether that process is alive. A
// missing file yields pid 0.
func (p *PIDFile) Owner() (int, bool, error) {
	pid, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		// Unparseable content is treated as a stale file.
		return 0, false, nil
	}
	alive, err := p.pidExists(int32(pid))
	if err != nil {
		return pid, false, fmt.Errorf("checking pid %d: %w", pid, err)
	}
	return pid, alive, nil
}

// Signal asks the recorded orchestrator to shut down gracefully.
func (p *PIDFile) Signal() (int, error) {
	pid, alive, err := p.Owner()
	if err != nil {
		return 0, err
	}
	if !alive {
		return pid, ErrNotRunning
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return pid, fmt.Errorf("opening process %d: %w", pid, err)
	}
	if err := proc.Terminate(); err != nil {
		return pid, fmt.Errorf("signalling process %d: %w", pid, err)
	}
	return pid, nil
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", p.path)
	}
	return pid, nil
}
