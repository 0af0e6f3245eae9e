package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// WorkerSpec is everything a worker process needs to stay out of its
// siblings' way.
type WorkerSpec struct {
	ID              string
	AutomationPort  int
	DevicePortStart int
	DevicePortEnd   int
}

// Args renders s as worker command-line flags.
func (s WorkerSpec) Args() []string {
	return []string{
		"--id", s.ID,
		"--automation-port", strconv.Itoa(s.AutomationPort),
		"--device-port-start", strconv.Itoa(s.DevicePortStart),
		"--device-port-end", strconv.Itoa(s.DevicePortEnd),
	}
}

// Child is a running worker.
type Child interface {
	Pid() int
	// Wait blocks until the worker exits. It is called exactly once.
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Child, error)
}

// ExecSpawner re-executes a binary in worker mode.
type ExecSpawner struct {
	// Binary defaults to the running executable.
	Binary string
	// ConfigFile is forwarded with --config when set.
	ConfigFile string
	// Output receives the children's stdout and stderr. Workers log to their
	// own files, so this only sees crashes.
	Output io.Writer
}

// Spawn implements Spawner. The child is not bound to ctx: it is stopped
// with a signal so it can release its job first.
func (s *ExecSpawner) Spawn(_ context.Context, spec WorkerSpec) (Child, error) {
	bin := s.Binary
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
		bin = exe
	}
	args := []string{"worker"}
	if s.ConfigFile != "" {
		args = append(args, "--config", s.ConfigFile)
	}
	args = append(args, spec.Args()...)

	cmd := exec.Command(bin, args...)
	out := s.Output
	if out == nil {
		out = os.Stderr
	}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker %s: %w", spec.ID, err)
	}
	return &execChild{cmd: cmd}, nil
}

type execChild struct {
	cmd *exec.Cmd
}

func (c *execChild) Pid() int                   { return c.cmd.Process.Pid }
func (c *execChild) Wait() error                { return c.cmd.Wait() }
func (c *execChild) Signal(sig os.Signal) error { return c.cmd.Process.Signal(sig) }
func (c *execChild) Kill() error                { return c.cmd.Process.Kill() }
