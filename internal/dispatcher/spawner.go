package dispatcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a launched worker.
type Process interface {
	PID() int
	Wait() error
}

// Spawner starts a worker for one source.
type Spawner interface {
	Start(ctx context.Context, source string) (Process, error)
}

// ExecSpawner runs `<Executable> <Args...> worker --source <source>`.
type ExecSpawner struct {
	Executable string
	// Args are placed before the worker subcommand, e.g. --config.
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// NewSelfSpawner returns an ExecSpawner that re-executes the running binary.
func NewSelfSpawner(args ...string) (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecSpawner{Executable: exe, Args: args, Stdout: os.Stdout, Stderr: os.Stderr}, nil
}

// Start launches the worker process.
func (s *ExecSpawner) Start(ctx context.Context, source string) (Process, error) {
	args := append(append([]string{}, s.Args...), "worker", "--source", source)
	cmd := exec.CommandContext(ctx, s.Executable, args...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for %s: %w", source, err)
	}
	return execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p execProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("worker process: %w", err)
	}
	return nil
}
