//go:build unix

package environment

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
)

// NewShellRunner returns the default sh -c runner.
func NewShellRunner() Runner { return shellRunner{} }

type shellRunner struct{}

func (shellRunner) Run(ctx context.Context, command, dir string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// Own process group: lets Signal() reach background children after
	// the shell itself exits.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return RunResult{}, err
	}
	res := RunResult{PID: cmd.Process.Pid}

	err := cmd.Wait()
	res.Output = out.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Start/wait plumbing failure, not a command exit status.
		return res, err
	}
	return res, nil
}

func (shellRunner) Signal(pid int, graceful bool) error {
	sig := syscall.SIGKILL
	if graceful {
		sig = syscall.SIGTERM
	}
	// Negative pid targets the whole process group.
	return syscall.Kill(-pid, sig)
}

func (shellRunner) Alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
