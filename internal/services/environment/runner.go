package environment

import "context"

// RunResult is the outcome of a completed command.
type RunResult struct {
	PID      int
	ExitCode int
	Output   string
}

// Runner is the process spawn/kill primitive. Commands run through a
// shell in their own process group so that termination signals reach any
// background children the command left behind.
type Runner interface {
	// Run executes command to completion in dir. A non-zero exit is not
	// an error at this level; it is reported through RunResult.ExitCode.
	Run(ctx context.Context, command, dir string) (RunResult, error)

	// Signal sends a termination signal to pid's process group. graceful
	// selects SIGTERM over SIGKILL.
	Signal(pid int, graceful bool) error

	// Alive reports whether pid still exists.
	Alive(pid int) bool
}
