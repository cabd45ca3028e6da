//go:build !unix

package environment

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("environment: process control is only supported on unix")

// NewShellRunner returns a runner that rejects every operation on
// platforms without unix process-group semantics.
func NewShellRunner() Runner { return stubRunner{} }

type stubRunner struct{}

func (stubRunner) Run(context.Context, string, string) (RunResult, error) {
	return RunResult{}, errUnsupported
}

func (stubRunner) Signal(int, bool) error { return errUnsupported }

func (stubRunner) Alive(int) bool { return false }
