// Package environment is the sandbox environment lifecycle controller.
//
// It drives a worktree's external process stack through
// stopped/starting/running/stopping/error, executes the repo's up/down
// command templates, probes health over HTTP, and maintains the persisted
// environment_instance record, emitting an update only when the
// meaningful part of that record actually changed.
package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/preset-io/agor-sub001/internal/domain"
	"github.com/preset-io/agor-sub001/internal/eventbus"
	"github.com/preset-io/agor-sub001/internal/template"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

// fetch loads the worktree and its owning repo.
func (c *Controller) fetch(ctx context.Context, worktreeID string) (*domain.Worktree, *domain.Repo, error) {
	wt, err := c.worktrees.Get(ctx, worktreeID)
	if err != nil {
		return nil, nil, fmt.Errorf("environment: loading worktree %s: %w", worktreeID, err)
	}
	repo, err := c.repos.Get(ctx, wt.RepoID)
	if err != nil {
		return nil, nil, fmt.Errorf("environment: loading repo %s: %w", wt.RepoID, err)
	}
	return wt, repo, nil
}

// commandContext builds the render context for command and URL templates.
func commandContext(wt *domain.Worktree, repo *domain.Repo) map[string]any {
	return map[string]any{
		"worktree": map[string]any{
			"unique_id": wt.ID,
			"name":      wt.Name,
			"path":      wt.Path,
		},
		"repo":   map[string]any{"slug": repo.Slug},
		"custom": wt.CustomContext,
	}
}

// persist writes env to the store and broadcasts an update, but only when
// the meaningful state differs from prev (health-check timestamps are
// excluded from the comparison).
func (c *Controller) persist(ctx context.Context, worktreeID string, prev, env *domain.EnvironmentInstance) error {
	if env.MeaningfulEquals(prev) {
		return nil
	}
	if err := c.worktrees.UpdateEnvironment(ctx, worktreeID, env); err != nil {
		return fmt.Errorf("environment: persisting instance for %s: %w", worktreeID, err)
	}
	if c.bus != nil {
		upd := eventbus.EnvironmentUpdate{WorktreeID: worktreeID, Status: string(env.Status)}
		if env.LastHealthCheck != nil {
			upd.Health = string(env.LastHealthCheck.Status)
			upd.Message = env.LastHealthCheck.Message
		}
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeEnvironmentUpdated, Data: upd})
	}
	return nil
}

func instanceOf(wt *domain.Worktree) *domain.EnvironmentInstance {
	if wt.Environment != nil {
		return wt.Environment.Clone()
	}
	return &domain.EnvironmentInstance{Status: domain.EnvStopped}
}

// Start launches the worktree's environment stack.
//
// The up command is a "launch and return" operation; a zero exit means the
// stack was brought up in the background. When a health check is
// configured the status stays `starting` until the first 2xx probe;
// command success alone never promotes to `running` in that case.
func (c *Controller) Start(ctx context.Context, worktreeID string) error {
	l := c.lockFor(worktreeID)
	l.Lock()
	defer l.Unlock()
	return c.startLocked(ctx, worktreeID)
}

func (c *Controller) startLocked(ctx context.Context, worktreeID string) error {
	wt, repo, err := c.fetch(ctx, worktreeID)
	if err != nil {
		return err
	}
	cfg := repo.EnvironmentConfig
	if cfg == nil || cfg.UpCommand == "" {
		return ErrNoUpCommand
	}

	env := instanceOf(wt)
	if env.Status == domain.EnvRunning {
		return ErrAlreadyRunning
	}
	prev := env.Clone()

	env.Status = domain.EnvStarting
	env.LastHealthCheck = nil
	if err := c.persist(ctx, worktreeID, prev, env); err != nil {
		return err
	}
	prev = env.Clone()

	rctx := commandContext(wt, repo)
	command := template.Render(cfg.UpCommand, rctx)
	c.log.Info("starting environment", logx.String("worktree", worktreeID), logx.String("command", command))

	res, runErr := c.runner.Run(ctx, command, wt.Path)
	if runErr != nil || res.ExitCode != 0 {
		msg := fmt.Sprintf("up command failed (exit %d)", res.ExitCode)
		if runErr != nil {
			msg = fmt.Sprintf("up command failed: %v", runErr)
		}
		env.Status = domain.EnvError
		env.LastHealthCheck = &domain.HealthCheck{
			Timestamp: time.Now().UnixMilli(),
			Status:    domain.HealthUnhealthy,
			Message:   msg,
		}
		if perr := c.persist(ctx, worktreeID, prev, env); perr != nil {
			c.log.Error("failed recording environment error", logx.String("worktree", worktreeID), logx.Err(perr))
		}
		c.log.Error("environment start failed",
			logx.String("worktree", worktreeID),
			logx.Int("exit_code", res.ExitCode),
			logx.Err(runErr))
		return fmt.Errorf("environment: %s", msg)
	}

	c.trackProc(worktreeID, trackedProc{PID: res.PID, Command: command, StartedAt: time.Now()})
	env.Process = &domain.ProcessInfo{PID: res.PID}

	if cfg.AppURLTemplate != "" {
		env.AccessURLs = []domain.AccessURL{{Name: "app", URL: template.Render(cfg.AppURLTemplate, rctx)}}
	}
	if cfg.HealthCheck == nil {
		env.Status = domain.EnvRunning
	}
	if err := c.persist(ctx, worktreeID, prev, env); err != nil {
		return err
	}
	c.log.Info("environment started",
		logx.String("worktree", worktreeID),
		logx.Int("pid", res.PID),
		logx.String("status", string(env.Status)))
	return nil
}

// Stop brings the worktree's environment stack down. Without a configured
// down command it signals the tracked process handle, falling back to the
// persisted PID when the handle was lost to a controller restart.
func (c *Controller) Stop(ctx context.Context, worktreeID string) error {
	l := c.lockFor(worktreeID)
	l.Lock()
	defer l.Unlock()
	return c.stopLocked(ctx, worktreeID)
}

func (c *Controller) stopLocked(ctx context.Context, worktreeID string) error {
	wt, repo, err := c.fetch(ctx, worktreeID)
	if err != nil {
		return err
	}
	cfg := repo.EnvironmentConfig

	env := instanceOf(wt)
	prev := env.Clone()
	env.Status = domain.EnvStopping
	if err := c.persist(ctx, worktreeID, prev, env); err != nil {
		return err
	}
	prev = env.Clone()

	if cfg != nil && cfg.DownCommand != "" {
		command := template.Render(cfg.DownCommand, commandContext(wt, repo))
		res, runErr := c.runner.Run(ctx, command, wt.Path)
		if runErr != nil || res.ExitCode != 0 {
			msg := fmt.Sprintf("down command failed (exit %d)", res.ExitCode)
			if runErr != nil {
				msg = fmt.Sprintf("down command failed: %v", runErr)
			}
			env.Status = domain.EnvError
			env.LastHealthCheck = &domain.HealthCheck{
				Timestamp: time.Now().UnixMilli(),
				Status:    domain.HealthUnhealthy,
				Message:   msg,
			}
			if perr := c.persist(ctx, worktreeID, prev, env); perr != nil {
				c.log.Error("failed recording environment error", logx.String("worktree", worktreeID), logx.Err(perr))
			}
			return fmt.Errorf("environment: %s", msg)
		}
	} else {
		// No down command: signal the tracked handle, or the persisted
		// PID when the handle didn't survive a controller restart. The
		// process may already be gone, so failures are tolerated.
		if p, ok := c.trackedProcFor(worktreeID); ok {
			if err := c.runner.Signal(p.PID, true); err != nil {
				c.log.Debug("signal to tracked process failed", logx.String("worktree", worktreeID), logx.Int("pid", p.PID), logx.Err(err))
			}
		} else if env.Process != nil && env.Process.PID > 0 {
			if err := c.runner.Signal(env.Process.PID, true); err != nil {
				c.log.Debug("signal to persisted pid failed", logx.String("worktree", worktreeID), logx.Int("pid", env.Process.PID), logx.Err(err))
			}
		}
	}

	c.untrackProc(worktreeID)
	env.Status = domain.EnvStopped
	env.Process = nil
	env.LastHealthCheck = &domain.HealthCheck{
		Timestamp: time.Now().UnixMilli(),
		Status:    domain.HealthUnknown,
		Message:   "Environment stopped",
	}
	if err := c.persist(ctx, worktreeID, prev, env); err != nil {
		return err
	}
	c.log.Info("environment stopped", logx.String("worktree", worktreeID))
	return nil
}

// Restart stops a running environment, waits for the settle delay, then
// starts it; a non-running environment is started directly.
func (c *Controller) Restart(ctx context.Context, worktreeID string) error {
	l := c.lockFor(worktreeID)
	l.Lock()
	defer l.Unlock()

	wt, _, err := c.fetch(ctx, worktreeID)
	if err != nil {
		return err
	}
	if wt.Environment != nil && wt.Environment.Status == domain.EnvRunning {
		if err := c.stopLocked(ctx, worktreeID); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config().SettleDelay):
		}
	}
	return c.startLocked(ctx, worktreeID)
}

// RecomputeAccessURLs re-renders the app URL template against the current
// context. No-op unless the environment is running or starting. Used when
// the owning repo's environment configuration changes.
func (c *Controller) RecomputeAccessURLs(ctx context.Context, worktreeID string) error {
	l := c.lockFor(worktreeID)
	l.Lock()
	defer l.Unlock()

	wt, repo, err := c.fetch(ctx, worktreeID)
	if err != nil {
		return err
	}
	env := instanceOf(wt)
	if env.Status != domain.EnvRunning && env.Status != domain.EnvStarting {
		return nil
	}
	prev := env.Clone()

	env.AccessURLs = nil
	if repo.EnvironmentConfig != nil && repo.EnvironmentConfig.AppURLTemplate != "" {
		env.AccessURLs = []domain.AccessURL{{
			Name: "app",
			URL:  template.Render(repo.EnvironmentConfig.AppURLTemplate, commandContext(wt, repo)),
		}}
	}
	return c.persist(ctx, worktreeID, prev, env)
}
