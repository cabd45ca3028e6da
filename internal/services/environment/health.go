package environment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/preset-io/agor-sub001/internal/domain"
	"github.com/preset-io/agor-sub001/internal/eventbus"
	"github.com/preset-io/agor-sub001/internal/template"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

// CheckHealth probes the worktree's configured health URL once.
//
// A 2xx response marks the environment healthy and promotes a `starting`
// environment to `running`; any other outcome marks it unhealthy without
// touching the status (a running environment never regresses on a failed
// probe). The probe result is always persisted so the timestamp stays
// fresh, but an update event is emitted only when something other than
// the timestamp changed.
func (c *Controller) CheckHealth(ctx context.Context, worktreeID string) error {
	l := c.lockFor(worktreeID)
	l.Lock()
	defer l.Unlock()

	wt, repo, err := c.fetch(ctx, worktreeID)
	if err != nil {
		return err
	}
	env := instanceOf(wt)
	if env.Status != domain.EnvStarting && env.Status != domain.EnvRunning {
		return nil
	}
	prev := env.Clone()

	cfg := repo.EnvironmentConfig
	if cfg == nil || cfg.HealthCheck == nil || cfg.HealthCheck.URLTemplate == "" {
		// No probe URL: the best signal available is whether the spawned
		// process is still alive. This path never promotes `starting`.
		check := c.liveness(worktreeID, env)
		env.LastHealthCheck = &check
	} else {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		url := template.Render(cfg.HealthCheck.URLTemplate, commandContext(wt, repo))
		check := c.probe(ctx, url)
		env.LastHealthCheck = &check
		if check.Status == domain.HealthHealthy && env.Status == domain.EnvStarting {
			env.Status = domain.EnvRunning
			c.log.Info("environment promoted to running",
				logx.String("worktree", worktreeID), logx.String("url", url))
		}
	}

	if err := c.worktrees.UpdateEnvironment(ctx, worktreeID, env); err != nil {
		return fmt.Errorf("environment: persisting health for %s: %w", worktreeID, err)
	}
	if c.bus != nil && !env.MeaningfulEquals(prev) {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeEnvironmentUpdated, Data: eventbus.EnvironmentUpdate{
			WorktreeID: worktreeID,
			Status:     string(env.Status),
			Health:     string(env.LastHealthCheck.Status),
			Message:    env.LastHealthCheck.Message,
		}})
	}
	return nil
}

// liveness classifies health from process aliveness when no probe URL is
// configured. A dead or unknown process reads as unknown, not unhealthy,
// since absence of a PID proves nothing about a detached stack.
func (c *Controller) liveness(worktreeID string, env *domain.EnvironmentInstance) domain.HealthCheck {
	check := domain.HealthCheck{Timestamp: time.Now().UnixMilli(), Status: domain.HealthUnknown}
	pid := 0
	if p, ok := c.trackedProcFor(worktreeID); ok {
		pid = p.PID
	} else if env.Process != nil {
		pid = env.Process.PID
	}
	if pid <= 0 {
		check.Message = "no process to observe"
		return check
	}
	if c.runner.Alive(pid) {
		check.Status = domain.HealthHealthy
		return check
	}
	check.Message = fmt.Sprintf("process %d not running", pid)
	return check
}

// probe issues one bounded GET. Transport errors and non-2xx statuses
// both come back as an unhealthy check with a human-readable message.
func (c *Controller) probe(ctx context.Context, url string) domain.HealthCheck {
	pctx, cancel := context.WithTimeout(ctx, c.config().HealthTimeout)
	defer cancel()

	check := domain.HealthCheck{Timestamp: time.Now().UnixMilli()}
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		check.Status = domain.HealthUnhealthy
		check.Message = fmt.Sprintf("invalid health URL: %v", err)
		return check
	}
	resp, err := c.client.Do(req)
	if err != nil {
		check.Status = domain.HealthUnhealthy
		check.Message = fmt.Sprintf("health probe failed: %v", err)
		return check
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		check.Status = domain.HealthHealthy
		return check
	}
	check.Status = domain.HealthUnhealthy
	check.Message = fmt.Sprintf("health probe returned %d", resp.StatusCode)
	return check
}

// Monitor polls every active environment until ctx is canceled. One
// worktree's probe failure never stops the loop. The interval is re-read
// each round so Apply takes effect without a restart.
func (c *Controller) Monitor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config().HealthInterval):
			c.pollOnce(ctx)
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context) {
	wts, err := c.worktrees.ListActiveEnvironments(ctx)
	if err != nil {
		c.log.Error("listing active environments", logx.Err(err))
		return
	}
	for _, wt := range wts {
		if err := c.CheckHealth(ctx, wt.ID); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("health check failed", logx.String("worktree", wt.ID), logx.Err(err))
		}
	}
}
