// Package store persists worktrees, repos and sessions.
//
// The scheduler and environment controller only see the interfaces below;
// access through them is privileged by construction (there is no
// authorization layer in this module at all).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/preset-io/agor-sub001/internal/domain"
)

var ErrNotFound = errors.New("store: not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process store (tests, ephemeral runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// WorktreeStore reads and updates worktree records.
type WorktreeStore interface {
	Put(ctx context.Context, wt *domain.Worktree) error
	Get(ctx context.Context, id string) (*domain.Worktree, error)

	// ListScheduleEnabled returns every worktree with schedule_enabled set,
	// bypassing any caller-level filtering. Internal use only.
	ListScheduleEnabled(ctx context.Context) ([]*domain.Worktree, error)

	// ListActiveEnvironments returns every worktree whose environment is
	// in status running or starting. Used by the health monitor loop.
	ListActiveEnvironments(ctx context.Context) ([]*domain.Worktree, error)

	// UpdateScheduleMeta writes the schedule bookkeeping fields. Times are
	// epoch ms; zero leaves the field untouched.
	UpdateScheduleMeta(ctx context.Context, id string, lastTriggeredAt, nextRunAt int64) error

	// UpdateEnvironment replaces the persisted environment instance.
	UpdateEnvironment(ctx context.Context, id string, env *domain.EnvironmentInstance) error
}

// SessionStore creates, queries and deletes session records.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	ListByWorktree(ctx context.Context, worktreeID string) ([]*domain.Session, error)

	// FindByScheduledRunAt matches by exact scheduled_run_at equality (the
	// dedup key). Returns ErrNotFound when no session matches.
	FindByScheduledRunAt(ctx context.Context, worktreeID string, runAt int64) (*domain.Session, error)

	// CountScheduled counts sessions spawned from the worktree's schedule.
	CountScheduled(ctx context.Context, worktreeID string) (int, error)

	Delete(ctx context.Context, id string) error
}

// RepoStore resolves a worktree's owning repository.
type RepoStore interface {
	Put(ctx context.Context, r *domain.Repo) error
	Get(ctx context.Context, id string) (*domain.Repo, error)
}

// Store bundles the per-entity interfaces plus maintenance hooks.
type Store interface {
	Worktrees() WorktreeStore
	Sessions() SessionStore
	Repos() RepoStore
	Close() error
}
