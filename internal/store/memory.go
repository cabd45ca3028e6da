package store

import (
	"context"
	"sync"

	"github.com/preset-io/agor-sub001/internal/domain"
)

// NewMemory returns an in-process Store. Used by tests and ephemeral runs;
// nothing survives a restart.
func NewMemory() Store {
	m := &memoryStore{
		worktrees: map[string]*domain.Worktree{},
		repos:     map[string]*domain.Repo{},
		sessions:  map[string]*domain.Session{},
	}
	return m
}

type memoryStore struct {
	mu        sync.RWMutex
	worktrees map[string]*domain.Worktree
	repos     map[string]*domain.Repo
	sessions  map[string]*domain.Session
}

func (m *memoryStore) Worktrees() WorktreeStore { return (*memWorktrees)(m) }
func (m *memoryStore) Sessions() SessionStore   { return (*memSessions)(m) }
func (m *memoryStore) Repos() RepoStore         { return (*memRepos)(m) }
func (m *memoryStore) Close() error             { return nil }

type memWorktrees memoryStore

func (m *memWorktrees) Put(_ context.Context, wt *domain.Worktree) error {
	cp := *wt
	m.mu.Lock()
	m.worktrees[wt.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memWorktrees) Get(_ context.Context, id string) (*domain.Worktree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wt, ok := m.worktrees[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wt
	return &cp, nil
}

func (m *memWorktrees) ListScheduleEnabled(_ context.Context) ([]*domain.Worktree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Worktree
	for _, wt := range m.worktrees {
		if wt.ScheduleEnabled {
			cp := *wt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memWorktrees) ListActiveEnvironments(_ context.Context) ([]*domain.Worktree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Worktree
	for _, wt := range m.worktrees {
		if wt.Environment == nil {
			continue
		}
		if wt.Environment.Status == domain.EnvRunning || wt.Environment.Status == domain.EnvStarting {
			cp := *wt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memWorktrees) UpdateScheduleMeta(_ context.Context, id string, lastTriggeredAt, nextRunAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.worktrees[id]
	if !ok {
		return ErrNotFound
	}
	if lastTriggeredAt != 0 {
		wt.ScheduleLastTriggeredAt = lastTriggeredAt
	}
	if nextRunAt != 0 {
		wt.ScheduleNextRunAt = nextRunAt
	}
	return nil
}

func (m *memWorktrees) UpdateEnvironment(_ context.Context, id string, env *domain.EnvironmentInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.worktrees[id]
	if !ok {
		return ErrNotFound
	}
	wt.Environment = env.Clone()
	return nil
}

type memSessions memoryStore

func (m *memSessions) Create(_ context.Context, s *domain.Session) error {
	cp := *s
	m.mu.Lock()
	m.sessions[s.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memSessions) ListByWorktree(_ context.Context, worktreeID string) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.WorktreeID == worktreeID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSessions) FindByScheduledRunAt(_ context.Context, worktreeID string, runAt int64) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.WorktreeID == worktreeID && s.ScheduledRunAt == runAt {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) CountScheduled(_ context.Context, worktreeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.WorktreeID == worktreeID && s.ScheduledFromWorktree {
			n++
		}
	}
	return n, nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

type memRepos memoryStore

func (m *memRepos) Put(_ context.Context, r *domain.Repo) error {
	cp := *r
	m.mu.Lock()
	m.repos[r.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memRepos) Get(_ context.Context, id string) (*domain.Repo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}
