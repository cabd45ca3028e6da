package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/preset-io/agor-sub001/internal/domain"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "agor.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestWorktreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			wt := &domain.Worktree{
				ID:              "wt-1",
				RepoID:          "repo-1",
				Name:            "feature-x",
				Path:            "/srv/wt/feature-x",
				Ref:             "feature/x",
				Notes:           "nightly",
				CustomContext:   map[string]any{"port": "4001"},
				ScheduleEnabled: true,
				ScheduleCron:    "*/5 * * * *",
				Schedule:        &domain.ScheduleConfig{Prompt: "run {{worktree.name}}", Retention: 2},
			}
			if err := st.Worktrees().Put(ctx, wt); err != nil {
				t.Fatalf("put: %v", err)
			}

			got, err := st.Worktrees().Get(ctx, "wt-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.ScheduleCron != wt.ScheduleCron || !got.ScheduleEnabled {
				t.Fatalf("schedule fields lost: %+v", got)
			}
			if got.Schedule == nil || got.Schedule.Retention != 2 {
				t.Fatalf("schedule config lost: %+v", got.Schedule)
			}

			enabled, err := st.Worktrees().ListScheduleEnabled(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(enabled) != 1 || enabled[0].ID != "wt-1" {
				t.Fatalf("ListScheduleEnabled = %+v", enabled)
			}

			if err := st.Worktrees().UpdateScheduleMeta(ctx, "wt-1", 1000, 2000); err != nil {
				t.Fatalf("update meta: %v", err)
			}
			got, _ = st.Worktrees().Get(ctx, "wt-1")
			if got.ScheduleLastTriggeredAt != 1000 || got.ScheduleNextRunAt != 2000 {
				t.Fatalf("meta not updated: %+v", got)
			}

			// Zero means "leave untouched".
			if err := st.Worktrees().UpdateScheduleMeta(ctx, "wt-1", 0, 3000); err != nil {
				t.Fatalf("update meta: %v", err)
			}
			got, _ = st.Worktrees().Get(ctx, "wt-1")
			if got.ScheduleLastTriggeredAt != 1000 || got.ScheduleNextRunAt != 3000 {
				t.Fatalf("partial meta update wrong: %+v", got)
			}
		})
	}
}

func TestEnvironmentPersistence(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			wt := &domain.Worktree{ID: "wt-env", RepoID: "r", Name: "n", Path: "/p", Ref: "main"}
			if err := st.Worktrees().Put(ctx, wt); err != nil {
				t.Fatalf("put: %v", err)
			}
			env := &domain.EnvironmentInstance{
				Status:          domain.EnvRunning,
				LastHealthCheck: &domain.HealthCheck{Timestamp: 42, Status: domain.HealthHealthy},
				AccessURLs:      []domain.AccessURL{{Name: "app", URL: "http://localhost:4001"}},
				Process:         &domain.ProcessInfo{PID: 1234},
			}
			if err := st.Worktrees().UpdateEnvironment(ctx, "wt-env", env); err != nil {
				t.Fatalf("update env: %v", err)
			}
			got, err := st.Worktrees().Get(ctx, "wt-env")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Environment == nil || got.Environment.Status != domain.EnvRunning {
				t.Fatalf("environment lost: %+v", got.Environment)
			}
			if got.Environment.Process == nil || got.Environment.Process.PID != 1234 {
				t.Fatalf("pid not persisted: %+v", got.Environment.Process)
			}
		})
	}
}

func TestListActiveEnvironments(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			put := func(id string, env *domain.EnvironmentInstance) {
				t.Helper()
				wt := &domain.Worktree{ID: id, RepoID: "r", Name: id, Path: "/p/" + id, Ref: "main", Environment: env}
				if err := st.Worktrees().Put(ctx, wt); err != nil {
					t.Fatalf("put %s: %v", id, err)
				}
			}
			put("wt-running", &domain.EnvironmentInstance{Status: domain.EnvRunning})
			put("wt-starting", &domain.EnvironmentInstance{Status: domain.EnvStarting})
			put("wt-stopped", &domain.EnvironmentInstance{Status: domain.EnvStopped})
			put("wt-none", nil)

			active, err := st.Worktrees().ListActiveEnvironments(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			got := map[string]bool{}
			for _, wt := range active {
				got[wt.ID] = true
			}
			if len(got) != 2 || !got["wt-running"] || !got["wt-starting"] {
				t.Fatalf("active = %v, want wt-running and wt-starting", got)
			}
		})
	}
}

func TestSessionDedupLookup(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			sess := &domain.Session{
				ID:                    "s-1",
				WorktreeID:            "wt-1",
				Status:                domain.SessionIdle,
				ScheduledRunAt:        111000,
				ScheduledFromWorktree: true,
				CustomContext: domain.SessionContext{
					ScheduledRun: &domain.ScheduledRunSnapshot{Prompt: "go", RunIndex: 1},
				},
			}
			if err := st.Sessions().Create(ctx, sess); err != nil {
				t.Fatalf("create: %v", err)
			}

			got, err := st.Sessions().FindByScheduledRunAt(ctx, "wt-1", 111000)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got.ID != "s-1" || got.CustomContext.ScheduledRun == nil || got.CustomContext.ScheduledRun.RunIndex != 1 {
				t.Fatalf("snapshot lost: %+v", got)
			}

			// Exact equality, no re-rounding.
			if _, err := st.Sessions().FindByScheduledRunAt(ctx, "wt-1", 111001); !errors.Is(err, ErrNotFound) {
				t.Fatalf("near-miss lookup err = %v, want ErrNotFound", err)
			}

			n, err := st.Sessions().CountScheduled(ctx, "wt-1")
			if err != nil || n != 1 {
				t.Fatalf("CountScheduled = %d, %v", n, err)
			}

			if err := st.Sessions().Delete(ctx, "s-1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.Sessions().Delete(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("double delete err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			r := &domain.Repo{
				ID:   "repo-1",
				Slug: "agor",
				EnvironmentConfig: &domain.EnvironmentConfig{
					UpCommand:      "docker compose up -d",
					AppURLTemplate: "http://{{worktree.name}}.localhost",
					HealthCheck:    &domain.HealthCheckConfig{URLTemplate: "http://{{worktree.name}}.localhost/health"},
				},
			}
			if err := st.Repos().Put(ctx, r); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := st.Repos().Get(ctx, "repo-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.EnvironmentConfig == nil || got.EnvironmentConfig.HealthCheck == nil {
				t.Fatalf("environment config lost: %+v", got.EnvironmentConfig)
			}
			if _, err := st.Repos().Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing repo err = %v, want ErrNotFound", err)
			}
		})
	}
}
