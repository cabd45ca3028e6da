package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/preset-io/agor-sub001/internal/domain"
	"github.com/preset-io/agor-sub001/internal/store"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

// failingDeleteSessions wraps a SessionStore and fails every Delete.
type failingDeleteSessions struct {
	store.SessionStore
}

func (f *failingDeleteSessions) Delete(context.Context, string) error {
	return errors.New("boom")
}

// recordingTrigger remembers triggered sessions; optionally fails.
type recordingTrigger struct {
	mu        sync.Mutex
	triggered []string
	prompts   []string
	fail      bool
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggered)
}

func (r *recordingTrigger) TriggerFirstPrompt(_ context.Context, sessionID, prompt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("trigger unavailable")
	}
	r.triggered = append(r.triggered, sessionID)
	r.prompts = append(r.prompts, prompt)
	return nil
}

func newEngine(t *testing.T, cfg Config) (*Service, store.Store, *recordingTrigger) {
	t.Helper()
	st := store.NewMemory()
	trig := &recordingTrigger{}
	svc := New(cfg, st.Worktrees(), st.Sessions(), trig, nil, logx.Nop())
	return svc, st, trig
}

func putWorktree(t *testing.T, st store.Store, wt *domain.Worktree) {
	t.Helper()
	if err := st.Worktrees().Put(context.Background(), wt); err != nil {
		t.Fatalf("put worktree: %v", err)
	}
}

func scheduledWorktree(id, cronExpr string, retention int) *domain.Worktree {
	return &domain.Worktree{
		ID:              id,
		RepoID:          "repo-1",
		Name:            id,
		Path:            "/srv/wt/" + id,
		Ref:             "main",
		ScheduleEnabled: true,
		ScheduleCron:    cronExpr,
		Schedule: &domain.ScheduleConfig{
			Prompt:    "daily review of {{worktree.name}} on {{worktree.ref}}",
			Retention: retention,
		},
	}
}

func TestGraceWindowDueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boundary := time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)

	cases := []struct {
		name    string
		now     time.Time
		wantDue bool
	}{
		{"one minute after boundary", boundary.Add(time.Minute), true},
		{"three minutes after boundary", boundary.Add(3 * time.Minute), false},
		{"exactly on boundary", boundary, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, st, trig := newEngine(t, Config{GracePeriod: 2 * time.Minute})
			putWorktree(t, st, scheduledWorktree("wt-1", "*/5 * * * *", 0))

			wt, _ := st.Worktrees().Get(ctx, "wt-1")
			spawned, err := svc.processSchedule(ctx, wt, tc.now)
			if err != nil {
				t.Fatalf("processSchedule: %v", err)
			}
			if spawned != tc.wantDue {
				t.Fatalf("spawned = %v, want %v", spawned, tc.wantDue)
			}
			if tc.wantDue && len(trig.triggered) != 1 {
				t.Fatalf("trigger count = %d, want 1", len(trig.triggered))
			}
		})
	}
}

func TestSpawnSetsLogicalFiringTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _ := newEngine(t, Config{})
	putWorktree(t, st, scheduledWorktree("wt-1", "*/5 * * * *", 0))

	boundary := time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)
	now := boundary.Add(90 * time.Second) // tick ran late
	wt, _ := st.Worktrees().Get(ctx, "wt-1")
	if _, err := svc.processSchedule(ctx, wt, now); err != nil {
		t.Fatalf("processSchedule: %v", err)
	}

	got, _ := st.Worktrees().Get(ctx, "wt-1")
	if got.ScheduleLastTriggeredAt != boundary.UnixMilli() {
		t.Fatalf("last_triggered_at = %d, want logical firing time %d",
			got.ScheduleLastTriggeredAt, boundary.UnixMilli())
	}
	wantNext := time.Date(2025, 3, 10, 14, 10, 0, 0, time.UTC)
	if got.ScheduleNextRunAt != wantNext.UnixMilli() {
		t.Fatalf("next_run_at = %d, want %d", got.ScheduleNextRunAt, wantNext.UnixMilli())
	}

	sesss, _ := st.Sessions().ListByWorktree(ctx, "wt-1")
	if len(sesss) != 1 {
		t.Fatalf("session count = %d", len(sesss))
	}
	snap := sesss[0].CustomContext.ScheduledRun
	if snap == nil || snap.RunIndex != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Prompt != "daily review of wt-1 on main" {
		t.Fatalf("rendered prompt = %q", snap.Prompt)
	}
	if sesss[0].Status != domain.SessionIdle || !sesss[0].ScheduledFromWorktree {
		t.Fatalf("session fields = %+v", sesss[0])
	}
}

func TestDeduplication(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, trig := newEngine(t, Config{})
	putWorktree(t, st, scheduledWorktree("wt-1", "*/5 * * * *", 0))

	boundary := time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)
	wt, _ := st.Worktrees().Get(ctx, "wt-1")

	for i := 0; i < 2; i++ {
		if _, err := svc.processSchedule(ctx, wt, boundary.Add(time.Minute)); err != nil {
			t.Fatalf("processSchedule #%d: %v", i+1, err)
		}
	}

	sesss, _ := st.Sessions().ListByWorktree(ctx, "wt-1")
	if len(sesss) != 1 {
		t.Fatalf("session count = %d, want 1 (dedup)", len(sesss))
	}
	if len(trig.triggered) != 1 {
		t.Fatalf("trigger count = %d, want 1", len(trig.triggered))
	}
	// The duplicate still advanced metadata.
	got, _ := st.Worktrees().Get(ctx, "wt-1")
	if got.ScheduleLastTriggeredAt != boundary.UnixMilli() {
		t.Fatalf("last_triggered_at = %d", got.ScheduleLastTriggeredAt)
	}
}

func TestMissedRunRecoverySpawnsOnlyNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _ := newEngine(t, Config{GracePeriod: 2 * time.Minute})
	// Fires every minute; pretend the engine slept for 10 minutes.
	putWorktree(t, st, scheduledWorktree("wt-1", "* * * * *", 0))

	now := time.Date(2025, 3, 10, 14, 10, 30, 0, time.UTC)
	wt, _ := st.Worktrees().Get(ctx, "wt-1")
	if _, err := svc.processSchedule(ctx, wt, now); err != nil {
		t.Fatalf("processSchedule: %v", err)
	}

	sesss, _ := st.Sessions().ListByWorktree(ctx, "wt-1")
	if len(sesss) != 1 {
		t.Fatalf("session count = %d, want exactly 1 (no backfill)", len(sesss))
	}
	want := time.Date(2025, 3, 10, 14, 10, 0, 0, time.UTC).UnixMilli()
	if sesss[0].ScheduledRunAt != want {
		t.Fatalf("scheduled_run_at = %d, want most recent firing %d", sesss[0].ScheduledRunAt, want)
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _ := newEngine(t, Config{})
	putWorktree(t, st, scheduledWorktree("wt-1", "*/5 * * * *", 2))

	// 5 pre-existing scheduled sessions with distinct firing times,
	// created out of order.
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for _, i := range []int{2, 0, 4, 1, 3} {
		sess := &domain.Session{
			ID:                    fmt.Sprintf("s-%d", i),
			WorktreeID:            "wt-1",
			Status:                domain.SessionDone,
			ScheduledRunAt:        base.Add(time.Duration(i) * 5 * time.Minute).UnixMilli(),
			ScheduledFromWorktree: true,
		}
		if err := st.Sessions().Create(ctx, sess); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}

	wt, _ := st.Worktrees().Get(ctx, "wt-1")
	svc.enforceRetention(ctx, wt, 2)

	remaining, _ := st.Sessions().ListByWorktree(ctx, "wt-1")
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
	for _, sess := range remaining {
		if sess.ID != "s-3" && sess.ID != "s-4" {
			t.Fatalf("unexpected survivor %s", sess.ID)
		}
	}
}

func TestRetentionZeroKeepsEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _ := newEngine(t, Config{})
	putWorktree(t, st, scheduledWorktree("wt-1", "*/5 * * * *", 0))
	for i := 0; i < 4; i++ {
		_ = st.Sessions().Create(ctx, &domain.Session{
			ID: fmt.Sprintf("s-%d", i), WorktreeID: "wt-1",
			ScheduledRunAt: int64(1000 + i), ScheduledFromWorktree: true,
		})
	}
	wt, _ := st.Worktrees().Get(ctx, "wt-1")
	svc.enforceRetention(ctx, wt, 0)
	remaining, _ := st.Sessions().ListByWorktree(ctx, "wt-1")
	if len(remaining) != 4 {
		t.Fatalf("remaining = %d, want 4", len(remaining))
	}
}

func TestRetentionDeleteFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	sessions := &failingDeleteSessions{SessionStore: st.Sessions()}
	svc := New(Config{}, st.Worktrees(), sessions, &recordingTrigger{}, nil, logx.Nop())

	putWorktree(t, st, scheduledWorktree("wt-1", "*/5 * * * *", 1))
	for i := 0; i < 3; i++ {
		_ = st.Sessions().Create(ctx, &domain.Session{
			ID: fmt.Sprintf("s-%d", i), WorktreeID: "wt-1",
			ScheduledRunAt: int64(1000 + i), ScheduledFromWorktree: true,
		})
	}
	wt, _ := st.Worktrees().Get(ctx, "wt-1")
	// Must not panic or propagate the delete error.
	svc.enforceRetention(ctx, wt, 1)
}

func TestTickIsolatesFailingWorktree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, trig := newEngine(t, Config{})

	// wt-bad has a cron expression that fails to parse; wt-good is due.
	bad := scheduledWorktree("wt-bad", "not a cron", 0)
	putWorktree(t, st, bad)
	putWorktree(t, st, scheduledWorktree("wt-good", "*/5 * * * *", 0))

	now := time.Date(2025, 3, 10, 14, 5, 30, 0, time.UTC)
	res := svc.tick(ctx, now)
	if res.Evaluated != 2 {
		t.Fatalf("evaluated = %d, want 2", res.Evaluated)
	}
	if res.Errors != 1 {
		t.Fatalf("errors = %d, want 1", res.Errors)
	}
	if res.Spawned != 1 || len(trig.triggered) != 1 {
		t.Fatalf("spawned = %d, triggered = %d; want 1 each", res.Spawned, len(trig.triggered))
	}
}

func TestMissingCronNotDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _ := newEngine(t, Config{})
	wt := scheduledWorktree("wt-1", "", 0)
	putWorktree(t, st, wt)

	spawned, err := svc.processSchedule(ctx, wt, time.Now())
	if err != nil {
		t.Fatalf("blank cron must not error: %v", err)
	}
	if spawned {
		t.Fatal("blank cron must not be due")
	}
}

func TestTriggerFailurePropagatesButSessionRemains(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	trig := &recordingTrigger{fail: true}
	svc := New(Config{}, st.Worktrees(), st.Sessions(), trig, nil, logx.Nop())
	putWorktree(t, st, scheduledWorktree("wt-1", "*/5 * * * *", 0))

	boundary := time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)
	wt, _ := st.Worktrees().Get(ctx, "wt-1")
	if _, err := svc.processSchedule(ctx, wt, boundary.Add(time.Minute)); err == nil {
		t.Fatal("expected trigger failure to propagate")
	}
	// The session exists but was never triggered: acknowledged gap.
	sesss, _ := st.Sessions().ListByWorktree(ctx, "wt-1")
	if len(sesss) != 1 {
		t.Fatalf("session count = %d, want 1", len(sesss))
	}
	got, _ := st.Worktrees().Get(ctx, "wt-1")
	if got.ScheduleLastTriggeredAt != 0 {
		t.Fatalf("metadata advanced despite trigger failure: %d", got.ScheduleLastTriggeredAt)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	svc, st, trig := newEngine(t, Config{TickInterval: time.Hour})
	putWorktree(t, st, scheduledWorktree("wt-1", "* * * * *", 0))

	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx) // double start is a warned no-op

	// The immediate tick runs asynchronously; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Snapshot().TicksRun >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if svc.Snapshot().TicksRun < 1 {
		t.Fatal("immediate tick never ran")
	}
	if trig.count() != 1 {
		t.Fatalf("trigger count = %d, want 1 (current minute firing due)", trig.count())
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	svc.Stop(stopCtx) // double stop is a warned no-op
	if svc.Snapshot().Running {
		t.Fatal("still marked running after stop")
	}
}
