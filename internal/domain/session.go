package domain

// SessionStatus is the lifecycle state of a session run.
type SessionStatus string

const (
	SessionIdle    SessionStatus = "idle"
	SessionRunning SessionStatus = "running"
	SessionDone    SessionStatus = "done"
	SessionFailed  SessionStatus = "failed"
)

// Session is one execution run of an agent against a worktree.
type Session struct {
	ID         string        `json:"id"`
	WorktreeID string        `json:"worktree_id"`
	Status     SessionStatus `json:"status"`

	// ScheduledRunAt is the logical firing time (epoch ms) for sessions
	// spawned by the scheduler; zero for manually created sessions. For a
	// given worktree at most one session exists per exact value; this is
	// the deduplication key.
	ScheduledRunAt        int64 `json:"scheduled_run_at,omitempty"`
	ScheduledFromWorktree bool  `json:"scheduled_from_worktree,omitempty"`

	CustomContext SessionContext `json:"custom_context,omitempty"`
	CreatedAt     int64          `json:"created_at,omitempty"`
}

// SessionContext carries per-session metadata snapshots.
type SessionContext struct {
	ScheduledRun *ScheduledRunSnapshot `json:"scheduled_run,omitempty"`
}

// ScheduledRunSnapshot freezes the schedule configuration and rendered
// prompt at the moment a scheduled session was spawned.
type ScheduledRunSnapshot struct {
	Prompt   string         `json:"prompt"`
	RunIndex int            `json:"run_index"`
	Schedule ScheduleConfig `json:"schedule"`
}
