package domain

// Worktree is an isolated checkout that can host a sandboxed environment
// and be the target of scheduled sessions.
type Worktree struct {
	ID             string         `json:"id"`
	RepoID         string         `json:"repo_id"`
	Name           string         `json:"name"`
	Path           string         `json:"path"`
	Ref            string         `json:"ref"`
	IssueURL       string         `json:"issue_url,omitempty"`
	PullRequestURL string         `json:"pull_request_url,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	CustomContext  map[string]any `json:"custom_context,omitempty"`

	ScheduleEnabled bool            `json:"schedule_enabled"`
	ScheduleCron    string          `json:"schedule_cron,omitempty"`
	Schedule        *ScheduleConfig `json:"schedule,omitempty"`

	// ScheduleLastTriggeredAt holds the logical firing time of the last
	// spawned run (epoch ms), not the wall-clock time the tick executed.
	ScheduleLastTriggeredAt int64 `json:"schedule_last_triggered_at,omitempty"`
	ScheduleNextRunAt       int64 `json:"schedule_next_run_at,omitempty"`

	Environment *EnvironmentInstance `json:"environment_instance,omitempty"`
}

// ScheduleConfig describes how scheduled sessions are spawned for a worktree.
type ScheduleConfig struct {
	Prompt         string   `json:"prompt"`
	Agent          string   `json:"agent,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	Model          string   `json:"model,omitempty"`
	ContextFiles   []string `json:"context_files,omitempty"`
	MCPServerIDs   []string `json:"mcp_server_ids,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`

	// Retention is the number of most-recent scheduled sessions to keep.
	// Zero keeps everything.
	Retention int `json:"retention,omitempty"`
}
