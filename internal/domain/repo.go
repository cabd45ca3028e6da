package domain

// Repo is the owning repository of one or more worktrees.
type Repo struct {
	ID                string             `json:"id"`
	Slug              string             `json:"slug"`
	Path              string             `json:"path,omitempty"`
	EnvironmentConfig *EnvironmentConfig `json:"environment_config,omitempty"`
}

// EnvironmentConfig describes how a worktree's environment stack is
// started, stopped and observed. All string fields are templates rendered
// against the worktree/repo context before use.
type EnvironmentConfig struct {
	UpCommand      string             `json:"up_command,omitempty"`
	DownCommand    string             `json:"down_command,omitempty"`
	AppURLTemplate string             `json:"app_url_template,omitempty"`
	HealthCheck    *HealthCheckConfig `json:"health_check,omitempty"`
}

// HealthCheckConfig configures HTTP health probing for an environment.
// When absent, the starting->running promotion never happens automatically.
type HealthCheckConfig struct {
	URLTemplate string `json:"url_template"`
}
