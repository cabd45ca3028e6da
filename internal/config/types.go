package config

// Config is the daemon's on-disk configuration. It accepts YAML or JSON;
// all durations are Go duration strings (e.g. "500ms", "30s", "2m").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Environment EnvironmentConfig `json:"environment"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./agord.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the scheduled-session engine.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "30s"
//   - grace_period: "2m"
//   - history_size: 50
type SchedulerConfig struct {
	Enabled      bool   `json:"enabled"`
	TickInterval string `json:"tick_interval,omitempty"`
	GracePeriod  string `json:"grace_period,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// EnvironmentConfig controls the environment lifecycle controller.
//
// Defaults (when fields are omitted/zero):
//   - settle_delay: "2s"
//   - health_timeout: "5s"
//   - health_interval: "30s"
//   - probes_per_sec: 5
type EnvironmentConfig struct {
	SettleDelay    string `json:"settle_delay,omitempty"`
	HealthTimeout  string `json:"health_timeout,omitempty"`
	HealthInterval string `json:"health_interval,omitempty"`
	ProbesPerSec   int    `json:"probes_per_sec,omitempty"`
}
