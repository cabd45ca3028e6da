package domain

// EnvStatus is the lifecycle state of a worktree's environment stack.
type EnvStatus string

const (
	EnvStopped  EnvStatus = "stopped"
	EnvStarting EnvStatus = "starting"
	EnvRunning  EnvStatus = "running"
	EnvStopping EnvStatus = "stopping"
	EnvError    EnvStatus = "error"
)

// HealthStatus is the orthogonal health classification attached to the
// last health check.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck records the outcome of the most recent health probe.
type HealthCheck struct {
	Timestamp int64        `json:"timestamp"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
}

// AccessURL is a named URL exposed by a running environment.
type AccessURL struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ProcessInfo is the persisted remnant of a spawned environment process.
// It survives controller restarts; the live handle does not.
type ProcessInfo struct {
	PID int `json:"pid"`
}

// EnvironmentInstance is the durable record of a worktree's environment.
// Only the environment controller writes it.
type EnvironmentInstance struct {
	Status          EnvStatus    `json:"status"`
	LastHealthCheck *HealthCheck `json:"last_health_check,omitempty"`
	AccessURLs      []AccessURL  `json:"access_urls,omitempty"`
	Process         *ProcessInfo `json:"process,omitempty"`
}

// Clone returns a deep copy safe to mutate independently.
func (e *EnvironmentInstance) Clone() *EnvironmentInstance {
	if e == nil {
		return nil
	}
	cp := &EnvironmentInstance{Status: e.Status}
	if e.LastHealthCheck != nil {
		hc := *e.LastHealthCheck
		cp.LastHealthCheck = &hc
	}
	if len(e.AccessURLs) > 0 {
		cp.AccessURLs = append([]AccessURL(nil), e.AccessURLs...)
	}
	if e.Process != nil {
		p := *e.Process
		cp.Process = &p
	}
	return cp
}

// MeaningfulEquals compares two instances ignoring the health-check
// timestamp. It decides whether an update is worth persisting and
// broadcasting; timestamp-only churn must not emit no-op updates.
func (e *EnvironmentInstance) MeaningfulEquals(o *EnvironmentInstance) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Status != o.Status {
		return false
	}
	eh, oh := e.LastHealthCheck, o.LastHealthCheck
	if (eh == nil) != (oh == nil) {
		return false
	}
	if eh != nil && (eh.Status != oh.Status || eh.Message != oh.Message) {
		return false
	}
	if len(e.AccessURLs) != len(o.AccessURLs) {
		return false
	}
	for i := range e.AccessURLs {
		if e.AccessURLs[i] != o.AccessURLs[i] {
			return false
		}
	}
	ep, op := e.Process, o.Process
	if (ep == nil) != (op == nil) {
		return false
	}
	if ep != nil && ep.PID != op.PID {
		return false
	}
	return true
}
