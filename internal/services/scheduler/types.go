package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/preset-io/agor-sub001/internal/eventbus"
	"github.com/preset-io/agor-sub001/internal/store"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

// Config controls the scheduler engine.
type Config struct {
	Enabled bool

	// TickInterval is the evaluation period. Default 30s.
	TickInterval time.Duration

	// GracePeriod is the window after a firing during which it still
	// counts as "on time". Firings older than this are skipped forever.
	// Default 2m.
	GracePeriod time.Duration

	// HistorySize bounds the tick history ring. Default 50.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

// ExecutionTrigger starts execution of a freshly created session's first
// prompt. Fire-and-forget beyond the initial acknowledgment; the scheduler
// never waits for the run to complete.
type ExecutionTrigger interface {
	TriggerFirstPrompt(ctx context.Context, sessionID, prompt string) error
}

// TriggerFunc adapts a function to ExecutionTrigger.
type TriggerFunc func(ctx context.Context, sessionID, prompt string) error

func (f TriggerFunc) TriggerFirstPrompt(ctx context.Context, sessionID, prompt string) error {
	return f(ctx, sessionID, prompt)
}

// TickResult summarizes one evaluation pass.
type TickResult struct {
	At        time.Time
	Took      time.Duration
	Evaluated int
	Spawned   int
	Errors    int
}

// Snapshot is a point-in-time view of the engine for observability.
type Snapshot struct {
	Enabled      bool
	Running      bool
	TickInterval time.Duration
	GracePeriod  time.Duration
	TicksRun     uint64
	TicksSkipped uint64
	Spawned      uint64
	LastTickAt   time.Time
	History      []TickResult
}

// Service is the scheduled-session execution engine. One instance per
// process; there is no cross-instance coordination.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	worktrees store.WorktreeStore
	sessions  store.SessionStore
	trigger   ExecutionTrigger
	bus       eventbus.Bus

	// now is the clock; tests replace it.
	now func() time.Time

	// loop state, guarded by mu
	stopCh chan struct{}
	wg     sync.WaitGroup

	// tickInFlight serializes ticks: a tick that fires while the previous
	// one is still running is skipped, not queued.
	tickInFlight atomic.Bool

	ticksRun     atomic.Uint64
	ticksSkipped atomic.Uint64
	spawned      atomic.Uint64

	hmu        sync.Mutex
	lastTickAt time.Time
	history    []TickResult
}
