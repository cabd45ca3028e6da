package environment

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/preset-io/agor-sub001/internal/eventbus"
	"github.com/preset-io/agor-sub001/internal/store"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

// Configuration errors: raised synchronously to the caller, never retried.
var (
	ErrNoUpCommand    = errors.New("environment: repo has no up_command configured")
	ErrAlreadyRunning = errors.New("environment: already running")
)

// Config controls the environment controller.
type Config struct {
	// SettleDelay is the pause between stop and start during a restart.
	// Default 2s.
	SettleDelay time.Duration

	// HealthTimeout bounds a single HTTP health probe. Default 5s.
	HealthTimeout time.Duration

	// HealthInterval is the monitor loop poll period. Default 30s.
	HealthInterval time.Duration

	// ProbesPerSec caps outbound health probes across all worktrees.
	// Default 5.
	ProbesPerSec int
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.ProbesPerSec <= 0 {
		c.ProbesPerSec = 5
	}
	return c
}

// trackedProc is the in-memory record of a spawned environment process.
//
// This cache is deliberately not durable: a controller restart loses the
// live handle and stop falls back to the PID persisted on the worktree.
// StartedAt and Command exist for diagnostics only.
type trackedProc struct {
	PID       int
	Command   string
	StartedAt time.Time
}

// Controller owns the lifecycle of worktree environment stacks.
//
// Per-worktree operations are independent: locks are striped by worktree
// id, and the only shared mutable resource per worktree is its own
// environment_instance record, which only this controller writes.
type Controller struct {
	cfg Config
	log logx.Logger

	worktrees store.WorktreeStore
	repos     store.RepoStore
	runner    Runner
	client    *http.Client
	bus       eventbus.Bus

	limiter *rate.Limiter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	procs map[string]trackedProc
}

func New(cfg Config, worktrees store.WorktreeStore, repos store.RepoStore, runner Runner, client *http.Client, bus eventbus.Bus, log logx.Logger) *Controller {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}
	if runner == nil {
		runner = NewShellRunner()
	}
	return &Controller{
		cfg:       cfg,
		log:       log,
		worktrees: worktrees,
		repos:     repos,
		runner:    runner,
		client:    client,
		bus:       bus,
		limiter:   rate.NewLimiter(rate.Limit(cfg.ProbesPerSec), cfg.ProbesPerSec),
		locks:     map[string]*sync.Mutex{},
		procs:     map[string]trackedProc{},
	}
}

// Apply swaps in new settings; the probe limiter is retuned live.
func (c *Controller) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.limiter.SetLimit(rate.Limit(cfg.ProbesPerSec))
	c.limiter.SetBurst(cfg.ProbesPerSec)
}

func (c *Controller) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// lockFor returns the mutex striped to one worktree.
func (c *Controller) lockFor(worktreeID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[worktreeID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[worktreeID] = l
	}
	return l
}

func (c *Controller) trackProc(worktreeID string, p trackedProc) {
	c.mu.Lock()
	c.procs[worktreeID] = p
	c.mu.Unlock()
}

func (c *Controller) trackedProcFor(worktreeID string) (trackedProc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.procs[worktreeID]
	return p, ok
}

func (c *Controller) untrackProc(worktreeID string) {
	c.mu.Lock()
	delete(c.procs, worktreeID)
	c.mu.Unlock()
}
