package scheduler

import (
	"context"
	"time"

	"github.com/preset-io/agor-sub001/internal/eventbus"
	"github.com/preset-io/agor-sub001/internal/store"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

func New(cfg Config, worktrees store.WorktreeStore, sessions store.SessionStore, trigger ExecutionTrigger, bus eventbus.Bus, log logx.Logger) *Service {
	return &Service{
		cfg:       cfg.withDefaults(),
		log:       log,
		worktrees: worktrees,
		sessions:  sessions,
		trigger:   trigger,
		bus:       bus,
		now:       time.Now,
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run
// concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the engine configuration. Interval changes take effect on
// the next loop iteration; an in-flight tick keeps the grace period it
// started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Start runs one tick immediately, then ticks every TickInterval. No-op
// with a warning if already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		s.log.Warn("scheduler already running, start ignored")
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	// The loop runs on the caller's context, not one canceled by Stop:
	// stopping prevents new ticks but lets the in-flight one finish.
	interval := s.cfg.TickInterval
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTick(ctx)

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-t.C:
				s.runTick(ctx)
				// Pick up interval changes from Apply().
				s.mu.Lock()
				cur := s.cfg.TickInterval
				s.mu.Unlock()
				if cur != interval {
					interval = cur
					t.Reset(interval)
				}
			}
		}
	}()
	s.log.Info("scheduler started", logx.Duration("tick_interval", interval), logx.Duration("grace_period", s.gracePeriod()))
}

// Stop prevents any further ticks from starting and waits (bounded by ctx)
// for an in-flight tick to finish. No-op with a warning if not running.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh == nil {
		s.log.Warn("scheduler not running, stop ignored")
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for in-flight tick")
	}
}

// runTick executes one evaluation pass unless the previous one is still in
// flight, in which case the tick is skipped (never queued).
func (s *Service) runTick(ctx context.Context) {
	if !s.tickInFlight.CompareAndSwap(false, true) {
		s.ticksSkipped.Add(1)
		s.log.Warn("previous tick still running, skipping")
		return
	}
	defer s.tickInFlight.Store(false)

	now := s.now()
	start := time.Now()
	res := s.tick(ctx, now)
	res.At = now
	res.Took = time.Since(start)

	s.ticksRun.Add(1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedulerTick, Data: res})
	}

	s.hmu.Lock()
	s.lastTickAt = now
	s.history = append(s.history, res)
	if limit := s.historySize(); len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) gracePeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.GracePeriod
}

func (s *Service) historySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.HistorySize
}

// Snapshot returns a point-in-time view for observability.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	running := s.stopCh != nil
	s.mu.Unlock()

	s.hmu.Lock()
	hist := append([]TickResult(nil), s.history...)
	last := s.lastTickAt
	s.hmu.Unlock()

	return Snapshot{
		Enabled:      cfg.Enabled,
		Running:      running,
		TickInterval: cfg.TickInterval,
		GracePeriod:  cfg.GracePeriod,
		TicksRun:     s.ticksRun.Load(),
		TicksSkipped: s.ticksSkipped.Load(),
		Spawned:      s.spawned.Load(),
		LastTickAt:   last,
		History:      hist,
	}
}
