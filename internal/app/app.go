// Package app wires configuration, logging, storage and the services into
// one process. Construction is side-effect free beyond opening the store;
// Start brings the services up under a supervisor and Stop unwinds them
// with per-step deadlines.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/preset-io/agor-sub001/internal/config"
	"github.com/preset-io/agor-sub001/internal/eventbus"
	"github.com/preset-io/agor-sub001/internal/runtime/supervisor"
	"github.com/preset-io/agor-sub001/internal/services/environment"
	"github.com/preset-io/agor-sub001/internal/services/scheduler"
	"github.com/preset-io/agor-sub001/internal/store"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	st   store.Store

	sched *scheduler.Service
	envc  *environment.Controller
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(stCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	envCfg, err := mapEnvironmentConfig(cfg)
	if err != nil {
		return nil, err
	}
	envc := environment.New(envCfg, st.Worktrees(), st.Repos(), nil, nil, bus,
		log.With(logx.String("comp", "environment")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedLog := log.With(logx.String("comp", "scheduler"))
	sched := scheduler.New(schedCfg, st.Worktrees(), st.Sessions(),
		logTrigger(schedLog), bus, schedLog)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
		sched:   sched,
		envc:    envc,
	}, nil
}

// logTrigger is the default execution hand-off: it records the dispatch
// and leaves the session idle for an external executor to pick up.
func logTrigger(log logx.Logger) scheduler.TriggerFunc {
	return func(_ context.Context, sessionID, prompt string) error {
		log.Info("session first prompt dispatched",
			logx.String("session", sessionID),
			logx.Int("prompt_len", len(prompt)))
		return nil
	}
}

// Environments exposes the lifecycle controller for embedding callers.
func (a *App) Environments() *environment.Controller { return a.envc }

// Scheduler exposes the scheduled-session engine for embedding callers.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapEnvironmentConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.sup.GoRestart("environment.monitor", func(c context.Context) error {
		return a.envc.Monitor(c)
	})

	// Debug-level event trace; components also subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload fanout
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies a validated hot-reloaded config to the live
// services. The storage section is immutable at runtime.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if envCfg, err := mapEnvironmentConfig(cfg); err != nil {
		a.log.Warn("invalid environment config; keeping previous", logx.Err(err))
	} else {
		a.envc.Apply(envCfg)
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(schedCfg)
		switch {
		case prevEnabled && !schedCfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prevEnabled && schedCfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store", 1*time.Second, func(context.Context) error { return a.st.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
