package app

import (
	"fmt"
	"time"

	"github.com/preset-io/agor-sub001/internal/config"
	"github.com/preset-io/agor-sub001/internal/services/environment"
	"github.com/preset-io/agor-sub001/internal/services/scheduler"
	"github.com/preset-io/agor-sub001/internal/store"
)

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	if cfg == nil {
		return store.Config{}, nil
	}
	switch cfg.Storage.Driver {
	case "", "memory", "sqlite":
	default:
		return store.Config{}, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.Path == "" {
		return store.Config{}, fmt.Errorf("storage.path: required for sqlite")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if cfg == nil {
		return scheduler.Config{}, nil
	}
	if cfg.Scheduler.HistorySize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("scheduler.grace_period", cfg.Scheduler.GracePeriod, 2*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		TickInterval: tick,
		GracePeriod:  grace,
		HistorySize:  cfg.Scheduler.HistorySize,
	}, nil
}

func mapEnvironmentConfig(cfg *config.Config) (environment.Config, error) {
	if cfg == nil {
		return environment.Config{}, nil
	}
	if cfg.Environment.ProbesPerSec < 0 {
		return environment.Config{}, fmt.Errorf("environment.probes_per_sec must be >= 0")
	}
	settle, err := config.ParseDurationField("environment.settle_delay", cfg.Environment.SettleDelay)
	if err != nil {
		return environment.Config{}, err
	}
	timeout, err := config.ParseDurationField("environment.health_timeout", cfg.Environment.HealthTimeout)
	if err != nil {
		return environment.Config{}, err
	}
	interval, err := config.ParseDurationField("environment.health_interval", cfg.Environment.HealthInterval)
	if err != nil {
		return environment.Config{}, err
	}
	return environment.Config{
		SettleDelay:    settle,
		HealthTimeout:  timeout,
		HealthInterval: interval,
		ProbesPerSec:   cfg.Environment.ProbesPerSec,
	}, nil
}
