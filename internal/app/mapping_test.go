package app

import (
	"testing"
	"time"

	"github.com/preset-io/agor-sub001/internal/config"
)

func TestMapSchedulerConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapSchedulerConfig(&config.Config{
		Scheduler: config.SchedulerConfig{Enabled: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled {
		t.Error("enabled not carried over")
	}
	if got.TickInterval != 30*time.Second {
		t.Errorf("tick interval = %v, want 30s default", got.TickInterval)
	}
	if got.GracePeriod != 2*time.Minute {
		t.Errorf("grace period = %v, want 2m default", got.GracePeriod)
	}
}

func TestMapSchedulerConfigRejectsBadDuration(t *testing.T) {
	t.Parallel()
	_, err := mapSchedulerConfig(&config.Config{
		Scheduler: config.SchedulerConfig{TickInterval: "every minute"},
	})
	if err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	if _, err := mapStorageConfig(&config.Config{
		Storage: config.StorageConfig{Driver: "postgres"},
	}); err == nil {
		t.Error("unknown driver accepted")
	}
	if _, err := mapStorageConfig(&config.Config{
		Storage: config.StorageConfig{Driver: "sqlite"},
	}); err == nil {
		t.Error("sqlite without path accepted")
	}
	got, err := mapStorageConfig(&config.Config{
		Storage: config.StorageConfig{Driver: "sqlite", Path: "./x.db", BusyTimeout: "5s"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.BusyTimeout != 5*time.Second {
		t.Errorf("busy timeout = %v", got.BusyTimeout)
	}
}

func TestMapEnvironmentConfig(t *testing.T) {
	t.Parallel()
	got, err := mapEnvironmentConfig(&config.Config{
		Environment: config.EnvironmentConfig{HealthInterval: "10s", ProbesPerSec: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.HealthInterval != 10*time.Second || got.ProbesPerSec != 2 {
		t.Errorf("mapped = %+v", got)
	}
	if _, err := mapEnvironmentConfig(&config.Config{
		Environment: config.EnvironmentConfig{SettleDelay: "-1s"},
	}); err == nil {
		t.Error("negative settle delay accepted")
	}
}
