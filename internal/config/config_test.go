package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "agord.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./agord.db
scheduler:
  enabled: true
  tick_interval: 15s
environment:
  probes_per_sec: 10
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("storage driver = %q", cfg.Storage.Driver)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.TickInterval != "15s" {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Environment.ProbesPerSec != 10 {
		t.Errorf("environment = %+v", cfg.Environment)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "agord.json",
		`{"logging":{"level":"info","console":false,"file":{"enabled":false,"path":""}},
		  "storage":{"driver":"memory","path":""},
		  "scheduler":{"enabled":false},
		  "environment":{}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "agord.json", `{"schedulre":{"enabled":true}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "agord.json", `{"scheduler":{"enabled":true}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{" 2m ", 2 * time.Minute, false},
		{"-5s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("scheduler.tick_interval", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("environment.settle_delay", "", 2*time.Second)
	if err != nil || got != 2*time.Second {
		t.Errorf("got %v, %v; want 2s, nil", got, err)
	}
	got, err = ParseDurationOrDefault("environment.settle_delay", "250ms", 2*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Errorf("got %v, %v; want 250ms, nil", got, err)
	}
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Error("received wrong config pointer")
		}
	default:
		t.Fatal("no config delivered")
	}

	// A full buffer drops the oldest and keeps the newest.
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Error("expected the newest config after overflow")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}
