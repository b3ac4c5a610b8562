package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/cadence"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cadenced.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Sink.Driver != "log" || cfg.Leadership.Driver != "store" {
		t.Fatalf("unexpected drivers: %+v %+v %+v", cfg.Store, cfg.Sink, cfg.Leadership)
	}
	if got := cfg.SchedulerConfig(); got != cadence.DefaultConfig() {
		t.Fatalf("expected default scheduler config, got %+v", got)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
store:
  driver: sqlite
  dsn: "file:cadence.db"
sink:
  driver: redis
  redis_addr: "localhost:6379"
  codec: msgpack
  max_len: 10000
scheduler:
  heartbeat_interval: 5s
  liveness_multiple: 4
  dedupe_policy: reject
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Store.Driver != "sqlite" || cfg.Sink.MaxLen != 10000 {
		t.Fatalf("file values not applied: %+v", cfg)
	}

	sc := cfg.SchedulerConfig()
	if sc.HeartbeatInterval != 5*time.Second || sc.LivenessMultiple != 4 {
		t.Fatalf("heartbeat not applied: %+v", sc)
	}
	if sc.LivenessWindow() != 20*time.Second {
		t.Fatalf("expected a 20s liveness window, got %v", sc.LivenessWindow())
	}
	if sc.DedupePolicy != cadence.DedupeReject {
		t.Fatalf("expected reject policy, got %q", sc.DedupePolicy)
	}
	if sc.TickInterval != cadence.DefaultConfig().TickInterval {
		t.Fatal("unset fields should keep their defaults")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CADENCE_STORE", "postgres")
	t.Setenv("CADENCE_STORE_DSN", "postgres://localhost/cadence")
	t.Setenv("CADENCE_LEADER_TTL", "20s")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/cadence" {
		t.Fatalf("store env not applied: %+v", cfg.Store)
	}
	if cfg.SchedulerConfig().LeaderTTL != 20*time.Second {
		t.Fatalf("leader ttl env not applied: %v", cfg.Scheduler.LeaderTTL)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "sqlite without dsn", body: "store:\n  driver: sqlite\n"},
		{name: "unknown store", body: "store:\n  driver: cassandra\n"},
		{name: "redis without addr", body: "sink:\n  driver: redis\n"},
		{name: "k8s without namespace", body: "leadership:\n  driver: k8s\n"},
		{name: "bad policy", body: "scheduler:\n  dedupe_policy: maybe\n"},
		{name: "bad duration env", env: map[string]string{"CADENCE_HEARTBEAT_INTERVAL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	logger := LogConfig{Format: "text", Level: "debug"}.NewLogger()
	if logger == nil {
		t.Fatal("expected a logger")
	}
	if !logger.Enabled(t.Context(), -4) {
		t.Fatal("expected debug level to be enabled")
	}
}
