package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/cadence"
)

// Config is the scheduler daemon's configuration. It is read from a YAML
// file and then overridden from the environment.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Sink       SinkConfig       `yaml:"sink"`
	Leadership LeadershipConfig `yaml:"leadership"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type LogConfig struct {
	Format string `yaml:"format"` // json or text
	Level  string `yaml:"level"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, postgres or sqlite
	DSN    string `yaml:"dsn"`
}

type SinkConfig struct {
	Driver        string `yaml:"driver"` // log or redis
	RedisAddr     string `yaml:"redis_addr"`
	Stream        string `yaml:"stream"`
	StreamPerType bool   `yaml:"stream_per_type"`
	Codec         string `yaml:"codec"`
	MaxLen        int64  `yaml:"max_len"`
}

type LeadershipConfig struct {
	Driver    string `yaml:"driver"` // store or k8s
	Namespace string `yaml:"namespace"`
	LeaseName string `yaml:"lease_name"`
	NodeID    string `yaml:"node_id"`
}

type SchedulerConfig struct {
	HeartbeatInterval time.Duration        `yaml:"heartbeat_interval"`
	LivenessMultiple  int                  `yaml:"liveness_multiple"`
	SweepInterval     time.Duration        `yaml:"sweep_interval"`
	TickInterval      time.Duration        `yaml:"tick_interval"`
	LeaderTTL         time.Duration        `yaml:"leader_ttl"`
	DedupePolicy      cadence.DedupePolicy `yaml:"dedupe_policy"`
	EventBatch        int                  `yaml:"event_batch"`
	EventMaxAttempts  int                  `yaml:"event_max_attempts"`
	ShutdownTimeout   time.Duration        `yaml:"shutdown_timeout"`
}

func defaultConfig() *Config {
	d := cadence.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log:        LogConfig{Format: "json", Level: "info"},
		Store:      StoreConfig{Driver: "memory"},
		Sink:       SinkConfig{Driver: "log", Codec: "json"},
		Leadership: LeadershipConfig{Driver: "store"},
		Scheduler: SchedulerConfig{
			HeartbeatInterval: d.HeartbeatInterval,
			LivenessMultiple:  d.LivenessMultiple,
			SweepInterval:     d.SweepInterval,
			TickInterval:      d.TickInterval,
			LeaderTTL:         d.LeaderTTL,
			DedupePolicy:      d.DedupePolicy,
			EventBatch:        d.EventBatch,
			EventMaxAttempts:  d.EventMaxAttempts,
			ShutdownTimeout:   d.ShutdownTimeout,
		},
	}
}

// LoadConfig reads path, if set, over the defaults and applies the
// CADENCE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Server.Addr = getEnv("CADENCE_ADDR", cfg.Server.Addr)
	cfg.Log.Format = getEnv("CADENCE_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Level = getEnv("CADENCE_LOG_LEVEL", cfg.Log.Level)
	cfg.Store.Driver = getEnv("CADENCE_STORE", cfg.Store.Driver)
	cfg.Store.DSN = getEnv("CADENCE_STORE_DSN", cfg.Store.DSN)
	cfg.Sink.Driver = getEnv("CADENCE_SINK", cfg.Sink.Driver)
	cfg.Sink.RedisAddr = getEnv("CADENCE_REDIS_ADDR", cfg.Sink.RedisAddr)
	cfg.Sink.Stream = getEnv("CADENCE_REDIS_STREAM", cfg.Sink.Stream)
	cfg.Leadership.Driver = getEnv("CADENCE_LEADERSHIP", cfg.Leadership.Driver)
	cfg.Leadership.Namespace = getEnv("CADENCE_K8S_NAMESPACE", cfg.Leadership.Namespace)
	cfg.Leadership.NodeID = getEnv("CADENCE_NODE_ID", cfg.Leadership.NodeID)

	var err error
	if cfg.Scheduler.HeartbeatInterval, err = getEnvDuration("CADENCE_HEARTBEAT_INTERVAL", cfg.Scheduler.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.Scheduler.LeaderTTL, err = getEnvDuration("CADENCE_LEADER_TTL", cfg.Scheduler.LeaderTTL); err != nil {
		return nil, err
	}
	if cfg.Scheduler.LivenessMultiple, err = getEnvInt("CADENCE_LIVENESS_MULTIPLE", cfg.Scheduler.LivenessMultiple); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store %q needs a dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Sink.Driver {
	case "log":
	case "redis":
		if c.Sink.RedisAddr == "" {
			return fmt.Errorf("redis sink needs redis_addr")
		}
	default:
		return fmt.Errorf("unknown sink driver %q", c.Sink.Driver)
	}
	switch c.Leadership.Driver {
	case "store":
	case "k8s":
		if c.Leadership.Namespace == "" {
			return fmt.Errorf("k8s leadership needs a namespace")
		}
	default:
		return fmt.Errorf("unknown leadership driver %q", c.Leadership.Driver)
	}
	if !c.Scheduler.DedupePolicy.Valid() {
		return fmt.Errorf("unknown dedupe policy %q", c.Scheduler.DedupePolicy)
	}
	return nil
}

// SchedulerConfig maps the file's scheduler section onto cadence.Config.
// Fields left at zero keep their defaults.
func (c *Config) SchedulerConfig() cadence.Config {
	out := cadence.DefaultConfig()
	s := c.Scheduler
	if s.HeartbeatInterval > 0 {
		out.HeartbeatInterval = s.HeartbeatInterval
	}
	if s.LivenessMultiple > 0 {
		out.LivenessMultiple = s.LivenessMultiple
	}
	if s.SweepInterval > 0 {
		out.SweepInterval = s.SweepInterval
	}
	if s.TickInterval > 0 {
		out.TickInterval = s.TickInterval
	}
	if s.LeaderTTL > 0 {
		out.LeaderTTL = s.LeaderTTL
	}
	if s.DedupePolicy != "" {
		out.DedupePolicy = s.DedupePolicy
	}
	if s.EventBatch > 0 {
		out.EventBatch = s.EventBatch
	}
	if s.EventMaxAttempts > 0 {
		out.EventMaxAttempts = s.EventMaxAttempts
	}
	if s.ShutdownTimeout > 0 {
		out.ShutdownTimeout = s.ShutdownTimeout
	}
	return out
}

// NewLogger builds the process logger from the log section.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
