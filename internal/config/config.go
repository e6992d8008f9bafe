// Package config loads the execution core's configuration, modeled on the
// teacher's pkg/config: one struct per concern, env-tag driven, YAML file
// plus environment overrides via envdecode/godotenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// WorkersConfig controls the orchestrator's worker pool size.
type WorkersConfig struct {
	Count int `json:"count" yaml:"count" env:"WORKERS_COUNT"`
}

// QueueConfig controls the bounded job queue.
type QueueConfig struct {
	Capacity int `json:"capacity" yaml:"capacity" env:"QUEUE_CAPACITY"`
}

// RunConfig controls per-run wall-clock behavior.
type RunConfig struct {
	TimeoutMs int `json:"timeout_ms" yaml:"timeout_ms" env:"RUN_TIMEOUT_MS"`
}

// RetryConfig is the default retry policy; submit() may override per run.
type RetryConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled" env:"RETRY_ENABLED"`
	MaxAttempts  int      `json:"max_attempts" yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	BaseDelayMs  int      `json:"base_delay_ms" yaml:"base_delay_ms" env:"RETRY_BASE_DELAY_MS"`
	MaxDelayMs   int      `json:"max_delay_ms" yaml:"max_delay_ms" env:"RETRY_MAX_DELAY_MS"`
	Multiplier   float64  `json:"multiplier" yaml:"multiplier" env:"RETRY_MULTIPLIER"`
	RetryOn      []string `json:"retry_on" yaml:"retry_on" env:"RETRY_RETRY_ON"`
}

// ArtifactConfig controls the artifact store's filesystem root and limits.
type ArtifactConfig struct {
	Root            string              `json:"root" yaml:"root" env:"ARTIFACT_ROOT"`
	RetentionDays   int                 `json:"retention_days" yaml:"retention_days" env:"ARTIFACT_RETENTION_DAYS"`
	MaxFileBytes    int64               `json:"max_file_bytes" yaml:"max_file_bytes" env:"ARTIFACT_MAX_FILE_BYTES"`
	AllowedExt      map[string][]string `json:"allowed_ext" yaml:"allowed_ext"`
}

// SchedulerConfig controls the cron tick loop.
type SchedulerConfig struct {
	TickMs  int    `json:"tick_ms" yaml:"tick_ms" env:"SCHEDULER_TICK_MS"`
	Catchup string `json:"catchup" yaml:"catchup" env:"SCHEDULER_CATCHUP"`
}

// AgentConfig controls the fix-agent's bounds.
type AgentConfig struct {
	MaxIter          int     `json:"max_iter" yaml:"max_iter" env:"AGENT_MAX_ITER"`
	VerificationRuns int     `json:"verification_runs" yaml:"verification_runs" env:"AGENT_VERIFICATION_RUNS"`
	Budget           float64 `json:"budget" yaml:"budget" env:"AGENT_BUDGET"`
	DeadlineMs       int     `json:"deadline_ms" yaml:"deadline_ms" env:"AGENT_DEADLINE_MS"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
}

// DatabaseConfig controls the Postgres-backed persistence adapter.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
	MigrationsPath  string `json:"migrations_path" yaml:"migrations_path" env:"DATABASE_MIGRATIONS_PATH"`
}

// CacheConfig controls the optional Redis-backed result cache used by the
// Flakiness Analyzer.
type CacheConfig struct {
	Addr    string `json:"addr" yaml:"addr" env:"CACHE_ADDR"`
	Enabled bool   `json:"enabled" yaml:"enabled" env:"CACHE_ENABLED"`
	TTLSec  int    `json:"ttl_sec" yaml:"ttl_sec" env:"CACHE_TTL_SEC"`
}

// Config is the top-level configuration structure recognized by the core,
// matching the option names enumerated in spec §6.
type Config struct {
	Workers   WorkersConfig   `json:"workers" yaml:"workers"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Run       RunConfig       `json:"run" yaml:"run"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Artifact  ArtifactConfig  `json:"artifact" yaml:"artifact"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Workers: WorkersConfig{Count: 4},
		Queue:   QueueConfig{Capacity: 256},
		Run:     RunConfig{TimeoutMs: 5 * 60 * 1000},
		Retry: RetryConfig{
			Enabled:     true,
			MaxAttempts: 3,
			BaseDelayMs: 100,
			MaxDelayMs:  10_000,
			Multiplier:  2.0,
			RetryOn:     []string{"TIMEOUT", "NETWORK_ERROR", "STALE_ELEMENT", "ELEMENT_NOT_FOUND"},
		},
		Artifact: ArtifactConfig{
			Root:          "./artifacts",
			RetentionDays: 30,
			MaxFileBytes:  100 * 1024 * 1024,
			AllowedExt: map[string][]string{
				"LOG":        {".log", ".txt"},
				"SCREENSHOT": {".png", ".jpg", ".jpeg"},
				"VIDEO":      {".mp4", ".webm"},
				"REPORT":     {".json", ".html", ".xml"},
			},
		},
		Scheduler: SchedulerConfig{TickMs: 2000, Catchup: "SINGLE"},
		Agent: AgentConfig{
			MaxIter:          10,
			VerificationRuns: 5,
			Budget:           5.0,
			DeadlineMs:       30 * 60 * 1000,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Database: DatabaseConfig{
			Driver:         "postgres",
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrateOnStart: true,
			MigrationsPath: "file://migrations",
		},
		Cache: CacheConfig{Addr: "localhost:6379", Enabled: false, TTLSec: 30},
	}
}

// Load loads configuration from an optional YAML file followed by
// environment-variable overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate enforces the invariants recognized configuration options must
// satisfy before any component is constructed from it.
func (c *Config) Validate() error {
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier <= 0 {
		return fmt.Errorf("retry.multiplier must be positive, got %f", c.Retry.Multiplier)
	}
	if c.Scheduler.Catchup != "SINGLE" && c.Scheduler.Catchup != "NONE" {
		return fmt.Errorf("scheduler.catchup must be SINGLE or NONE, got %q", c.Scheduler.Catchup)
	}
	if c.Agent.MaxIter <= 0 {
		return fmt.Errorf("agent.max_iter must be positive, got %d", c.Agent.MaxIter)
	}
	if c.Agent.VerificationRuns <= 0 {
		return fmt.Errorf("agent.verification_runs must be positive, got %d", c.Agent.VerificationRuns)
	}
	return nil
}
