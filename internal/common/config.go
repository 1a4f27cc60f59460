package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Engine      EngineConfig  `toml:"engine"`
	Logging     LoggingConfig `toml:"logging"`
	Proxy       ProxyConfig   `toml:"proxy"`
	Storage     StorageConfig `toml:"storage"`
	Schedule    ScheduleConfig `toml:"schedule"`
}

// EngineConfig controls the scheduler's concurrency and timeout
// behavior.
type EngineConfig struct {
	MaxParallelism int           `toml:"max_parallelism"` // clamped to [1,100], default 10
	TaskTimeout    time.Duration `toml:"task_timeout"`    // per-task pipeline wall-clock budget, default 30s
	ForceExecutors []string      `toml:"force_executors"` // executor names to re-run; ["all"] forces every executor
}

// LoggingConfig mirrors the teacher's logging configuration surface.
type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05.000"
}

// ProxyConfig configures the static proxy provider.
type ProxyConfig struct {
	Enabled       bool                `toml:"enabled"`
	Buckets       map[string][]string `toml:"buckets"`        // country (or "*") -> proxy URL list
	CheckURL      string              `toml:"check_url"`      // benign endpoint used to health-check proxies
	CheckTimeout  time.Duration       `toml:"check_timeout"`  // default 5s
	CheckRetries  int                 `toml:"check_retries"`  // default 2
}

// StorageConfig controls where the journal and scratch files live, and
// the optional content-addressable cache.
type StorageConfig struct {
	WorkingDir   string            `toml:"working_dir"`    // directory holding <key>.status.json and scratch files
	ContentCache ContentCacheConfig `toml:"content_cache"`
}

// ContentCacheConfig controls the optional badger-backed content store.
type ContentCacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ScheduleConfig configures the optional cron-driven repeat runs.
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"` // standard 5-field cron expression
}

// NewDefaultConfig returns the configuration used when no file is
// supplied and no overrides apply.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Engine: EngineConfig{
			MaxParallelism: 10,
			TaskTimeout:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Proxy: ProxyConfig{
			CheckTimeout: 5 * time.Second,
			CheckRetries: 2,
		},
		Storage: StorageConfig{
			WorkingDir: "./data",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file ->
// env -> CLI. path == "" returns the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()
	if path == "" {
		applyEnvOverrides(config)
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Environment variables take priority over file configuration.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TASKRUNNER_ENV"); env != "" {
		config.Environment = env
	}
	if dir := os.Getenv("TASKRUNNER_WORKING_DIR"); dir != "" {
		config.Storage.WorkingDir = dir
	}
	if level := os.Getenv("TASKRUNNER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if n := os.Getenv("TASKRUNNER_MAX_PARALLELISM"); n != "" {
		if parsed, err := strconv.Atoi(n); err == nil {
			config.Engine.MaxParallelism = parsed
		}
	}
}

// ApplyFlagOverrides applies CLI flag values, which take the highest
// priority of all configuration sources.
func ApplyFlagOverrides(config *Config, workingDir string, maxParallelism int, forceExecutors []string) {
	if workingDir != "" {
		config.Storage.WorkingDir = workingDir
	}
	if maxParallelism > 0 {
		config.Engine.MaxParallelism = maxParallelism
	}
	if len(forceExecutors) > 0 {
		config.Engine.ForceExecutors = forceExecutors
	}
}

// IsProduction reports whether the configured environment is
// "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
