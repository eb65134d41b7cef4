// Package config defines the ralphloop configuration, its defaults, and
// viper-backed loading from file, environment, and flags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/ralphloop/internal/durable"
	"github.com/Iron-Ham/ralphloop/internal/loop"
	"github.com/Iron-Ham/ralphloop/internal/transcript"
)

// DefaultModel is the reasoning-service model used when none is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

// Config represents the complete ralphloop configuration.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	TUI        TUIConfig        `mapstructure:"tui"`
}

// RunConfig controls loop behavior.
type RunConfig struct {
	// Model is the reasoning-service model for all calls
	Model string `mapstructure:"model"`
	// MaxIterations bounds the loop (default: 20)
	MaxIterations int `mapstructure:"max_iterations"`
	// WindowSize is the number of recent transcript entries included in
	// call context (default: 3)
	WindowSize int `mapstructure:"window_size"`
	// Mode is the iteration strategy: "single", "multi", or "stories"
	Mode string `mapstructure:"mode"`
	// TaskQueue names the work queue runs are submitted on
	TaskQueue string `mapstructure:"task_queue"`
	// CallTimeoutMinutes bounds each external call attempt (default: 10)
	CallTimeoutMinutes int `mapstructure:"call_timeout_minutes"`
}

// RetryConfig controls the external-call retry policy.
type RetryConfig struct {
	// MaxAttempts is the total attempts per call, including the first (default: 3)
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialIntervalSeconds is the delay before the second attempt (default: 1)
	InitialIntervalSeconds int `mapstructure:"initial_interval_seconds"`
	// BackoffCoefficient multiplies the interval after each failure (default: 2.0)
	BackoffCoefficient float64 `mapstructure:"backoff_coefficient"`
	// MaxIntervalSeconds caps the delay between attempts (default: 30)
	MaxIntervalSeconds int `mapstructure:"max_interval_seconds"`
}

// CheckpointConfig controls continuation checkpointing.
type CheckpointConfig struct {
	// Dir is where checkpoints are written.
	// If empty, defaults to ".ralphloop/checkpoints" under the working directory.
	// Supports absolute paths.
	Dir string `mapstructure:"dir"`
	// HistoryThresholdBytes is the accumulated-history size past which a
	// run hands off to a fresh execution (default: 1 MiB)
	HistoryThresholdBytes int `mapstructure:"history_threshold_bytes"`
}

// BackendConfig selects the reasoning-service CLI.
type BackendConfig struct {
	// Name is "claude" or "codex" (default: "claude")
	Name string `mapstructure:"name"`
	// Command overrides the backend executable path
	Command string `mapstructure:"command"`
}

// LoggingConfig controls debug logging behavior.
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// TUIConfig controls the terminal UI.
type TUIConfig struct {
	// Plain disables the live TUI and prints log lines instead
	Plain bool `mapstructure:"plain"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Model:              DefaultModel,
			MaxIterations:      20,
			WindowSize:         transcript.DefaultWindowSize,
			Mode:               string(loop.ModeStories),
			TaskQueue:          loop.DefaultTaskQueue,
			CallTimeoutMinutes: 10,
		},
		Retry: RetryConfig{
			MaxAttempts:            3,
			InitialIntervalSeconds: 1,
			BackoffCoefficient:     2.0,
			MaxIntervalSeconds:     30,
		},
		Checkpoint: CheckpointConfig{
			Dir:                   "",
			HistoryThresholdBytes: durable.DefaultHistoryThreshold,
		},
		Backend: BackendConfig{
			Name: "claude",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		TUI: TUIConfig{},
	}
}

// SetDefaults registers all defaults with viper.
func SetDefaults() {
	defaults := Default()

	// Run defaults
	viper.SetDefault("run.model", defaults.Run.Model)
	viper.SetDefault("run.max_iterations", defaults.Run.MaxIterations)
	viper.SetDefault("run.window_size", defaults.Run.WindowSize)
	viper.SetDefault("run.mode", defaults.Run.Mode)
	viper.SetDefault("run.task_queue", defaults.Run.TaskQueue)
	viper.SetDefault("run.call_timeout_minutes", defaults.Run.CallTimeoutMinutes)

	// Retry defaults
	viper.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	viper.SetDefault("retry.initial_interval_seconds", defaults.Retry.InitialIntervalSeconds)
	viper.SetDefault("retry.backoff_coefficient", defaults.Retry.BackoffCoefficient)
	viper.SetDefault("retry.max_interval_seconds", defaults.Retry.MaxIntervalSeconds)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.dir", defaults.Checkpoint.Dir)
	viper.SetDefault("checkpoint.history_threshold_bytes", defaults.Checkpoint.HistoryThresholdBytes)

	// Backend defaults
	viper.SetDefault("backend.name", defaults.Backend.Name)
	viper.SetDefault("backend.command", defaults.Backend.Command)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	// TUI defaults
	viper.SetDefault("tui.plain", defaults.TUI.Plain)
}

// Load reads the configuration from viper into a Config struct and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// loading fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ralphloop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ralphloop"
	}
	return filepath.Join(home, ".config", "ralphloop")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolveCheckpointDir returns the checkpoint directory, defaulting
// relative to baseDir when unset.
func (c *CheckpointConfig) ResolveCheckpointDir(baseDir string) string {
	if c.Dir == "" {
		return filepath.Join(baseDir, ".ralphloop", "checkpoints")
	}
	if filepath.IsAbs(c.Dir) {
		return c.Dir
	}
	return filepath.Join(baseDir, c.Dir)
}

// CallTimeout returns the per-call timeout as a duration.
func (r *RunConfig) CallTimeout() time.Duration {
	return time.Duration(r.CallTimeoutMinutes) * time.Minute
}

// Policy converts the retry section to a durable.RetryPolicy.
func (r *RetryConfig) Policy() durable.RetryPolicy {
	return durable.RetryPolicy{
		MaxAttempts:        r.MaxAttempts,
		InitialInterval:    time.Duration(r.InitialIntervalSeconds) * time.Second,
		BackoffCoefficient: r.BackoffCoefficient,
		MaxInterval:        time.Duration(r.MaxIntervalSeconds) * time.Second,
	}
}
