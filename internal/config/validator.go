package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/loop"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "run.max_iterations")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidModes returns the list of valid iteration modes
func ValidModes() []string {
	return []string{string(loop.ModeSingle), string(loop.ModeMulti), string(loop.ModeStories)}
}

// ValidBackends returns the list of valid backend names
func ValidBackends() []string {
	return []string{"claude", "codex"}
}

// Validate checks the Config for invalid values and returns all
// validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRun()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateCheckpoint()...)
	errors = append(errors, c.validateBackend()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateRun validates the RunConfig
func (c *Config) validateRun() []ValidationError {
	var errors []ValidationError

	if c.Run.MaxIterations <= 0 {
		errors = append(errors, ValidationError{
			Field:   "run.max_iterations",
			Value:   c.Run.MaxIterations,
			Message: "must be positive",
		})
	}

	// Upper bound guards against accidental unbounded runs
	const maxIterationsLimit = 10000
	if c.Run.MaxIterations > maxIterationsLimit {
		errors = append(errors, ValidationError{
			Field:   "run.max_iterations",
			Value:   c.Run.MaxIterations,
			Message: fmt.Sprintf("exceeds maximum of %d", maxIterationsLimit),
		})
	}

	if c.Run.WindowSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "run.window_size",
			Value:   c.Run.WindowSize,
			Message: "must be positive",
		})
	}

	const maxWindowSize = 100
	if c.Run.WindowSize > maxWindowSize {
		errors = append(errors, ValidationError{
			Field:   "run.window_size",
			Value:   c.Run.WindowSize,
			Message: fmt.Sprintf("exceeds maximum of %d", maxWindowSize),
		})
	}

	if c.Run.Mode != "" && !loop.Mode(c.Run.Mode).IsValid() {
		errors = append(errors, ValidationError{
			Field:   "run.mode",
			Value:   c.Run.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidModes(), ", ")),
		})
	}

	if c.Run.CallTimeoutMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "run.call_timeout_minutes",
			Value:   c.Run.CallTimeoutMinutes,
			Message: "must be positive",
		})
	}

	return errors
}

// validateRetry validates the RetryConfig
func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError

	if c.Retry.MaxAttempts <= 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_attempts",
			Value:   c.Retry.MaxAttempts,
			Message: "must be positive",
		})
	}

	const maxAttemptsLimit = 10
	if c.Retry.MaxAttempts > maxAttemptsLimit {
		errors = append(errors, ValidationError{
			Field:   "retry.max_attempts",
			Value:   c.Retry.MaxAttempts,
			Message: fmt.Sprintf("exceeds maximum of %d", maxAttemptsLimit),
		})
	}

	if c.Retry.InitialIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.initial_interval_seconds",
			Value:   c.Retry.InitialIntervalSeconds,
			Message: "must be positive",
		})
	}

	if c.Retry.BackoffCoefficient < 1.0 {
		errors = append(errors, ValidationError{
			Field:   "retry.backoff_coefficient",
			Value:   c.Retry.BackoffCoefficient,
			Message: "must be at least 1.0",
		})
	}

	if c.Retry.MaxIntervalSeconds < c.Retry.InitialIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "retry.max_interval_seconds",
			Value:   c.Retry.MaxIntervalSeconds,
			Message: fmt.Sprintf("must be at least initial_interval_seconds (%d)", c.Retry.InitialIntervalSeconds),
		})
	}

	return errors
}

// validateCheckpoint validates the CheckpointConfig
func (c *Config) validateCheckpoint() []ValidationError {
	var errors []ValidationError

	if c.Checkpoint.Dir != "" && strings.ContainsRune(c.Checkpoint.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.dir",
			Value:   c.Checkpoint.Dir,
			Message: "path contains invalid null character",
		})
	}

	// Too small a threshold would checkpoint after nearly every call
	const minThreshold = 1024
	if c.Checkpoint.HistoryThresholdBytes < minThreshold {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.history_threshold_bytes",
			Value:   c.Checkpoint.HistoryThresholdBytes,
			Message: fmt.Sprintf("must be at least %d bytes", minThreshold),
		})
	}

	return errors
}

// validateBackend validates the BackendConfig
func (c *Config) validateBackend() []ValidationError {
	var errors []ValidationError

	if c.Backend.Name != "" && !slices.Contains(ValidBackends(), strings.ToLower(c.Backend.Name)) {
		errors = append(errors, ValidationError{
			Field:   "backend.name",
			Value:   c.Backend.Name,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
