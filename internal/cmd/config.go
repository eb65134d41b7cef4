package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ralphloop/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify ralphloop configuration",
	Long: `View or modify ralphloop configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  ralphloop config set run.max_iterations 50
  ralphloop config set run.mode single
  ralphloop config set backend.name codex

Valid keys:
  run.model                         - Reasoning-service model
  run.max_iterations                - Iteration budget
  run.window_size                   - Recent-transcript window size
  run.mode                          - Iteration mode: single, multi, stories
  run.call_timeout_minutes          - Per-call timeout in minutes
  retry.max_attempts                - Attempts per external call
  retry.initial_interval_seconds    - Delay before second attempt
  retry.backoff_coefficient         - Backoff multiplier
  retry.max_interval_seconds        - Cap on retry delay
  checkpoint.dir                    - Checkpoint directory
  checkpoint.history_threshold_bytes - Continuation threshold
  backend.name                      - Backend: claude, codex
  backend.command                   - Backend executable override
  logging.enabled                   - Enable debug logging (true/false)
  logging.level                     - Log level: debug, info, warn, error
  tui.plain                         - Disable the live view (true/false)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/ralphloop/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("run:")
	fmt.Printf("  model: %s\n", cfg.Run.Model)
	fmt.Printf("  max_iterations: %d\n", cfg.Run.MaxIterations)
	fmt.Printf("  window_size: %d\n", cfg.Run.WindowSize)
	fmt.Printf("  mode: %s\n", cfg.Run.Mode)
	fmt.Printf("  call_timeout_minutes: %d\n", cfg.Run.CallTimeoutMinutes)

	fmt.Println("retry:")
	fmt.Printf("  max_attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  initial_interval_seconds: %d\n", cfg.Retry.InitialIntervalSeconds)
	fmt.Printf("  backoff_coefficient: %g\n", cfg.Retry.BackoffCoefficient)
	fmt.Printf("  max_interval_seconds: %d\n", cfg.Retry.MaxIntervalSeconds)

	fmt.Println("checkpoint:")
	fmt.Printf("  dir: %s\n", cfg.Checkpoint.Dir)
	fmt.Printf("  history_threshold_bytes: %d\n", cfg.Checkpoint.HistoryThresholdBytes)

	fmt.Println("backend:")
	fmt.Printf("  name: %s\n", cfg.Backend.Name)
	fmt.Printf("  command: %s\n", cfg.Backend.Command)

	fmt.Println("logging:")
	fmt.Printf("  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Printf("  level: %s\n", cfg.Logging.Level)

	fmt.Println("tui:")
	fmt.Printf("  plain: %v\n", cfg.TUI.Plain)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"run.model":                          "string",
		"run.max_iterations":                 "int",
		"run.window_size":                    "int",
		"run.mode":                           "string",
		"run.call_timeout_minutes":           "int",
		"retry.max_attempts":                 "int",
		"retry.initial_interval_seconds":     "int",
		"retry.backoff_coefficient":          "float",
		"retry.max_interval_seconds":         "int",
		"checkpoint.dir":                     "string",
		"checkpoint.history_threshold_bytes": "int",
		"backend.name":                       "string",
		"backend.command":                    "string",
		"logging.enabled":                    "bool",
		"logging.level":                      "string",
		"tui.plain":                          "bool",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'ralphloop config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue interface{}
	switch keyType {
	case "string":
		switch key {
		case "run.mode":
			if !slices.Contains(config.ValidModes(), value) {
				return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(config.ValidModes(), ", "))
			}
		case "backend.name":
			if !slices.Contains(config.ValidBackends(), strings.ToLower(value)) {
				return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(config.ValidBackends(), ", "))
			}
		case "logging.level":
			if !slices.Contains(config.ValidLogLevels(), value) {
				return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(config.ValidLogLevels(), ", "))
			}
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	case "float":
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected number", key)
		}
		typedValue = floatVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, typedValue)
	fmt.Printf("Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'ralphloop config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Ralphloop Configuration

# Loop settings
run:
  # Reasoning-service model for all calls
  model: ` + config.DefaultModel + `
  # Iteration budget
  max_iterations: 20
  # Recent-transcript window size for call context
  window_size: 3
  # Iteration mode: single, multi, stories
  mode: stories
  # Per-call timeout in minutes
  call_timeout_minutes: 10

# External-call retry policy
retry:
  max_attempts: 3
  initial_interval_seconds: 1
  backoff_coefficient: 2.0
  max_interval_seconds: 30

# Continuation checkpointing
checkpoint:
  # Directory for checkpoints (default: .ralphloop/checkpoints under the working directory)
  dir: ""
  # Accumulated-history size past which the run hands off to a fresh execution
  history_threshold_bytes: 1048576

# Reasoning-service backend
backend:
  # Backend CLI: claude, codex
  name: claude
  # Executable path override (default: backend name on PATH)
  command: ""

# Debug logging
logging:
  enabled: true
  level: info

# Terminal UI
tui:
  # Disable the live view and print log lines instead
  plain: false
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize ralphloop's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Printf("  2. $HOME/.config/ralphloop/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: RALPHLOOP_* (e.g., RALPHLOOP_RUN_MAX_ITERATIONS)")

	return nil
}
