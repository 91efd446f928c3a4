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

	"github.com/trendops/evreport/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify evreport configuration",
	Long: `View or modify evreport configuration.

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
  evreport config set scheduler.parallelism 8
  evreport config set qa.coverage_threshold 0.95
  evreport config set output.dir ~/reports

Valid keys:
  scheduler.parallelism        - Max stages executing concurrently
  scheduler.run_timeout_minutes - Wall-clock budget per run (0 = none)
  scheduler.stale_requeue_limit - Requeues after a stale read
  stage.max_attempts           - Attempt budget per stage
  stage.backoff_base_ms        - Base retry backoff in milliseconds
  stage.timeout_seconds        - Per-attempt collaborator timeout
  qa.coverage_threshold        - Min fraction of cited claims (0..1)
  qa.consistency_tolerance_pp  - Allowed return mismatch in pp
  qa.max_remediation_passes    - Re-runs for failing content stages
  output.dir                   - Artifact output directory
  logging.enabled              - Write per-run log files (true/false)
  logging.level                - Log level (debug/info/warn/error)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/evreport/config.yaml with all available options.`,
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

	fmt.Println("scheduler:")
	fmt.Printf("  parallelism: %d\n", cfg.Scheduler.Parallelism)
	fmt.Printf("  run_timeout_minutes: %d\n", cfg.Scheduler.RunTimeoutMinutes)
	fmt.Printf("  stale_requeue_limit: %d\n", cfg.Scheduler.StaleRequeueLimit)

	fmt.Println("stage:")
	fmt.Printf("  max_attempts: %d\n", cfg.Stage.MaxAttempts)
	fmt.Printf("  backoff_base_ms: %d\n", cfg.Stage.BackoffBaseMs)
	fmt.Printf("  timeout_seconds: %d\n", cfg.Stage.TimeoutSeconds)

	fmt.Println("qa:")
	fmt.Printf("  coverage_threshold: %g\n", cfg.QA.CoverageThreshold)
	fmt.Printf("  consistency_tolerance_pp: %g\n", cfg.QA.ConsistencyTolerancePP)
	fmt.Printf("  max_remediation_passes: %d\n", cfg.QA.MaxRemediationPasses)

	fmt.Println("output:")
	fmt.Printf("  dir: %s\n", cfg.Output.Dir)

	fmt.Println("logging:")
	fmt.Printf("  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Printf("  level: %s\n", cfg.Logging.Level)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"scheduler.parallelism":         "int",
		"scheduler.run_timeout_minutes": "int",
		"scheduler.stale_requeue_limit": "int",
		"stage.max_attempts":            "int",
		"stage.backoff_base_ms":         "int",
		"stage.timeout_seconds":         "int",
		"qa.coverage_threshold":         "float",
		"qa.consistency_tolerance_pp":   "float",
		"qa.max_remediation_passes":     "int",
		"output.dir":                    "string",
		"logging.enabled":               "bool",
		"logging.level":                 "string",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'evreport config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue any
	switch keyType {
	case "string":
		if key == "logging.level" && !slices.Contains(config.ValidLogLevels(), value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
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
		return fmt.Errorf("config file already exists at %s\nUse 'evreport config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Evreport Configuration

# Run scheduling
scheduler:
  # Maximum number of stages executing concurrently
  parallelism: 4
  # Wall-clock budget for a whole run in minutes (0 = no deadline)
  run_timeout_minutes: 10
  # How many times a stage is requeued after a stale read
  stale_requeue_limit: 1

# Per-stage retry policy
stage:
  # Total attempt budget per stage, including the first attempt
  max_attempts: 3
  # Base delay for exponential backoff between retries
  backoff_base_ms: 200
  # Per-attempt timeout for collaborator calls
  timeout_seconds: 30

# Quality gate thresholds
qa:
  # Minimum fraction of substantive claims that must be cited
  coverage_threshold: 0.9
  # Allowed mismatch between reported and recomputed returns, in
  # percentage points
  consistency_tolerance_pp: 0.1
  # Re-runs for failing content stages before shipping degraded
  max_remediation_passes: 1

# Artifact output
output:
  # Directory where per-run output directories are created
  # (empty = ./out relative to the working directory)
  dir: ""

# Structured run logging
logging:
  enabled: true
  level: info
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize evreport's behavior.")

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
	fmt.Printf("  2. $HOME/.config/evreport/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: EVREPORT_* (e.g., EVREPORT_SCHEDULER_PARALLELISM)")

	return nil
}
