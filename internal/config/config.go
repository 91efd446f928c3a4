package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete evreport configuration
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Stage     StageConfig     `mapstructure:"stage"`
	QA        QAConfig        `mapstructure:"qa"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SchedulerConfig controls run-level scheduling behavior
type SchedulerConfig struct {
	// Parallelism is the maximum number of stages executing concurrently
	Parallelism int `mapstructure:"parallelism"`
	// RunTimeoutMinutes is the wall-clock budget for a whole run (0 = no deadline)
	RunTimeoutMinutes int `mapstructure:"run_timeout_minutes"`
	// StaleRequeueLimit is how many times a stage is requeued after a
	// stale read before its result is accepted as-is
	StaleRequeueLimit int `mapstructure:"stale_requeue_limit"`
}

// StageConfig controls per-stage retry behavior
type StageConfig struct {
	// MaxAttempts is the total attempt budget per stage instance,
	// including the first attempt
	MaxAttempts int `mapstructure:"max_attempts"`
	// BackoffBaseMs is the base delay for exponential backoff between retries
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	// TimeoutSeconds is the per-attempt timeout for collaborator calls
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// QAConfig controls the quality gate
type QAConfig struct {
	// CoverageThreshold is the minimum fraction of substantive claims
	// that must carry at least one evidence reference
	CoverageThreshold float64 `mapstructure:"coverage_threshold"`
	// ConsistencyTolerancePP is the allowed absolute difference, in
	// percentage points, between a reported period return and the value
	// recomputed from the price series
	ConsistencyTolerancePP float64 `mapstructure:"consistency_tolerance_pp"`
	// MaxRemediationPasses limits how many times failing content stages
	// are re-run before the run is marked degraded
	MaxRemediationPasses int `mapstructure:"max_remediation_passes"`
}

// OutputConfig controls where run artifacts are written
type OutputConfig struct {
	// Dir is the directory where per-run output directories are created.
	// Supports ~ for home directory expansion.
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls structured run logging
type LoggingConfig struct {
	// Enabled controls whether the per-run log file is written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// RunTimeout returns the run deadline as a time.Duration (0 means no deadline)
func (c *SchedulerConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// BackoffBase returns the retry backoff base as a time.Duration
func (c *StageConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// StageTimeout returns the per-attempt timeout as a time.Duration
func (c *StageConfig) StageTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveOutputDir returns the resolved output directory path.
// If Dir is empty, it returns "out" relative to baseDir.
// If Dir starts with ~, it expands to the user's home directory.
func (o *OutputConfig) ResolveOutputDir(baseDir string) string {
	if o.Dir == "" {
		return filepath.Join(baseDir, "out")
	}

	path := o.Dir
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Parallelism:       4,
			RunTimeoutMinutes: 10,
			StaleRequeueLimit: 1,
		},
		Stage: StageConfig{
			MaxAttempts:    3,
			BackoffBaseMs:  200,
			TimeoutSeconds: 30,
		},
		QA: QAConfig{
			CoverageThreshold:      0.9,
			ConsistencyTolerancePP: 0.1,
			MaxRemediationPasses:   1,
		},
		Output: OutputConfig{
			Dir: "", // Empty means ./out
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Scheduler defaults
	viper.SetDefault("scheduler.parallelism", defaults.Scheduler.Parallelism)
	viper.SetDefault("scheduler.run_timeout_minutes", defaults.Scheduler.RunTimeoutMinutes)
	viper.SetDefault("scheduler.stale_requeue_limit", defaults.Scheduler.StaleRequeueLimit)

	// Stage defaults
	viper.SetDefault("stage.max_attempts", defaults.Stage.MaxAttempts)
	viper.SetDefault("stage.backoff_base_ms", defaults.Stage.BackoffBaseMs)
	viper.SetDefault("stage.timeout_seconds", defaults.Stage.TimeoutSeconds)

	// QA defaults
	viper.SetDefault("qa.coverage_threshold", defaults.QA.CoverageThreshold)
	viper.SetDefault("qa.consistency_tolerance_pp", defaults.QA.ConsistencyTolerancePP)
	viper.SetDefault("qa.max_remediation_passes", defaults.QA.MaxRemediationPasses)

	// Output defaults
	viper.SetDefault("output.dir", defaults.Output.Dir)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the configuration from viper into a Config struct and validates it
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

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "evreport")
	}
	// Fall back to ~/.config/evreport
	home, err := os.UserHomeDir()
	if err != nil {
		return ".evreport"
	}
	return filepath.Join(home, ".config", "evreport")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
