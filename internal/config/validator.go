package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scheduler.parallelism")
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

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateStage()...)
	errors = append(errors, c.validateQA()...)
	errors = append(errors, c.validateOutput()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateScheduler validates the SchedulerConfig
func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	const minParallelism = 1
	const maxParallelism = 64

	if c.Scheduler.Parallelism < minParallelism {
		errors = append(errors, ValidationError{
			Field:   "scheduler.parallelism",
			Value:   c.Scheduler.Parallelism,
			Message: fmt.Sprintf("must be at least %d", minParallelism),
		})
	}
	if c.Scheduler.Parallelism > maxParallelism {
		errors = append(errors, ValidationError{
			Field:   "scheduler.parallelism",
			Value:   c.Scheduler.Parallelism,
			Message: fmt.Sprintf("exceeds maximum of %d", maxParallelism),
		})
	}

	// Timeout validation (0 means no deadline, which is valid; negative is invalid)
	if c.Scheduler.RunTimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.run_timeout_minutes",
			Value:   c.Scheduler.RunTimeoutMinutes,
			Message: "must be non-negative (0 disables deadline)",
		})
	}

	if c.Scheduler.StaleRequeueLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.stale_requeue_limit",
			Value:   c.Scheduler.StaleRequeueLimit,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateStage validates the StageConfig
func (c *Config) validateStage() []ValidationError {
	var errors []ValidationError

	const maxAttemptsLimit = 10

	if c.Stage.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "stage.max_attempts",
			Value:   c.Stage.MaxAttempts,
			Message: "must be at least 1",
		})
	}
	if c.Stage.MaxAttempts > maxAttemptsLimit {
		errors = append(errors, ValidationError{
			Field:   "stage.max_attempts",
			Value:   c.Stage.MaxAttempts,
			Message: fmt.Sprintf("exceeds maximum of %d", maxAttemptsLimit),
		})
	}

	const minBackoffMs = 10
	const maxBackoffMs = 60_000

	if c.Stage.BackoffBaseMs < minBackoffMs {
		errors = append(errors, ValidationError{
			Field:   "stage.backoff_base_ms",
			Value:   c.Stage.BackoffBaseMs,
			Message: fmt.Sprintf("must be at least %dms", minBackoffMs),
		})
	}
	if c.Stage.BackoffBaseMs > maxBackoffMs {
		errors = append(errors, ValidationError{
			Field:   "stage.backoff_base_ms",
			Value:   c.Stage.BackoffBaseMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxBackoffMs),
		})
	}

	if c.Stage.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "stage.timeout_seconds",
			Value:   c.Stage.TimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateQA validates the QAConfig
func (c *Config) validateQA() []ValidationError {
	var errors []ValidationError

	if c.QA.CoverageThreshold < 0 || c.QA.CoverageThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "qa.coverage_threshold",
			Value:   c.QA.CoverageThreshold,
			Message: "must be between 0 and 1",
		})
	}

	if c.QA.ConsistencyTolerancePP <= 0 {
		errors = append(errors, ValidationError{
			Field:   "qa.consistency_tolerance_pp",
			Value:   c.QA.ConsistencyTolerancePP,
			Message: "must be positive",
		})
	}

	// Remediation passes bounded to keep runs from looping on bad inputs
	const maxRemediationLimit = 3
	if c.QA.MaxRemediationPasses < 0 {
		errors = append(errors, ValidationError{
			Field:   "qa.max_remediation_passes",
			Value:   c.QA.MaxRemediationPasses,
			Message: "must be non-negative (0 disables remediation)",
		})
	}
	if c.QA.MaxRemediationPasses > maxRemediationLimit {
		errors = append(errors, ValidationError{
			Field:   "qa.max_remediation_passes",
			Value:   c.QA.MaxRemediationPasses,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRemediationLimit),
		})
	}

	return errors
}

// validateOutput validates the OutputConfig
func (c *Config) validateOutput() []ValidationError {
	var errors []ValidationError

	if c.Output.Dir != "" {
		path := c.Output.Dir

		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   "output.dir",
				Value:   path,
				Message: "path contains invalid null character",
			})
		}

		const maxPathLength = 4096
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   "output.dir",
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
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
