// Package errors provides centralized error definitions and classification
// for the evreport run orchestrator. It defines the run-level error taxonomy
// (invalid request, unsatisfiable graph, producer conflict, stage failures,
// stuck graph, deadline), typed errors with context, and helpers for deciding
// whether a failed stage invocation should be retried.
//
// # Error Classes
//
// Every stage failure carries a Class:
//   - ClassTransient: the collaborator call may succeed on retry
//     (timeout, rate limit, transient I/O)
//   - ClassFatal: retrying cannot help (malformed input, permanent
//     collaborator error); the stage degrades immediately
//
// Run-level fatal errors (ErrInvalidRequest, ErrUnsatisfiableGraph,
// ErrProducerConflict, ErrGraphStuck, ErrDeadlineExceeded) propagate to the
// caller as a failed run; everything else is absorbed into a degraded run.
//
// # Usage
//
// Collaborators classify their own failures:
//
//	return errors.Transient(fmt.Errorf("fetch series for %s: %w", ticker, err))
//
// The stage runner inspects the classification:
//
//	if errors.ClassOf(err) == errors.ClassTransient { ... retry ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers can import only this
// package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Class categorizes a stage failure for retry decisions.
type Class string

const (
	// ClassTransient marks failures that may succeed on retry.
	ClassTransient Class = "transient"
	// ClassFatal marks failures that will not succeed on retry.
	ClassFatal Class = "fatal"
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityWarning is for errors that degrade a run without failing it.
	SeverityWarning Severity = iota
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that fail the whole run.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Pre-execution sentinel errors. Both are fatal: the run never starts.
var (
	// ErrInvalidRequest indicates the raw request failed validation.
	ErrInvalidRequest = New("invalid request")
	// ErrUnsatisfiableGraph indicates a required input key has no producer
	// under the current configuration.
	ErrUnsatisfiableGraph = New("unsatisfiable execution graph")
)

// State-store sentinel errors.
var (
	// ErrProducerConflict indicates two stages attempted to write the same
	// single-producer state key. This is a planner/state-key mismatch and
	// fatal at the run level.
	ErrProducerConflict = New("producer conflict")
	// ErrStaleRead indicates a stage's inputs changed materially after it
	// read them; the result is discarded and the node re-queued.
	ErrStaleRead = New("stale read")
	// ErrKeyReadOnly indicates a write to a config key, which is read-only
	// after run creation.
	ErrKeyReadOnly = New("state key is read-only")
	// ErrUnknownKey indicates a state key absent from the key registry.
	ErrUnknownKey = New("unknown state key")
)

// Run-level sentinel errors.
var (
	// ErrGraphStuck indicates remaining nodes form an unresolvable
	// dependency cycle. The planner should prevent this; the scheduler
	// detects it rather than hang.
	ErrGraphStuck = New("execution graph stuck")
	// ErrDeadlineExceeded indicates the global run deadline elapsed with
	// nodes still pending.
	ErrDeadlineExceeded = New("run deadline exceeded")
	// ErrCriticalStageAbsent indicates a critical stage produced no output,
	// which blocks compilation.
	ErrCriticalStageAbsent = New("critical stage produced no output")
)

// Collaborator sentinel errors, used by classification.
var (
	// ErrCollaboratorTimeout indicates an external collaborator call timed out.
	ErrCollaboratorTimeout = New("collaborator timed out")
	// ErrRateLimited indicates an external collaborator rejected the call
	// due to rate limiting.
	ErrRateLimited = New("rate limited")
)

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// classified wraps an error with an explicit retry class.
type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient wraps err so that ClassOf reports ClassTransient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassTransient, err: err}
}

// Fatal wraps err so that ClassOf reports ClassFatal.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassFatal, err: err}
}

// ClassOf returns the retry class of err. Errors wrapped with Transient,
// or matching a known transient sentinel, are ClassTransient; everything
// else is ClassFatal.
func ClassOf(err error) Class {
	var c *classified
	if As(err, &c) {
		return c.class
	}
	if Is(err, ErrCollaboratorTimeout) || Is(err, ErrRateLimited) {
		return ClassTransient
	}
	return ClassFatal
}

// IsRetryable reports whether a failed invocation may succeed on retry.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassTransient
}

// -----------------------------------------------------------------------------
// Typed Errors
// -----------------------------------------------------------------------------

// baseError provides common functionality for the typed errors below.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity { return e.severity }

// RequestError represents a validation failure while parsing raw input
// into a RunConfig. It always wraps ErrInvalidRequest.
type RequestError struct {
	baseError
	Field string
}

// NewRequestError creates a RequestError for the given field.
func NewRequestError(field, message string) *RequestError {
	return &RequestError{
		baseError: baseError{
			message:  message,
			cause:    ErrInvalidRequest,
			severity: SeverityCritical,
		},
		Field: field,
	}
}

// Error returns the formatted error message.
func (e *RequestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request [field=%s]: %s", e.Field, e.message)
	}
	return fmt.Sprintf("invalid request: %s", e.message)
}

// PlanError represents a failure to build a valid execution graph.
type PlanError struct {
	baseError
	Node string
	Key  string
}

// NewPlanError creates a PlanError wrapping the given cause.
func NewPlanError(message string, cause error) *PlanError {
	return &PlanError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityCritical,
		},
	}
}

// WithNode adds the offending node name to the error context.
func (e *PlanError) WithNode(node string) *PlanError {
	e.Node = node
	return e
}

// WithKey adds the unsatisfied state key to the error context.
func (e *PlanError) WithKey(key string) *PlanError {
	e.Key = key
	return e
}

// Error returns the formatted error message.
func (e *PlanError) Error() string {
	var parts []string
	if e.Node != "" {
		parts = append(parts, "node="+e.Node)
	}
	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}
	prefix := "plan error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("plan error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// StateError represents a merge-discipline violation in the state store.
type StateError struct {
	baseError
	Key      string
	Producer string
}

// NewStateError creates a StateError wrapping the given cause.
func NewStateError(message string, cause error) *StateError {
	return &StateError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithKey adds the state key to the error context.
func (e *StateError) WithKey(key string) *StateError {
	e.Key = key
	return e
}

// WithProducer adds the producing stage to the error context.
func (e *StateError) WithProducer(producer string) *StateError {
	e.Producer = producer
	return e
}

// Error returns the formatted error message.
func (e *StateError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}
	if e.Producer != "" {
		parts = append(parts, "producer="+e.Producer)
	}
	prefix := "state error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("state error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// StageError represents a stage invocation failure after classification.
type StageError struct {
	baseError
	Stage    string
	Attempts int
	Class    Class
}

// NewStageError creates a StageError for the given stage.
func NewStageError(stage string, class Class, cause error) *StageError {
	sev := SeverityWarning
	if class == ClassFatal {
		sev = SeverityError
	}
	return &StageError{
		baseError: baseError{
			message:  "stage failed",
			cause:    cause,
			severity: sev,
		},
		Stage: stage,
		Class: class,
	}
}

// WithAttempts records how many invocation attempts were made.
func (e *StageError) WithAttempts(n int) *StageError {
	e.Attempts = n
	return e
}

// Error returns the formatted error message.
func (e *StageError) Error() string {
	parts := []string{"stage=" + e.Stage, "class=" + string(e.Class)}
	if e.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	prefix := fmt.Sprintf("stage error [%s]", strings.Join(parts, ", "))
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// RunError represents a fatal run-level failure. The accumulated faults
// are carried alongside for diagnosis.
type RunError struct {
	baseError
	RunID  string
	Faults []Fault
}

// NewRunError creates a RunError wrapping the given cause.
func NewRunError(message string, cause error) *RunError {
	return &RunError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityCritical,
		},
	}
}

// WithRunID adds the run identifier to the error context.
func (e *RunError) WithRunID(id string) *RunError {
	e.RunID = id
	return e
}

// WithFaults attaches the accumulated stage faults for diagnosis.
func (e *RunError) WithFaults(faults []Fault) *RunError {
	e.Faults = faults
	return e
}

// Error returns the formatted error message.
func (e *RunError) Error() string {
	prefix := "run error"
	if e.RunID != "" {
		prefix = fmt.Sprintf("run error [run=%s]", e.RunID)
	}
	msg := prefix + ": " + e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if len(e.Faults) > 0 {
		msg = fmt.Sprintf("%s (%d stage faults recorded)", msg, len(e.Faults))
	}
	return msg
}
