// Package event defines run lifecycle events for decoupling components in
// evreport. The scheduler and supervisor publish stage progress here; the
// CLI progress printer and the run logger subscribe without either side
// depending on the other.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "stage.completed", "run.finished")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Stage Lifecycle Events
// -----------------------------------------------------------------------------

// StageStartedEvent is emitted when a stage node is dispatched to a worker.
type StageStartedEvent struct {
	baseEvent
	Node     string // Stage node name, e.g. "company.dossier:TSLA"
	Instance string // Fan-out instance identifier, empty for singletons
}

// NewStageStartedEvent creates a StageStartedEvent.
func NewStageStartedEvent(node, instance string) StageStartedEvent {
	return StageStartedEvent{
		baseEvent: newBaseEvent("stage.started"),
		Node:      node,
		Instance:  instance,
	}
}

// StageCompletedEvent is emitted when a stage node's result has been merged
// into the run state.
type StageCompletedEvent struct {
	baseEvent
	Node     string
	Attempts int
}

// NewStageCompletedEvent creates a StageCompletedEvent.
func NewStageCompletedEvent(node string, attempts int) StageCompletedEvent {
	return StageCompletedEvent{
		baseEvent: newBaseEvent("stage.completed"),
		Node:      node,
		Attempts:  attempts,
	}
}

// StageDegradedEvent is emitted when a stage exhausts its retries or fails
// fatally and is accepted as a degraded partial result.
type StageDegradedEvent struct {
	baseEvent
	Node     string
	Attempts int
	Reason   string
}

// NewStageDegradedEvent creates a StageDegradedEvent.
func NewStageDegradedEvent(node string, attempts int, reason string) StageDegradedEvent {
	return StageDegradedEvent{
		baseEvent: newBaseEvent("stage.degraded"),
		Node:      node,
		Attempts:  attempts,
		Reason:    reason,
	}
}

// StageRequeuedEvent is emitted when a stage result is discarded due to a
// stale read and the node is returned to the ready set.
type StageRequeuedEvent struct {
	baseEvent
	Node   string
	Reason string
}

// NewStageRequeuedEvent creates a StageRequeuedEvent.
func NewStageRequeuedEvent(node, reason string) StageRequeuedEvent {
	return StageRequeuedEvent{
		baseEvent: newBaseEvent("stage.requeued"),
		Node:      node,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Run Events
// -----------------------------------------------------------------------------

// QueueDepthChangedEvent is emitted after every scheduling decision with the
// current node counts.
type QueueDepthChangedEvent struct {
	baseEvent
	Pending  int
	Running  int
	Done     int
	Degraded int
	Total    int
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(pending, running, done, degraded, total int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent("queue.depth_changed"),
		Pending:   pending,
		Running:   running,
		Done:      done,
		Degraded:  degraded,
		Total:     total,
	}
}

// RunFinishedEvent is emitted once per run after the quality gate and
// compilation handoff complete.
type RunFinishedEvent struct {
	baseEvent
	RunID      string
	ReportPath string
	Degraded   bool
}

// NewRunFinishedEvent creates a RunFinishedEvent.
func NewRunFinishedEvent(runID, reportPath string, degraded bool) RunFinishedEvent {
	return RunFinishedEvent{
		baseEvent:  newBaseEvent("run.finished"),
		RunID:      runID,
		ReportPath: reportPath,
		Degraded:   degraded,
	}
}
