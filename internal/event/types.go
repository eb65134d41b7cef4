// Package event defines event types for decoupling components in ralphloop.
// These events let the loop controller report progress to the TUI, logger,
// and other observers without direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "iteration.started", "run.completed")
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
// Iteration Lifecycle Events
// -----------------------------------------------------------------------------

// IterationStartedEvent is emitted at the top of each loop iteration.
type IterationStartedEvent struct {
	baseEvent
	RunID     string // Run this iteration belongs to
	Iteration int    // 1-indexed iteration number
	StoryID   string // Active story, empty outside story mode
}

// NewIterationStartedEvent creates an IterationStartedEvent.
func NewIterationStartedEvent(runID string, iteration int, storyID string) IterationStartedEvent {
	return IterationStartedEvent{
		baseEvent: newBaseEvent("iteration.started"),
		RunID:     runID,
		Iteration: iteration,
		StoryID:   storyID,
	}
}

// IterationCompletedEvent is emitted when an iteration's work items have all
// executed and evaluation has committed.
type IterationCompletedEvent struct {
	baseEvent
	RunID     string
	Iteration int
	WorkItems int // Number of work items executed this iteration
}

// NewIterationCompletedEvent creates an IterationCompletedEvent.
func NewIterationCompletedEvent(runID string, iteration, workItems int) IterationCompletedEvent {
	return IterationCompletedEvent{
		baseEvent: newBaseEvent("iteration.completed"),
		RunID:     runID,
		Iteration: iteration,
		WorkItems: workItems,
	}
}

// WorkItemStartedEvent is emitted when a single work item begins executing.
type WorkItemStartedEvent struct {
	baseEvent
	RunID     string
	Iteration int
	Index     int    // Position within the iteration's batch (0-indexed)
	Total     int    // Batch size
	Label     string // Short action label from the planner, may be empty
}

// NewWorkItemStartedEvent creates a WorkItemStartedEvent.
func NewWorkItemStartedEvent(runID string, iteration, index, total int, label string) WorkItemStartedEvent {
	return WorkItemStartedEvent{
		baseEvent: newBaseEvent("workitem.started"),
		RunID:     runID,
		Iteration: iteration,
		Index:     index,
		Total:     total,
		Label:     label,
	}
}

// -----------------------------------------------------------------------------
// Story Events
// -----------------------------------------------------------------------------

// StoryStartedEvent is emitted when a story becomes the active story.
type StoryStartedEvent struct {
	baseEvent
	RunID   string
	StoryID string
	Title   string
}

// NewStoryStartedEvent creates a StoryStartedEvent.
func NewStoryStartedEvent(runID, storyID, title string) StoryStartedEvent {
	return StoryStartedEvent{
		baseEvent: newBaseEvent("story.started"),
		RunID:     runID,
		StoryID:   storyID,
		Title:     title,
	}
}

// StoryCompletedEvent is emitted when story evaluation judges a story done.
type StoryCompletedEvent struct {
	baseEvent
	RunID   string
	StoryID string
	Summary string // Evaluator's completion summary
}

// NewStoryCompletedEvent creates a StoryCompletedEvent.
func NewStoryCompletedEvent(runID, storyID, summary string) StoryCompletedEvent {
	return StoryCompletedEvent{
		baseEvent: newBaseEvent("story.completed"),
		RunID:     runID,
		StoryID:   storyID,
		Summary:   summary,
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle Events
// -----------------------------------------------------------------------------

// PromiseFoundEvent is emitted when the literal completion marker is
// detected in a final response.
type PromiseFoundEvent struct {
	baseEvent
	RunID     string
	Iteration int
}

// NewPromiseFoundEvent creates a PromiseFoundEvent.
func NewPromiseFoundEvent(runID string, iteration int) PromiseFoundEvent {
	return PromiseFoundEvent{
		baseEvent: newBaseEvent("run.promise_found"),
		RunID:     runID,
		Iteration: iteration,
	}
}

// ContinuationEvent is emitted when the controller hands off to a fresh
// logical execution because the accumulated history grew too large.
// This is a scheduled checkpoint, not a failure.
type ContinuationEvent struct {
	baseEvent
	RunID     string
	Iteration int
}

// NewContinuationEvent creates a ContinuationEvent.
func NewContinuationEvent(runID string, iteration int) ContinuationEvent {
	return ContinuationEvent{
		baseEvent: newBaseEvent("run.continuation"),
		RunID:     runID,
		Iteration: iteration,
	}
}

// RunCompletedEvent is emitted when a run reaches a terminal state.
type RunCompletedEvent struct {
	baseEvent
	RunID              string
	Completed          bool // Work was judged done (vs budget exhaustion)
	CompletionDetected bool // Literal marker found in the final response
	IterationsUsed     int
}

// NewRunCompletedEvent creates a RunCompletedEvent.
func NewRunCompletedEvent(runID string, completed, detected bool, iterations int) RunCompletedEvent {
	return RunCompletedEvent{
		baseEvent:          newBaseEvent("run.completed"),
		RunID:              runID,
		Completed:          completed,
		CompletionDetected: detected,
		IterationsUsed:     iterations,
	}
}

// CallRetryEvent is emitted when an external call attempt fails and another
// attempt is scheduled.
type CallRetryEvent struct {
	baseEvent
	RunID   string
	Call    string // Logical call name
	Attempt int    // Attempt that just failed (1-indexed)
	Error   string
}

// NewCallRetryEvent creates a CallRetryEvent.
func NewCallRetryEvent(runID, call string, attempt int, errMsg string) CallRetryEvent {
	return CallRetryEvent{
		baseEvent: newBaseEvent("call.retry"),
		RunID:     runID,
		Call:      call,
		Attempt:   attempt,
		Error:     errMsg,
	}
}
