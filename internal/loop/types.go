// Package loop implements the bounded, resumable iteration engine: the
// run state model, the plan/story/work-item decomposition types, and the
// controller that sequences planning, execution, and evaluation until a
// completion marker is confirmed or the iteration budget runs out.
//
// The types here form the unit of checkpointed state. RunState is owned
// exclusively by one Controller for the lifetime of one logical execution
// and is deep-copied into continuation checkpoints, so in-flight mutation
// of the live copy never corrupts a persisted one.
package loop

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/Iron-Ham/ralphloop/internal/transcript"
)

// -----------------------------------------------------------------------------
// Status Enums
// -----------------------------------------------------------------------------

// Status tracks the lifecycle of a work item or story.
type Status string

const (
	// StatusPending - not yet started.
	StatusPending Status = "pending"
	// StatusInProgress - currently being worked.
	StatusInProgress Status = "in_progress"
	// StatusCompleted - judged done; never resurrected.
	StatusCompleted Status = "completed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// Mode selects the iteration strategy for a run. It is chosen at
// run-construction time and carried in the checkpoint so a continuation
// resumes with the same strategy.
type Mode string

const (
	// ModeSingle - one executor call per iteration, no planner.
	ModeSingle Mode = "single"
	// ModeMulti - the planner emits an ordered work-item batch each iteration.
	ModeMulti Mode = "multi"
	// ModeStories - iteration 0 plans the full story breakdown; each later
	// iteration works the first incomplete story only.
	ModeStories Mode = "stories"
)

// IsValid returns true if this is a recognized mode value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeSingle, ModeMulti, ModeStories:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Work Items
// -----------------------------------------------------------------------------

// WorkItem is one atomic unit of work produced by the planner for the
// current iteration. Work items are ephemeral: they are not retained past
// the iteration that produced them except as prose in the transcript and
// progress summary.
type WorkItem struct {
	// Content is the full instruction for the executor.
	Content string `json:"content"`

	// Label is an optional 2-3 word action summary for observability.
	Label string `json:"label,omitempty"`

	// Status is pending until execution starts, in_progress during the
	// executor call, completed after.
	Status Status `json:"status"`
}

// -----------------------------------------------------------------------------
// Stories and Plans
// -----------------------------------------------------------------------------

// Story is a higher-level, independently-completable deliverable that
// spawns work items across one or more iterations.
type Story struct {
	// ID uniquely identifies the story within its plan, e.g. "story-1".
	ID string `json:"id"`

	// Title is a short human-readable name.
	Title string `json:"title"`

	// Description contains enough detail for scoped work-item planning.
	Description string `json:"description"`

	// Status is pending until the story is first selected, in_progress
	// while being worked (including across failed evaluations), and
	// completed once evaluation judges it done.
	Status Status `json:"status"`

	// CompletionSummary is the evaluator's summary, set when the story
	// completes.
	CompletionSummary string `json:"completion_summary,omitempty"`
}

// Context renders the story as a single line of prompt context.
func (s *Story) Context() string {
	return fmt.Sprintf("%s: %s", s.Title, s.Description)
}

// Plan is the ordered story breakdown for a run. Stories are selected
// strictly in declaration order, never reordered, never skipped while
// incomplete.
type Plan struct {
	Stories []Story `json:"stories"`
}

// NextIncomplete returns the first story whose status is not completed,
// scanning in declaration order, or nil when every story is completed.
// An in_progress story left incomplete by a prior evaluation is
// re-selected here; that is the retry path.
func (p *Plan) NextIncomplete() *Story {
	if p == nil {
		return nil
	}
	for i := range p.Stories {
		if p.Stories[i].Status != StatusCompleted {
			return &p.Stories[i]
		}
	}
	return nil
}

// AllComplete returns true only when the plan is non-empty and every
// story has completed. An empty plan is never complete.
func (p *Plan) AllComplete() bool {
	if p == nil || len(p.Stories) == 0 {
		return false
	}
	for i := range p.Stories {
		if p.Stories[i].Status != StatusCompleted {
			return false
		}
	}
	return true
}

// CompletedCount returns how many stories have completed.
func (p *Plan) CompletedCount() int {
	if p == nil {
		return 0
	}
	n := 0
	for i := range p.Stories {
		if p.Stories[i].Status == StatusCompleted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{Stories: make([]Story, len(p.Stories))}
	copy(out.Stories, p.Stories)
	return out
}

// -----------------------------------------------------------------------------
// Run State
// -----------------------------------------------------------------------------

// RunState is the unit of checkpointed state for one logical run. It is
// created once per run, threaded through every iteration, and cloned into
// a continuation checkpoint when the host signals that the accumulated
// history warrants a hand-off.
type RunState struct {
	// RunID identifies the logical run across continuations.
	RunID string `json:"run_id"`

	// TaskQueue names the work queue the run was submitted on.
	TaskQueue string `json:"task_queue"`

	// Goal is the original task prompt.
	Goal string `json:"goal"`

	// Marker is the completion phrase; done-ness is confirmed only by the
	// exact tag <promise>MARKER</promise>.
	Marker string `json:"marker"`

	// MaxIterations bounds the loop. The run terminates unsuccessfully
	// when the counter reaches this budget.
	MaxIterations int `json:"max_iterations"`

	// Model selects the reasoning-service model for all calls.
	Model string `json:"model"`

	// Mode is the iteration strategy.
	Mode Mode `json:"mode"`

	// WindowSize bounds the recent-transcript window used for call context.
	WindowSize int `json:"window_size"`

	// Iteration is the number of completed loop bodies. It survives
	// continuations.
	Iteration int `json:"iteration"`

	// Transcript is the full interaction log, authoritative for
	// resumption and final reporting.
	Transcript []transcript.Entry `json:"transcript"`

	// ProgressSummary is free text, monotonically appended-to, never
	// truncated or windowed. It preserves long-range continuity cheaply.
	ProgressSummary string `json:"progress_summary"`

	// Plan is the story breakdown, nil outside story mode and before the
	// initial planning call.
	Plan *Plan `json:"plan,omitempty"`
}

// NewRunState creates the state for a fresh run.
func NewRunState(goal, marker string, maxIterations int, model string, mode Mode) *RunState {
	return &RunState{
		RunID:         GenerateRunID(),
		TaskQueue:     DefaultTaskQueue,
		Goal:          goal,
		Marker:        marker,
		MaxIterations: maxIterations,
		Model:         model,
		Mode:          mode,
		WindowSize:    transcript.DefaultWindowSize,
	}
}

// Clone returns a deep copy of the state. Continuation checkpoints are
// always taken from a clone so the live copy's later mutation cannot
// corrupt what was persisted.
func (s *RunState) Clone() *RunState {
	out := *s
	out.Transcript = make([]transcript.Entry, len(s.Transcript))
	copy(out.Transcript, s.Transcript)
	out.Plan = s.Plan.Clone()
	return &out
}

// Validate checks the state is runnable.
func (s *RunState) Validate() error {
	if s.Goal == "" {
		return fmt.Errorf("goal cannot be empty")
	}
	if s.Marker == "" {
		return fmt.Errorf("completion marker cannot be empty")
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", s.MaxIterations)
	}
	if !s.Mode.IsValid() {
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	if s.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", s.WindowSize)
	}
	return nil
}

// DefaultTaskQueue is the work queue runs are submitted on.
const DefaultTaskQueue = "ralph-loop-queue"

// GenerateRunID returns a fresh run identifier, e.g. "ralph-loop-9f2c01ab".
func GenerateRunID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; fall back to a fixed suffix rather than aborting a run.
		return "ralph-loop-00000000"
	}
	return "ralph-loop-" + hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Run Result
// -----------------------------------------------------------------------------

// RunResult is the terminal output of a run.
//
// Completed and CompletionDetected are independent signals and may
// disagree: Completed reports whether the run exited because work was
// judged done (versus the budget running out), while CompletionDetected
// reports only the syntactic marker check on the final response text.
// Disagreement indicates reasoning-service misbehavior and is surfaced
// as-is rather than resolved here.
type RunResult struct {
	Completed          bool   `json:"completed"`
	IterationsUsed     int    `json:"iterations_used"`
	FinalResponse      string `json:"final_response"`
	CompletionDetected bool   `json:"completion_detected"`
}
