package loop

import (
	"context"

	"github.com/Iron-Ham/ralphloop/internal/transcript"
)

// -----------------------------------------------------------------------------
// Service Contracts
// -----------------------------------------------------------------------------
//
// The controller never talks to the reasoning service directly. It issues
// calls through these three contracts; implementations live elsewhere and
// are free to back them with any service. Each request carries the bounded
// recent-transcript window and the run's cumulative progress summary, so a
// call's context cost is independent of run length.

// Planner decomposes work. It serves both granularities: the one-time
// story breakdown and the per-iteration work-item batch.
type Planner interface {
	// PlanStories produces the full ordered story breakdown for a goal.
	// Called at most once per run, before any execution.
	PlanStories(ctx context.Context, req PlanStoriesRequest) ([]Story, error)

	// PlanWork produces the ordered work-item batch for one iteration.
	PlanWork(ctx context.Context, req PlanWorkRequest) ([]WorkItem, error)
}

// Executor performs one unit of work against the reasoning service and
// returns its full response text.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (string, error)
}

// Evaluator judges completion. Evaluation verdicts are structured and
// decided semantically by the service; the syntactic promise check on raw
// response text is separate and stays in the controller.
type Evaluator interface {
	// EvaluateStory judges whether one story's work is done.
	EvaluateStory(ctx context.Context, req EvaluateStoryRequest) (StoryVerdict, error)

	// EvaluateRun judges whether the whole goal is done, for modes without
	// a story breakdown.
	EvaluateRun(ctx context.Context, req EvaluateRunRequest) (RunVerdict, error)

	// EvaluateOverall produces the final confirmation after every story
	// has completed, including the promise-tagged closing response.
	EvaluateOverall(ctx context.Context, req EvaluateOverallRequest) (RunVerdict, error)
}

// PlanStoriesRequest asks for the initial story breakdown.
type PlanStoriesRequest struct {
	Goal  string
	Model string
}

// PlanWorkRequest asks for this iteration's work items. Story is non-nil
// only in story mode, where planning is scoped to that story alone.
type PlanWorkRequest struct {
	Goal      string
	Story     *Story
	Progress  string
	Recent    []transcript.Entry
	Iteration int
	Model     string
}

// ExecuteRequest asks for one work item to be performed. Marker is
// included so the executor's prompt can state the completion protocol.
type ExecuteRequest struct {
	Goal     string
	Item     WorkItem
	Story    *Story
	Progress string
	Recent   []transcript.Entry
	Marker   string
	Model    string
}

// EvaluateStoryRequest asks whether one story is complete given the work
// performed this iteration.
type EvaluateStoryRequest struct {
	Goal     string
	Story    Story
	Progress string
	Recent   []transcript.Entry
	Model    string
}

// StoryVerdict is the structured outcome of a story evaluation.
type StoryVerdict struct {
	// IsComplete is the semantic judgment.
	IsComplete bool `json:"is_complete"`

	// Summary describes what the story accomplished; recorded on the
	// story when it completes.
	Summary string `json:"summary"`

	// ProgressUpdate is appended to the run's cumulative progress summary
	// regardless of the verdict.
	ProgressUpdate string `json:"progress_update"`
}

// EvaluateRunRequest asks whether the whole goal is complete, in modes
// that have no story breakdown.
type EvaluateRunRequest struct {
	Goal     string
	Progress string
	Recent   []transcript.Entry
	Marker   string
	Model    string
}

// EvaluateOverallRequest asks for the final confirmation once every story
// has completed.
type EvaluateOverallRequest struct {
	Goal     string
	Stories  []Story
	Progress string
	Marker   string
	Model    string
}

// RunVerdict is the structured outcome of a run-level evaluation.
type RunVerdict struct {
	// Done is the semantic judgment on the whole goal.
	Done bool `json:"done"`

	// UpdatedProgress is appended to the cumulative progress summary.
	UpdatedProgress string `json:"updated_progress"`

	// FinalResponse is the evaluator's full closing text. When Done it is
	// expected, but not guaranteed, to carry the exact promise tag.
	FinalResponse string `json:"final_response"`
}
