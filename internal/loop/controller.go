package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/ralphloop/internal/durable"
	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/event"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/promise"
	"github.com/Iron-Ham/ralphloop/internal/transcript"
)

// ErrContinueAsNew signals a scheduled hand-off, not a failure: the
// current execution checkpointed its state and ended so a fresh logical
// execution can resume from the checkpoint with an empty history.
var ErrContinueAsNew = errors.New("run handed off to continuation")

// Call names used for retry attribution and logging.
const (
	callPlanStories     = "generate_prd"
	callPlanWork        = "generate_tasks"
	callExecuteTask     = "execute_task"
	callEvaluateStory   = "evaluate_story_completion"
	callEvaluateRun     = "evaluate_completion"
	callEvaluateOverall = "evaluate_overall_completion"
)

// Controller is the state machine that sequences planning, execution,
// and evaluation for one run. It owns its RunState exclusively; external
// observers read committed snapshots through the query methods.
type Controller struct {
	state *RunState
	log   *transcript.Log

	host      durable.Host
	planner   Planner
	executor  Executor
	evaluator Evaluator
	logger    *logging.Logger
	bus       *event.Bus

	// mu guards the committed snapshot served to queries. The live state
	// above is touched only by the Run goroutine.
	mu             sync.RWMutex
	committed      *RunState
	committedItems []WorkItem
}

// Options wires a Controller's collaborators.
type Options struct {
	Host      durable.Host
	Planner   Planner
	Executor  Executor
	Evaluator Evaluator
	Logger    *logging.Logger // may be nil
	Bus       *event.Bus      // may be nil
}

// NewController creates a Controller for the given state. The state is
// validated and adopted; the caller must not touch it afterward.
func NewController(state *RunState, opts Options) (*Controller, error) {
	if state == nil {
		return nil, fmt.Errorf("run state is required: %w", errors.ErrInvalidInput)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("host is required: %w", errors.ErrInvalidInput)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required: %w", errors.ErrInvalidInput)
	}
	if state.Mode != ModeSingle && opts.Planner == nil {
		return nil, fmt.Errorf("planner is required for mode %q: %w", state.Mode, errors.ErrInvalidInput)
	}
	if state.Mode != ModeSingle && opts.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required for mode %q: %w", state.Mode, errors.ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	c := &Controller{
		state:     state,
		log:       transcript.FromEntries(state.Transcript),
		host:      opts.Host,
		planner:   opts.Planner,
		executor:  opts.Executor,
		evaluator: opts.Evaluator,
		logger:    opts.Logger.WithRun(state.RunID),
		bus:       opts.Bus,
	}
	c.commit(nil)
	return c, nil
}

// Run executes the loop until the goal is judged done, the iteration
// budget runs out, or the host requests a continuation. On continuation
// it returns ErrContinueAsNew after checkpointing; the caller resumes
// from the checkpoint in a fresh execution. Any exhausted-retries call
// failure is fatal for the run and propagates with no partial result.
func (c *Controller) Run(ctx context.Context) (RunResult, error) {
	c.logger.Info("run starting",
		"mode", string(c.state.Mode),
		"iteration", c.state.Iteration,
		"max_iterations", c.state.MaxIterations)

	for c.state.Iteration < c.state.MaxIterations {
		if c.host.ShouldContinueAsNew() {
			return RunResult{}, c.continueAsNew()
		}
		if err := ctx.Err(); err != nil {
			return RunResult{}, fmt.Errorf("%w: %v", errors.ErrCanceled, err)
		}

		done, final, err := c.iterate(ctx)
		if err != nil {
			return RunResult{}, err
		}

		c.state.Iteration++
		c.commit(nil)

		if done {
			return c.finish(true, final), nil
		}
	}

	// Budget exhausted: a defined terminal state, not an error.
	return c.finish(false, c.log.Last(transcript.RoleAssistant)), nil
}

// iterate runs one loop body in the run's mode. It reports whether the
// run is done and, if so, the final response text.
func (c *Controller) iterate(ctx context.Context) (bool, string, error) {
	iteration := c.state.Iteration + 1

	switch c.state.Mode {
	case ModeSingle:
		return c.iterateSingle(ctx, iteration)
	case ModeMulti:
		return c.iterateMulti(ctx, iteration)
	case ModeStories:
		return c.iterateStories(ctx, iteration)
	default:
		return false, "", fmt.Errorf("%w: mode %q", errors.ErrInvalidInput, c.state.Mode)
	}
}

// iterateSingle calls the executor once with the goal itself as the work
// item. Completion is the syntactic promise check on the response.
func (c *Controller) iterateSingle(ctx context.Context, iteration int) (bool, string, error) {
	c.publish(event.NewIterationStartedEvent(c.state.RunID, iteration, ""))

	item := WorkItem{Content: c.state.Goal, Status: StatusPending}
	output, err := c.executeItem(ctx, iteration, &item, nil, 0, 1)
	if err != nil {
		return false, "", err
	}

	c.publish(event.NewIterationCompletedEvent(c.state.RunID, iteration, 1))

	if promise.Detected(output, c.state.Marker) {
		c.publish(event.NewPromiseFoundEvent(c.state.RunID, iteration))
		return true, output, nil
	}
	return false, "", nil
}

// iterateMulti plans a work-item batch, executes it in order, and asks
// the evaluator for a run-level verdict.
func (c *Controller) iterateMulti(ctx context.Context, iteration int) (bool, string, error) {
	c.publish(event.NewIterationStartedEvent(c.state.RunID, iteration, ""))

	items, err := c.planWork(ctx, nil, iteration)
	if err != nil {
		return false, "", err
	}
	c.commit(items)

	for i := range items {
		if _, err := c.executeItem(ctx, iteration, &items[i], nil, i, len(items)); err != nil {
			return false, "", err
		}
	}

	verdict, err := c.evaluateRun(ctx)
	if err != nil {
		return false, "", err
	}
	c.appendProgress(verdict.UpdatedProgress)
	c.publish(event.NewIterationCompletedEvent(c.state.RunID, iteration, len(items)))

	if !verdict.Done {
		return false, "", nil
	}
	c.recordFinal(verdict.FinalResponse, iteration)
	return true, verdict.FinalResponse, nil
}

// iterateStories works the first incomplete story: plan the story
// breakdown once, then each iteration plans and executes work scoped to
// that story alone and judges the story's completion. When every story
// has completed, one final confirmatory evaluation closes the run.
func (c *Controller) iterateStories(ctx context.Context, iteration int) (bool, string, error) {
	if c.state.Plan == nil {
		stories, err := c.planStories(ctx)
		if err != nil {
			return false, "", err
		}
		c.state.Plan = &Plan{Stories: stories}
		c.logger.Info("story plan created", "stories", len(stories))
		c.commit(nil)
	}

	story := c.state.Plan.NextIncomplete()
	if story == nil {
		// Every story already completed; only the final confirmation
		// remains. Reachable when a continuation lands exactly here.
		return c.finalEvaluation(ctx, iteration)
	}
	if story.Status == StatusPending {
		story.Status = StatusInProgress
		c.publish(event.NewStoryStartedEvent(c.state.RunID, story.ID, story.Title))
	}
	c.publish(event.NewIterationStartedEvent(c.state.RunID, iteration, story.ID))

	items, err := c.planWork(ctx, story, iteration)
	if err != nil {
		return false, "", err
	}
	c.commit(items)

	for i := range items {
		if _, err := c.executeItem(ctx, iteration, &items[i], story, i, len(items)); err != nil {
			return false, "", err
		}
	}

	verdict, err := c.evaluateStory(ctx, story)
	if err != nil {
		return false, "", err
	}
	c.appendProgress(verdict.ProgressUpdate)
	c.publish(event.NewIterationCompletedEvent(c.state.RunID, iteration, len(items)))

	if verdict.IsComplete {
		story.Status = StatusCompleted
		story.CompletionSummary = verdict.Summary
		c.publish(event.NewStoryCompletedEvent(c.state.RunID, story.ID, verdict.Summary))
		c.logger.Info("story completed",
			"story", story.ID,
			"done", c.state.Plan.CompletedCount(),
			"total", len(c.state.Plan.Stories))
	}
	// An incomplete story stays in_progress so it is re-selected next
	// iteration; the loop itself is the revision mechanism.

	if c.state.Plan.AllComplete() {
		return c.finalEvaluation(ctx, iteration)
	}
	return false, "", nil
}

// finalEvaluation runs the confirmatory whole-plan evaluation after all
// stories have completed.
func (c *Controller) finalEvaluation(ctx context.Context, iteration int) (bool, string, error) {
	var verdict RunVerdict
	err := c.call(ctx, callEvaluateOverall, func(ctx context.Context) error {
		var err error
		verdict, err = c.evaluator.EvaluateOverall(ctx, EvaluateOverallRequest{
			Goal:     c.state.Goal,
			Stories:  c.state.Plan.Stories,
			Progress: c.state.ProgressSummary,
			Marker:   c.state.Marker,
			Model:    c.state.Model,
		})
		return err
	})
	if err != nil {
		return false, "", err
	}
	c.appendProgress(verdict.UpdatedProgress)
	c.recordFinal(verdict.FinalResponse, iteration)
	return true, verdict.FinalResponse, nil
}

// executeItem runs one work item through the executor, windowing the
// transcript for context and appending both turns to the log.
func (c *Controller) executeItem(ctx context.Context, iteration int, item *WorkItem, story *Story, index, total int) (string, error) {
	item.Status = StatusInProgress
	c.publish(event.NewWorkItemStartedEvent(c.state.RunID, iteration, index, total, item.Label))

	recent := c.log.Window(c.state.WindowSize)
	var output string
	err := c.call(ctx, callExecuteTask, func(ctx context.Context) error {
		var err error
		output, err = c.executor.Execute(ctx, ExecuteRequest{
			Goal:     c.state.Goal,
			Item:     *item,
			Story:    story,
			Progress: c.state.ProgressSummary,
			Recent:   recent,
			Marker:   c.state.Marker,
			Model:    c.state.Model,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	item.Status = StatusCompleted
	// Only the result turn enters the log; the item's instruction travels
	// in the request and would double the window's growth rate otherwise.
	c.host.RecordHistory(c.log.Append(transcript.RoleAssistant, output))
	return output, nil
}

// planStories asks the planner for the full story breakdown. An empty
// breakdown is a contract violation, retried like any call failure.
func (c *Controller) planStories(ctx context.Context) ([]Story, error) {
	var stories []Story
	err := c.call(ctx, callPlanStories, func(ctx context.Context) error {
		var err error
		stories, err = c.planner.PlanStories(ctx, PlanStoriesRequest{
			Goal:  c.state.Goal,
			Model: c.state.Model,
		})
		if err != nil {
			return err
		}
		if len(stories) == 0 {
			return errors.NewContractError(callPlanStories, "empty story list")
		}
		return nil
	})
	return stories, err
}

// planWork asks the planner for this iteration's work items, scoped to
// the active story when one is set.
func (c *Controller) planWork(ctx context.Context, story *Story, iteration int) ([]WorkItem, error) {
	recent := c.log.Window(c.state.WindowSize)
	var items []WorkItem
	err := c.call(ctx, callPlanWork, func(ctx context.Context) error {
		var err error
		items, err = c.planner.PlanWork(ctx, PlanWorkRequest{
			Goal:      c.state.Goal,
			Story:     story,
			Progress:  c.state.ProgressSummary,
			Recent:    recent,
			Iteration: iteration,
			Model:     c.state.Model,
		})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return errors.NewContractError(callPlanWork, "empty work item list")
		}
		return nil
	})
	return items, err
}

func (c *Controller) evaluateStory(ctx context.Context, story *Story) (StoryVerdict, error) {
	recent := c.log.Window(c.state.WindowSize)
	var verdict StoryVerdict
	err := c.call(ctx, callEvaluateStory, func(ctx context.Context) error {
		var err error
		verdict, err = c.evaluator.EvaluateStory(ctx, EvaluateStoryRequest{
			Goal:     c.state.Goal,
			Story:    *story,
			Progress: c.state.ProgressSummary,
			Recent:   recent,
			Model:    c.state.Model,
		})
		return err
	})
	return verdict, err
}

func (c *Controller) evaluateRun(ctx context.Context) (RunVerdict, error) {
	recent := c.log.Window(c.state.WindowSize)
	var verdict RunVerdict
	err := c.call(ctx, callEvaluateRun, func(ctx context.Context) error {
		var err error
		verdict, err = c.evaluator.EvaluateRun(ctx, EvaluateRunRequest{
			Goal:     c.state.Goal,
			Progress: c.state.ProgressSummary,
			Recent:   recent,
			Marker:   c.state.Marker,
			Model:    c.state.Model,
		})
		return err
	})
	return verdict, err
}

// call issues one external call through the host's retry discipline.
func (c *Controller) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return c.host.ExecuteCall(ctx, durable.CallOptions{
		Name:  name,
		RunID: c.state.RunID,
	}, fn)
}

// continueAsNew checkpoints a deep copy of the current state and ends
// this execution.
func (c *Controller) continueAsNew() error {
	c.state.Transcript = c.log.Entries()
	snapshot := c.state.Clone()

	if err := c.host.StartContinuation(c.state.RunID, snapshot); err != nil {
		return fmt.Errorf("continuation hand-off: %w", err)
	}

	c.publish(event.NewContinuationEvent(c.state.RunID, c.state.Iteration))
	c.logger.Info("continuing as new execution",
		"iteration", c.state.Iteration,
		"transcript_entries", len(snapshot.Transcript))
	return ErrContinueAsNew
}

// finish builds the terminal result. Completed reflects why the run
// exited; CompletionDetected reflects only the syntactic marker check on
// the final response, and the two may disagree.
func (c *Controller) finish(completed bool, finalResponse string) RunResult {
	result := RunResult{
		Completed:          completed,
		IterationsUsed:     c.state.Iteration,
		FinalResponse:      finalResponse,
		CompletionDetected: promise.Detected(finalResponse, c.state.Marker),
	}
	c.commit(nil)
	c.publish(event.NewRunCompletedEvent(c.state.RunID, result.Completed, result.CompletionDetected, result.IterationsUsed))
	c.logger.Info("run finished",
		"completed", result.Completed,
		"completion_detected", result.CompletionDetected,
		"iterations_used", result.IterationsUsed)
	return result
}

// recordFinal appends the closing response to the transcript and emits
// the promise event when the marker is present.
func (c *Controller) recordFinal(finalResponse string, iteration int) {
	if finalResponse != "" {
		c.host.RecordHistory(c.log.Append(transcript.RoleAssistant, finalResponse))
	}
	if promise.Detected(finalResponse, c.state.Marker) {
		c.publish(event.NewPromiseFoundEvent(c.state.RunID, iteration))
	}
}

// appendProgress extends the cumulative progress summary. The summary
// only grows; it is never truncated or windowed.
func (c *Controller) appendProgress(update string) {
	if update == "" {
		return
	}
	if c.state.ProgressSummary != "" {
		c.state.ProgressSummary += "\n"
	}
	c.state.ProgressSummary += update
	c.host.RecordHistory(len(update))
}

func (c *Controller) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// commit snapshots the live state for query readers. Items, when non-nil,
// replaces the committed work-item batch.
func (c *Controller) commit(items []WorkItem) {
	c.state.Transcript = c.log.Entries()
	snapshot := c.state.Clone()

	c.mu.Lock()
	c.committed = snapshot
	if items != nil {
		c.committedItems = make([]WorkItem, len(items))
		copy(c.committedItems, items)
	}
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Query Interface
// -----------------------------------------------------------------------------
//
// Read-only accessors answerable at any point while the run executes.
// They serve the most recently committed snapshot and never block on or
// mutate the live state.

// CurrentIteration returns the number of completed iterations.
func (c *Controller) CurrentIteration() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.committed.Iteration
}

// Transcript returns a copy of the full committed transcript.
func (c *Controller) Transcript() []transcript.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]transcript.Entry, len(c.committed.Transcript))
	copy(out, c.committed.Transcript)
	return out
}

// Plan returns a copy of the committed story plan, or nil when the run
// has no story breakdown.
func (c *Controller) Plan() *Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.committed.Plan.Clone()
}

// ProgressSummary returns the committed cumulative progress summary.
func (c *Controller) ProgressSummary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.committed.ProgressSummary
}

// CurrentWorkItems returns a copy of the most recently committed
// work-item batch.
func (c *Controller) CurrentWorkItems() []WorkItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]WorkItem, len(c.committedItems))
	copy(out, c.committedItems)
	return out
}
