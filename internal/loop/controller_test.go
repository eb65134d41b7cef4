package loop

import (
	"context"
	"fmt"
	"testing"

	"github.com/Iron-Ham/ralphloop/internal/durable"
	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/event"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

// fakeHost applies the retry discipline inline with no sleeps and records
// continuation checkpoints.
type fakeHost struct {
	maxAttempts   int
	continueAt    int // request continuation once history reaches this, 0 = never
	history       int
	checkpoints   []*RunState
	recordedCalls []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{maxAttempts: 3}
}

func (h *fakeHost) ExecuteCall(ctx context.Context, opts durable.CallOptions, fn func(ctx context.Context) error) error {
	h.recordedCalls = append(h.recordedCalls, opts.Name)
	var last error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		if !errors.IsRetryable(err) {
			return errors.NewCallError(opts.Name, attempt, err)
		}
	}
	return errors.NewCallError(opts.Name, h.maxAttempts, errors.Join(errors.ErrRetriesExhausted, last))
}

func (h *fakeHost) RecordHistory(n int) {
	if n > 0 {
		h.history += n
	}
}

func (h *fakeHost) ShouldContinueAsNew() bool {
	return h.continueAt > 0 && h.history >= h.continueAt
}

func (h *fakeHost) StartContinuation(runID string, state any) error {
	h.checkpoints = append(h.checkpoints, state.(*RunState))
	h.history = 0
	return nil
}

// scriptedExecutor returns canned responses in order, repeating the last
// one when the script runs out.
type scriptedExecutor struct {
	responses []string
	requests  []ExecuteRequest
}

func (e *scriptedExecutor) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	e.requests = append(e.requests, req)
	i := len(e.requests) - 1
	if i >= len(e.responses) {
		i = len(e.responses) - 1
	}
	return e.responses[i], nil
}

// fakePlanner serves a fixed story breakdown and a fixed number of work
// items per iteration.
type fakePlanner struct {
	stories      []Story
	itemsPerCall int
	workRequests []PlanWorkRequest
}

func (p *fakePlanner) PlanStories(ctx context.Context, req PlanStoriesRequest) ([]Story, error) {
	out := make([]Story, len(p.stories))
	copy(out, p.stories)
	return out, nil
}

func (p *fakePlanner) PlanWork(ctx context.Context, req PlanWorkRequest) ([]WorkItem, error) {
	p.workRequests = append(p.workRequests, req)
	n := p.itemsPerCall
	if n <= 0 {
		n = 1
	}
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = WorkItem{
			Content: fmt.Sprintf("iteration %d item %d", req.Iteration, i+1),
			Status:  StatusPending,
		}
	}
	return items, nil
}

// scriptedEvaluator returns story verdicts keyed by story ID, consuming
// one verdict per evaluation, and fixed run-level verdicts.
type scriptedEvaluator struct {
	storyVerdicts   map[string][]StoryVerdict
	runVerdicts     []RunVerdict
	overallVerdict  RunVerdict
	overallRequests []EvaluateOverallRequest
	runCalls        int
}

func (e *scriptedEvaluator) EvaluateStory(ctx context.Context, req EvaluateStoryRequest) (StoryVerdict, error) {
	queue := e.storyVerdicts[req.Story.ID]
	if len(queue) == 0 {
		return StoryVerdict{IsComplete: true, Summary: "done"}, nil
	}
	v := queue[0]
	e.storyVerdicts[req.Story.ID] = queue[1:]
	return v, nil
}

func (e *scriptedEvaluator) EvaluateRun(ctx context.Context, req EvaluateRunRequest) (RunVerdict, error) {
	i := e.runCalls
	e.runCalls++
	if i >= len(e.runVerdicts) {
		i = len(e.runVerdicts) - 1
	}
	return e.runVerdicts[i], nil
}

func (e *scriptedEvaluator) EvaluateOverall(ctx context.Context, req EvaluateOverallRequest) (RunVerdict, error) {
	e.overallRequests = append(e.overallRequests, req)
	return e.overallVerdict, nil
}

func newController(t *testing.T, state *RunState, host durable.Host, planner Planner, executor Executor, evaluator Evaluator, bus *event.Bus) *Controller {
	t.Helper()
	c, err := NewController(state, Options{
		Host:      host,
		Planner:   planner,
		Executor:  executor,
		Evaluator: evaluator,
		Bus:       bus,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

// -----------------------------------------------------------------------------
// Scenarios
// -----------------------------------------------------------------------------

// Scenario A: single mode, executor emits the exact marker tag on its
// first call.
func TestSingleModeCompletesOnFirstIteration(t *testing.T) {
	state := NewRunState("write a haiku", "DONE", 20, "m", ModeSingle)
	executor := &scriptedExecutor{responses: []string{"Here is the haiku.\n<promise>DONE</promise>"}}
	c := newController(t, state, newFakeHost(), nil, executor, nil, nil)

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Completed || !result.CompletionDetected {
		t.Errorf("expected completed and detected, got %+v", result)
	}
	if result.IterationsUsed != 1 {
		t.Errorf("expected 1 iteration, got %d", result.IterationsUsed)
	}
}

// Scenario B: two stories, each completed in one pass, then one final
// overall evaluation that observes both completed.
func TestStoriesModeTwoStoriesOnePassEach(t *testing.T) {
	state := NewRunState("build two features", "SHIPPED", 10, "m", ModeStories)
	planner := &fakePlanner{
		stories: []Story{
			{ID: "story-1", Title: "First", Description: "do the first thing", Status: StatusPending},
			{ID: "story-2", Title: "Second", Description: "do the second thing", Status: StatusPending},
		},
		itemsPerCall: 2,
	}
	executor := &scriptedExecutor{responses: []string{"worked on it"}}
	evaluator := &scriptedEvaluator{
		storyVerdicts: map[string][]StoryVerdict{
			"story-1": {{IsComplete: true, Summary: "first done", ProgressUpdate: "finished first"}},
			"story-2": {{IsComplete: true, Summary: "second done", ProgressUpdate: "finished second"}},
		},
		overallVerdict: RunVerdict{Done: true, FinalResponse: "All finished. <promise>SHIPPED</promise>"},
	}
	c := newController(t, state, newFakeHost(), planner, executor, evaluator, nil)

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.IterationsUsed != 2 {
		t.Errorf("expected 2 iterations, got %d", result.IterationsUsed)
	}
	if !result.Completed || !result.CompletionDetected {
		t.Errorf("expected completed and detected, got %+v", result)
	}

	if len(evaluator.overallRequests) != 1 {
		t.Fatalf("expected 1 overall evaluation, got %d", len(evaluator.overallRequests))
	}
	for _, s := range evaluator.overallRequests[0].Stories {
		if s.Status != StatusCompleted {
			t.Errorf("overall evaluation saw story %s with status %s", s.ID, s.Status)
		}
	}

	// Story scoping: each work-planning call sees only the active story.
	for _, req := range planner.workRequests {
		if req.Story == nil {
			t.Fatal("work planning missing story scope")
		}
	}
	if planner.workRequests[0].Story.ID != "story-1" || planner.workRequests[1].Story.ID != "story-2" {
		t.Errorf("stories worked out of order: %v, %v",
			planner.workRequests[0].Story.ID, planner.workRequests[1].Story.ID)
	}
}

// Scenario C: evaluator never signals completion, budget of 3.
func TestBudgetExhaustion(t *testing.T) {
	state := NewRunState("impossible goal", "NEVER", 3, "m", ModeMulti)
	planner := &fakePlanner{itemsPerCall: 1}
	executor := &scriptedExecutor{responses: []string{"still trying"}}
	evaluator := &scriptedEvaluator{runVerdicts: []RunVerdict{{Done: false, UpdatedProgress: "no progress"}}}
	c := newController(t, state, newFakeHost(), planner, executor, evaluator, nil)

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Completed || result.CompletionDetected {
		t.Errorf("expected incomplete run, got %+v", result)
	}
	if result.IterationsUsed != 3 {
		t.Errorf("expected 3 iterations, got %d", result.IterationsUsed)
	}
	if result.FinalResponse != "still trying" {
		t.Errorf("expected last response as final, got %q", result.FinalResponse)
	}
}

// Scenario D: with window size 3, the Nth executor call sees
// min(N-1, 3) transcript entries as context.
func TestWindowGrowthAcrossCalls(t *testing.T) {
	state := NewRunState("keep going", "DONE", 6, "m", ModeSingle)
	executor := &scriptedExecutor{responses: []string{"no tag yet"}}
	c := newController(t, state, newFakeHost(), nil, executor, nil, nil)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(executor.requests) != 6 {
		t.Fatalf("expected 6 executor calls, got %d", len(executor.requests))
	}
	for n, req := range executor.requests {
		want := n // entries accumulated before call n+1
		if want > 3 {
			want = 3
		}
		if len(req.Recent) != want {
			t.Errorf("call %d: expected window of %d, got %d", n+1, want, len(req.Recent))
		}
	}
}

// Retry property: a story judged incomplete K times is re-selected K+1
// times and accounts for exactly K+1 iterations.
func TestStoryRetryReselection(t *testing.T) {
	const k = 2
	state := NewRunState("one stubborn story", "DONE", 10, "m", ModeStories)
	planner := &fakePlanner{
		stories:      []Story{{ID: "story-1", Title: "Only", Description: "the only story", Status: StatusPending}},
		itemsPerCall: 1,
	}
	executor := &scriptedExecutor{responses: []string{"attempted"}}
	evaluator := &scriptedEvaluator{
		storyVerdicts: map[string][]StoryVerdict{
			"story-1": {
				{IsComplete: false, ProgressUpdate: "not yet"},
				{IsComplete: false, ProgressUpdate: "closer"},
				{IsComplete: true, Summary: "finally", ProgressUpdate: "done"},
			},
		},
		overallVerdict: RunVerdict{Done: true, FinalResponse: "<promise>DONE</promise>"},
	}
	c := newController(t, state, newFakeHost(), planner, executor, evaluator, nil)

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.IterationsUsed != k+1 {
		t.Errorf("expected %d iterations, got %d", k+1, result.IterationsUsed)
	}
	if len(planner.workRequests) != k+1 {
		t.Fatalf("expected story selected %d times, got %d", k+1, len(planner.workRequests))
	}
	for _, req := range planner.workRequests {
		if req.Story.ID != "story-1" {
			t.Errorf("re-selection switched stories: %s", req.Story.ID)
		}
	}
}

// -----------------------------------------------------------------------------
// Completion protocol edge cases
// -----------------------------------------------------------------------------

// Bare prose containing the marker must not complete the run.
func TestBareMarkerDoesNotComplete(t *testing.T) {
	state := NewRunState("goal", "COMPLETE", 2, "m", ModeSingle)
	executor := &scriptedExecutor{responses: []string{"COMP is not COMPLETE", "still nothing"}}
	c := newController(t, state, newFakeHost(), nil, executor, nil, nil)

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Completed || result.CompletionDetected {
		t.Errorf("bare marker prose completed the run: %+v", result)
	}
	if result.IterationsUsed != 2 {
		t.Errorf("expected budget exhaustion at 2, got %d", result.IterationsUsed)
	}
}

// Ambiguous completion: verdict says done but the tag is absent. Both
// signals are surfaced as-is.
func TestVerdictWithoutTagSurfacesDisagreement(t *testing.T) {
	state := NewRunState("goal", "DONE", 5, "m", ModeMulti)
	planner := &fakePlanner{itemsPerCall: 1}
	executor := &scriptedExecutor{responses: []string{"work output"}}
	evaluator := &scriptedEvaluator{
		runVerdicts: []RunVerdict{{Done: true, FinalResponse: "I believe we are done now."}},
	}
	c := newController(t, state, newFakeHost(), planner, executor, evaluator, nil)

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Completed {
		t.Error("expected completed=true from the verdict")
	}
	if result.CompletionDetected {
		t.Error("expected completion_detected=false without the literal tag")
	}
}

// -----------------------------------------------------------------------------
// Failure semantics
// -----------------------------------------------------------------------------

type failingExecutor struct{ calls int }

func (e *failingExecutor) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	e.calls++
	return "", errors.New("service unavailable")
}

func TestExhaustedRetriesFailTheRun(t *testing.T) {
	state := NewRunState("goal", "DONE", 5, "m", ModeSingle)
	executor := &failingExecutor{}
	c := newController(t, state, newFakeHost(), nil, executor, nil, nil)

	_, err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected run failure")
	}
	if !errors.Is(err, errors.ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
	if executor.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", executor.calls)
	}
}

type emptyPlanner struct{ fakePlanner }

func (p *emptyPlanner) PlanWork(ctx context.Context, req PlanWorkRequest) ([]WorkItem, error) {
	return nil, nil
}

func TestEmptyWorkBatchIsContractViolation(t *testing.T) {
	state := NewRunState("goal", "DONE", 5, "m", ModeMulti)
	executor := &scriptedExecutor{responses: []string{"unused"}}
	evaluator := &scriptedEvaluator{runVerdicts: []RunVerdict{{}}}
	c := newController(t, state, newFakeHost(), &emptyPlanner{}, executor, evaluator, nil)

	_, err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected contract violation to fail the run")
	}
	if !errors.IsContractViolation(err) {
		t.Errorf("expected contract violation, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Continuation
// -----------------------------------------------------------------------------

func TestContinuationHandOffAndResume(t *testing.T) {
	state := NewRunState("long run", "DONE", 10, "m", ModeSingle)
	host := newFakeHost()
	host.continueAt = 20 // bytes of history
	executor := &scriptedExecutor{responses: []string{"a response well over twenty bytes long"}}
	bus := event.NewBus()
	var continuations int
	bus.Subscribe("run.continuation", func(event.Event) { continuations++ })

	c := newController(t, state, host, nil, executor, nil, bus)
	_, err := c.Run(context.Background())
	if !errors.Is(err, ErrContinueAsNew) {
		t.Fatalf("expected ErrContinueAsNew, got %v", err)
	}
	if continuations != 1 {
		t.Errorf("expected 1 continuation event, got %d", continuations)
	}
	if len(host.checkpoints) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(host.checkpoints))
	}

	snapshot := host.checkpoints[0]
	if snapshot.Iteration != 1 {
		t.Errorf("expected checkpoint at iteration 1, got %d", snapshot.Iteration)
	}
	if len(snapshot.Transcript) != 1 {
		t.Errorf("expected 1 transcript entry in checkpoint, got %d", len(snapshot.Transcript))
	}

	// Resume from the checkpoint: iteration counter and transcript carry
	// over, and the run can still finish.
	resumedExecutor := &scriptedExecutor{responses: []string{"<promise>DONE</promise>"}}
	resumed := newController(t, snapshot.Clone(), newFakeHost(), nil, resumedExecutor, nil, nil)
	result, err := resumed.Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if !result.Completed || result.IterationsUsed != 2 {
		t.Errorf("unexpected resumed result: %+v", result)
	}
	if len(resumedExecutor.requests[0].Recent) != 1 {
		t.Errorf("resumed run lost transcript context: window %d", len(resumedExecutor.requests[0].Recent))
	}
}

func TestCheckpointIsIndependentOfLiveState(t *testing.T) {
	state := NewRunState("long run", "DONE", 10, "m", ModeSingle)
	host := newFakeHost()
	host.continueAt = 1
	executor := &scriptedExecutor{responses: []string{"response"}}
	c := newController(t, state, host, nil, executor, nil, nil)

	_, err := c.Run(context.Background())
	if !errors.Is(err, ErrContinueAsNew) {
		t.Fatalf("expected ErrContinueAsNew, got %v", err)
	}

	// Mutating the live state must not reach the checkpoint.
	state.Transcript[0].Content = "mutated"
	if host.checkpoints[0].Transcript[0].Content != "response" {
		t.Error("checkpoint aliased live transcript")
	}
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

func TestQueriesReflectCommittedState(t *testing.T) {
	state := NewRunState("goal", "DONE", 4, "m", ModeMulti)
	planner := &fakePlanner{itemsPerCall: 2}
	executor := &scriptedExecutor{responses: []string{"out"}}
	evaluator := &scriptedEvaluator{runVerdicts: []RunVerdict{
		{Done: false, UpdatedProgress: "made progress"},
		{Done: true, FinalResponse: "<promise>DONE</promise>"},
	}}
	c := newController(t, state, newFakeHost(), planner, executor, evaluator, nil)

	if c.CurrentIteration() != 0 {
		t.Errorf("expected iteration 0 before run, got %d", c.CurrentIteration())
	}
	if c.Plan() != nil {
		t.Error("expected nil plan in multi mode")
	}

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.IterationsUsed != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.IterationsUsed)
	}

	if c.CurrentIteration() != 2 {
		t.Errorf("expected committed iteration 2, got %d", c.CurrentIteration())
	}
	if got := c.ProgressSummary(); got != "made progress" {
		t.Errorf("unexpected progress summary: %q", got)
	}
	if items := c.CurrentWorkItems(); len(items) != 2 {
		t.Errorf("expected committed batch of 2, got %d", len(items))
	}
	// Final response is appended to the transcript: 4 work outputs + 1.
	if entries := c.Transcript(); len(entries) != 5 {
		t.Errorf("expected 5 transcript entries, got %d", len(entries))
	}

	// Query results are copies; mutating them must not corrupt state.
	tr := c.Transcript()
	tr[0].Content = "mutated"
	if c.Transcript()[0].Content == "mutated" {
		t.Error("Transcript query leaked internal state")
	}
}

func TestQueriesDuringStoriesRun(t *testing.T) {
	state := NewRunState("goal", "DONE", 10, "m", ModeStories)
	planner := &fakePlanner{
		stories:      []Story{{ID: "story-1", Title: "Only", Description: "d", Status: StatusPending}},
		itemsPerCall: 1,
	}
	executor := &scriptedExecutor{responses: []string{"out"}}
	evaluator := &scriptedEvaluator{
		storyVerdicts:  map[string][]StoryVerdict{"story-1": {{IsComplete: true, Summary: "s"}}},
		overallVerdict: RunVerdict{Done: true, FinalResponse: "<promise>DONE</promise>"},
	}
	c := newController(t, state, newFakeHost(), planner, executor, evaluator, nil)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	plan := c.Plan()
	if plan == nil || len(plan.Stories) != 1 {
		t.Fatalf("expected committed plan with 1 story, got %v", plan)
	}
	if plan.Stories[0].Status != StatusCompleted {
		t.Errorf("expected committed story completed, got %s", plan.Stories[0].Status)
	}
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

func TestRunPublishesLifecycleEvents(t *testing.T) {
	state := NewRunState("goal", "DONE", 5, "m", ModeStories)
	planner := &fakePlanner{
		stories:      []Story{{ID: "story-1", Title: "Only", Description: "d", Status: StatusPending}},
		itemsPerCall: 2,
	}
	executor := &scriptedExecutor{responses: []string{"out"}}
	evaluator := &scriptedEvaluator{
		storyVerdicts:  map[string][]StoryVerdict{"story-1": {{IsComplete: true, Summary: "s"}}},
		overallVerdict: RunVerdict{Done: true, FinalResponse: "<promise>DONE</promise>"},
	}

	bus := event.NewBus()
	var types []string
	bus.SubscribeAll(func(e event.Event) { types = append(types, e.EventType()) })

	c := newController(t, state, newFakeHost(), planner, executor, evaluator, bus)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts := map[string]int{}
	for _, tp := range types {
		counts[tp]++
	}
	expected := map[string]int{
		"story.started":       1,
		"iteration.started":   1,
		"workitem.started":    2,
		"story.completed":     1,
		"iteration.completed": 1,
		"run.promise_found":   1,
		"run.completed":       1,
	}
	for tp, want := range expected {
		if counts[tp] != want {
			t.Errorf("expected %d %s events, got %d", want, tp, counts[tp])
		}
	}
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

func TestNewControllerValidation(t *testing.T) {
	executor := &scriptedExecutor{responses: []string{"x"}}

	if _, err := NewController(nil, Options{Host: newFakeHost(), Executor: executor}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil state, got %v", err)
	}

	state := NewRunState("goal", "DONE", 3, "m", ModeMulti)
	if _, err := NewController(state, Options{Host: newFakeHost(), Executor: executor}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing planner, got %v", err)
	}

	single := NewRunState("goal", "DONE", 3, "m", ModeSingle)
	if _, err := NewController(single, Options{Host: newFakeHost(), Executor: executor}); err != nil {
		t.Errorf("single mode should not require a planner: %v", err)
	}
}
