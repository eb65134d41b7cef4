package agent

import (
	"context"

	"github.com/Iron-Ham/ralphloop/internal/loop"
)

// Evaluator implements loop.Evaluator over a reasoning Service. Verdicts
// come from structured output only; the evaluator never scans its own
// prose for completion signals.
type Evaluator struct {
	service Service
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(service Service) *Evaluator {
	return &Evaluator{service: service}
}

// EvaluateStory judges one story's completion.
func (e *Evaluator) EvaluateStory(ctx context.Context, req loop.EvaluateStoryRequest) (loop.StoryVerdict, error) {
	output, err := e.service.Complete(ctx, Request{
		System:   evaluateStorySystem,
		Messages: req.Recent,
		Prompt:   evaluateStoryPrompt(req),
		Model:    req.Model,
	})
	if err != nil {
		return loop.StoryVerdict{}, err
	}

	var payload storyVerdictPayload
	if err := decodeStructured("evaluate_story_completion", output, &payload); err != nil {
		return loop.StoryVerdict{}, err
	}
	if payload.IsComplete == nil {
		return loop.StoryVerdict{}, contractMissingField("evaluate_story_completion")
	}
	return loop.StoryVerdict{
		IsComplete:     *payload.IsComplete,
		Summary:        payload.Summary,
		ProgressUpdate: payload.ProgressUpdate,
	}, nil
}

// EvaluateRun judges whole-goal completion in modes without a story plan.
func (e *Evaluator) EvaluateRun(ctx context.Context, req loop.EvaluateRunRequest) (loop.RunVerdict, error) {
	output, err := e.service.Complete(ctx, Request{
		System:   evaluateRunSystem(req.Marker),
		Messages: req.Recent,
		Prompt:   evaluateRunPrompt(req.Goal, req.Progress),
		Model:    req.Model,
	})
	if err != nil {
		return loop.RunVerdict{}, err
	}
	return decodeRunVerdict("evaluate_completion", output)
}

// EvaluateOverall produces the final confirmation over a completed plan.
func (e *Evaluator) EvaluateOverall(ctx context.Context, req loop.EvaluateOverallRequest) (loop.RunVerdict, error) {
	output, err := e.service.Complete(ctx, Request{
		System: evaluateRunSystem(req.Marker),
		Prompt: evaluateOverallPrompt(req),
		Model:  req.Model,
	})
	if err != nil {
		return loop.RunVerdict{}, err
	}
	return decodeRunVerdict("evaluate_overall_completion", output)
}

func decodeRunVerdict(call, output string) (loop.RunVerdict, error) {
	var payload runVerdictPayload
	if err := decodeStructured(call, output, &payload); err != nil {
		return loop.RunVerdict{}, err
	}
	if payload.IsComplete == nil {
		return loop.RunVerdict{}, contractMissingField(call)
	}
	return loop.RunVerdict{
		Done:            *payload.IsComplete,
		UpdatedProgress: payload.UpdatedProgress,
		FinalResponse:   payload.FinalResponse,
	}, nil
}
