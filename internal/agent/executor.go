package agent

import (
	"context"

	"github.com/Iron-Ham/ralphloop/internal/loop"
)

// Executor implements loop.Executor over a reasoning Service.
type Executor struct {
	service Service
}

// NewExecutor creates an Executor.
func NewExecutor(service Service) *Executor {
	return &Executor{service: service}
}

// Execute performs one work item and returns the full response text. The
// response is free text; any promise check on it belongs to the caller.
func (e *Executor) Execute(ctx context.Context, req loop.ExecuteRequest) (string, error) {
	iteration := "Continue working on the task. Review your previous work above and make progress."
	if len(req.Recent) == 0 {
		iteration = "This is the FIRST step. Start by understanding the task and beginning work."
	}

	return e.service.Complete(ctx, Request{
		System:   executeSystem(req, iteration),
		Messages: req.Recent,
		Prompt:   executePrompt(req),
		Model:    req.Model,
	})
}
