package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/loop"
)

// Planner implements loop.Planner over a reasoning Service.
type Planner struct {
	service Service
}

// NewPlanner creates a Planner.
func NewPlanner(service Service) *Planner {
	return &Planner{service: service}
}

// PlanStories asks the service for the full ordered story breakdown.
func (p *Planner) PlanStories(ctx context.Context, req loop.PlanStoriesRequest) ([]loop.Story, error) {
	output, err := p.service.Complete(ctx, Request{
		System: planStoriesSystem,
		Prompt: fmt.Sprintf("## Goal\n%s\n", req.Goal),
		Model:  req.Model,
	})
	if err != nil {
		return nil, err
	}

	var payload storiesPayload
	if err := decodeStructured("generate_prd", output, &payload); err != nil {
		return nil, err
	}

	stories := make([]loop.Story, 0, len(payload.Stories))
	for i, s := range payload.Stories {
		if strings.TrimSpace(s.Title) == "" {
			return nil, errors.NewContractError("generate_prd", fmt.Sprintf("story %d missing title", i+1))
		}
		stories = append(stories, loop.Story{
			ID:          fmt.Sprintf("story-%d", i+1),
			Title:       strings.TrimSpace(s.Title),
			Description: strings.TrimSpace(s.Description),
			Status:      loop.StatusPending,
		})
	}
	return stories, nil
}

// PlanWork asks the service for this iteration's ordered work items.
func (p *Planner) PlanWork(ctx context.Context, req loop.PlanWorkRequest) ([]loop.WorkItem, error) {
	output, err := p.service.Complete(ctx, Request{
		System:   planWorkSystem,
		Messages: req.Recent,
		Prompt:   planWorkPrompt(req),
		Model:    req.Model,
	})
	if err != nil {
		return nil, err
	}

	var payload tasksPayload
	if err := decodeStructured("generate_tasks", output, &payload); err != nil {
		return nil, err
	}

	items := make([]loop.WorkItem, 0, len(payload.Tasks))
	for i, t := range payload.Tasks {
		if strings.TrimSpace(t.Content) == "" {
			return nil, errors.NewContractError("generate_tasks", fmt.Sprintf("task %d has empty content", i+1))
		}
		items = append(items, loop.WorkItem{
			Content: strings.TrimSpace(t.Content),
			Label:   strings.TrimSpace(t.Label),
			Status:  loop.StatusPending,
		})
	}
	return items, nil
}
