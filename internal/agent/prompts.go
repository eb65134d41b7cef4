package agent

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/loop"
	"github.com/Iron-Ham/ralphloop/internal/promise"
)

// planStoriesSystem instructs the breakdown of a goal into ordered,
// independently-completable stories.
const planStoriesSystem = `Break the user's goal into a short ordered list of stories.
Each story is an independently-completable deliverable with a title and a
description detailed enough to plan concrete tasks from later.
Stories will be worked strictly in the order you list them.

Respond with ONLY a JSON object in this exact shape:
{"stories": [{"title": "...", "description": "..."}]}`

// planWorkSystem instructs per-iteration task planning. The planner must
// never propose completion-signaling tasks; that is the evaluator's job.
const planWorkSystem = `Break the current objective into 2-5 distinct, actionable tasks
for this iteration. Each task is a single concrete step. Do NOT propose
tasks whose purpose is declaring or signaling completion.

Respond with ONLY a JSON object in this exact shape:
{"tasks": [{"content": "...", "label": "2-3 word summary"}]}`

// planWorkPrompt builds the user turn for work planning.
func planWorkPrompt(req loop.PlanWorkRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Goal\n%s\n", req.Goal)
	if req.Story != nil {
		fmt.Fprintf(&b, "\n## Current Story\n%s\n", req.Story.Context())
		b.WriteString("\nPlan tasks for THIS story only. Do not touch other stories;\n")
		b.WriteString("do not revise previous iterations' work unless this story requires it.\n")
	}
	if req.Progress != "" {
		fmt.Fprintf(&b, "\n## Progress So Far\n%s\n", req.Progress)
	}
	fmt.Fprintf(&b, "\nThis is iteration %d.\n", req.Iteration)
	return b.String()
}

// executeSystem frames one work item and states the completion protocol,
// mirroring the iteration prompt the loop has always used.
func executeSystem(req loop.ExecuteRequest, iteration string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s\n\n", req.Goal)
	if req.Story != nil {
		fmt.Fprintf(&b, "## Current Story\n%s\n\n", req.Story.Context())
	}
	b.WriteString("## Completion Promise\n\n")
	b.WriteString("When you have FULLY completed the task, output the following to signal completion:\n\n")
	fmt.Fprintf(&b, "%s\n\n", promise.Tag(req.Marker))
	b.WriteString("**Rules:**\n")
	fmt.Fprintf(&b, "- The promise tag must contain ONLY the exact phrase %q, nothing else\n", req.Marker)
	b.WriteString("- Do NOT put descriptions, summaries, or explanations inside the promise tag\n")
	b.WriteString("- Only output the promise when the ENTIRE task is complete, not just this step\n\n")
	fmt.Fprintf(&b, "## Current Status\n%s\n", iteration)
	if req.Progress != "" {
		fmt.Fprintf(&b, "\n## Progress So Far\n%s\n", req.Progress)
	}
	return b.String()
}

// executePrompt builds the user turn for one work item.
func executePrompt(req loop.ExecuteRequest) string {
	return fmt.Sprintf("Current step: %s\n\nFocus on completing THIS specific step. Build on the previous work shown above.", req.Item.Content)
}

// evaluateStorySystem asks for a structured story verdict.
const evaluateStorySystem = `Judge whether the current story is complete based on the work shown.
Be strict: incomplete or unverified work is not complete.

Respond with ONLY a JSON object in this exact shape:
{"is_complete": true|false, "summary": "what the story accomplished",
 "progress_update": "1-3 sentences of new progress to record"}`

// evaluateStoryPrompt builds the user turn for story evaluation.
func evaluateStoryPrompt(req loop.EvaluateStoryRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Goal\n%s\n\n## Story Under Evaluation\n%s\n", req.Goal, req.Story.Context())
	if req.Progress != "" {
		fmt.Fprintf(&b, "\n## Progress So Far\n%s\n", req.Progress)
	}
	b.WriteString("\nIs this story complete?\n")
	return b.String()
}

// evaluateRunSystem asks for a structured whole-goal verdict. The final
// response must carry the exact promise tag when done.
func evaluateRunSystem(marker string) string {
	return fmt.Sprintf(`Judge whether the user's goal is fully satisfied based on the work shown.
Be strict: incomplete or unverified work is not complete.

Respond with ONLY a JSON object in this exact shape:
{"is_complete": true|false, "updated_progress": "1-3 sentences of new progress",
 "final_response": "closing message"}

If and only if the goal is complete, end final_response with exactly:
%s`, promise.Tag(marker))
}

// evaluateRunPrompt builds the user turn for run-level evaluation.
func evaluateRunPrompt(goal, progress string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Goal\n%s\n", goal)
	if progress != "" {
		fmt.Fprintf(&b, "\n## Progress So Far\n%s\n", progress)
	}
	b.WriteString("\nIs the goal fully satisfied?\n")
	return b.String()
}

// evaluateOverallPrompt builds the user turn for the final confirmation
// over a completed story plan.
func evaluateOverallPrompt(req loop.EvaluateOverallRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Goal\n%s\n\n## Completed Stories\n", req.Goal)
	for _, s := range req.Stories {
		fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.CompletionSummary)
	}
	if req.Progress != "" {
		fmt.Fprintf(&b, "\n## Progress Log\n%s\n", req.Progress)
	}
	b.WriteString("\nEvery story has been judged complete. Confirm the overall goal is satisfied.\n")
	return b.String()
}
