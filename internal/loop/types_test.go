package loop

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/ralphloop/internal/transcript"
)

func TestStatusIsValid(t *testing.T) {
	valid := []Status{StatusPending, StatusInProgress, StatusCompleted}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Status("failed").IsValid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestModeIsValid(t *testing.T) {
	for _, m := range []Mode{ModeSingle, ModeMulti, ModeStories} {
		if !m.IsValid() {
			t.Errorf("expected %q to be valid", m)
		}
	}
	if Mode("parallel").IsValid() {
		t.Error("expected unknown mode to be invalid")
	}
}

func TestNextIncompleteOrdering(t *testing.T) {
	plan := &Plan{Stories: []Story{
		{ID: "story-1", Status: StatusCompleted},
		{ID: "story-2", Status: StatusInProgress},
		{ID: "story-3", Status: StatusPending},
	}}

	next := plan.NextIncomplete()
	if next == nil || next.ID != "story-2" {
		t.Fatalf("expected story-2, got %v", next)
	}

	// An in_progress story left incomplete is re-selected.
	again := plan.NextIncomplete()
	if again == nil || again.ID != "story-2" {
		t.Fatalf("expected story-2 on re-selection, got %v", again)
	}

	next.Status = StatusCompleted
	if got := plan.NextIncomplete(); got == nil || got.ID != "story-3" {
		t.Fatalf("expected story-3, got %v", got)
	}

	plan.Stories[2].Status = StatusCompleted
	if got := plan.NextIncomplete(); got != nil {
		t.Errorf("expected nil when all complete, got %v", got)
	}
}

func TestAllComplete(t *testing.T) {
	var nilPlan *Plan
	if nilPlan.AllComplete() {
		t.Error("nil plan must not be complete")
	}
	if (&Plan{}).AllComplete() {
		t.Error("empty plan must not be complete")
	}

	plan := &Plan{Stories: []Story{
		{ID: "story-1", Status: StatusCompleted},
		{ID: "story-2", Status: StatusPending},
	}}
	if plan.AllComplete() {
		t.Error("plan with a pending story must not be complete")
	}

	plan.Stories[1].Status = StatusCompleted
	if !plan.AllComplete() {
		t.Error("plan with all stories completed must be complete")
	}
}

func TestRunStateCloneIsDeep(t *testing.T) {
	state := NewRunState("build the thing", "DONE", 5, "claude-haiku-4-5-20251001", ModeStories)
	state.Transcript = []transcript.Entry{{Role: transcript.RoleAssistant, Content: "one"}}
	state.Plan = &Plan{Stories: []Story{{ID: "story-1", Status: StatusPending}}}

	clone := state.Clone()
	state.Transcript[0].Content = "mutated"
	state.Plan.Stories[0].Status = StatusCompleted

	if clone.Transcript[0].Content != "one" {
		t.Error("clone aliased the transcript")
	}
	if clone.Plan.Stories[0].Status != StatusPending {
		t.Error("clone aliased the plan")
	}
}

func TestRunStateValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunState)
		ok     bool
	}{
		{"valid", func(s *RunState) {}, true},
		{"empty goal", func(s *RunState) { s.Goal = "" }, false},
		{"empty marker", func(s *RunState) { s.Marker = "" }, false},
		{"zero budget", func(s *RunState) { s.MaxIterations = 0 }, false},
		{"bad mode", func(s *RunState) { s.Mode = "turbo" }, false},
		{"zero window", func(s *RunState) { s.WindowSize = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewRunState("goal", "DONE", 3, "m", ModeSingle)
			tt.mutate(state)
			err := state.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGenerateRunID(t *testing.T) {
	a, b := GenerateRunID(), GenerateRunID()
	if !strings.HasPrefix(a, "ralph-loop-") || len(a) != len("ralph-loop-")+8 {
		t.Errorf("unexpected run ID format: %q", a)
	}
	if a == b {
		t.Errorf("expected distinct run IDs, got %q twice", a)
	}
}
