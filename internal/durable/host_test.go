package durable

import (
	"context"
	"testing"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/checkpoint"
	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/event"
)

func newTestHost(t *testing.T) *LocalHost {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	host, err := NewLocalHost(LocalHostOptions{
		Store:            store,
		HistoryThreshold: 100,
	})
	if err != nil {
		t.Fatalf("NewLocalHost: %v", err)
	}
	// No real sleeps in tests.
	host.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return host
}

func TestRetryPolicyInterval(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second}, // 32s capped
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Interval(tt.attempt); got != tt.expected {
			t.Errorf("Interval(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestExecuteCallSucceedsFirstAttempt(t *testing.T) {
	host := newTestHost(t)

	calls := 0
	err := host.ExecuteCall(context.Background(), CallOptions{Name: "execute_task"}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteCall: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecuteCallRetriesTransientFailure(t *testing.T) {
	host := newTestHost(t)

	calls := 0
	err := host.ExecuteCall(context.Background(), CallOptions{Name: "generate_tasks"}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteCallExhaustsRetries(t *testing.T) {
	host := newTestHost(t)

	calls := 0
	err := host.ExecuteCall(context.Background(), CallOptions{Name: "execute_task"}, func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, errors.ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}

	var callErr *errors.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %T", err)
	}
	if callErr.Call != "execute_task" || callErr.Attempts != 3 {
		t.Errorf("unexpected CallError: %+v", callErr)
	}
}

func TestExecuteCallContractViolationIsRetried(t *testing.T) {
	host := newTestHost(t)

	calls := 0
	err := host.ExecuteCall(context.Background(), CallOptions{Name: "evaluate_story"}, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.NewContractError("evaluate_story", "missing is_complete")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after malformed first response, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestExecuteCallCancellationIsNotRetried(t *testing.T) {
	host := newTestHost(t)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := host.ExecuteCall(ctx, CallOptions{Name: "execute_task"}, func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected error on cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, errors.ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}
}

func TestExecuteCallPublishesRetryEvents(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	bus := event.NewBus()
	host, err := NewLocalHost(LocalHostOptions{Store: store, Bus: bus})
	if err != nil {
		t.Fatalf("NewLocalHost: %v", err)
	}
	host.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	var retries []event.CallRetryEvent
	bus.Subscribe("call.retry", func(e event.Event) {
		retries = append(retries, e.(event.CallRetryEvent))
	})

	calls := 0
	_ = host.ExecuteCall(context.Background(), CallOptions{Name: "execute_task", RunID: "run-1"}, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})

	if len(retries) != 1 {
		t.Fatalf("expected 1 retry event, got %d", len(retries))
	}
	if retries[0].Call != "execute_task" || retries[0].Attempt != 1 || retries[0].RunID != "run-1" {
		t.Errorf("unexpected retry event: %+v", retries[0])
	}
}

func TestConfiguredCallTimeoutBoundsAttempts(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	host, err := NewLocalHost(LocalHostOptions{
		Store:       store,
		CallTimeout: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewLocalHost: %v", err)
	}
	host.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	var remaining time.Duration
	err = host.ExecuteCall(context.Background(), CallOptions{Name: "execute_task"}, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("attempt context should carry a deadline")
		}
		remaining = time.Until(deadline)
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteCall: %v", err)
	}
	if remaining <= 4*time.Minute || remaining > 5*time.Minute {
		t.Errorf("deadline should reflect the host's 5m timeout, got %v remaining", remaining)
	}

	// A per-call timeout still overrides the host default.
	err = host.ExecuteCall(context.Background(), CallOptions{Name: "execute_task", Timeout: time.Minute}, func(ctx context.Context) error {
		deadline, _ := ctx.Deadline()
		remaining = time.Until(deadline)
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteCall with override: %v", err)
	}
	if remaining > time.Minute {
		t.Errorf("per-call timeout should win, got %v remaining", remaining)
	}
}

func TestHistoryAccountingAndContinuation(t *testing.T) {
	host := newTestHost(t)

	if host.ShouldContinueAsNew() {
		t.Error("fresh host should not request continuation")
	}

	host.RecordHistory(60)
	if host.ShouldContinueAsNew() {
		t.Error("below threshold should not request continuation")
	}

	host.RecordHistory(50)
	if !host.ShouldContinueAsNew() {
		t.Error("crossing threshold should request continuation")
	}

	state := map[string]any{"run_id": "run-x", "iteration": 4}
	if err := host.StartContinuation("run-x", state); err != nil {
		t.Fatalf("StartContinuation: %v", err)
	}

	// Counter resets for the successor execution.
	if host.ShouldContinueAsNew() {
		t.Error("history counter should reset after continuation")
	}
	if host.HistoryBytes() != 0 {
		t.Errorf("expected 0 history bytes, got %d", host.HistoryBytes())
	}

	var out map[string]any
	if err := host.store.Load("run-x", &out); err != nil {
		t.Fatalf("Load checkpoint: %v", err)
	}
	if out["run_id"] != "run-x" {
		t.Errorf("unexpected checkpoint: %v", out)
	}
}

func TestRecordHistoryIgnoresNonPositive(t *testing.T) {
	host := newTestHost(t)
	host.RecordHistory(-5)
	host.RecordHistory(0)
	if host.HistoryBytes() != 0 {
		t.Errorf("expected 0, got %d", host.HistoryBytes())
	}
}
