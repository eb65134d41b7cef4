// Package durable is the execution substrate underneath the loop
// controller. It owns the concerns a workflow engine would: retrying
// external calls with backoff and per-call timeouts, accounting for
// accumulated history size, and checkpointing state for a
// continue-as-new hand-off when the history grows past a threshold.
//
// The controller sees only the Host interface; LocalHost implements it
// on top of the filesystem checkpoint store for single-process runs.
package durable

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/checkpoint"
	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/event"
	"github.com/Iron-Ham/ralphloop/internal/logging"
)

// DefaultHistoryThreshold is the accumulated-history byte count past
// which a run hands off to a fresh logical execution.
const DefaultHistoryThreshold = 1 << 20 // 1 MiB

// DefaultCallTimeout bounds a single external call attempt.
const DefaultCallTimeout = 10 * time.Minute

// CallOptions configures one external call issued through a Host.
type CallOptions struct {
	// Name is the logical call name used in errors, events, and logs,
	// e.g. "generate_tasks" or "execute_task".
	Name string

	// RunID attributes retry events to a run.
	RunID string

	// Timeout bounds each individual attempt. Zero means the host's
	// configured call timeout.
	Timeout time.Duration

	// Policy overrides the host's retry policy when MaxAttempts > 0.
	Policy RetryPolicy
}

// Host is the substrate the loop controller runs on.
type Host interface {
	// ExecuteCall runs fn with the host's retry and timeout discipline.
	// On exhaustion it returns a CallError wrapping ErrRetriesExhausted.
	ExecuteCall(ctx context.Context, opts CallOptions, fn func(ctx context.Context) error) error

	// RecordHistory adds n bytes to the run's history accounting.
	RecordHistory(n int)

	// ShouldContinueAsNew reports whether accumulated history has crossed
	// the continuation threshold.
	ShouldContinueAsNew() bool

	// StartContinuation persists state as the checkpoint a fresh logical
	// execution will resume from.
	StartContinuation(runID string, state any) error
}

// LocalHost implements Host for a single-process run: retries happen
// in-line with real sleeps, and continuations are checkpoints on disk
// that the caller's outer loop reloads.
type LocalHost struct {
	store     *checkpoint.Store
	threshold int
	policy    RetryPolicy
	timeout   time.Duration
	logger    *logging.Logger
	bus       *event.Bus

	history int

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// LocalHostOptions configures a LocalHost.
type LocalHostOptions struct {
	// Store receives continuation checkpoints. Required.
	Store *checkpoint.Store

	// HistoryThreshold in bytes; zero means DefaultHistoryThreshold.
	HistoryThreshold int

	// Policy is the default retry policy; a zero value means
	// DefaultRetryPolicy.
	Policy RetryPolicy

	// CallTimeout bounds each call attempt unless the call's own options
	// override it; zero means DefaultCallTimeout.
	CallTimeout time.Duration

	// Logger may be nil.
	Logger *logging.Logger

	// Bus receives call.retry events; may be nil.
	Bus *event.Bus
}

// NewLocalHost creates a LocalHost.
func NewLocalHost(opts LocalHostOptions) (*LocalHost, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("checkpoint store is required: %w", errors.ErrInvalidInput)
	}
	if opts.HistoryThreshold <= 0 {
		opts.HistoryThreshold = DefaultHistoryThreshold
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &LocalHost{
		store:     opts.Store,
		threshold: opts.HistoryThreshold,
		policy:    opts.Policy,
		timeout:   opts.CallTimeout,
		logger:    opts.Logger,
		bus:       opts.Bus,
		sleep:     sleepContext,
	}, nil
}

// ExecuteCall runs fn under the retry policy, bounding each attempt with
// the call timeout. Context cancellation aborts immediately and is never
// retried.
func (h *LocalHost) ExecuteCall(ctx context.Context, opts CallOptions, fn func(ctx context.Context) error) error {
	policy := opts.Policy
	if policy.MaxAttempts <= 0 {
		policy = h.policy
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.NewCallError(opts.Name, attempt, errors.Join(errors.ErrCanceled, ctx.Err()))
		}
		if callCtx.Err() == context.DeadlineExceeded {
			err = errors.Join(errors.ErrTimeout, err)
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return errors.NewCallError(opts.Name, attempt, err)
		}
		if attempt == policy.MaxAttempts {
			break
		}

		interval := policy.Interval(attempt)
		h.logger.Warn("call attempt failed, retrying",
			"call", opts.Name,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff", interval.String(),
			"error", err)
		if h.bus != nil {
			h.bus.Publish(event.NewCallRetryEvent(opts.RunID, opts.Name, attempt, err.Error()))
		}
		if err := h.sleep(ctx, interval); err != nil {
			return errors.NewCallError(opts.Name, attempt, errors.Join(errors.ErrCanceled, err))
		}
	}

	return errors.NewCallError(opts.Name, policy.MaxAttempts,
		errors.Join(errors.ErrRetriesExhausted, lastErr))
}

// RecordHistory adds n bytes to the history counter.
func (h *LocalHost) RecordHistory(n int) {
	if n > 0 {
		h.history += n
	}
}

// ShouldContinueAsNew reports whether the history counter has crossed
// the threshold.
func (h *LocalHost) ShouldContinueAsNew() bool {
	return h.history >= h.threshold
}

// StartContinuation writes the continuation checkpoint and resets the
// history counter for the successor execution.
func (h *LocalHost) StartContinuation(runID string, state any) error {
	if err := h.store.Save(runID, state); err != nil {
		return fmt.Errorf("save continuation checkpoint: %w", err)
	}
	h.logger.Info("continuation checkpoint written",
		"run_id", runID,
		"history_bytes", h.history,
		"threshold", h.threshold)
	h.history = 0
	return nil
}

// HistoryBytes returns the accumulated history size for observability.
func (h *LocalHost) HistoryBytes() int {
	return h.history
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
