// Package errors provides centralized error definitions and classification
// for the ralphloop codebase. It defines sentinel errors for the loop
// lifecycle, typed errors for external calls and contract violations, and
// helpers that the retry scheduler uses to decide whether a failed call
// may be attempted again.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Call-related sentinel errors
var (
	// ErrCallFailed indicates an external call failed after transport or
	// service errors.
	ErrCallFailed = New("external call failed")
	// ErrRetriesExhausted indicates a call failed on every permitted attempt.
	// This is fatal for the run; no partial result is produced.
	ErrRetriesExhausted = New("call retries exhausted")
	// ErrContractViolation indicates a structured response did not conform
	// to its schema. Treated as a call failure, never silently defaulted.
	ErrContractViolation = New("response violates call contract")
	// ErrEmptyPlan indicates the planner returned no work items or stories.
	ErrEmptyPlan = New("planner returned an empty plan")
)

// Run-related sentinel errors
var (
	// ErrRunNotFound indicates no checkpoint exists for the requested run.
	ErrRunNotFound = New("run not found")
	// ErrCheckpointCorrupted indicates checkpoint data could not be decoded.
	ErrCheckpointCorrupted = New("checkpoint data corrupted")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Call Errors
// -----------------------------------------------------------------------------

// CallError wraps a failure from one of the external call contracts
// (planner, executor, evaluator). It records which call failed and how many
// attempts were made so exhausted-retry failures are attributable.
type CallError struct {
	// Call is the logical call name, e.g. "generate_tasks" or "execute_task".
	Call string
	// Attempts is the number of attempts made before giving up.
	Attempts int
	// Err is the underlying cause from the final attempt.
	Err error
}

// NewCallError creates a CallError for the named call.
func NewCallError(call string, attempts int, err error) *CallError {
	return &CallError{Call: call, Attempts: attempts, Err: err}
}

// Error returns the error message.
func (e *CallError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("call %q failed after %d attempts: %v", e.Call, e.Attempts, e.Err)
	}
	return fmt.Sprintf("call %q failed: %v", e.Call, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error { return e.Err }

// ContractError describes a schema or contract violation in a structured
// response: a missing required field, an empty work-item list, or output
// that could not be decoded at all.
type ContractError struct {
	// Call is the logical call name whose response was malformed.
	Call string
	// Detail describes the specific violation.
	Detail string
}

// NewContractError creates a ContractError for the named call.
func NewContractError(call, detail string) *ContractError {
	return &ContractError{Call: call, Detail: detail}
}

// Error returns the error message.
func (e *ContractError) Error() string {
	return fmt.Sprintf("call %q: %s: %s", e.Call, ErrContractViolation, e.Detail)
}

// Is reports whether this error matches ErrContractViolation or ErrCallFailed.
func (e *ContractError) Is(target error) bool {
	return target == ErrContractViolation || target == ErrCallFailed
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether a failed call may succeed on another attempt.
// Transient transport and service failures are retryable; cancellation is
// not. Contract violations are retryable because the reasoning service is
// nondeterministic: a later attempt can produce conforming output.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCanceled) {
		return false
	}
	if errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	return true
}

// IsContractViolation reports whether err is a schema/contract violation.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}
