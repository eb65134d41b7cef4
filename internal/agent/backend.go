// Package agent implements the external-call contracts (planner, executor,
// evaluator) on top of a reasoning-service CLI. Each call is a one-shot,
// print-only invocation: the prompt goes in on stdin, the response comes
// back on stdout. Structured outputs are requested as JSON and decoded
// against their schema; nonconforming output is a contract violation.
package agent

import (
	"fmt"
	"strings"
)

// BackendName identifies a supported reasoning-service backend.
type BackendName string

const (
	BackendClaude BackendName = "claude"
	BackendCodex  BackendName = "codex"
)

// ErrUnknownBackend is returned when the configured backend is unsupported.
var ErrUnknownBackend = fmt.Errorf("unknown reasoning backend")

// Backend provides backend-specific command construction for one-shot,
// non-interactive calls.
type Backend interface {
	Name() BackendName
	DisplayName() string
	// Command returns the executable and arguments for a one-shot call
	// with the given model. The prompt is delivered on stdin.
	Command(model string) (string, []string)
}

// NewBackend builds a Backend by name. An empty name selects Claude. The
// command override replaces the default executable when non-empty.
func NewBackend(name, command string) (Backend, error) {
	switch strings.ToLower(name) {
	case string(BackendClaude), "":
		return NewClaudeBackend(command), nil
	case string(BackendCodex):
		return NewCodexBackend(command), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}

// ClaudeBackend runs one-shot calls through the Claude CLI.
type ClaudeBackend struct {
	command string
}

// NewClaudeBackend creates a Claude backend. An empty command defaults to
// "claude".
func NewClaudeBackend(command string) *ClaudeBackend {
	if command == "" {
		command = "claude"
	}
	return &ClaudeBackend{command: command}
}

func (c *ClaudeBackend) Name() BackendName { return BackendClaude }

func (c *ClaudeBackend) DisplayName() string { return "Claude" }

func (c *ClaudeBackend) Command(model string) (string, []string) {
	args := []string{"--print", "--dangerously-skip-permissions"}
	if model != "" {
		args = append(args, "--model", model)
	}
	return c.command, args
}

// CodexBackend runs one-shot calls through the Codex CLI.
type CodexBackend struct {
	command string
}

// NewCodexBackend creates a Codex backend. An empty command defaults to
// "codex".
func NewCodexBackend(command string) *CodexBackend {
	if command == "" {
		command = "codex"
	}
	return &CodexBackend{command: command}
}

func (c *CodexBackend) Name() BackendName { return BackendCodex }

func (c *CodexBackend) DisplayName() string { return "Codex" }

func (c *CodexBackend) Command(model string) (string, []string) {
	args := []string{"exec", "--full-auto"}
	if model != "" {
		args = append(args, "-m", model)
	}
	return c.command, args
}
