package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/transcript"
	"github.com/Iron-Ham/ralphloop/internal/util"
)

// Request is one call to the reasoning service: a system instruction, a
// role-tagged message sequence, and a final user turn.
type Request struct {
	System   string
	Messages []transcript.Entry
	Prompt   string
	Model    string
}

// Service is the opaque reasoning function: request in, text out,
// fallible. Implementations must respect context cancellation.
type Service interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CLIService implements Service by invoking a backend CLI once per call.
// The rendered request goes in on stdin; stdout is the response.
type CLIService struct {
	backend Backend
	logger  *logging.Logger
}

// NewCLIService creates a CLIService over the given backend.
func NewCLIService(backend Backend, logger *logging.Logger) *CLIService {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLIService{backend: backend, logger: logger}
}

// Complete runs one one-shot invocation and returns trimmed stdout.
func (s *CLIService) Complete(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt is required: %w", errors.ErrInvalidInput)
	}

	name, args := s.backend.Command(req.Model)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(renderRequest(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("invoking backend",
		"backend", string(s.backend.Name()),
		"model", req.Model,
		"prompt_bytes", len(req.Prompt))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", errors.Join(errors.ErrCanceled, ctx.Err())
		}
		return "", fmt.Errorf("%w: %s: %v: %s",
			errors.ErrCallFailed, s.backend.DisplayName(), err, util.FirstLine(strings.TrimSpace(stderr.String())))
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return "", fmt.Errorf("%w: %s produced no output", errors.ErrCallFailed, s.backend.DisplayName())
	}
	return output, nil
}

// renderRequest flattens the system instruction, prior turns, and the
// current prompt into a single stdin document for a one-shot CLI call.
func renderRequest(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	if len(req.Messages) > 0 {
		b.WriteString("## Recent Conversation\n\n")
		for _, m := range req.Messages {
			b.WriteString(fmt.Sprintf("[%s]\n%s\n\n", m.Role, m.Content))
		}
	}
	b.WriteString(req.Prompt)
	return b.String()
}
