package agent

import (
	"encoding/json"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/errors"
)

// contractMissingField flags a structured response that decoded but left
// out its required verdict field.
func contractMissingField(call string) error {
	return errors.NewContractError(call, "missing required field is_complete")
}

// decodeStructured extracts the first JSON object from raw model output
// and unmarshals it into out. Models often wrap JSON in code fences or
// surround it with prose; everything outside the outermost braces is
// ignored. A response with no decodable object is a contract violation.
func decodeStructured(call, output string, out any) error {
	payload := extractJSON(output)
	if payload == "" {
		return errors.NewContractError(call, "no JSON object in response")
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return errors.NewContractError(call, "malformed JSON: "+err.Error())
	}
	return nil
}

// extractJSON returns the first balanced top-level JSON object in s, or
// "" when none exists. Brace matching skips braces inside strings.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// storiesPayload is the schema for the story breakdown call.
type storiesPayload struct {
	Stories []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"stories"`
}

// tasksPayload is the schema for the work-item planning call.
type tasksPayload struct {
	Tasks []struct {
		Content string `json:"content"`
		Label   string `json:"label"`
	} `json:"tasks"`
}

// storyVerdictPayload is the schema for the story evaluation call.
type storyVerdictPayload struct {
	IsComplete     *bool  `json:"is_complete"`
	Summary        string `json:"summary"`
	ProgressUpdate string `json:"progress_update"`
}

// runVerdictPayload is the schema for run-level evaluation calls.
type runVerdictPayload struct {
	IsComplete      *bool  `json:"is_complete"`
	UpdatedProgress string `json:"updated_progress"`
	FinalResponse   string `json:"final_response"`
}
