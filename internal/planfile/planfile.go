// Package planfile loads a pre-authored story breakdown from a YAML
// file. A plan file replaces the initial planning call: the run starts
// with the given stories instead of asking the reasoning service to
// produce them.
package planfile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/loop"
)

// File is the on-disk plan document.
type File struct {
	// Goal optionally overrides the goal given on the command line.
	Goal string `yaml:"goal"`

	// Marker optionally sets the completion marker.
	Marker string `yaml:"marker"`

	// Stories is the ordered breakdown; at least one is required.
	Stories []StoryEntry `yaml:"stories"`
}

// StoryEntry is one story in a plan document.
type StoryEntry struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Load reads and validates a plan file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", path, err)
	}

	if len(f.Stories) == 0 {
		return nil, fmt.Errorf("plan file %s has no stories: %w", path, errors.ErrEmptyPlan)
	}
	for i, s := range f.Stories {
		if strings.TrimSpace(s.Title) == "" {
			return nil, fmt.Errorf("plan file %s: story %d missing title: %w", path, i+1, errors.ErrInvalidInput)
		}
	}
	return &f, nil
}

// Plan converts the document to a run plan with all stories pending.
func (f *File) Plan() *loop.Plan {
	stories := make([]loop.Story, len(f.Stories))
	for i, s := range f.Stories {
		stories[i] = loop.Story{
			ID:          fmt.Sprintf("story-%d", i+1),
			Title:       strings.TrimSpace(s.Title),
			Description: strings.TrimSpace(s.Description),
			Status:      loop.StatusPending,
		}
	}
	return &loop.Plan{Stories: stories}
}
