package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/ralphloop/internal/event"
	"github.com/Iron-Ham/ralphloop/internal/loop"
)

// maxActivityLines bounds the scrolling activity section.
const maxActivityLines = 8

// EventMsg wraps a bus event for the view. The runner forwards events
// into the program with Send.
type EventMsg struct {
	Event event.Event
}

// ResultMsg carries the terminal outcome of the run.
type ResultMsg struct {
	Result loop.RunResult
	Err    error
}

// storyRow is the view's record of one story.
type storyRow struct {
	id     string
	title  string
	status loop.Status
}

// Model is the bubbletea model for a live run view.
type Model struct {
	goal          string
	marker        string
	runID         string
	maxIterations int

	iteration     int
	activeStoryID string
	stories       []storyRow
	activity      []string

	spin     spinner.Model
	width    int
	finished bool
	result   loop.RunResult
	runErr   error
}

// NewModel creates a run view. Stories may be nil when the breakdown is
// not known yet; rows appear as story events arrive.
func NewModel(goal, marker, runID string, maxIterations int, stories []loop.Story) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = Primary

	rows := make([]storyRow, 0, len(stories))
	for _, s := range stories {
		rows = append(rows, storyRow{id: s.ID, title: s.Title, status: s.Status})
	}

	return Model{
		goal:          goal,
		marker:        marker,
		runID:         runID,
		maxIterations: maxIterations,
		stories:       rows,
		spin:          sp,
		width:         80,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update handles bus events, run completion, resizing, and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case EventMsg:
		m.apply(msg.Event)

	case ResultMsg:
		m.finished = true
		m.result = msg.Result
		m.runErr = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Result returns the final outcome once the run has finished.
func (m Model) Result() (loop.RunResult, error, bool) {
	return m.result, m.runErr, m.finished
}

// apply folds one bus event into the view state.
func (m *Model) apply(e event.Event) {
	switch e := e.(type) {
	case event.IterationStartedEvent:
		m.iteration = e.Iteration
		m.activeStoryID = e.StoryID

	case event.StoryStartedEvent:
		m.upsertStory(e.StoryID, e.Title, loop.StatusInProgress)
		m.activeStoryID = e.StoryID
		m.addActivity(fmt.Sprintf("story started: %s", e.Title))

	case event.StoryCompletedEvent:
		m.upsertStory(e.StoryID, "", loop.StatusCompleted)
		m.addActivity(fmt.Sprintf("story completed: %s", m.storyTitle(e.StoryID)))

	case event.WorkItemStartedEvent:
		label := e.Label
		if label == "" {
			label = fmt.Sprintf("step %d/%d", e.Index+1, e.Total)
		}
		m.addActivity(fmt.Sprintf("working: %s", label))

	case event.CallRetryEvent:
		m.addActivity(fmt.Sprintf("retrying %s (attempt %d failed)", e.Call, e.Attempt))

	case event.ContinuationEvent:
		m.addActivity(fmt.Sprintf("checkpointed at iteration %d, continuing in a fresh run", e.Iteration))

	case event.PromiseFoundEvent:
		m.addActivity("completion promise found")

	case event.IterationCompletedEvent:
		m.addActivity(fmt.Sprintf("iteration %d finished (%d items)", e.Iteration, e.WorkItems))
	}
}

func (m *Model) upsertStory(id, title string, status loop.Status) {
	for i := range m.stories {
		if m.stories[i].id == id {
			if title != "" {
				m.stories[i].title = title
			}
			m.stories[i].status = status
			return
		}
	}
	m.stories = append(m.stories, storyRow{id: id, title: title, status: status})
}

func (m *Model) storyTitle(id string) string {
	for _, s := range m.stories {
		if s.id == id && s.title != "" {
			return s.title
		}
	}
	return id
}

func (m *Model) addActivity(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > maxActivityLines {
		m.activity = m.activity[len(m.activity)-maxActivityLines:]
	}
}
