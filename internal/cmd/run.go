package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Iron-Ham/ralphloop/internal/agent"
	"github.com/Iron-Ham/ralphloop/internal/checkpoint"
	"github.com/Iron-Ham/ralphloop/internal/config"
	"github.com/Iron-Ham/ralphloop/internal/durable"
	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/event"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/loop"
	"github.com/Iron-Ham/ralphloop/internal/planfile"
	"github.com/Iron-Ham/ralphloop/internal/promise"
	"github.com/Iron-Ham/ralphloop/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [goal...]",
	Short: "Run the loop toward a goal",
	Long: `Run the iterative loop until the goal is judged complete, the
iteration budget runs out, or the run fails. The goal may be given as
arguments, supplied by a plan file, or entered interactively.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("promise", "COMPLETE", "completion marker phrase")
	runCmd.Flags().Int("max-iterations", 0, "iteration budget (overrides config)")
	runCmd.Flags().String("mode", "", "iteration mode: single, multi, or stories (overrides config)")
	runCmd.Flags().String("model", "", "reasoning-service model (overrides config)")
	runCmd.Flags().String("plan-file", "", "YAML file with a pre-authored story breakdown")
	runCmd.Flags().String("resume", "", "resume a checkpointed run by ID ('latest' for the most recent)")
	runCmd.Flags().Bool("plain", false, "disable the live view, print log lines instead")

	_ = viper.BindPFlag("run.max_iterations", runCmd.Flags().Lookup("max-iterations"))
	_ = viper.BindPFlag("run.mode", runCmd.Flags().Lookup("mode"))
	_ = viper.BindPFlag("run.model", runCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("tui.plain", runCmd.Flags().Lookup("plain"))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	logger, err := newRunLogger(cfg, cwd)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := checkpoint.NewStore(cfg.Checkpoint.ResolveCheckpointDir(cwd))
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	state, err := buildRunState(cmd, cfg, store, args)
	if err != nil {
		return err
	}

	backend, err := agent.NewBackend(cfg.Backend.Name, cfg.Backend.Command)
	if err != nil {
		return err
	}
	service := agent.NewCLIService(backend, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &runner{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		bus:       event.NewBus(),
		planner:   agent.NewPlanner(service),
		executor:  agent.NewExecutor(service),
		evaluator: agent.NewEvaluator(service),
	}

	plain := cfg.TUI.Plain || !term.IsTerminal(int(os.Stdout.Fd()))
	if plain {
		return runner.runPlain(ctx, state)
	}
	return runner.runWithView(ctx, state)
}

// newRunLogger opens the debug log under the working directory, or a
// no-op logger when logging is disabled.
func newRunLogger(cfg *config.Config, cwd string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLogger(filepath.Join(cwd, ".ralphloop"), cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// buildRunState produces the state the loop starts from: a resumed
// checkpoint, a fresh state seeded from a plan file, or a fresh state
// from the command line.
func buildRunState(cmd *cobra.Command, cfg *config.Config, store *checkpoint.Store, args []string) (*loop.RunState, error) {
	if resume, _ := cmd.Flags().GetString("resume"); resume != "" {
		runID := resume
		if resume == "latest" {
			var err error
			runID, err = store.Latest()
			if err != nil {
				return nil, fmt.Errorf("no checkpoint to resume: %w", err)
			}
		}
		var state loop.RunState
		if err := store.Load(runID, &state); err != nil {
			return nil, fmt.Errorf("failed to load checkpoint %s: %w", runID, err)
		}
		return &state, nil
	}

	goal := strings.TrimSpace(strings.Join(args, " "))
	marker, _ := cmd.Flags().GetString("promise")
	mode := loop.Mode(cfg.Run.Mode)

	var plan *loop.Plan
	if planPath, _ := cmd.Flags().GetString("plan-file"); planPath != "" {
		f, err := planfile.Load(planPath)
		if err != nil {
			return nil, err
		}
		plan = f.Plan()
		if goal == "" && f.Goal != "" {
			goal = f.Goal
		}
		if f.Marker != "" && !cmd.Flags().Changed("promise") {
			marker = f.Marker
		}
		// A pre-authored breakdown only makes sense in story mode
		mode = loop.ModeStories
	}

	if goal == "" {
		var err error
		goal, err = tui.Prompt("What should this run accomplish?", "describe the goal")
		if err != nil {
			return nil, fmt.Errorf("failed to read goal: %w", err)
		}
		if goal == "" {
			return nil, fmt.Errorf("a goal is required: %w", errors.ErrInvalidInput)
		}
	}

	state := loop.NewRunState(goal, marker, cfg.Run.MaxIterations, cfg.Run.Model, mode)
	state.WindowSize = cfg.Run.WindowSize
	state.TaskQueue = cfg.Run.TaskQueue
	state.Plan = plan
	return state, nil
}

// runner drives a run across continuations: each hand-off ends the
// current controller and a successor picks up from the checkpoint.
type runner struct {
	cfg       *config.Config
	store     *checkpoint.Store
	logger    *logging.Logger
	bus       *event.Bus
	planner   loop.Planner
	executor  loop.Executor
	evaluator loop.Evaluator
}

// run executes the loop to a terminal state, reloading from the
// checkpoint store whenever the host requests a continuation.
func (r *runner) run(ctx context.Context, state *loop.RunState) (loop.RunResult, error) {
	for {
		host, err := durable.NewLocalHost(durable.LocalHostOptions{
			Store:            r.store,
			HistoryThreshold: r.cfg.Checkpoint.HistoryThresholdBytes,
			Policy:           r.cfg.Retry.Policy(),
			CallTimeout:      r.cfg.Run.CallTimeout(),
			Logger:           r.logger,
			Bus:              r.bus,
		})
		if err != nil {
			return loop.RunResult{}, err
		}

		ctrl, err := loop.NewController(state, loop.Options{
			Host:      host,
			Planner:   r.planner,
			Executor:  r.executor,
			Evaluator: r.evaluator,
			Logger:    r.logger,
			Bus:       r.bus,
		})
		if err != nil {
			return loop.RunResult{}, err
		}

		result, err := ctrl.Run(ctx)
		if !errors.Is(err, loop.ErrContinueAsNew) {
			if err == nil && result.Completed {
				// The run is over; its checkpoint has no successor to serve
				_ = r.store.Remove(state.RunID)
			}
			return result, err
		}

		next := new(loop.RunState)
		if err := r.store.Load(state.RunID, next); err != nil {
			return loop.RunResult{}, fmt.Errorf("failed to reload continuation checkpoint: %w", err)
		}
		state = next
	}
}

// runPlain runs without the live view, reporting progress as log lines.
func (r *runner) runPlain(ctx context.Context, state *loop.RunState) error {
	subID := r.bus.SubscribeAll(func(e event.Event) {
		switch e := e.(type) {
		case event.IterationStartedEvent:
			fmt.Printf("iteration %d/%d\n", e.Iteration, state.MaxIterations)
		case event.StoryStartedEvent:
			fmt.Printf("story started: %s\n", e.Title)
		case event.StoryCompletedEvent:
			fmt.Printf("story completed: %s\n", e.StoryID)
		case event.ContinuationEvent:
			fmt.Printf("checkpointed at iteration %d, continuing\n", e.Iteration)
		case event.CallRetryEvent:
			fmt.Printf("retrying %s (attempt %d failed: %s)\n", e.Call, e.Attempt, e.Error)
		}
	})
	defer r.bus.Unsubscribe(subID)

	result, err := r.run(ctx, state)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

// runWithView runs under the bubbletea display.
func (r *runner) runWithView(ctx context.Context, state *loop.RunState) error {
	var stories []loop.Story
	if state.Plan != nil {
		stories = state.Plan.Stories
	}
	model := tui.NewModel(state.Goal, state.Marker, state.RunID, state.MaxIterations, stories)
	program := tea.NewProgram(model, tea.WithContext(ctx))

	subID := r.bus.SubscribeAll(func(e event.Event) {
		program.Send(tui.EventMsg{Event: e})
	})
	defer r.bus.Unsubscribe(subID)

	done := make(chan struct{})
	var result loop.RunResult
	var runErr error
	go func() {
		defer close(done)
		result, runErr = r.run(ctx, state)
		program.Send(tui.ResultMsg{Result: result, Err: runErr})
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("display error: %w", err)
	}
	<-done

	if runErr != nil {
		return runErr
	}
	printResult(result)
	return nil
}

func printResult(result loop.RunResult) {
	if result.Completed {
		fmt.Printf("\nCompleted in %d iteration(s)\n", result.IterationsUsed)
	} else {
		fmt.Printf("\nStopped after %d iteration(s) without completing\n", result.IterationsUsed)
	}
	if result.Completed != result.CompletionDetected {
		fmt.Printf("Note: completion verdict and promise marker disagree (verdict=%v, marker=%v)\n",
			result.Completed, result.CompletionDetected)
		// A near-miss tag (wrong case, extra prose inside) explains why the
		// syntactic check rejected the response.
		if inner := promise.Extract(result.FinalResponse); inner != "" && !result.CompletionDetected {
			fmt.Printf("The final response contains <promise>%s</promise>, which is not the exact marker\n", inner)
		}
	}
	if result.FinalResponse != "" {
		fmt.Printf("\n%s\n", result.FinalResponse)
	}
}
