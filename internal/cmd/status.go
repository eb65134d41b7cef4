package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ralphloop/internal/checkpoint"
	"github.com/Iron-Ham/ralphloop/internal/config"
	"github.com/Iron-Ham/ralphloop/internal/loop"
	"github.com/Iron-Ham/ralphloop/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show checkpointed run status",
	Long: `Display the state of a checkpointed run: iteration progress, the
story plan, and the rolling progress summary. With no run ID the most
recent checkpoint is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("watch", false, "re-render when the checkpoint changes")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	store, err := checkpoint.NewStore(cfg.Checkpoint.ResolveCheckpointDir(cwd))
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	runID := ""
	if len(args) > 0 {
		runID = args[0]
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return watchStatus(store, runID)
	}
	return showStatus(store, runID)
}

func showStatus(store *checkpoint.Store, runID string) error {
	if runID == "" {
		var err error
		runID, err = store.Latest()
		if err != nil {
			fmt.Println("No checkpointed runs")
			return nil
		}
	}

	var state loop.RunState
	if err := store.Load(runID, &state); err != nil {
		return fmt.Errorf("failed to load checkpoint %s: %w", runID, err)
	}

	fmt.Printf("Run: %s\n", state.RunID)
	fmt.Printf("Goal: %s\n", util.Truncate(state.Goal, 100))
	fmt.Printf("Mode: %s\n", state.Mode)
	fmt.Printf("Iteration: %d/%d\n", state.Iteration, state.MaxIterations)
	fmt.Printf("Promise: %s\n", state.Marker)
	fmt.Printf("Transcript entries: %d\n", len(state.Transcript))

	if state.Plan != nil {
		fmt.Printf("\nStories (%d/%d complete):\n", state.Plan.CompletedCount(), len(state.Plan.Stories))
		for _, s := range state.Plan.Stories {
			mark := " "
			switch s.Status {
			case loop.StatusCompleted:
				mark = "x"
			case loop.StatusInProgress:
				mark = "~"
			}
			fmt.Printf("  [%s] %s\n", mark, s.Title)
		}
	}

	if state.ProgressSummary != "" {
		fmt.Println("\nProgress:")
		for _, line := range strings.Split(state.ProgressSummary, "\n") {
			fmt.Printf("  %s\n", util.Truncate(line, 120))
		}
	}
	return nil
}

// watchStatus re-renders the status whenever the checkpoint directory
// changes, until interrupted.
func watchStatus(store *checkpoint.Store, runID string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(store.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", store.Dir(), err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	render := func() {
		fmt.Print("\033[H\033[2J")
		if err := showStatus(store, runID); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	render()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Renames cover the atomic tmp-then-rename checkpoint writes
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 &&
				filepath.Ext(ev.Name) == ".json" {
				render()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Printf("watch error: %v\n", err)
		case <-sig:
			return nil
		}
	}
}
