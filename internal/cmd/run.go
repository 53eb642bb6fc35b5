package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cantina-dev/cantina/internal/agent"
	"github.com/cantina-dev/cantina/internal/config"
	"github.com/cantina-dev/cantina/internal/cost"
	"github.com/cantina-dev/cantina/internal/logging"
	"github.com/cantina-dev/cantina/internal/orchestrator"
	"github.com/cantina-dev/cantina/internal/planner"
	"github.com/cantina-dev/cantina/internal/runstate"
	"github.com/cantina-dev/cantina/internal/tracker"
	"github.com/cantina-dev/cantina/internal/tui"
	"github.com/cantina-dev/cantina/internal/worktree"
)

var runCmd = &cobra.Command{
	Use:   "run [title]",
	Short: "Plan and execute a batch of work items with parallel agents",
	Long: `Run plans the pending work items (or a task file imported with --tasks),
waits for plan approval, then executes the plan with parallel agent
workers in isolated worktrees. The TUI shows live progress; the plan
must be approved there before any agent starts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runTasksFile   string
	runAgentCmd    string
	runMaxParallel int
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runTasksFile, "tasks", "t", "", "Import work items from a task file (one per line)")
	runCmd.Flags().StringVar(&runAgentCmd, "agent", "claude", "Agent worker command")
	runCmd.Flags().IntVarP(&runMaxParallel, "max-parallel", "p", 0, "Max concurrent agents (overrides config, clamped 1-8)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := worktree.FindGitRoot(cwd)
	if err != nil {
		return err
	}

	cfg := config.Get()
	if runMaxParallel > 0 {
		cfg.Execution.MaxParallel = runMaxParallel
	}

	runtimeDir := filepath.Join(root, ".cantina")
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}

	log, err := logging.NewLogger(runtimeDir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	if held := runstate.ActiveLock(runtimeDir); held != nil {
		return fmt.Errorf("run %s is already active (pid %d); cancel it or wait for it to finish", held.RunID, held.PID)
	}

	items := tracker.NewStore(filepath.Join(runtimeDir, "items.json"))
	if runTasksFile != "" {
		imported, err := tracker.ImportTaskFile(runTasksFile)
		if err != nil {
			return fmt.Errorf("failed to import tasks: %w", err)
		}
		if err := items.Put(imported); err != nil {
			return fmt.Errorf("failed to store imported tasks: %w", err)
		}
	}

	pending, err := items.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return fmt.Errorf("no pending work items; import some with --tasks")
	}

	title := fmt.Sprintf("%d work items", len(pending))
	if len(args) > 0 {
		title = args[0]
	}
	ids := make([]string, len(pending))
	for i, item := range pending {
		ids[i] = item.ID
	}

	wt, err := worktree.New(root, cfg.Worktree)
	if err != nil {
		return err
	}
	states, err := runstate.NewStore(runtimeDir)
	if err != nil {
		return err
	}

	runner := agent.NewLocalRunner(runAgentCmd, log)
	plans := planner.New(runner, root, cfg.Planner, log)
	orch := orchestrator.New(*cfg, wt, plans, runner, items, states, log)

	runID, err := orch.Start(title, tracker.TaskRefs(pending), ids)
	if err != nil {
		return err
	}

	lock, err := runstate.AcquireLock(runtimeDir, runID, log)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	program := tea.NewProgram(tui.New(orch, cfg.Execution.PollInterval(), cfg.Cost.WarningThreshold), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	// Quitting the UI mid-run abandons it; cancel so workers stop and the
	// persisted state reflects reality.
	st := orch.Status()
	if st.Phase != orchestrator.PhaseIdle && !st.Phase.IsTerminal() {
		_ = orch.Cancel()
		st = orch.Status()
	}

	fmt.Printf("run %s finished: %s", st.RunID, st.Phase)
	if st.TotalCost > 0 {
		fmt.Printf(" (cost %s)", cost.FormatUSD(st.TotalCost))
	}
	fmt.Println()
	if st.Error != "" {
		fmt.Printf("error: %s\n", st.Error)
	}
	return nil
}
