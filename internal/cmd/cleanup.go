package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cantina-dev/cantina/internal/config"
	"github.com/cantina-dev/cantina/internal/runstate"
	"github.com/cantina-dev/cantina/internal/worktree"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove leftover run worktrees and branches",
	Long: `Cleanup removes the worktrees and branches left behind by runs that
ended without finalizing (crashed, killed, or cancelled from outside).

Use --dry-run to see what would be removed without making changes.`,
	RunE: runCleanup,
}

var (
	cleanupDryRun bool
	cleanupForce  bool
	cleanupState  bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without making changes")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupState, "state", false, "Also clear the persisted run state")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := worktree.FindGitRoot(cwd)
	if err != nil {
		return err
	}
	runtimeDir, err := runtimeDirFromCwd()
	if err != nil {
		return err
	}

	if held := runstate.ActiveLock(runtimeDir); held != nil {
		return fmt.Errorf("run %s is still active (pid %d); refusing to clean up under it", held.RunID, held.PID)
	}

	wt, err := worktree.New(root, config.Get().Worktree)
	if err != nil {
		return err
	}

	orphans, err := wt.OrphanedRuns()
	if err != nil {
		return err
	}
	if len(orphans) == 0 && !cleanupState {
		fmt.Println("No leftover run worktrees found. Nothing to clean up.")
		return nil
	}

	if len(orphans) > 0 {
		fmt.Printf("Leftover runs (%d):\n", len(orphans))
		for _, runID := range orphans {
			fmt.Printf("  - %s\n", runID)
		}
	}

	if cleanupDryRun {
		fmt.Println("\nDry run mode - no changes made.")
		return nil
	}

	if !cleanupForce && len(orphans) > 0 {
		fmt.Print("\nRemove these worktrees and their branches? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	var removed int
	for _, runID := range orphans {
		if err := wt.CleanupRun(runID); err != nil {
			fmt.Printf("Warning: failed to clean up run %s: %v\n", runID, err)
			continue
		}
		fmt.Printf("Removed run %s\n", runID)
		removed++
	}

	if cleanupState {
		states, err := runstate.NewStore(runtimeDir)
		if err != nil {
			return err
		}
		if err := states.Clear(); err != nil {
			fmt.Printf("Warning: failed to clear run state: %v\n", err)
		} else {
			fmt.Println("Cleared persisted run state")
		}
	}

	fmt.Printf("\nCleanup complete. Removed %d runs.\n", removed)
	return nil
}
