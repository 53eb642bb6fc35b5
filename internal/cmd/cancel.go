package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cantina-dev/cantina/internal/errors"
	"github.com/cantina-dev/cantina/internal/runstate"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Mark an abandoned run as cancelled",
	Long: `Cancel settles the persisted state of a run whose driving process has
died. A live run cannot be cancelled from outside; use the [c] key in
its UI instead.`,
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	runtimeDir, err := runtimeDirFromCwd()
	if err != nil {
		return err
	}

	if held := runstate.ActiveLock(runtimeDir); held != nil {
		return fmt.Errorf("run %s is driven by a live process (pid %d); cancel it from its UI", held.RunID, held.PID)
	}

	states, err := runstate.NewStore(runtimeDir)
	if err != nil {
		return err
	}
	state, err := states.Load()
	if errors.Is(err, errors.ErrRunNotFound) {
		fmt.Println("no run recorded, nothing to cancel")
		return nil
	}
	if err != nil {
		return err
	}
	if terminalPhase(state.Phase) {
		fmt.Printf("run %s is already %s\n", state.RunID, state.Phase)
		return nil
	}

	state.Phase = "cancelled"
	if err := states.Save(*state); err != nil {
		return err
	}
	fmt.Printf("run %s marked cancelled; use cleanup to remove its worktrees\n", state.RunID)
	return nil
}

func terminalPhase(phase string) bool {
	switch phase {
	case "complete", "failed", "cancelled":
		return true
	}
	return false
}
