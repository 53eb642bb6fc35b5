package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cantina-dev/cantina/internal/errors"
	"github.com/cantina-dev/cantina/internal/runstate"
	"github.com/cantina-dev/cantina/internal/worktree"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the current or last run",
	Long: `Status reads the persisted run state and the process lock. It reports
the run id and last recorded phase, and whether a live process is still
driving the run.`,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit machine-readable JSON")
}

type statusReport struct {
	RunID     string `json:"run_id"`
	Phase     string `json:"phase"`
	Title     string `json:"title,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Active    bool   `json:"active"`
	HolderPID int    `json:"holder_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	runtimeDir, err := runtimeDirFromCwd()
	if err != nil {
		return err
	}

	states, err := runstate.NewStore(runtimeDir)
	if err != nil {
		return err
	}
	state, err := states.Load()
	if errors.Is(err, errors.ErrRunNotFound) {
		fmt.Println("no run recorded")
		return nil
	}
	if err != nil {
		return err
	}

	report := statusReport{
		RunID:     state.RunID,
		Phase:     state.Phase,
		Title:     state.Title,
		UpdatedAt: state.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	if held := runstate.ActiveLock(runtimeDir); held != nil {
		report.Active = true
		report.HolderPID = held.PID
	}

	if statusJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("run %s: %s\n", report.RunID, report.Phase)
	if report.Title != "" {
		fmt.Printf("  title:   %s\n", report.Title)
	}
	fmt.Printf("  updated: %s\n", report.UpdatedAt)
	if report.Active {
		fmt.Printf("  driver:  live (pid %d)\n", report.HolderPID)
	} else {
		fmt.Println("  driver:  none (abandoned or finished)")
	}
	return nil
}

func runtimeDirFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := worktree.FindGitRoot(cwd)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, ".cantina"), nil
}
