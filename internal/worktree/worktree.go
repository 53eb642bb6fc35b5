// Package worktree wraps the git operations behind a run: the dirty-tree
// guard, isolated per-agent checkouts, and merging agent branches back into
// the integration branch.
//
// Each agent gets its own worktree under <repo>/.cantina-worktrees/<run>/ on
// a branch named <prefix>/<run>/agent-<id>, created from the integration
// branch HEAD. Merges use --no-ff so every agent's contribution is a visible
// merge commit.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cantina-dev/cantina/internal/config"
	"github.com/cantina-dev/cantina/internal/errors"
)

// Checkout is one agent's isolated working copy.
type Checkout struct {
	// AgentID is the plan assignment this checkout belongs to.
	AgentID int

	// Path is the absolute worktree directory.
	Path string

	// Branch is the agent branch the worktree has checked out.
	Branch string
}

// Manager owns the git state of a single repository.
type Manager struct {
	repoDir      string
	dirName      string
	branchPrefix string

	// ignoreMu serializes the .gitignore read-append; checkouts for a
	// parallel phase are created concurrently.
	ignoreMu sync.Mutex
}

// FindGitRoot finds the repository root by walking up from startDir. The
// root is the directory containing .git, which may be a directory or, for
// worktrees, a file.
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no .git found from %s up to filesystem root",
				errors.ErrNotGitRepository, startDir)
		}
		dir = parent
	}
}

// New creates a Manager rooted at the repository containing repoDir.
func New(repoDir string, cfg config.WorktreeConfig) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		repoDir:      gitRoot,
		dirName:      cfg.DirName,
		branchPrefix: cfg.BranchPrefix,
	}, nil
}

// RepoDir returns the repository root.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// CheckoutsDir returns the directory holding all agent worktrees.
func (m *Manager) CheckoutsDir() string {
	return filepath.Join(m.repoDir, m.dirName)
}

// BranchName returns the agent branch name for a run and agent id.
func (m *Manager) BranchName(runID string, agentID int) string {
	return fmt.Sprintf("%s/%s/agent-%d", m.branchPrefix, runID, agentID)
}

// CurrentBranch returns the branch checked out at the repository root.
func (m *Manager) CurrentBranch() (string, error) {
	out, err := m.git(m.repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// DirtyFiles returns the tracked files with uncommitted changes. Untracked
// files are deliberately excluded: they cannot be clobbered by a merge and
// must not block a run.
func (m *Manager) DirtyFiles() ([]string, error) {
	out, err := m.git(m.repoDir, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return nil, fmt.Errorf("failed to check repository status: %w", err)
	}

	var files []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

// CheckClean verifies the integration branch has no uncommitted tracked
// changes. Returns a GuardError wrapping ErrDirtyTree listing the files.
func (m *Manager) CheckClean() error {
	files, err := m.DirtyFiles()
	if err != nil {
		return errors.NewGuardError("check", nil, err)
	}
	if len(files) > 0 {
		return errors.NewGuardError("check", files, errors.ErrDirtyTree)
	}
	return nil
}

// CommitAll stages and commits every pending change at the repository root.
// A tree with nothing to commit is not an error.
func (m *Manager) CommitAll(message string) error {
	if _, err := m.git(m.repoDir, "add", "-A"); err != nil {
		return errors.NewGuardError("commit", nil, fmt.Errorf("failed to stage changes: %w", err))
	}

	out, err := m.gitCombined(m.repoDir, "commit", "-m", message)
	if err != nil {
		if strings.Contains(out, "nothing to commit") {
			return nil
		}
		return errors.NewGuardError("commit", nil, fmt.Errorf("failed to commit: %w\n%s", err, out))
	}
	return nil
}

// CreateCheckout creates an isolated worktree for one agent, branched off
// the current integration branch HEAD.
func (m *Manager) CreateCheckout(runID string, agentID int) (*Checkout, error) {
	if err := m.ensureIgnored(); err != nil {
		return nil, err
	}

	path := filepath.Join(m.CheckoutsDir(), runID, fmt.Sprintf("agent-%d", agentID))
	branch := m.BranchName(runID, agentID)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkouts directory: %w", err)
	}

	if out, err := m.gitCombined(m.repoDir, "worktree", "add", "-b", branch, path); err != nil {
		return nil, fmt.Errorf("failed to create checkout for agent %d: %w\n%s", agentID, err, out)
	}

	return &Checkout{AgentID: agentID, Path: path, Branch: branch}, nil
}

// CommitCheckout stages and commits all changes inside an agent checkout.
// Returns false when the checkout had nothing to commit.
func (m *Manager) CommitCheckout(c *Checkout, message string) (bool, error) {
	if _, err := os.Stat(c.Path); err != nil {
		return false, fmt.Errorf("%w: %s", errors.ErrCheckoutNotFound, c.Path)
	}

	if out, err := m.gitCombined(c.Path, "add", "-A"); err != nil {
		return false, fmt.Errorf("failed to stage agent changes: %w\n%s", err, out)
	}

	out, err := m.gitCombined(c.Path, "commit", "-m", message)
	if err != nil {
		if strings.Contains(out, "nothing to commit") {
			return false, nil
		}
		return false, fmt.Errorf("failed to commit agent changes: %w\n%s", err, out)
	}
	return true, nil
}

// HasNewCommits reports whether a checkout's branch has commits beyond the
// integration branch.
func (m *Manager) HasNewCommits(c *Checkout, baseBranch string) (bool, error) {
	out, err := m.git(c.Path, "rev-list", "--count", baseBranch+"..HEAD")
	if err != nil {
		return false, fmt.Errorf("failed to count commits: %w", err)
	}
	return strings.TrimSpace(out) != "0", nil
}

// Merge merges an agent branch into the integration branch with --no-ff.
//
// On conflict the merge is aborted so the integration branch stays clean,
// and the returned error is a MergeError carrying the conflicting files.
// The boolean result distinguishes a real merge from an empty one.
func (m *Manager) Merge(branch, message string) error {
	out, err := m.gitCombined(m.repoDir, "merge", "--no-ff", branch, "-m", message)
	if err == nil {
		return nil
	}

	conflicts := m.conflictingFiles()
	if abortOut, abortErr := m.gitCombined(m.repoDir, "merge", "--abort"); abortErr != nil {
		// HEAD may already be clean if the merge failed before starting.
		if !strings.Contains(abortOut, "MERGE_HEAD missing") {
			return errors.NewMergeError(branch, conflicts,
				fmt.Errorf("merge failed and abort failed: %v\n%s", abortErr, abortOut))
		}
	}

	return errors.NewMergeError(branch, conflicts, fmt.Errorf("%s", strings.TrimSpace(out)))
}

// conflictingFiles lists unmerged paths at the repository root.
func (m *Manager) conflictingFiles() []string {
	out, err := m.git(m.repoDir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// ReleaseCheckout removes an agent worktree and deletes its branch. Merged
// or not, the branch is force-deleted: the run is done with it.
func (m *Manager) ReleaseCheckout(c *Checkout) error {
	if out, err := m.gitCombined(m.repoDir, "worktree", "remove", "--force", c.Path); err != nil {
		// Fall back to manual removal plus prune.
		_ = os.RemoveAll(c.Path)
		_, _ = m.gitCombined(m.repoDir, "worktree", "prune")
		if _, statErr := os.Stat(c.Path); statErr == nil {
			return fmt.Errorf("failed to remove checkout %s: %w\n%s", c.Path, err, out)
		}
	}

	if out, err := m.gitCombined(m.repoDir, "branch", "-D", c.Branch); err != nil {
		if !strings.Contains(out, "not found") {
			return fmt.Errorf("failed to delete branch %s: %w\n%s", c.Branch, err, out)
		}
	}
	return nil
}

// ReleaseAll tears down a set of checkouts concurrently. Used by the
// finalizer where the checkouts are independent and teardown is the slow
// part of finishing a run.
func (m *Manager) ReleaseAll(checkouts []*Checkout) error {
	var g errgroup.Group
	g.SetLimit(4)
	for _, c := range checkouts {
		c := c
		g.Go(func() error {
			return m.ReleaseCheckout(c)
		})
	}
	return g.Wait()
}

// CleanupRun removes all worktrees and branches left over from a run.
// Best-effort: individual failures are collected, not fatal.
func (m *Manager) CleanupRun(runID string) error {
	var errs []error

	runDir := filepath.Join(m.CheckoutsDir(), runID)
	if entries, err := os.ReadDir(runDir); err == nil {
		for _, entry := range entries {
			path := filepath.Join(runDir, entry.Name())
			if out, err := m.gitCombined(m.repoDir, "worktree", "remove", "--force", path); err != nil {
				_ = os.RemoveAll(path)
				if _, statErr := os.Stat(path); statErr == nil {
					errs = append(errs, fmt.Errorf("remove %s: %v\n%s", path, err, out))
				}
			}
		}
	}
	_ = os.RemoveAll(runDir)
	_, _ = m.gitCombined(m.repoDir, "worktree", "prune")

	// Delete any surviving run branches.
	prefix := fmt.Sprintf("%s/%s/", m.branchPrefix, runID)
	if out, err := m.git(m.repoDir, "branch", "--list", prefix+"*", "--format=%(refname:short)"); err == nil {
		for _, branch := range strings.Split(strings.TrimSpace(out), "\n") {
			if branch == "" {
				continue
			}
			if delOut, delErr := m.gitCombined(m.repoDir, "branch", "-D", branch); delErr != nil {
				errs = append(errs, fmt.Errorf("delete branch %s: %v\n%s", branch, delErr, delOut))
			}
		}
	}

	return errors.Join(errs...)
}

// OrphanedRuns lists run ids that still have checkout directories on disk.
func (m *Manager) OrphanedRuns() ([]string, error) {
	entries, err := os.ReadDir(m.CheckoutsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkouts directory: %w", err)
	}

	var runs []string
	for _, entry := range entries {
		if entry.IsDir() {
			runs = append(runs, entry.Name())
		}
	}
	return runs, nil
}

// ensureIgnored keeps the checkouts directory out of git status.
func (m *Manager) ensureIgnored() error {
	m.ignoreMu.Lock()
	defer m.ignoreMu.Unlock()

	gitignore := filepath.Join(m.repoDir, ".gitignore")
	entry := m.dirName + "/"

	data, err := os.ReadFile(gitignore)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .gitignore: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == entry || strings.TrimSpace(line) == m.dirName {
			return nil
		}
	}

	f, err := os.OpenFile(gitignore, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open .gitignore: %w", err)
	}
	defer f.Close()

	prefix := ""
	if len(data) > 0 && data[len(data)-1] != '\n' {
		prefix = "\n"
	}
	if _, err := fmt.Fprintf(f, "%s%s\n", prefix, entry); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}
	return nil
}

// git runs a git command and returns stdout.
func (m *Manager) git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}

// gitCombined runs a git command and returns combined output, for commands
// whose diagnostics arrive on stderr.
func (m *Manager) gitCombined(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
