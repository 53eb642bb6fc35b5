//go:build integration

package worktree

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cantina-dev/cantina/internal/config"
	"github.com/cantina-dev/cantina/internal/errors"
	"github.com/cantina-dev/cantina/internal/testutil"
)

func newManager(t *testing.T, repoDir string) *Manager {
	t.Helper()

	m, err := New(repoDir, config.Default().Worktree)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestFindGitRoot(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	subDir := filepath.Join(repoDir, "pkg", "deep")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatalf("failed to create subdirectory: %v", err)
	}

	got, err := FindGitRoot(subDir)
	if err != nil {
		t.Fatalf("FindGitRoot failed: %v", err)
	}
	wantResolved, _ := filepath.EvalSymlinks(repoDir)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != wantResolved {
		t.Errorf("FindGitRoot = %q, want %q", got, repoDir)
	}

	if _, err := FindGitRoot(t.TempDir()); !errors.Is(err, errors.ErrNotGitRepository) {
		t.Errorf("non-repo error = %v, want ErrNotGitRepository", err)
	}
}

func TestCheckClean(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	m := newManager(t, repoDir)

	if err := m.CheckClean(); err != nil {
		t.Fatalf("CheckClean on clean repo failed: %v", err)
	}

	// Untracked files must not block a run.
	testutil.WriteFile(t, repoDir, "untracked.txt", "new file\n")
	if err := m.CheckClean(); err != nil {
		t.Fatalf("CheckClean with untracked file failed: %v", err)
	}

	// Modifying a tracked file must.
	testutil.WriteFile(t, repoDir, "README.md", "modified\n")
	err := m.CheckClean()
	if !errors.Is(err, errors.ErrDirtyTree) {
		t.Fatalf("CheckClean = %v, want ErrDirtyTree", err)
	}
	var ge *errors.GuardError
	if !errors.As(err, &ge) {
		t.Fatal("error should be a GuardError")
	}
	if len(ge.DirtyFiles) != 1 || ge.DirtyFiles[0] != "README.md" {
		t.Errorf("DirtyFiles = %v, want [README.md]", ge.DirtyFiles)
	}
}

func TestCommitAll(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	m := newManager(t, repoDir)

	testutil.WriteFile(t, repoDir, "README.md", "modified\n")
	before := testutil.GetCommitCount(t, repoDir)

	if err := m.CommitAll("checkpoint before run"); err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if got := testutil.GetCommitCount(t, repoDir); got != before+1 {
		t.Errorf("commit count = %d, want %d", got, before+1)
	}
	if err := m.CheckClean(); err != nil {
		t.Errorf("tree should be clean after CommitAll: %v", err)
	}

	// Committing a clean tree is a no-op.
	if err := m.CommitAll("nothing here"); err != nil {
		t.Errorf("CommitAll on clean tree failed: %v", err)
	}
}

func TestCheckoutLifecycle(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	m := newManager(t, repoDir)

	c, err := m.CreateCheckout("run1234", 0)
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}
	if c.Branch != "parallel/run1234/agent-0" {
		t.Errorf("Branch = %q", c.Branch)
	}
	if !strings.Contains(c.Path, ".cantina-worktrees") {
		t.Errorf("Path = %q should live under the checkouts directory", c.Path)
	}
	if _, err := os.Stat(filepath.Join(c.Path, "README.md")); err != nil {
		t.Errorf("checkout should contain repository files: %v", err)
	}

	// The checkouts directory must be gitignored so the root stays clean.
	if err := m.CheckClean(); err != nil {
		t.Errorf("root should stay clean after checkout creation: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(repoDir, ".gitignore"))
	if err != nil || !strings.Contains(string(data), ".cantina-worktrees/") {
		t.Errorf(".gitignore should list the checkouts directory, got %q (err %v)", data, err)
	}

	// Work in the checkout, commit it there.
	testutil.WriteFile(t, c.Path, "feature.txt", "agent output\n")
	committed, err := m.CommitCheckout(c, "agent 0: add feature")
	if err != nil {
		t.Fatalf("CommitCheckout failed: %v", err)
	}
	if !committed {
		t.Fatal("CommitCheckout should report a commit was made")
	}

	has, err := m.HasNewCommits(c, "main")
	if err != nil {
		t.Fatalf("HasNewCommits failed: %v", err)
	}
	if !has {
		t.Error("checkout should have commits beyond main")
	}

	if err := m.ReleaseCheckout(c); err != nil {
		t.Fatalf("ReleaseCheckout failed: %v", err)
	}
	if _, err := os.Stat(c.Path); !os.IsNotExist(err) {
		t.Error("checkout directory should be gone")
	}
	if testutil.BranchExists(t, repoDir, c.Branch) {
		t.Error("agent branch should be deleted")
	}
}

func TestCommitCheckoutNothingToCommit(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	m := newManager(t, repoDir)

	c, err := m.CreateCheckout("run1234", 1)
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}
	defer func() { _ = m.ReleaseCheckout(c) }()

	committed, err := m.CommitCheckout(c, "no changes")
	if err != nil {
		t.Fatalf("CommitCheckout failed: %v", err)
	}
	if committed {
		t.Error("CommitCheckout should report nothing was committed")
	}
}

func TestMergeClean(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	m := newManager(t, repoDir)

	c, err := m.CreateCheckout("run1234", 0)
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	testutil.WriteFile(t, c.Path, "feature.txt", "agent output\n")
	if _, err := m.CommitCheckout(c, "agent 0: add feature"); err != nil {
		t.Fatalf("CommitCheckout failed: %v", err)
	}

	if err := m.Merge(c.Branch, "integrate agent 0"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(repoDir, "feature.txt")); err != nil {
		t.Errorf("merged file missing from integration branch: %v", err)
	}
}

func TestMergeConflictAborts(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	m := newManager(t, repoDir)

	c, err := m.CreateCheckout("run1234", 0)
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	// Diverge the same file on both sides.
	testutil.WriteFile(t, c.Path, "README.md", "agent version\n")
	if _, err := m.CommitCheckout(c, "agent edit"); err != nil {
		t.Fatalf("CommitCheckout failed: %v", err)
	}
	testutil.CommitFile(t, repoDir, "README.md", "integration version\n", "integration edit")

	err = m.Merge(c.Branch, "integrate agent 0")
	if err == nil {
		t.Fatal("expected merge conflict")
	}
	var me *errors.MergeError
	if !errors.As(err, &me) {
		t.Fatalf("error should be a MergeError, got %v", err)
	}
	if len(me.ConflictFiles) == 0 || me.ConflictFiles[0] != "README.md" {
		t.Errorf("ConflictFiles = %v, want [README.md]", me.ConflictFiles)
	}

	// The merge must have been aborted: integration branch clean.
	if err := m.CheckClean(); err != nil {
		t.Errorf("integration branch should be clean after aborted merge: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(repoDir, "README.md"))
	if string(data) != "integration version\n" {
		t.Errorf("README.md = %q, integration content should be untouched", data)
	}
}

func TestCleanupRun(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	m := newManager(t, repoDir)

	for id := 0; id < 3; id++ {
		if _, err := m.CreateCheckout("runX", id); err != nil {
			t.Fatalf("CreateCheckout %d failed: %v", id, err)
		}
	}

	runs, err := m.OrphanedRuns()
	if err != nil {
		t.Fatalf("OrphanedRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0] != "runX" {
		t.Errorf("OrphanedRuns = %v, want [runX]", runs)
	}

	if err := m.CleanupRun("runX"); err != nil {
		t.Fatalf("CleanupRun failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.CheckoutsDir(), "runX")); !os.IsNotExist(err) {
		t.Error("run directory should be removed")
	}
	for id := 0; id < 3; id++ {
		if testutil.BranchExists(t, repoDir, m.BranchName("runX", id)) {
			t.Errorf("branch for agent %d should be deleted", id)
		}
	}

	runs, err = m.OrphanedRuns()
	if err != nil {
		t.Fatalf("OrphanedRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("OrphanedRuns after cleanup = %v, want empty", runs)
	}
}

func TestEnsureIgnoredConcurrent(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	m := newManager(t, repoDir)

	// Parallel checkout creation hits the .gitignore read-append from several
	// goroutines at once; the entry must land exactly once.
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.ensureIgnored()
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("ensureIgnored %d failed: %v", i, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(repoDir, ".gitignore"))
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == ".cantina-worktrees/" {
			count++
		}
	}
	if count != 1 {
		t.Errorf(".gitignore lists the checkouts directory %d times, want 1:\n%s", count, data)
	}
}
