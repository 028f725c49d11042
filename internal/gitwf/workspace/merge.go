package workspace

import (
	"fmt"
	"strings"
)

// MergeResult reports the outcome of a merge attempt. The mirror clone
// has no working tree, so each merge runs `git merge` in a temporary
// worktree checked out at a scratch ref (see tempWorktree).
type MergeResult struct {
	SHA       string
	Conflict  bool
	Conflicts []string
}

// ThreeWayMerge merges `heads` onto base, creating a new commit with base
// as the first parent. len(heads) == 1 is a normal two-way merge;
// len(heads) > 1 performs an octopus merge (§4.2).
func (w *Workspace) ThreeWayMerge(base string, heads []string, message string) (MergeResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	scratch := "refs/bert-e/scratch/merge"
	if output, err := w.git("update-ref", scratch, base); err != nil {
		return MergeResult{}, fmt.Errorf("workspace: prepare scratch ref failed: %w\n%s", err, output)
	}
	defer w.git("update-ref", "-d", scratch)

	worktree, cleanup, err := w.tempWorktree(scratch)
	if err != nil {
		return MergeResult{}, err
	}
	defer cleanup()

	args := append([]string{"merge", "--no-ff", "--no-edit", "-m", message}, heads...)
	output, err := w.runner.RunInDir(worktree, "git", args...)
	if err != nil {
		conflicts, cerr := w.runner.RunInDir(worktree, "git", "diff", "--name-only", "--diff-filter=U")
		if cerr == nil {
			files := splitNonEmpty(string(conflicts))
			return MergeResult{Conflict: true, Conflicts: files}, nil
		}
		return MergeResult{}, fmt.Errorf("workspace: merge failed: %w\n%s", err, output)
	}

	sha, err := w.runner.RunInDir(worktree, "git", "rev-parse", "HEAD")
	if err != nil {
		return MergeResult{}, fmt.Errorf("workspace: resolve merge HEAD failed: %w", err)
	}

	return MergeResult{SHA: strings.TrimSpace(string(sha))}, nil
}

// tempWorktree creates a disposable worktree checked out at ref, since the
// mirror clone itself has no working tree and merges need one.
func (w *Workspace) tempWorktree(ref string) (string, func(), error) {
	dir := w.dir + "-wt-" + sanitizeToken(ref)

	if output, err := w.git("worktree", "add", "--detach", dir, ref); err != nil {
		return "", nil, fmt.Errorf("workspace: add worktree failed: %w\n%s", err, output)
	}

	cleanup := func() {
		w.git("worktree", "remove", "--force", dir)
	}

	return dir, cleanup, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
