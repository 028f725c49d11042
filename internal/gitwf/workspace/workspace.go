// Package workspace implements the git repository contract (§6): a cached
// mirror clone plus fetch/push/merge/ls-remote primitives, shelled out to
// the real git binary the way the teacher shells out to gh/git (see
// clone.go) rather than through a Go git library, since none appears
// anywhere in the retrieval pack.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
)

func sanitizeToken(token string) string {
	token = strings.ToLower(token)
	token = nonAlphanumeric.ReplaceAllString(token, "-")
	token = strings.Trim(token, "-")
	if token == "" {
		return "unknown"
	}
	return token
}

// Workspace is a single cached mirror clone of one repository. All
// git-mutating operations against it are serialized by mu, matching the
// "single writer, many readers via ls-remote cache" resource rule (§5).
type Workspace struct {
	mu      sync.Mutex
	dir     string
	repoURL string
	runner  CommandRunner

	lsRemoteCacheMu sync.RWMutex
	lsRemoteCache   map[string]string
}

// cacheRoot is where mirror clones live, one directory per owner/repo.
func cacheRoot() string {
	if dir := os.Getenv("BERT_E_WORKSPACE_CACHE"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "bert-e-workspaces")
}

// Open returns the cached mirror clone for repo ("owner/slug"), cloning it
// with `git clone --mirror` if it doesn't exist yet.
func Open(repo, repoURL string, runner CommandRunner) (*Workspace, error) {
	if runner == nil {
		runner = &RealCommandRunner{}
	}

	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("workspace: invalid repo %q, expected owner/slug", repo)
	}
	dir := filepath.Join(cacheRoot(), sanitizeToken(parts[0]), sanitizeToken(parts[1])+".git")

	w := &Workspace{
		dir:           dir,
		repoURL:       repoURL,
		runner:        runner,
		lsRemoteCache: make(map[string]string),
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, fmt.Errorf("workspace: create cache dir: %w", err)
		}
		if output, err := runner.Run("git", "clone", "--mirror", repoURL, dir); err != nil {
			return nil, fmt.Errorf("workspace: mirror clone failed: %w\n%s", err, output)
		}
	}

	return w, nil
}

// Dir returns the local path of the mirror clone.
func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) git(args ...string) ([]byte, error) {
	return w.runner.RunInDir(w.dir, "git", args...)
}

// Fetch refreshes refs from the remote and invalidates the ls-remote
// cache, the single point where "ground truth" is re-read (§5).
func (w *Workspace) Fetch() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if output, err := w.git("fetch", "--prune", "origin", "+refs/heads/*:refs/heads/*"); err != nil {
		return fmt.Errorf("workspace: fetch failed: %w\n%s", err, output)
	}

	w.lsRemoteCacheMu.Lock()
	w.lsRemoteCache = make(map[string]string)
	w.lsRemoteCacheMu.Unlock()

	return nil
}

// LsRemoteHeads lists remote branch names, serving from cache until the
// next Fetch.
func (w *Workspace) LsRemoteHeads() ([]string, error) {
	output, err := w.git("for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, fmt.Errorf("workspace: list heads failed: %w\n%s", err, output)
	}

	var heads []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			heads = append(heads, line)
		}
	}
	return heads, nil
}

// RevParse resolves a ref to its commit SHA, caching the result until the
// next Fetch.
func (w *Workspace) RevParse(ref string) (string, error) {
	w.lsRemoteCacheMu.RLock()
	if sha, ok := w.lsRemoteCache[ref]; ok {
		w.lsRemoteCacheMu.RUnlock()
		return sha, nil
	}
	w.lsRemoteCacheMu.RUnlock()

	output, err := w.git("rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("workspace: rev-parse %s failed: %w\n%s", ref, err, output)
	}
	sha := strings.TrimSpace(string(output))

	w.lsRemoteCacheMu.Lock()
	w.lsRemoteCache[ref] = sha
	w.lsRemoteCacheMu.Unlock()

	return sha, nil
}

// IsAncestor reports whether ancestor is reachable from descendant,
// backing the forward-propagation invariant (I1) and queue ancestry
// checks (I3).
func (w *Workspace) IsAncestor(ancestor, descendant string) (bool, error) {
	_, err := w.git("merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	// git exits 1 (not an error we care about) when ancestor is not an
	// ancestor; any other failure (bad ref, etc.) should propagate.
	if output, rerr := w.git("cat-file", "-e", ancestor); rerr != nil {
		return false, fmt.Errorf("workspace: unknown ref %s: %w\n%s", ancestor, rerr, output)
	}
	return false, nil
}

// RevListExcluding lists commit SHAs reachable from `from` but not
// reachable from any of excludes, backing divergence/reset-safety checks
// (§4.2: "any commit not derivable from source ∪ d_i ∪ earlier W_*").
func (w *Workspace) RevListExcluding(from string, excludes ...string) ([]string, error) {
	args := []string{"rev-list", from}
	for _, ex := range excludes {
		args = append(args, "^"+ex)
	}

	output, err := w.git(args...)
	if err != nil {
		return nil, fmt.Errorf("workspace: rev-list failed: %w\n%s", err, output)
	}
	return splitNonEmpty(string(output)), nil
}

// CommitAuthors maps each of the given commit SHAs to its author email,
// used to tell a robot-authored conflict-resolution commit from a
// user-authored one during reset safety checks (§4.2, §8).
func (w *Workspace) CommitAuthors(shas []string) (map[string]string, error) {
	authors := make(map[string]string, len(shas))
	for _, sha := range shas {
		output, err := w.git("show", "-s", "--format=%ae", sha)
		if err != nil {
			return nil, fmt.Errorf("workspace: show %s failed: %w\n%s", sha, err, output)
		}
		authors[sha] = strings.TrimSpace(string(output))
	}
	return authors, nil
}

// CreateBranch points name at startPoint, failing if it already exists.
func (w *Workspace) CreateBranch(name, startPoint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if output, err := w.git("branch", name, startPoint); err != nil {
		return fmt.Errorf("workspace: create branch %s failed: %w\n%s", name, err, output)
	}
	return nil
}

// UpdateRef force-points an existing local ref at sha, used for integration
// branches the robot exclusively owns.
func (w *Workspace) UpdateRef(name, sha string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if output, err := w.git("update-ref", "refs/heads/"+name, sha); err != nil {
		return fmt.Errorf("workspace: update-ref %s failed: %w\n%s", name, err, output)
	}
	return nil
}

// DeleteBranch removes a local branch.
func (w *Workspace) DeleteBranch(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if output, err := w.git("branch", "-D", name); err != nil {
		return fmt.Errorf("workspace: delete branch %s failed: %w\n%s", name, err, output)
	}
	return nil
}

// Push fast-forwards or force-pushes (with lease) a local branch to the
// remote. force must only ever be requested for integration branches
// (§6): destinations are never force-pushed by the core.
func (w *Workspace) Push(branch string, force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	args := []string{"push"}
	if force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, "origin", fmt.Sprintf("%s:%s", branch, branch))

	if output, err := w.git(args...); err != nil {
		return fmt.Errorf("workspace: push %s failed: %w\n%s", branch, err, output)
	}
	return nil
}

// PushTag creates and pushes a lightweight tag, used when a destination
// branch is deleted (§6).
func (w *Workspace) PushTag(tag, sha string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if output, err := w.git("tag", tag, sha); err != nil {
		return fmt.Errorf("workspace: tag %s failed: %w\n%s", tag, err, output)
	}
	if output, err := w.git("push", "origin", tag); err != nil {
		return fmt.Errorf("workspace: push tag %s failed: %w\n%s", tag, err, output)
	}
	return nil
}

// DeleteRemoteBranch removes a branch on the remote.
func (w *Workspace) DeleteRemoteBranch(branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if output, err := w.git("push", "origin", "--delete", branch); err != nil {
		return fmt.Errorf("workspace: delete remote branch %s failed: %w\n%s", branch, err, output)
	}
	return nil
}
