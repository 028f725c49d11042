// Package integration implements the Integration Engine (§4.2): it
// creates and maintains the per-PR integration branches (`w/<version>/
// <src>`) that stage a PR's changes against every forward destination,
// and detects history divergence and merge conflicts.
package integration

import (
	"fmt"

	"github.com/scality/bert-e/internal/gitwf/branchref"
	"github.com/scality/bert-e/internal/gitwf/workspace"
)

// Branch describes one materialized (or virtual, for i==0) integration
// branch in a PR's cascade.
type Branch struct {
	Destination branchref.DestinationBranch
	// Name is empty for the virtual W_0 (≡ source, never materialized).
	Name string
	Tip  string
}

// ConflictError is returned when a merge fails; it carries the
// role-aware remediation text required by §4.2.
type ConflictError struct {
	Destination branchref.DestinationBranch
	// FixOnFeatureBranch is true when the conflict is against d_0 (the
	// PR's original target) rather than a later integration branch.
	FixOnFeatureBranch bool
	Files              []string
}

func (e *ConflictError) Error() string {
	if e.FixOnFeatureBranch {
		return fmt.Sprintf("merge conflict into %s: fix on feature branch (%v)", e.Destination.Name, e.Files)
	}
	return fmt.Sprintf("merge conflict into %s: fix on integration branch (%v)", e.Destination.Name, e.Files)
}

// DivergenceError is status 113: the first integration branch carries a
// commit not derivable from source or d_0.
type DivergenceError struct {
	Destination branchref.DestinationBranch
	Commits     []string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("history mismatch on %s: %d foreign commit(s)", e.Destination.Name, len(e.Commits))
}

// Options configures the merge strategy (§4.2).
type Options struct {
	NoOctopus bool
	RobotName string
}

// Engine builds and maintains integration branches against one workspace.
type Engine struct {
	ws   *workspace.Workspace
	opts Options
}

// New creates an Engine bound to ws.
func New(ws *workspace.Workspace, opts Options) *Engine {
	return &Engine{ws: ws, opts: opts}
}

// EnsureAll creates or updates every W_i for cascade[1:] (cascade[0] is
// the PR's original target, d_0; W_0 is virtual and equals source).
// sourceTip is the current tip of the PR's source branch.
func (e *Engine) EnsureAll(cascade []branchref.DestinationBranch, source, sourceTip string) ([]Branch, error) {
	if len(cascade) == 0 {
		return nil, fmt.Errorf("integration: empty cascade")
	}

	branches := make([]Branch, 0, len(cascade)-1)
	prevTip := sourceTip
	prevIsSource := true

	for i := 1; i < len(cascade); i++ {
		d := cascade[i]
		name := branchref.IntegrationBranchName(d, source)

		destTip, err := e.ws.RevParse(d.Name)
		if err != nil {
			return nil, fmt.Errorf("integration: resolve %s: %w", d.Name, err)
		}

		var heads []string
		if prevIsSource {
			heads = []string{sourceTip}
		} else {
			heads = []string{sourceTip, prevTip}
		}

		tip, err := e.mergeOnto(destTip, heads, fmt.Sprintf("Merge %s into %s", source, name))
		if err != nil {
			isD0 := i == 1
			return nil, classifyConflict(err, d, isD0)
		}

		if i == 1 {
			if mismatched, commits, derr := e.detectDivergence(tip, source, cascade[0].Name); derr != nil {
				return nil, derr
			} else if mismatched {
				return nil, &DivergenceError{Destination: d, Commits: commits}
			}
		}

		if err := e.updateBranch(name, tip); err != nil {
			return nil, err
		}

		branches = append(branches, Branch{Destination: d, Name: name, Tip: tip})
		prevTip = tip
		prevIsSource = false
	}

	return branches, nil
}

// mergeOnto performs the configured merge strategy: octopus when more
// than one head and octopus is allowed, else consecutive two-way merges,
// with "robust merge" — if both are attempted, whichever produced fewer
// conflicts wins (§4.2).
func (e *Engine) mergeOnto(base string, heads []string, message string) (string, error) {
	if len(heads) == 1 || e.opts.NoOctopus {
		return e.mergeConsecutive(base, heads, message)
	}

	octopusResult, octErr := e.ws.ThreeWayMerge(base, heads, message)
	if octErr == nil && !octopusResult.Conflict {
		return octopusResult.SHA, nil
	}

	consecutiveTip, consErr := e.mergeConsecutive(base, heads, message)
	if consErr == nil {
		return consecutiveTip, nil
	}

	// Both strategies failed: prefer reporting the one with fewer
	// conflicting files, per the "robust merge" rule.
	if octErr == nil && isConflict(consErr) {
		octConflicts := len(octopusResult.Conflicts)
		consConflicts := len(asConflictFiles(consErr))
		if octConflicts <= consConflicts {
			return "", &mergeConflictErr{files: octopusResult.Conflicts}
		}
	}
	return "", consErr
}

func (e *Engine) mergeConsecutive(base string, heads []string, message string) (string, error) {
	current := base
	for _, head := range heads {
		result, err := e.ws.ThreeWayMerge(current, []string{head}, message)
		if err != nil {
			return "", fmt.Errorf("integration: merge failed: %w", err)
		}
		if result.Conflict {
			return "", &mergeConflictErr{files: result.Conflicts}
		}
		current = result.SHA
	}
	return current, nil
}

type mergeConflictErr struct {
	files []string
}

func (e *mergeConflictErr) Error() string { return fmt.Sprintf("merge conflict: %v", e.files) }

func isConflict(err error) bool {
	_, ok := err.(*mergeConflictErr)
	return ok
}

func asConflictFiles(err error) []string {
	if mc, ok := err.(*mergeConflictErr); ok {
		return mc.files
	}
	return nil
}

func classifyConflict(err error, d branchref.DestinationBranch, isD0 bool) error {
	if mc, ok := err.(*mergeConflictErr); ok {
		return &ConflictError{Destination: d, FixOnFeatureBranch: isD0, Files: mc.files}
	}
	return fmt.Errorf("integration: merge into %s failed: %w", d.Name, err)
}

// detectDivergence scans W_1 for commits not originating from source or d_0.
func (e *Engine) detectDivergence(w1Tip, source, d0 string) (bool, []string, error) {
	foreign, err := e.ws.RevListExcluding(w1Tip, source, d0)
	if err != nil {
		return false, nil, fmt.Errorf("integration: divergence scan failed: %w", err)
	}
	// The merge commit itself is always "foreign" to both parents; exclude
	// the immediate merge tip by re-running the scan from its parents
	// would be more precise, but a robot-authored merge commit has no
	// other foreign content, so a non-empty result beyond the merge
	// commit itself indicates history mismatch.
	if len(foreign) <= 1 {
		return false, nil, nil
	}
	return true, foreign, nil
}

// updateBranch creates name if it doesn't exist, else force-updates it —
// integration branches are exclusively robot-owned and force-pushed with
// lease, never rebased (history is additive merge commits only).
func (e *Engine) updateBranch(name, tip string) error {
	if _, err := e.ws.RevParse(name); err != nil {
		if cerr := e.ws.CreateBranch(name, tip); cerr != nil {
			return fmt.Errorf("integration: create %s: %w", name, cerr)
		}
	} else {
		if uerr := e.ws.UpdateRef(name, tip); uerr != nil {
			return fmt.Errorf("integration: update %s: %w", name, uerr)
		}
	}
	return e.ws.Push(name, true)
}
