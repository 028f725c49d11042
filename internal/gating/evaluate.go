package gating

import (
	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/gitwf/branchref"
)

// MessengerState is the data §4.3 requires be exposed to the messenger on
// every evaluation, regardless of outcome, so it can render a status
// comment idempotently keyed on (code, these fields).
type MessengerState struct {
	Code                int
	ActiveOptions       Options
	Cascade             []string
	IgnoredBranches     []string
	MissingApprovals    []string
	IntegrationChildren []string
	// CommitDiffAnomaly is set whenever the observed source divergence
	// arrived negative (possible after a rebase between evaluations) and
	// was clamped to 0 before the limit check ran (§9 Open Question).
	CommitDiffAnomaly bool
}

// Result is what Evaluate returns: the first failing check's code (0 on
// full pass), the action the dispatcher should take next, and the
// messenger state snapshot.
type Result struct {
	Code   int
	Action Action
	State  MessengerState
}

// Evaluate runs every §4.3 check in fixed order against f, short-circuiting
// on the first failure that isn't bypassed. Checks 1 ("PR is open") and 2
// ("destination recognized") return giterr.NotMyJobError rather than a
// status code: a closed PR or an untracked destination isn't a failure to
// report, it's simply not this robot's job.
func Evaluate(f PRFacts) (Result, error) {
	state := MessengerState{
		ActiveOptions:       f.Options,
		Cascade:             cascadeNames(f.Cascade),
		IgnoredBranches:     append([]string(nil), f.IgnoredBranches...),
		IntegrationChildren: cascadeNames(f.Cascade),
	}

	if !f.Open {
		return Result{State: state}, giterr.NewNotMyJob("pull request is not open")
	}
	if !f.DestinationKnown {
		return Result{State: state}, giterr.NewNotMyJob("destination is not a recognized development/stabilization branch")
	}
	state.CommitDiffAnomaly = f.CommitDiff < 0

	for _, c := range orderedChecks {
		if c.name == "after_pull_request_merged" && len(f.AfterPullRequestGraph) > 0 {
			if cycle := detectAfterPullRequestCycle(f.AfterPullRequestGraph, f.MergedPRs, f.Number); cycle {
				state.Code = StatusAfterPullRequestCycle
				return Result{Code: StatusAfterPullRequestCycle, State: state}, giterr.NewUserFacing(
					StatusAfterPullRequestCycle, "after_pull_request dependency cycle", map[string]any{"pr": f.Number})
			}
		}

		if c.run(f) {
			continue
		}
		if c.bypass != nil && c.bypass(f.Options) {
			continue
		}
		state.Code = c.code
		if c.name == "peer_approvals" || c.name == "leader_approvals" || c.name == "author_approval" {
			state.MissingApprovals = append(state.MissingApprovals, c.name)
		}
		return Result{Code: c.code, Action: ActionNone, State: state}, newFailure(c)
	}

	// §4.3 row 12: integration branches must exist before rows 13-14 can
	// even be evaluated meaningfully; a cascade reaching this point with
	// IntegrationBuilt false means the caller hasn't run the Integration
	// Engine yet for this evaluation, which the orchestrator always does
	// before calling Evaluate — so this is a precondition, not a status.
	if !f.IntegrationBuilt && !f.Options.CreateIntegrationBranches {
		return Result{State: state}, giterr.NewFatal("gating: integration branches not built before evaluation", nil, "")
	}

	if f.Options.Wait {
		return Result{Action: ActionAwaitEvent, State: state}, nil
	}

	action := ActionDirectMerge
	if f.QueueEnabled {
		action = ActionHandToQueue
	}
	state.Code = 0
	return Result{Action: action, State: state}, nil
}

// detectAfterPullRequestCycle walks graph depth-first from start through
// still-unmerged dependencies, reporting whether start participates in a
// cycle. A merged PR can never re-enter a wait, so it breaks the chain.
func detectAfterPullRequestCycle(graph map[int][]int, merged map[int]bool, start int) bool {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[int]int, len(graph))

	var visit func(n int) bool
	visit = func(n int) bool {
		if merged[n] {
			return false
		}
		switch state[n] {
		case visiting:
			return true
		case done:
			return false
		}
		state[n] = visiting
		for _, dep := range graph[n] {
			if visit(dep) {
				return true
			}
		}
		state[n] = done
		return false
	}

	return visit(start)
}

func cascadeNames(cascade []branchref.DestinationBranch) []string {
	names := make([]string, 0, len(cascade))
	for _, c := range cascade {
		names = append(names, c.Name)
	}
	return names
}
