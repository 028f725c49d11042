package gating

import "github.com/scality/bert-e/internal/giterr"

// Status codes the evaluator can short-circuit on (§4.3's Code column).
// Checks with no designated code either terminate the job silently
// (NotMyJob, e.g. a closed PR) or have nothing to report back since a
// false result there is impossible by construction (e.g. the cascade is
// always built once the destination is known).
const (
	StatusBadSourcePrefix       = 105
	StatusIncompatibleBranch    = 106
	StatusMissingIssueKey       = 107
	StatusIssueNotFound         = 108
	StatusIssueIsSubtask        = 109
	StatusIssueProjectMismatch  = 110
	StatusIssueTypeMismatch     = 111
	StatusFixVersionMismatch    = 112
	StatusHistoryMismatch       = 113
	StatusConflict              = 114
	StatusApprovalMissing       = 115
	StatusBuildNotSuccessful    = 118
	StatusAfterPRPending        = 120
	StatusUnknownToken          = 122
	StatusPrivilegeFailure      = 123
	StatusSourceDiverged        = 134

	// StatusAfterPullRequestCycle has no counterpart in the original
	// check table: §9's Open Question asks what happens when
	// after_pull_request dependencies cycle, and the decision recorded in
	// the design ledger is to fail it permanently rather than wait on an
	// unsatisfiable condition forever. 124 is otherwise unused in the
	// stable status table; it must not reuse 121, which already names
	// "Integration data created".
	StatusAfterPullRequestCycle = 124
)

// Action tells the dispatcher what to do once the evaluator returns.
type Action string

const (
	ActionHandToQueue  Action = "hand_to_queue"
	ActionDirectMerge  Action = "direct_merge"
	ActionAwaitEvent   Action = "await_event"
	ActionNone         Action = ""
)

// checkFunc reports whether the PR currently satisfies one check.
type checkFunc func(f PRFacts) bool

// check pairs one ordered §4.3 row with its status code and, when the row
// allows a bypass, the predicate over Options that authorizes skipping it.
// Bypass predicates are never consulted unless the caller has already
// confirmed the commenter held the required privilege (internal/command's
// job, not this package's) — Options.Bypass* is only ever set true for a
// privileged commenter.
type check struct {
	name    string
	code    int
	run     checkFunc
	bypass  func(o Options) bool
}

// orderedChecks is the fixed evaluation order of §4.3's table, rows 3-19
// (rows 1, 2, 12 and 20 are handled directly in Evaluate since they either
// exit silently or never fail by construction).
var orderedChecks = []check{
	{
		name: "source_prefix_permitted",
		code: StatusBadSourcePrefix,
		run:  func(f PRFacts) bool { return f.SourceRecognized },
	},
	{
		name:   "prefix_compatible_with_destination",
		code:   StatusIncompatibleBranch,
		run:    func(f PRFacts) bool { return len(f.IgnoredBranches) == 0 || f.Options.BypassIncompatibleBranch },
		bypass: func(o Options) bool { return o.BypassIncompatibleBranch },
	},
	{
		name: "source_diff_within_limit",
		code: StatusSourceDiverged,
		run: func(f PRFacts) bool {
			diff := f.CommitDiff
			if diff < 0 {
				diff = 0 // a rebase between evaluations can make this transiently negative
			}
			return diff <= f.MaxCommitDiff
		},
	},
	{
		name:   "issue_key_present",
		code:   StatusMissingIssueKey,
		run:    func(f PRFacts) bool { return !f.RequireIssueKey || f.Issue.Present },
		bypass: func(o Options) bool { return o.BypassJiraCheck },
	},
	{
		name:   "issue_exists",
		code:   StatusIssueNotFound,
		run:    func(f PRFacts) bool { return !f.Issue.Present || f.Issue.Exists },
		bypass: func(o Options) bool { return o.BypassJiraCheck },
	},
	{
		name:   "issue_project_allowed",
		code:   StatusIssueProjectMismatch,
		run:    func(f PRFacts) bool { return !f.Issue.Present || containsString(f.JiraProjectKeys, f.Issue.Project) },
		bypass: func(o Options) bool { return o.BypassJiraCheck },
	},
	{
		name:   "issue_not_subtask",
		code:   StatusIssueIsSubtask,
		run:    func(f PRFacts) bool { return !f.Issue.Present || !f.Issue.IsSubtask },
		bypass: func(o Options) bool { return o.BypassJiraCheck },
	},
	{
		name: "issue_type_matches_prefix",
		code: StatusIssueTypeMismatch,
		run: func(f PRFacts) bool {
			if !f.Issue.Present {
				return true
			}
			allowed, ok := f.PrefixIssueTypes[string(f.Source.Prefix)]
			return !ok || containsString(allowed, f.Issue.Type)
		},
		bypass: func(o Options) bool { return o.BypassJiraCheck },
	},
	{
		name: "fix_versions_match_cascade",
		code: StatusFixVersionMismatch,
		run: func(f PRFacts) bool {
			if !f.Issue.Present || f.DisableVersionChecks || f.Options.DisableVersionChecks {
				return true
			}
			return sameVersionSet(f.Issue.FixVersions, f.CascadeVersions)
		},
		bypass: func(o Options) bool { return o.BypassJiraCheck || o.DisableVersionChecks },
	},
	{
		name: "no_history_mismatch",
		code: StatusHistoryMismatch,
		run:  func(f PRFacts) bool { return !f.HistoryMismatch },
	},
	{
		name: "no_conflicts",
		code: StatusConflict,
		run:  func(f PRFacts) bool { return !f.HasConflict },
	},
	{
		name:   "author_approval",
		code:   StatusApprovalMissing,
		run:    func(f PRFacts) bool { return !f.RequireAuthorApproval || f.Approvals.AuthorApproved },
		bypass: func(o Options) bool { return o.BypassAuthorApproval },
	},
	{
		name: "peer_approvals",
		code: StatusApprovalMissing,
		run: func(f PRFacts) bool {
			return !f.Approvals.OutstandingChangeRequests && f.Approvals.PeerApprovalCount >= f.RequiredPeerApprovals
		},
		bypass: func(o Options) bool { return o.BypassPeerApproval },
	},
	{
		name:   "leader_approvals",
		code:   StatusApprovalMissing,
		run:    func(f PRFacts) bool { return f.Approvals.LeaderApprovalCount >= f.RequiredLeaderApprovals },
		bypass: func(o Options) bool { return o.BypassLeaderApproval },
	},
	{
		name:   "after_pull_request_merged",
		code:   StatusAfterPRPending,
		run:    func(f PRFacts) bool { return len(f.AfterPullRequestsPending) == 0 },
		bypass: func(o Options) bool { return o.RemoveAfterPullRequest },
	},
	{
		name:   "build_status_successful",
		code:   StatusBuildNotSuccessful,
		run:    func(f PRFacts) bool { return f.Build.AllSuccessful },
		bypass: func(o Options) bool { return o.BypassBuildStatus },
	},
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// sameVersionSet reports whether fixVersions covers every version in the
// cascade (§4.3 row 11: "fix-versions match the cascade's version set"),
// not merely overlaps it — an issue tagged for only one of two cascade
// versions must still fail this check.
func sameVersionSet(fixVersions, cascadeVersions []string) bool {
	if len(fixVersions) == 0 || len(cascadeVersions) == 0 {
		return false
	}
	have := make(map[string]bool, len(fixVersions))
	for _, v := range fixVersions {
		have[v] = true
	}
	for _, v := range cascadeVersions {
		if !have[v] {
			return false
		}
	}
	return true
}

// newFailure builds the UserFacingError the dispatcher's generic
// error-to-comment path renders for a short-circuited check, without
// gating needing its own error type.
func newFailure(c check) error {
	return giterr.NewUserFacing(c.code, c.name, map[string]any{"check": c.name})
}
