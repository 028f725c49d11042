// Package gating implements the Gating Evaluator (§4.3): a fixed-order
// list of checks over one pull request's assembled facts, each producing
// either a pass or a typed, short-circuiting failure.
package gating

import "github.com/scality/bert-e/internal/gitwf/branchref"

// IssueFacts carries whatever the issue tracker reported about the PR's
// linked issue key. Present is false when no key was required/found.
type IssueFacts struct {
	Present    bool
	Key        string
	Exists     bool
	Project    string
	IsSubtask  bool
	Type       string
	FixVersions []string
}

// ApprovalFacts is the review tally the git host reported.
type ApprovalFacts struct {
	AuthorApproved        bool
	PeerApprovalCount     int
	LeaderApprovalCount   int
	OutstandingChangeRequests bool
}

// BuildFacts is the aggregate build status across every integration tip.
type BuildFacts struct {
	AllSuccessful bool
	Pending       []string // destination names still pending/missing
	Failed        []string
}

// PRFacts is everything the evaluator needs, gathered once per job by the
// orchestrator before calling Evaluate. It is deliberately a flat struct
// (not an interface) since every check is a pure function of these
// values — there is nothing to mock once the facts are assembled.
type PRFacts struct {
	Number int
	Open   bool

	Destination      branchref.DestinationBranch
	DestinationKnown bool
	Source           branchref.SourceBranch
	SourceRecognized bool

	CommitDiff    int
	MaxCommitDiff int

	Issue IssueFacts

	RequireIssueKey   bool
	JiraProjectKeys   []string
	PrefixIssueTypes  map[string][]string // source prefix -> allowed issue types
	CascadeVersions   []string            // "major.minor" set the fix-versions must match
	DisableVersionChecks bool

	Cascade          []branchref.DestinationBranch
	IgnoredBranches  []string
	IntegrationBuilt bool
	HistoryMismatch  bool
	HasConflict      bool

	RequireAuthorApproval bool
	RequiredPeerApprovals   int
	RequiredLeaderApprovals int
	Approvals               ApprovalFacts

	// AfterPullRequestsPending lists unmerged PR references named by this
	// PR's after_pull_request option, used when no dependency graph is
	// available (e.g. a single-PR evaluation with no cycle to detect).
	AfterPullRequestsPending []string

	// AfterPullRequestGraph maps every PR number currently carrying an
	// after_pull_request option to the PR numbers it names, across the
	// whole repository — not just this PR's own dependency, since a cycle
	// can only be detected by walking the full graph (§9 Open Question:
	// "what if after_pull_request dependencies cycle?"). Nil/empty means
	// the caller didn't assemble the full graph; Evaluate then falls back
	// to AfterPullRequestsPending alone.
	AfterPullRequestGraph map[int][]int
	MergedPRs             map[int]bool

	Build BuildFacts

	QueueEnabled bool

	Options Options
}

// Options is the effective set of sticky options in force for this PR, as
// produced by internal/command.
type Options struct {
	BypassIncompatibleBranch bool
	BypassJiraCheck          bool
	DisableVersionChecks     bool
	BypassAuthorApproval     bool
	BypassPeerApproval       bool
	BypassLeaderApproval     bool
	BypassBuildStatus        bool
	RemoveAfterPullRequest   bool
	Wait                     bool
	CreateIntegrationBranches bool
}
