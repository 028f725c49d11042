// Package messenger renders gating outcomes into PR comments with
// at-most-once delivery per (code, salient inputs) tuple (§4.3, §7): it
// scans the PR's own comments for a marker before posting, the same
// "read current body before writing" idempotency check
// internal/github/postprocess/comment_updater.go performs before editing
// a comment, applied here to avoid creating a duplicate one instead.
package messenger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/scality/bert-e/internal/gating"
	"github.com/scality/bert-e/internal/githost"
)

// MessageSpec is what the gating evaluator hands the messenger: a status
// code plus the template parameters to render, kept separate from
// rendering itself per §9's "template-rendered messages" redesign note.
type MessageSpec struct {
	Code   int
	Params map[string]any
	State  gating.MessengerState
}

// Messenger posts status comments on behalf of robot, deduplicating
// against its own prior comments on the same PR.
type Messenger struct {
	host  githost.Client
	robot string
}

// New creates a messenger that posts as robot (matched against comment
// authors for idempotency) through host.
func New(host githost.Client, robot string) *Messenger {
	return &Messenger{host: host, robot: robot}
}

// Post renders spec and creates a comment on repo#number unless a
// still-present robot comment already carries the same idempotency
// marker.
func (m *Messenger) Post(ctx context.Context, repo string, number int, spec MessageSpec) error {
	marker := markerFor(spec)

	comments, err := m.host.ListComments(ctx, repo, number)
	if err != nil {
		return fmt.Errorf("messenger: list comments: %w", err)
	}
	for _, c := range comments {
		if c.Deleted || c.Author != m.robot {
			continue
		}
		if strings.Contains(c.Body, marker) {
			return nil
		}
	}

	body := render(spec) + "\n\n" + marker
	if _, err := m.host.CreateComment(ctx, repo, number, body); err != nil {
		return fmt.Errorf("messenger: create comment: %w", err)
	}
	return nil
}

// markerFor derives the idempotency key from the code plus every salient
// input the comment's text would vary on: its params and the gating
// state snapshot (cascade, ignored branches, missing approvals,
// integration children, active options). Two evaluations that land on
// the same code with the same inputs must never produce two comments;
// two that differ in any of these legitimately need a fresh one (e.g.
// the cascade grew a branch since the last failing evaluation).
func markerFor(spec MessageSpec) string {
	h := sha256.New()
	fmt.Fprintf(h, "code=%d\n", spec.Code)

	paramKeys := make([]string, 0, len(spec.Params))
	for k := range spec.Params {
		paramKeys = append(paramKeys, k)
	}
	sort.Strings(paramKeys)
	for _, k := range paramKeys {
		fmt.Fprintf(h, "param:%s=%v\n", k, spec.Params[k])
	}

	fmt.Fprintf(h, "cascade=%s\n", strings.Join(spec.State.Cascade, ","))
	fmt.Fprintf(h, "ignored=%s\n", strings.Join(spec.State.IgnoredBranches, ","))
	fmt.Fprintf(h, "missing=%s\n", strings.Join(spec.State.MissingApprovals, ","))
	fmt.Fprintf(h, "children=%s\n", strings.Join(spec.State.IntegrationChildren, ","))
	fmt.Fprintf(h, "options=%s\n", strings.Join(activeOptionNames(spec.State.ActiveOptions), ","))

	sum := h.Sum(nil)
	return "<!-- bert-e:status:" + hex.EncodeToString(sum)[:16] + " -->"
}

var statusTitles = map[int]string{
	100: "Hello!",
	102: "Merged",
	105: "Incorrect branch prefix",
	106: "Incompatible destination branch",
	107: "Missing issue key",
	108: "Issue not found",
	109: "Issue is a subtask",
	110: "Wrong Jira project",
	111: "Issue type/branch prefix mismatch",
	112: "Fix-version mismatch",
	113: "History mismatch",
	114: "Merge conflict",
	115: "Missing approvals",
	118: "Build not successful",
	120: "Waiting on another pull request",
	121: "Integration data created",
	122: "Unknown command",
	123: "Not authorized",
	124: "after_pull_request dependency cycle",
	134: "Diverged too much, or not the author",
}

func render(spec MessageSpec) string {
	var b strings.Builder

	title := statusTitles[spec.Code]
	if title == "" {
		title = "Status update"
	}
	fmt.Fprintf(&b, "**[%d] %s**\n", spec.Code, title)

	if len(spec.Params) > 0 {
		keys := make([]string, 0, len(spec.Params))
		for k := range spec.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, spec.Params[k])
		}
	}

	state := spec.State
	if len(state.Cascade) > 0 {
		fmt.Fprintf(&b, "\nCascade: %s", strings.Join(state.Cascade, ", "))
	}
	if len(state.IgnoredBranches) > 0 {
		fmt.Fprintf(&b, "\nIgnored branches: %s", strings.Join(state.IgnoredBranches, ", "))
	}
	if len(state.MissingApprovals) > 0 {
		fmt.Fprintf(&b, "\nMissing approvals: %s", strings.Join(state.MissingApprovals, ", "))
	}
	if len(state.IntegrationChildren) > 0 {
		fmt.Fprintf(&b, "\nIntegration branches: %s", strings.Join(state.IntegrationChildren, ", "))
	}
	if state.CommitDiffAnomaly {
		b.WriteString("\nNote: commit distance to destination was negative and has been treated as 0.")
	}
	if opts := activeOptionNames(state.ActiveOptions); len(opts) > 0 {
		fmt.Fprintf(&b, "\nActive options: %s", strings.Join(opts, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}

func activeOptionNames(o gating.Options) []string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(o.BypassIncompatibleBranch, "bypass_incompatible_branch")
	add(o.BypassJiraCheck, "bypass_jira_check")
	add(o.DisableVersionChecks, "disable_version_checks")
	add(o.BypassAuthorApproval, "bypass_author_approval")
	add(o.BypassPeerApproval, "bypass_peer_approval")
	add(o.BypassLeaderApproval, "bypass_leader_approval")
	add(o.BypassBuildStatus, "bypass_build_status")
	add(o.RemoveAfterPullRequest, "after_pull_request")
	add(o.Wait, "wait")
	add(o.CreateIntegrationBranches, "create_integration_branches")
	sort.Strings(names)
	return names
}
