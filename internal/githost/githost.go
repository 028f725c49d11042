// Package githost defines the git-host adapter (§6): the capability set
// the core consumes from a pull-request host, independent of which host
// (Bitbucket, GitHub) actually backs it. internal/githost/ghclient is the
// concrete GitHub implementation; anything under internal/gitwf or
// internal/gating only ever sees this interface.
package githost

import (
	"context"
	"time"
)

// PullRequest is the subset of PR state the gating evaluator needs.
type PullRequest struct {
	Number      int
	Title       string
	Author      string
	Open        bool
	Merged      bool
	Source      string
	Destination string
	HeadSHA     string
}

// Comment is one issue/PR comment. Deleted comments are never returned
// by ListComments; the orchestrator copies Deleted into command.Comment,
// and both the command parser and the messenger skip deleted comments
// (§4.4: "a sticky option set by a since-deleted comment is dropped").
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
	Deleted   bool
}

// ReviewState mirrors the GitHub pull request review states the core
// cares about; anything else (COMMENTED, DISMISSED) is not a vote.
type ReviewState string

const (
	ReviewApproved        ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
)

// Review is one submitted PR review.
type Review struct {
	Author string
	State  ReviewState
}

// BuildState is the outcome of one commit status/check, keyed by name.
type BuildState string

const (
	BuildPending BuildState = "pending"
	BuildSuccess BuildState = "success"
	BuildFailure BuildState = "failure"
)

// CommitStatus is one named status/check-suite result on a commit.
type CommitStatus struct {
	Key   string
	State BuildState
}

// Client is the full capability set §6 requires of a git-host adapter.
// Author-approval and unanimity checks are simply never satisfied on a
// host that doesn't support reviews — the adapter does not need to fake
// support for what it lacks.
type Client interface {
	GetPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error)
	ListComments(ctx context.Context, repo string, number int) ([]Comment, error)
	CreateComment(ctx context.Context, repo string, number int, body string) (int64, error)
	UpdateComment(ctx context.Context, repo string, number int, commentID int64, body string) error
	DeleteComment(ctx context.Context, repo string, number int, commentID int64) error
	ListCommitStatuses(ctx context.Context, repo, sha string) ([]CommitStatus, error)
	ListReviews(ctx context.Context, repo string, number int) ([]Review, error)
	CreatePullRequest(ctx context.Context, repo, head, base, title, body string) (*PullRequest, error)
	DeclinePullRequest(ctx context.Context, repo string, number int) error
	ListAdmins(ctx context.Context, repo string) ([]string, error)
	// ListOpenPullRequests backs the periodic scan (§4.6 missed-event
	// recovery): repositories with no recent webhook traffic still get
	// re-evaluated.
	ListOpenPullRequests(ctx context.Context, repo string) ([]PullRequest, error)
}
