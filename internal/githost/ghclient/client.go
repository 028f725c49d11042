// Package ghclient is the concrete GitHub implementation of
// internal/githost.Client, backed by go-github and the GitHub App
// installation-token auth in auth.go.
package ghclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/go-github/v66/github"

	"github.com/scality/bert-e/internal/githost"
	"github.com/scality/bert-e/internal/giterr"
)

// Client adapts go-github to internal/githost.Client, minting a fresh
// installation token per call the way internal/github/data/client.go
// acquires one per GraphQL request rather than caching a long-lived
// client — installation tokens expire in an hour and the core's own job
// cadence never needs more than one call's worth of validity.
type Client struct {
	auth    AuthProvider
	baseURL *url.URL // test hook; nil means api.github.com
}

// New creates a git-host client that authenticates as a GitHub App
// installation for whatever repo each call targets.
func New(auth AuthProvider) *Client {
	return &Client{auth: auth}
}

// NewWithBaseURL is New, pointed at an alternate API root — used by tests
// to run go-github against an httptest server instead of github.com.
func NewWithBaseURL(auth AuthProvider, baseURL string) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{auth: auth, baseURL: parsed}, nil
}

func (c *Client) clientFor(repo string) (*github.Client, error) {
	token, err := c.auth.GetInstallationToken(repo)
	if err != nil {
		return nil, fmt.Errorf("ghclient: installation token for %s: %w", repo, err)
	}
	gh := github.NewClient(nil).WithAuthToken(token.Token)
	if c.baseURL != nil {
		gh.BaseURL = c.baseURL
		gh.UploadURL = c.baseURL
	}
	return gh, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i], repo[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("ghclient: invalid repo %q, want owner/repo", repo)
}

func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (*githost.PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return nil, err
	}

	pr, resp, err := gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, classifyErr("get pull request", resp, err)
	}

	return &githost.PullRequest{
		Number:      pr.GetNumber(),
		Title:       pr.GetTitle(),
		Author:      pr.GetUser().GetLogin(),
		Open:        pr.GetState() == "open",
		Merged:      pr.GetMerged(),
		Source:      pr.GetHead().GetRef(),
		Destination: pr.GetBase().GetRef(),
		HeadSHA:     pr.GetHead().GetSHA(),
	}, nil
}

func (c *Client) ListComments(ctx context.Context, repo string, number int) ([]githost.Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return nil, err
	}

	var out []githost.Comment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := gh.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classifyErr("list comments", resp, err)
		}
		for _, cm := range comments {
			out = append(out, githost.Comment{
				ID:        cm.GetID(),
				Author:    cm.GetUser().GetLogin(),
				Body:      cm.GetBody(),
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) CreateComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return 0, err
	}

	comment, resp, err := gh.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{Body: &body})
	if err != nil {
		return 0, classifyErr("create comment", resp, err)
	}
	return comment.GetID(), nil
}

func (c *Client) UpdateComment(ctx context.Context, repo string, number int, commentID int64, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return err
	}

	_, resp, err := gh.Issues.EditComment(ctx, owner, name, commentID, &github.IssueComment{Body: &body})
	if err != nil {
		return classifyErr("update comment", resp, err)
	}
	return nil
}

func (c *Client) DeleteComment(ctx context.Context, repo string, number int, commentID int64) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return err
	}

	resp, err := gh.Issues.DeleteComment(ctx, owner, name, commentID)
	if err != nil {
		return classifyErr("delete comment", resp, err)
	}
	return nil
}

// ListCommitStatuses merges classic commit statuses with check-suite
// results into one list keyed by name, since §6 treats "the configured
// build_key, or aggregated GitHub Actions check-suite" as one capability.
func (c *Client) ListCommitStatuses(ctx context.Context, repo, sha string) ([]githost.CommitStatus, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return nil, err
	}

	var out []githost.CommitStatus

	statuses, resp, err := gh.Repositories.ListStatuses(ctx, owner, name, sha, nil)
	if err != nil {
		return nil, classifyErr("list commit statuses", resp, err)
	}
	for _, st := range statuses {
		out = append(out, githost.CommitStatus{Key: st.GetContext(), State: mapState(st.GetState())})
	}

	suites, resp, err := gh.Checks.ListCheckSuitesForRef(ctx, owner, name, sha, nil)
	if err != nil {
		return nil, classifyErr("list check suites", resp, err)
	}
	for _, suite := range suites.CheckSuites {
		out = append(out, githost.CommitStatus{
			Key:   suite.GetApp().GetName(),
			State: mapCheckConclusion(suite.GetStatus(), suite.GetConclusion()),
		})
	}

	return out, nil
}

func mapState(state string) githost.BuildState {
	switch state {
	case "success":
		return githost.BuildSuccess
	case "failure", "error":
		return githost.BuildFailure
	default:
		return githost.BuildPending
	}
}

func mapCheckConclusion(status, conclusion string) githost.BuildState {
	if status != "completed" {
		return githost.BuildPending
	}
	if conclusion == "success" {
		return githost.BuildSuccess
	}
	return githost.BuildFailure
}

func (c *Client) ListReviews(ctx context.Context, repo string, number int) ([]githost.Review, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return nil, err
	}

	var out []githost.Review
	opts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := gh.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classifyErr("list reviews", resp, err)
		}
		for _, rv := range reviews {
			out = append(out, githost.Review{
				Author: rv.GetUser().GetLogin(),
				State:  githost.ReviewState(rv.GetState()),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) CreatePullRequest(ctx context.Context, repo, head, base, title, body string) (*githost.PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return nil, err
	}

	pr, resp, err := gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: &title,
		Head:  &head,
		Base:  &base,
		Body:  &body,
	})
	if err != nil {
		return nil, classifyErr("create pull request", resp, err)
	}

	return &githost.PullRequest{
		Number:      pr.GetNumber(),
		Title:       pr.GetTitle(),
		Author:      pr.GetUser().GetLogin(),
		Open:        pr.GetState() == "open",
		Source:      pr.GetHead().GetRef(),
		Destination: pr.GetBase().GetRef(),
		HeadSHA:     pr.GetHead().GetSHA(),
	}, nil
}

func (c *Client) DeclinePullRequest(ctx context.Context, repo string, number int) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return err
	}

	closed := "closed"
	_, resp, err := gh.PullRequests.Edit(ctx, owner, name, number, &github.PullRequest{State: &closed})
	if err != nil {
		return classifyErr("decline pull request", resp, err)
	}
	return nil
}

// ListAdmins lists collaborators with admin permission, the git-host side
// of the admins[] configuration option (§6) for repos that want to trust
// "anyone GitHub calls an admin" rather than maintaining a separate list.
func (c *Client) ListAdmins(ctx context.Context, repo string) ([]string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return nil, err
	}

	var out []string
	opts := &github.ListCollaboratorsOptions{
		Permission:  "admin",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		collaborators, resp, err := gh.Repositories.ListCollaborators(ctx, owner, name, opts)
		if err != nil {
			return nil, classifyErr("list admins", resp, err)
		}
		for _, collab := range collaborators {
			out = append(out, collab.GetLogin())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// ListOpenPullRequests lists every open PR, for the periodic scan.
func (c *Client) ListOpenPullRequests(ctx context.Context, repo string) ([]githost.PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	gh, err := c.clientFor(repo)
	if err != nil {
		return nil, err
	}

	var out []githost.PullRequest
	opts := &github.PullRequestListOptions{State: "open", ListOptions: github.ListOptions{PerPage: 100}}
	for {
		prs, resp, err := gh.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, classifyErr("list open pull requests", resp, err)
		}
		for _, pr := range prs {
			out = append(out, githost.PullRequest{
				Number:      pr.GetNumber(),
				Title:       pr.GetTitle(),
				Author:      pr.GetUser().GetLogin(),
				Open:        pr.GetState() == "open",
				Merged:      pr.GetMerged(),
				Source:      pr.GetHead().GetRef(),
				Destination: pr.GetBase().GetRef(),
				HeadSHA:     pr.GetHead().GetSHA(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// classifyErr turns GitHub rate-limit and 5xx responses into
// giterr.TransientError so the dispatcher retries them with backoff;
// anything else (404, validation failure) is returned as-is, which the
// dispatcher treats as fatal.
func classifyErr(op string, resp *github.Response, err error) error {
	if _, ok := err.(*github.RateLimitError); ok {
		return giterr.NewTransient("ghclient: "+op+": rate limited", err)
	}
	if _, ok := err.(*github.AbuseRateLimitError); ok {
		return giterr.NewTransient("ghclient: "+op+": secondary rate limit", err)
	}
	if resp != nil && resp.StatusCode >= 500 {
		return giterr.NewTransient("ghclient: "+op+": server error", err)
	}
	return fmt.Errorf("ghclient: %s: %w", op, err)
}
