// Package orchestrator wires the git-host adapter, issue tracker, command
// parser, cascade builder, integration engine, queue manager and gating
// evaluator together into a single internal/dispatcher.JobExecutor — the
// glue the rest of the core is deliberately free of, the way the teacher
// keeps its own top-level wiring out of any one domain package.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scality/bert-e/internal/command"
	"github.com/scality/bert-e/internal/config"
	"github.com/scality/bert-e/internal/gating"
	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/githost"
	"github.com/scality/bert-e/internal/gitwf/branchref"
	"github.com/scality/bert-e/internal/gitwf/workspace"
	"github.com/scality/bert-e/internal/issuetracker"
	"github.com/scality/bert-e/internal/jobstore"
	"github.com/scality/bert-e/internal/queue"
)

// ConfigSource resolves the per-repository settings document for repo
// ("owner/slug"), the way cmd/bert-e loads one per managed repository
// (§6).
type ConfigSource func(repo string) (*config.RepositoryConfig, error)

// Requeuer is the subset of internal/dispatcher.Dispatcher the
// orchestrator needs: re-enqueuing a fresh pull_request job once a queue
// operation invalidates whatever was previously queued (§4.5).
type Requeuer interface {
	Enqueue(job *jobstore.Job) error
}

// Orchestrator implements dispatcher.JobExecutor (§4.6). One instance
// serves every managed repository; per-repository state (the mirror
// workspace, the queue manager) is created lazily and cached.
type Orchestrator struct {
	configs ConfigSource
	host    githost.Client
	issues  issuetracker.Client // nil when no repository configures Jira
	requeue Requeuer

	mu         sync.Mutex
	workspaces map[string]*workspace.Workspace
	queues     map[string]*queue.Manager
}

// New creates an Orchestrator. requeue may be nil at construction time —
// cmd/bert-e wires the dispatcher back in afterward via SetRequeuer, since
// the dispatcher itself needs this Orchestrator as its JobExecutor.
func New(configs ConfigSource, host githost.Client, issues issuetracker.Client, requeue Requeuer) *Orchestrator {
	return &Orchestrator{
		configs:    configs,
		host:       host,
		issues:     issues,
		requeue:    requeue,
		workspaces: make(map[string]*workspace.Workspace),
		queues:     make(map[string]*queue.Manager),
	}
}

// SetRequeuer wires the dispatcher in after construction, breaking the
// Orchestrator/Dispatcher construction cycle (each needs the other).
func (o *Orchestrator) SetRequeuer(requeue Requeuer) {
	o.requeue = requeue
}

// EnqueuePullRequest builds and hands off a pull_request job for repo's
// numbered PR through the wired-in Requeuer — the periodic scan's entry
// point (§4.6 missed-event recovery).
func (o *Orchestrator) EnqueuePullRequest(repo string, number int) error {
	if o.requeue == nil {
		return fmt.Errorf("orchestrator: no requeuer wired in")
	}
	return o.requeue.Enqueue(&jobstore.Job{
		ID:      fmt.Sprintf("%s#%d@scan-%d", repo, number, time.Now().UnixNano()),
		Repo:    repo,
		Kind:    jobstore.KindPullRequest,
		Payload: jobstore.PullRequestPayload{Repo: repo, Number: number},
	})
}

// Host exposes the git-host adapter so the periodic scanner can list open
// pull requests through the same client the orchestrator itself uses.
func (o *Orchestrator) Host() githost.Client {
	return o.host
}

func (o *Orchestrator) workspaceFor(repo string, cfg *config.RepositoryConfig) (*workspace.Workspace, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ws, ok := o.workspaces[repo]; ok {
		return ws, nil
	}
	repoURL := fmt.Sprintf("https://%s/%s/%s.git", cfg.RepositoryHost, cfg.RepositoryOwner, cfg.RepositorySlug)
	ws, err := workspace.Open(repo, repoURL, nil)
	if err != nil {
		return nil, giterr.NewTransient("orchestrator: open workspace for "+repo, err)
	}
	o.workspaces[repo] = ws
	return ws, nil
}

func (o *Orchestrator) queueFor(ws *workspace.Workspace, repo string) *queue.Manager {
	o.mu.Lock()
	defer o.mu.Unlock()

	if m, ok := o.queues[repo]; ok {
		return m
	}
	m := queue.New(ws)
	o.queues[repo] = m
	return m
}

func (o *Orchestrator) existingQueue(repo string) (*queue.Manager, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.queues[repo]
	return m, ok
}

// Execute runs one job to completion, classifying any failure through
// internal/giterr so the dispatcher knows whether to retry, report, or
// silently drop it.
func (o *Orchestrator) Execute(ctx context.Context, job *jobstore.Job) error {
	cfg, err := o.configs(job.Repo)
	if err != nil {
		return giterr.NewFatal("orchestrator: load repository settings for "+job.Repo, err, "")
	}

	switch job.Kind {
	case jobstore.KindPullRequest:
		p, ok := job.Payload.(jobstore.PullRequestPayload)
		if !ok {
			return giterr.NewFatal("orchestrator: pull_request job missing its payload", nil, "")
		}
		return o.evaluatePullRequest(ctx, cfg, job.Repo, p.Number)

	case jobstore.KindBuildStatus:
		p, ok := job.Payload.(jobstore.BuildStatusPayload)
		if !ok {
			return giterr.NewFatal("orchestrator: build_status job missing its payload", nil, "")
		}
		if qm, ok := o.existingQueue(job.Repo); ok {
			qm.SetBuildStatus(p.Number, p.Destination, queue.BuildStatus(p.State))
			return o.promoteQueue(ctx, cfg, job.Repo, qm)
		}
		return o.evaluatePullRequest(ctx, cfg, job.Repo, p.Number)

	case jobstore.KindCommit:
		p, ok := job.Payload.(jobstore.CommitPayload)
		if !ok {
			return giterr.NewFatal("orchestrator: commit job missing its payload", nil, "")
		}
		return o.handleCommitStatus(ctx, cfg, job.Repo, p)

	case jobstore.KindQueueRebuild:
		return o.rebuildQueue(ctx, cfg, job.Repo)

	case jobstore.KindDeleteQueues:
		return o.wipeQueue(ctx, cfg, job.Repo)

	case jobstore.KindForceMerge:
		return o.forceMerge(ctx, cfg, job.Repo)

	case jobstore.KindCreateBranch:
		p, ok := job.Payload.(jobstore.BranchPayload)
		if !ok {
			return giterr.NewFatal("orchestrator: create_branch job missing its payload", nil, "")
		}
		return o.createBranch(cfg, job.Repo, p.Branch)

	case jobstore.KindDeleteBranch:
		p, ok := job.Payload.(jobstore.BranchPayload)
		if !ok {
			return giterr.NewFatal("orchestrator: delete_branch job missing its payload", nil, "")
		}
		return o.deleteBranch(cfg, job.Repo, p.Branch)

	default:
		return giterr.NewFatal("orchestrator: unrecognized job kind "+string(job.Kind), nil, "")
	}
}

// liveDestinations lists every recognized development/stabilization
// branch currently on the remote (§4.1: the cascade builder only ever
// considers branches that actually exist).
func (o *Orchestrator) liveDestinations(ws *workspace.Workspace) ([]branchref.DestinationBranch, error) {
	refs, err := ws.LsRemoteHeads()
	if err != nil {
		return nil, giterr.NewTransient("orchestrator: list remote branches", err)
	}
	var out []branchref.DestinationBranch
	for _, name := range refs {
		if d, ok := branchref.ParseDestinationBranch(name); ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func toCommandComments(comments []githost.Comment) []command.Comment {
	out := make([]command.Comment, 0, len(comments))
	for _, c := range comments {
		out = append(out, command.Comment{
			ID:        c.ID,
			CreatedAt: c.CreatedAt.Unix(),
			Author:    c.Author,
			Body:      c.Body,
			Deleted:   c.Deleted,
		})
	}
	return out
}

func optionsFromState(state command.State) gating.Options {
	has := state.HasOption
	return gating.Options{
		BypassIncompatibleBranch:  has("bypass_incompatible_branch"),
		BypassJiraCheck:           has("bypass_jira_check"),
		DisableVersionChecks:      has("disable_version_checks"),
		BypassAuthorApproval:      has("bypass_author_approval"),
		BypassPeerApproval:        has("bypass_peer_approval"),
		BypassLeaderApproval:      has("bypass_leader_approval"),
		BypassBuildStatus:         has("bypass_build_status"),
		Wait:                      has("wait"),
		CreateIntegrationBranches: has("create_integration_branches"),
	}
}

// tallyApprovals aggregates the git host's review list into the facts the
// evaluator needs, plus whether a one-shot "/approve" command was posted
// by the PR's own author — GitHub-style hosts refuse a self-review, so
// author approval is always asserted by command rather than by Review
// (§4.4's "approve" token is Authored: true for exactly this reason).
func tallyApprovals(reviews []githost.Review, state command.State, prAuthor string, cfg *config.RepositoryConfig) gating.ApprovalFacts {
	latest := make(map[string]githost.ReviewState)
	for _, r := range reviews {
		latest[r.Author] = r.State
	}

	var peers, leaders int
	var changesRequested bool
	for author, reviewState := range latest {
		switch reviewState {
		case githost.ReviewChangesRequested:
			changesRequested = true
		case githost.ReviewApproved:
			if author == prAuthor {
				continue
			}
			peers++
			if cfg.IsProjectLeader(author) {
				leaders++
			}
		}
	}

	authorApproved := false
	for _, tok := range state.Commands {
		if tok.Name == "approve" {
			authorApproved = true
		}
	}

	return gating.ApprovalFacts{
		AuthorApproved:            authorApproved,
		PeerApprovalCount:         peers,
		LeaderApprovalCount:       leaders,
		OutstandingChangeRequests: changesRequested,
	}
}

// issueFacts resolves the PR's linked Jira issue, when one is configured
// and an issue tracker client is wired in (§4.3 rows 6-11).
func (o *Orchestrator) issueFacts(ctx context.Context, cfg *config.RepositoryConfig, source branchref.SourceBranch) (gating.IssueFacts, error) {
	if source.IssueKey == "" {
		return gating.IssueFacts{Present: false}, nil
	}
	if o.issues == nil {
		return gating.IssueFacts{Present: true, Key: source.IssueKey, Exists: true}, nil
	}

	issue, err := o.issues.GetIssue(ctx, source.IssueKey)
	if err != nil {
		return gating.IssueFacts{}, err
	}
	if issue == nil {
		return gating.IssueFacts{Present: true, Key: source.IssueKey, Exists: false}, nil
	}
	return gating.IssueFacts{
		Present:     true,
		Key:         issue.Key,
		Exists:      true,
		Project:     issue.Project,
		IsSubtask:   issue.IsSubtask(),
		Type:        issue.Type,
		FixVersions: issue.FixVersions,
	}, nil
}

// buildFacts aggregates the build key's reported state across every
// cascade tip: W_0 (the source tip) plus every materialized W_i (§4.3 row
// 19).
func (o *Orchestrator) buildFacts(ctx context.Context, cfg *config.RepositoryConfig, repo string, tips map[string]string) (gating.BuildFacts, error) {
	facts := gating.BuildFacts{AllSuccessful: true}
	for name, sha := range tips {
		statuses, err := o.host.ListCommitStatuses(ctx, repo, sha)
		if err != nil {
			return gating.BuildFacts{}, err
		}
		state, found := githost.BuildPending, false
		for _, s := range statuses {
			if s.Key == cfg.BuildKey {
				state, found = s.State, true
			}
		}
		switch {
		case !found || state == githost.BuildPending:
			facts.AllSuccessful = false
			facts.Pending = append(facts.Pending, name)
		case state == githost.BuildFailure:
			facts.AllSuccessful = false
			facts.Failed = append(facts.Failed, name)
		}
	}
	sort.Strings(facts.Pending)
	sort.Strings(facts.Failed)
	return facts, nil
}

func cascadeVersions(cascadeList []branchref.DestinationBranch) []string {
	out := make([]string, 0, len(cascadeList))
	for _, d := range cascadeList {
		out = append(out, d.Version())
	}
	return out
}

// classify turns a raw adapter/engine error into the giterr taxonomy the
// dispatcher and messenger expect, without double-wrapping errors that
// are already typed.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if giterr.IsTransient(err) || giterr.IsFatal(err) || giterr.IsNotMyJob(err) {
		return err
	}
	if _, ok := giterr.AsUserFacing(err); ok {
		return err
	}
	return giterr.NewFatal("orchestrator", err, "")
}
