package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/scality/bert-e/internal/config"
	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/gitwf/branchref"
	"github.com/scality/bert-e/internal/jobstore"
	"github.com/scality/bert-e/internal/messenger"
	"github.com/scality/bert-e/internal/queue"
)

// rebuildQueue recreates every queue-item and lane branch from the
// manager's own in-memory admission order, the operator's recourse when
// the remote queue branches were hand-edited out from under it (§4.5
// "rebuild_queues").
func (o *Orchestrator) rebuildQueue(ctx context.Context, cfg *config.RepositoryConfig, repo string) error {
	ws, err := o.workspaceFor(repo, cfg)
	if err != nil {
		return err
	}
	qm := o.queueFor(ws, repo)
	items := qm.Items()

	if _, err := qm.Reset(); err != nil {
		return giterr.NewTransient("orchestrator: reset queue before rebuild", err)
	}

	for _, it := range items {
		tips := make(map[string]string, len(it.Order))
		cascadeList := make([]branchref.DestinationBranch, 0, len(it.Order))
		for _, name := range it.Order {
			li := it.Lanes[name]
			tips[name] = li.ContentSHA
			cascadeList = append(cascadeList, li.Destination)
		}
		if _, err := qm.Admit(it.PRNumber, it.Source, cascadeList, tips); err != nil {
			return giterr.NewTransient(fmt.Sprintf("orchestrator: rebuild queue item for PR #%d", it.PRNumber), err)
		}
	}
	return nil
}

// wipeQueue deletes every queue branch and re-enqueues a fresh
// pull_request job for each PR that was admitted, so gating re-runs from
// scratch (§4.5 "reset").
func (o *Orchestrator) wipeQueue(ctx context.Context, cfg *config.RepositoryConfig, repo string) error {
	ws, err := o.workspaceFor(repo, cfg)
	if err != nil {
		return err
	}
	qm := o.queueFor(ws, repo)

	prs, err := qm.Reset()
	if err != nil {
		return giterr.NewTransient("orchestrator: wipe queue", err)
	}
	if o.requeue == nil {
		return nil
	}
	for _, n := range prs {
		job := &jobstore.Job{
			ID:      fmt.Sprintf("%s#%d@requeue-%d", repo, n, time.Now().UnixNano()),
			Repo:    repo,
			Kind:    jobstore.KindPullRequest,
			Payload: jobstore.PullRequestPayload{Repo: repo, Number: n},
		}
		if err := o.requeue.Enqueue(job); err != nil {
			return giterr.NewTransient("orchestrator: requeue PR after wipe", err)
		}
	}
	return nil
}

// forceMerge promotes every currently queued PR regardless of build
// status (§4.5, privileged force_merge command).
func (o *Orchestrator) forceMerge(ctx context.Context, cfg *config.RepositoryConfig, repo string) error {
	ws, err := o.workspaceFor(repo, cfg)
	if err != nil {
		return err
	}
	qm := o.queueFor(ws, repo)

	promoted, err := qm.ForceMerge()
	if err != nil {
		return giterr.NewTransient("orchestrator: force merge queue", err)
	}
	return o.postMergedNotices(ctx, cfg, repo, promoted)
}

// promoteQueue runs the ordinary build-status-driven promotion and
// reports any item that fast-forwarded its destinations as merged.
func (o *Orchestrator) promoteQueue(ctx context.Context, cfg *config.RepositoryConfig, repo string, qm *queue.Manager) error {
	promoted, err := qm.Promote()
	if err != nil {
		if _, ok := err.(*queue.OutOfOrderError); ok {
			return giterr.NewFatal("orchestrator: queue is out of order, needs rebuild_queues or reset", err, "")
		}
		return giterr.NewTransient("orchestrator: promote queue", err)
	}
	return o.postMergedNotices(ctx, cfg, repo, promoted)
}

func (o *Orchestrator) postMergedNotices(ctx context.Context, cfg *config.RepositoryConfig, repo string, prs []int) error {
	if len(prs) == 0 {
		return nil
	}
	m := messenger.New(o.host, cfg.Robot)
	for _, n := range prs {
		if err := m.Post(ctx, repo, n, messenger.MessageSpec{Code: 102}); err != nil {
			return classify(err)
		}
	}
	return nil
}
