package orchestrator

import (
	"context"

	"github.com/scality/bert-e/internal/config"
	"github.com/scality/bert-e/internal/jobstore"
	"github.com/scality/bert-e/internal/queue"
)

// handleCommitStatus applies a build-status report keyed by raw commit
// SHA (as reported against a queue-item branch rather than a PR, §4.5) to
// every queue lane currently staging that content, then re-runs
// promotion.
func (o *Orchestrator) handleCommitStatus(ctx context.Context, cfg *config.RepositoryConfig, repo string, p jobstore.CommitPayload) error {
	ws, err := o.workspaceFor(repo, cfg)
	if err != nil {
		return err
	}
	qm := o.queueFor(ws, repo)

	for _, it := range qm.Items() {
		for _, name := range it.Order {
			if it.Lanes[name].ContentSHA == p.SHA {
				qm.SetBuildStatus(it.PRNumber, name, queue.BuildStatus(p.State))
			}
		}
	}

	return o.promoteQueue(ctx, cfg, repo, qm)
}
