package orchestrator

import (
	"github.com/scality/bert-e/internal/config"
	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/gitwf/branchref"
)

// createBranch materializes a new destination branch, branching from the
// tip of the nearest existing destination of the same kind that sorts
// before it — the usual "cut the next release line" operation (§6:
// POST /api/gwf/branches/<branch>).
func (o *Orchestrator) createBranch(cfg *config.RepositoryConfig, repo, branch string) error {
	target, ok := branchref.ParseDestinationBranch(branch)
	if !ok {
		return giterr.NewUserFacing(0, "not a recognized destination branch name", map[string]any{"branch": branch})
	}

	ws, err := o.workspaceFor(repo, cfg)
	if err != nil {
		return err
	}
	if err := ws.Fetch(); err != nil {
		return giterr.NewTransient("orchestrator: fetch "+repo, err)
	}

	all, err := o.liveDestinations(ws)
	if err != nil {
		return err
	}

	var predecessor *branchref.DestinationBranch
	for i := range all {
		d := all[i]
		if d.Kind != target.Kind || !d.Less(target) {
			continue
		}
		if predecessor == nil || predecessor.Less(d) {
			predecessor = &all[i]
		}
	}
	if predecessor == nil {
		return giterr.NewFatal("orchestrator: no existing branch to base "+branch+" on", nil, "")
	}

	startPoint, err := ws.RevParse(predecessor.Name)
	if err != nil {
		return giterr.NewTransient("orchestrator: resolve "+predecessor.Name, err)
	}
	if err := ws.CreateBranch(branch, startPoint); err != nil {
		return giterr.NewTransient("orchestrator: create "+branch, err)
	}
	if err := ws.Push(branch, false); err != nil {
		return giterr.NewTransient("orchestrator: push "+branch, err)
	}
	return nil
}

// deleteBranch removes a destination branch, refusing when the queue
// still carries admitted content for it (§6: "respecting queue rules") —
// an operator must reset or promote that lane first.
func (o *Orchestrator) deleteBranch(cfg *config.RepositoryConfig, repo, branch string) error {
	if qm, ok := o.existingQueue(repo); ok {
		for _, it := range qm.Items() {
			for _, name := range it.Order {
				if name == branch {
					return giterr.NewUserFacing(0, "branch still carries queued content", map[string]any{
						"branch": branch, "pull_request": it.PRNumber,
					})
				}
			}
		}
	}

	ws, err := o.workspaceFor(repo, cfg)
	if err != nil {
		return err
	}
	if err := ws.DeleteRemoteBranch(branch); err != nil {
		return giterr.NewTransient("orchestrator: delete "+branch, err)
	}
	return nil
}
