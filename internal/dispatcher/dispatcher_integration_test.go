package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/scality/bert-e/internal/gating"
	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/githost"
	"github.com/scality/bert-e/internal/gitwf/branchref"
	"github.com/scality/bert-e/internal/jobstore"
	"github.com/scality/bert-e/internal/messenger"
)

// integrationHost is a minimal githost.Client standing in for a live
// GitHub adapter, just enough to let a messenger.Post round-trip through
// ListComments/CreateComment.
type integrationHost struct {
	created  []string
	onCreate func()
}

func (h *integrationHost) GetPullRequest(ctx context.Context, repo string, number int) (*githost.PullRequest, error) {
	return nil, nil
}
func (h *integrationHost) ListComments(ctx context.Context, repo string, number int) ([]githost.Comment, error) {
	return nil, nil
}
func (h *integrationHost) CreateComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	h.created = append(h.created, body)
	if h.onCreate != nil {
		h.onCreate()
	}
	return int64(len(h.created)), nil
}
func (h *integrationHost) UpdateComment(ctx context.Context, repo string, number int, commentID int64, body string) error {
	return nil
}
func (h *integrationHost) DeleteComment(ctx context.Context, repo string, number int, commentID int64) error {
	return nil
}
func (h *integrationHost) ListCommitStatuses(ctx context.Context, repo, sha string) ([]githost.CommitStatus, error) {
	return nil, nil
}
func (h *integrationHost) ListReviews(ctx context.Context, repo string, number int) ([]githost.Review, error) {
	return nil, nil
}
func (h *integrationHost) CreatePullRequest(ctx context.Context, repo, head, base, title, body string) (*githost.PullRequest, error) {
	return nil, nil
}
func (h *integrationHost) DeclinePullRequest(ctx context.Context, repo string, number int) error {
	return nil
}
func (h *integrationHost) ListAdmins(ctx context.Context, repo string) ([]string, error) {
	return nil, nil
}
func (h *integrationHost) ListOpenPullRequests(ctx context.Context, repo string) ([]githost.PullRequest, error) {
	return nil, nil
}

// integrationExecutor is a JobExecutor standing in for the real
// orchestrator: it runs the gating evaluator against fixed facts and
// posts the outcome, exercising the dispatcher -> gating -> messenger
// path end to end without retrying a UserFacing outcome.
type integrationExecutor struct {
	facts gating.PRFacts
	host  githost.Client
	robot string
}

func (e *integrationExecutor) Execute(ctx context.Context, job *jobstore.Job) error {
	result, err := gating.Evaluate(e.facts)
	if err == nil {
		return nil
	}
	uf, ok := giterr.AsUserFacing(err)
	if !ok {
		return err
	}
	m := messenger.New(e.host, e.robot)
	return m.Post(ctx, job.Repo, 1, messenger.MessageSpec{Code: uf.Code, Params: uf.Params, State: result.State})
}

func TestDispatcherRunsGatingEvaluationAndPostsStatus(t *testing.T) {
	dest := branchref.DestinationBranch{Name: "development/2.0", Kind: branchref.KindDevelopment, Major: 2, Minor: 0}
	facts := gating.PRFacts{
		Open:             true,
		DestinationKnown: true,
		Destination:      dest,
		Source:           branchref.SourceBranch{Name: "not-a-recognized-prefix"},
		SourceRecognized: false,
		Cascade:          []branchref.DestinationBranch{dest},
		IntegrationBuilt: true,
		Build:            gating.BuildFacts{AllSuccessful: true},
	}

	host := &integrationHost{}
	done := make(chan struct{})
	host.onCreate = func() { close(done) }

	exec := &integrationExecutor{facts: facts, host: host, robot: "bert-e"}

	d := New(exec, jobstore.New(), Config{
		Workers:     1,
		QueueSize:   1,
		MaxAttempts: 1,
	})
	defer d.Shutdown(context.Background())

	if err := d.Enqueue(&jobstore.Job{ID: "pr-1", Repo: "owner/repo", Kind: jobstore.KindPullRequest}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the gating-evaluation job to post a status comment")
	}

	if len(host.created) != 1 {
		t.Fatalf("expected exactly one status comment, got %d", len(host.created))
	}
}
