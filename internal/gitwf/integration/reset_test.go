package integration

import (
	"testing"

	"github.com/scality/bert-e/internal/gitwf/branchref"
	"github.com/scality/bert-e/internal/gitwf/workspace"
)

type resetRunner struct {
	revListOut map[string][]string // from -> shas
	authorOf   map[string]string   // sha -> author email
}

func (r *resetRunner) Run(name string, args ...string) ([]byte, error) { return r.dispatch(args) }
func (r *resetRunner) RunInDir(dir, name string, args ...string) ([]byte, error) {
	return r.dispatch(args)
}

func (r *resetRunner) dispatch(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	switch args[0] {
	case "clone", "push":
		return []byte(""), nil
	case "rev-list":
		shas := r.revListOut[args[1]]
		out := ""
		for _, s := range shas {
			out += s + "\n"
		}
		return []byte(out), nil
	case "show":
		sha := args[len(args)-1]
		return []byte(r.authorOf[sha] + "\n"), nil
	default:
		return []byte(""), nil
	}
}

func newResetEngine(t *testing.T, runner workspace.CommandRunner) *Engine {
	t.Helper()
	t.Setenv("BERT_E_WORKSPACE_CACHE", t.TempDir())
	ws, err := workspace.Open("scality/ring", "https://example.test/scality/ring.git", runner)
	if err != nil {
		t.Fatalf("workspace.Open failed: %v", err)
	}
	return New(ws, Options{RobotName: "bert-e"})
}

func TestResetRefusesUserAuthoredCommit(t *testing.T) {
	runner := &resetRunner{
		revListOut: map[string][]string{"w1-tip": {"deadbeef"}},
		authorOf:   map[string]string{"deadbeef": "developer@example.com"},
	}
	engine := newResetEngine(t, runner)

	cascade := []branchref.DestinationBranch{
		{Name: "development/1.0", Kind: branchref.KindDevelopment, Major: 1, Minor: 0},
		{Name: "development/2.0", Kind: branchref.KindDevelopment, Major: 2, Minor: 0},
	}
	branches := []Branch{
		{Destination: cascade[1], Name: "w/2.0/bugfix/PROJ-1-x", Tip: "w1-tip"},
	}

	err := engine.Reset(cascade, "bugfix/PROJ-1-x", branches, "bert-e@example.com", false)
	if err == nil {
		t.Fatal("expected UnsafeResetError")
	}
	ure, ok := err.(*UnsafeResetError)
	if !ok {
		t.Fatalf("expected *UnsafeResetError, got %T: %v", err, err)
	}
	if ure.Commits["deadbeef"] != "developer@example.com" {
		t.Fatalf("unexpected commits map: %v", ure.Commits)
	}
}

func TestResetAllowsRobotAuthoredCommitWithoutForce(t *testing.T) {
	runner := &resetRunner{
		revListOut: map[string][]string{"w1-tip": {"cafebabe"}},
		authorOf:   map[string]string{"cafebabe": "bert-e@example.com"},
	}
	engine := newResetEngine(t, runner)

	cascade := []branchref.DestinationBranch{
		{Name: "development/1.0", Kind: branchref.KindDevelopment, Major: 1, Minor: 0},
		{Name: "development/2.0", Kind: branchref.KindDevelopment, Major: 2, Minor: 0},
	}
	branches := []Branch{
		{Destination: cascade[1], Name: "w/2.0/bugfix/PROJ-1-x", Tip: "w1-tip"},
	}

	if err := engine.Reset(cascade, "bugfix/PROJ-1-x", branches, "bert-e@example.com", false); err != nil {
		t.Fatalf("expected reset to proceed past robot-authored commits, got: %v", err)
	}
}

func TestResetSkipsSafetyScanWhenForced(t *testing.T) {
	runner := &resetRunner{
		revListOut: map[string][]string{"w1-tip": {"deadbeef"}},
		authorOf:   map[string]string{"deadbeef": "developer@example.com"},
	}
	engine := newResetEngine(t, runner)

	cascade := []branchref.DestinationBranch{
		{Name: "development/1.0", Kind: branchref.KindDevelopment, Major: 1, Minor: 0},
		{Name: "development/2.0", Kind: branchref.KindDevelopment, Major: 2, Minor: 0},
	}
	branches := []Branch{
		{Destination: cascade[1], Name: "w/2.0/bugfix/PROJ-1-x", Tip: "w1-tip"},
	}

	if err := engine.Reset(cascade, "bugfix/PROJ-1-x", branches, "bert-e@example.com", true); err != nil {
		t.Fatalf("force reset should bypass the safety scan, got: %v", err)
	}
}
