package queue

import (
	"testing"

	"github.com/scality/bert-e/internal/gitwf/branchref"
	"github.com/scality/bert-e/internal/gitwf/workspace"
)

type fakeRunner struct {
	revParse   map[string]string
	mergeFails bool
	ancestor   bool
}

func (f *fakeRunner) Run(name string, args ...string) ([]byte, error) { return f.dispatch(args) }
func (f *fakeRunner) RunInDir(dir, name string, args ...string) ([]byte, error) {
	return f.dispatch(args)
}

func (f *fakeRunner) dispatch(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	switch args[0] {
	case "clone", "branch", "update-ref", "push", "worktree":
		if args[0] == "worktree" && len(args) > 1 && args[1] == "add" {
			return []byte(""), nil
		}
		return []byte(""), nil
	case "rev-parse":
		ref := args[len(args)-1]
		if sha, ok := f.revParse[ref]; ok {
			return []byte(sha + "\n"), nil
		}
		if len(ref) >= 2 && ref[0:2] == "q/" {
			return nil, &fakeErr{}
		}
		return []byte("sha-" + ref + "\n"), nil
	case "merge":
		if f.mergeFails {
			return nil, &fakeErr{}
		}
		return []byte(""), nil
	case "diff":
		return []byte("conflicted.go\n"), nil
	case "merge-base":
		if f.ancestor {
			return []byte(""), nil
		}
		return nil, &fakeErr{}
	case "cat-file":
		return []byte(""), nil
	default:
		return []byte(""), nil
	}
}

type fakeErr struct{}

func (e *fakeErr) Error() string { return "exit status 1" }

func newManager(t *testing.T, runner workspace.CommandRunner) *Manager {
	t.Helper()
	t.Setenv("BERT_E_WORKSPACE_CACHE", t.TempDir())
	ws, err := workspace.Open("scality/ring", "https://example.test/scality/ring.git", runner)
	if err != nil {
		t.Fatalf("workspace.Open failed: %v", err)
	}
	return New(ws)
}

func dest(t *testing.T, name string) branchref.DestinationBranch {
	t.Helper()
	d, ok := branchref.ParseDestinationBranch(name)
	if !ok {
		t.Fatalf("bad destination %q", name)
	}
	return d
}

func TestAdmitCreatesLaneOnFirstPR(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{}}
	m := newManager(t, runner)

	cascade := []branchref.DestinationBranch{dest(t, "development/2.0")}
	tips := map[string]string{"development/2.0": "w1-tip"}

	item, err := m.Admit(1, "bugfix/PROJ-1-x", cascade, tips)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if item.Lanes["development/2.0"].ContentSHA != "w1-tip" {
		t.Fatalf("expected content to pass through unmerged on an empty lane, got %s", item.Lanes["development/2.0"].ContentSHA)
	}
}

func TestAdmitSecondPRStagesOntoFirst(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{"q/2.0": "lane-tip"}}
	m := newManager(t, runner)

	cascade := []branchref.DestinationBranch{dest(t, "development/2.0")}
	item, err := m.Admit(2, "bugfix/PROJ-2-y", cascade, map[string]string{"development/2.0": "w2-tip"})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	// lane non-empty (q/2.0 resolves), so the PR is staged on top of the
	// lane tip rather than directly on development/2.0.
	if item.Lanes["development/2.0"].ParentBranch != "lane-tip" {
		t.Fatalf("expected parent to be the lane tip, got %s", item.Lanes["development/2.0"].ParentBranch)
	}
}

func TestAdmitRejectsOnConflictWithoutMutatingQueue(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{"q/2.0": "lane-tip"}, mergeFails: true}
	m := newManager(t, runner)

	cascade := []branchref.DestinationBranch{dest(t, "development/2.0")}
	_, err := m.Admit(3, "bugfix/PROJ-3-z", cascade, map[string]string{"development/2.0": "w3-tip"})
	if err == nil {
		t.Fatal("expected queue conflict")
	}
	if _, ok := err.(*ConflictError); !ok {
		t.Fatalf("expected *ConflictError, got %T: %v", err, err)
	}
	if len(m.Items()) != 0 {
		t.Fatalf("expected no items admitted after conflict, got %d", len(m.Items()))
	}
}

func TestPromoteAdvancesThroughLastGreenItem(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{}, ancestor: true}
	m := newManager(t, runner)
	cascade := []branchref.DestinationBranch{dest(t, "development/2.0")}

	item1, _ := m.Admit(1, "bugfix/PROJ-1-x", cascade, map[string]string{"development/2.0": "tip1"})
	item2, _ := m.Admit(2, "bugfix/PROJ-2-y", cascade, map[string]string{"development/2.0": "tip2"})
	item3, _ := m.Admit(3, "bugfix/PROJ-3-z", cascade, map[string]string{"development/2.0": "tip3"})
	_ = item1

	// item1 RED, item2 GREEN (subsumes item1), item3 still PENDING.
	m.SetBuildStatus(1, "development/2.0", BuildFailed)
	m.SetBuildStatus(2, "development/2.0", BuildSuccessful)
	_ = item2
	_ = item3

	promoted, err := m.Promote()
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if len(promoted) != 2 || promoted[0] != 1 || promoted[1] != 2 {
		t.Fatalf("expected PRs [1 2] promoted despite PR 1's own RED status, got %v", promoted)
	}
	if len(m.Items()) != 1 || m.Items()[0].PRNumber != 3 {
		t.Fatalf("expected PR 3 to remain queued, got %v", m.Items())
	}
}

func TestPromoteNoGreenItemPromotesNothing(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{}, ancestor: true}
	m := newManager(t, runner)
	cascade := []branchref.DestinationBranch{dest(t, "development/2.0")}
	m.Admit(1, "bugfix/PROJ-1-x", cascade, map[string]string{"development/2.0": "tip1"})

	promoted, err := m.Promote()
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if len(promoted) != 0 {
		t.Fatalf("expected nothing promoted, got %v", promoted)
	}
}

func TestPromoteHoldsPartialPrefixAcrossDifferingLaneSets(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{}, ancestor: true}
	m := newManager(t, runner)
	cascadeBoth := []branchref.DestinationBranch{dest(t, "development/2.0"), dest(t, "development/3.0")}
	cascadeOne := []branchref.DestinationBranch{dest(t, "development/3.0")}

	m.Admit(1, "bugfix/PROJ-1-a", cascadeBoth, map[string]string{"development/2.0": "a1", "development/3.0": "a2"})
	m.Admit(2, "bugfix/PROJ-2-b", cascadeBoth, map[string]string{"development/2.0": "b1", "development/3.0": "b2"})
	m.Admit(3, "bugfix/PROJ-3-c", cascadeOne, map[string]string{"development/3.0": "c2"})

	// item 1 green on both lanes, item 2 red on development/2.0 only, item
	// 3 green but queued on development/3.0 alone — a different lane set
	// than item 2, so item 3's green build must not reach back past item 2.
	m.SetBuildStatus(1, "development/2.0", BuildSuccessful)
	m.SetBuildStatus(1, "development/3.0", BuildSuccessful)
	m.SetBuildStatus(2, "development/2.0", BuildFailed)
	m.SetBuildStatus(2, "development/3.0", BuildSuccessful)
	m.SetBuildStatus(3, "development/3.0", BuildSuccessful)

	promoted, err := m.Promote()
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if len(promoted) != 1 || promoted[0] != 1 {
		t.Fatalf("expected only PR 1 promoted, got %v", promoted)
	}
	remaining := m.Items()
	if len(remaining) != 2 || remaining[0].PRNumber != 2 || remaining[1].PRNumber != 3 {
		t.Fatalf("expected PRs [2 3] to remain queued, got %v", remaining)
	}
}

func TestDetectOutOfOrderFlagsNonAncestralChain(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{}, ancestor: false}
	m := newManager(t, runner)
	cascade := []branchref.DestinationBranch{dest(t, "development/2.0")}
	m.Admit(1, "bugfix/PROJ-1-x", cascade, map[string]string{"development/2.0": "tip1"})
	m.Admit(2, "bugfix/PROJ-2-y", cascade, map[string]string{"development/2.0": "tip2"})

	if err := m.DetectOutOfOrder(); err == nil {
		t.Fatal("expected out-of-order error")
	} else if _, ok := err.(*OutOfOrderError); !ok {
		t.Fatalf("expected *OutOfOrderError, got %T: %v", err, err)
	}
}

func TestForceMergePromotesRegardlessOfBuildStatus(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{}, ancestor: true}
	m := newManager(t, runner)
	cascade := []branchref.DestinationBranch{dest(t, "development/2.0")}
	m.Admit(1, "bugfix/PROJ-1-x", cascade, map[string]string{"development/2.0": "tip1"})
	m.SetBuildStatus(1, "development/2.0", BuildFailed)

	promoted, err := m.ForceMerge()
	if err != nil {
		t.Fatalf("ForceMerge failed: %v", err)
	}
	if len(promoted) != 1 || promoted[0] != 1 {
		t.Fatalf("expected PR 1 force-promoted, got %v", promoted)
	}
}

func TestResetDeletesAllQueueBranches(t *testing.T) {
	runner := &fakeRunner{revParse: map[string]string{}}
	m := newManager(t, runner)
	cascade := []branchref.DestinationBranch{dest(t, "development/2.0")}
	m.Admit(1, "bugfix/PROJ-1-x", cascade, map[string]string{"development/2.0": "tip1"})

	prs, err := m.Reset()
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if len(prs) != 1 || prs[0] != 1 {
		t.Fatalf("expected PR 1 returned for re-enqueue, got %v", prs)
	}
	if len(m.Items()) != 0 {
		t.Fatalf("expected empty queue after reset, got %v", m.Items())
	}
}
