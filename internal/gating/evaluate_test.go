package gating

import (
	"testing"

	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/gitwf/branchref"
)

func basePassingFacts() PRFacts {
	dest := branchref.DestinationBranch{Name: "development/2.0", Kind: branchref.KindDevelopment, Major: 2, Minor: 0}
	return PRFacts{
		Open:             true,
		DestinationKnown: true,
		Destination:      dest,
		Source:           branchref.SourceBranch{Name: "bugfix/PROJ-1-x", Prefix: branchref.PrefixBugfix, IssueKey: "PROJ-1"},
		SourceRecognized: true,
		CommitDiff:       3,
		MaxCommitDiff:    20,
		Cascade:          []branchref.DestinationBranch{dest},
		IntegrationBuilt: true,
		Build:            BuildFacts{AllSuccessful: true},
	}
}

func TestEvaluateClosedPRIsNotMyJob(t *testing.T) {
	f := basePassingFacts()
	f.Open = false

	_, err := Evaluate(f)
	if !giterr.IsNotMyJob(err) {
		t.Fatalf("expected NotMyJobError, got %v", err)
	}
}

func TestEvaluateUnknownDestinationIsNotMyJob(t *testing.T) {
	f := basePassingFacts()
	f.DestinationKnown = false

	_, err := Evaluate(f)
	if !giterr.IsNotMyJob(err) {
		t.Fatalf("expected NotMyJobError, got %v", err)
	}
}

func TestEvaluateBadSourcePrefixShortCircuits(t *testing.T) {
	f := basePassingFacts()
	f.SourceRecognized = false

	result, err := Evaluate(f)
	uf, ok := giterr.AsUserFacing(err)
	if !ok {
		t.Fatalf("expected UserFacingError, got %v", err)
	}
	if uf.Code != StatusBadSourcePrefix || result.Code != StatusBadSourcePrefix {
		t.Fatalf("expected code %d, got %d", StatusBadSourcePrefix, uf.Code)
	}
}

func TestEvaluateSourceDivergedStopsBeforeLaterChecks(t *testing.T) {
	f := basePassingFacts()
	f.CommitDiff = 999
	f.MaxCommitDiff = 20
	// Corrupt a later fact too, to prove the evaluator never gets there.
	f.Build.AllSuccessful = false

	result, err := Evaluate(f)
	uf, ok := giterr.AsUserFacing(err)
	if !ok || uf.Code != StatusSourceDiverged {
		t.Fatalf("expected status %d, got %v (code=%d)", StatusSourceDiverged, err, result.Code)
	}
}

func TestEvaluateIncompatibleBranchBypassable(t *testing.T) {
	f := basePassingFacts()
	f.IgnoredBranches = []string{"stabilization/1.0.0"}

	if _, err := Evaluate(f); err == nil {
		t.Fatal("expected incompatible-branch failure without bypass")
	}

	f.Options.BypassIncompatibleBranch = true
	result, err := Evaluate(f)
	if err != nil {
		t.Fatalf("expected bypass to clear the check, got %v", err)
	}
	if result.Code != 0 {
		t.Fatalf("expected full pass, got code %d", result.Code)
	}
}

func TestEvaluateBuildNotSuccessfulBypassable(t *testing.T) {
	f := basePassingFacts()
	f.Build.AllSuccessful = false

	result, err := Evaluate(f)
	uf, ok := giterr.AsUserFacing(err)
	if !ok || uf.Code != StatusBuildNotSuccessful {
		t.Fatalf("expected status %d, got %v", StatusBuildNotSuccessful, err)
	}

	f.Options.BypassBuildStatus = true
	result, err = Evaluate(f)
	if err != nil {
		t.Fatalf("expected bypass to clear build check, got %v", err)
	}
	if result.Action == ActionNone {
		t.Fatalf("expected an action on full pass, got none")
	}
}

func TestEvaluateFullPassHandsToQueueWhenEnabled(t *testing.T) {
	f := basePassingFacts()
	f.QueueEnabled = true

	result, err := Evaluate(f)
	if err != nil {
		t.Fatalf("expected full pass, got %v", err)
	}
	if result.Action != ActionHandToQueue {
		t.Fatalf("expected ActionHandToQueue, got %v", result.Action)
	}
}

func TestEvaluateFullPassDirectMergeWhenQueueDisabled(t *testing.T) {
	f := basePassingFacts()
	f.QueueEnabled = false

	result, err := Evaluate(f)
	if err != nil {
		t.Fatalf("expected full pass, got %v", err)
	}
	if result.Action != ActionDirectMerge {
		t.Fatalf("expected ActionDirectMerge, got %v", result.Action)
	}
}

func TestEvaluateWaitOptionAwaitsEvent(t *testing.T) {
	f := basePassingFacts()
	f.Options.Wait = true

	result, err := Evaluate(f)
	if err != nil {
		t.Fatalf("expected no error for wait, got %v", err)
	}
	if result.Action != ActionAwaitEvent {
		t.Fatalf("expected ActionAwaitEvent, got %v", result.Action)
	}
}

func TestEvaluateAfterPullRequestCycleFailsPermanently(t *testing.T) {
	f := basePassingFacts()
	f.Number = 1
	f.AfterPullRequestGraph = map[int][]int{1: {2}, 2: {1}}
	f.MergedPRs = map[int]bool{}

	result, err := Evaluate(f)
	uf, ok := giterr.AsUserFacing(err)
	if !ok || uf.Code != StatusAfterPullRequestCycle {
		t.Fatalf("expected status %d, got %v (code=%d)", StatusAfterPullRequestCycle, err, result.Code)
	}
}

func TestEvaluateAfterPullRequestGraphBrokenByMergedPR(t *testing.T) {
	f := basePassingFacts()
	f.Number = 1
	f.AfterPullRequestGraph = map[int][]int{1: {2}, 2: {1}}
	f.MergedPRs = map[int]bool{2: true}

	result, err := Evaluate(f)
	if err != nil {
		t.Fatalf("expected no cycle once PR 2 is merged, got %v (code=%d)", err, result.Code)
	}
}

func TestEvaluateCommitDiffAnomalyFlaggedButNotFailed(t *testing.T) {
	f := basePassingFacts()
	f.CommitDiff = -3
	f.MaxCommitDiff = 20

	result, err := Evaluate(f)
	if err != nil {
		t.Fatalf("expected negative diff clamped to pass, got %v", err)
	}
	if !result.State.CommitDiffAnomaly {
		t.Fatal("expected CommitDiffAnomaly to be flagged")
	}
}

func TestEvaluateFixVersionMismatch(t *testing.T) {
	f := basePassingFacts()
	f.Issue = IssueFacts{Present: true, Exists: true, FixVersions: []string{"3.0"}}
	f.JiraProjectKeys = []string{"PROJ"}
	f.Issue.Project = "PROJ"
	f.CascadeVersions = []string{"2.0"}

	result, err := Evaluate(f)
	uf, ok := giterr.AsUserFacing(err)
	if !ok || uf.Code != StatusFixVersionMismatch {
		t.Fatalf("expected status %d, got %v (code=%d)", StatusFixVersionMismatch, err, result.Code)
	}
}
