package branchref

import "testing"

func TestParseDestinationBranch(t *testing.T) {
	cases := []struct {
		name    string
		wantOK  bool
		wantVer string
	}{
		{"development/2.0", true, "2.0"},
		{"development/3", true, "3"},
		{"stabilization/1.2.3", true, "1.2.3"},
		{"stabilization/1.2.3.4", true, "1.2.3.4"},
		{"hotfix/urgent", false, ""},
		{"user/alice/scratch", false, ""},
		{"main", false, ""},
	}

	for _, tc := range cases {
		db, ok := ParseDestinationBranch(tc.name)
		if ok != tc.wantOK {
			t.Fatalf("ParseDestinationBranch(%q) ok = %v, want %v", tc.name, ok, tc.wantOK)
		}
		if ok && db.Version() != tc.wantVer {
			t.Fatalf("ParseDestinationBranch(%q).Version() = %q, want %q", tc.name, db.Version(), tc.wantVer)
		}
	}
}

func TestParseDestinationBranchNoMinorSortsLast(t *testing.T) {
	withMinor, _ := ParseDestinationBranch("development/2.5")
	noMinor, _ := ParseDestinationBranch("development/2")

	if !withMinor.Less(noMinor) {
		t.Fatalf("expected development/2.5 to sort before development/2 (no minor)")
	}
}

func TestParseSourceBranch(t *testing.T) {
	sb, ok := ParseSourceBranch("bugfix/PROJ-42-fix-race", nil)
	if !ok {
		t.Fatal("expected bugfix/PROJ-42-fix-race to parse")
	}
	if sb.Prefix != PrefixBugfix {
		t.Fatalf("prefix = %q, want bugfix", sb.Prefix)
	}
	if sb.IssueKey != "PROJ-42" {
		t.Fatalf("issue key = %q, want PROJ-42", sb.IssueKey)
	}

	if _, ok := ParseSourceBranch("random/branch", nil); ok {
		t.Fatal("expected random/branch to be rejected without bypass prefixes")
	}

	sb, ok = ParseSourceBranch("internal/cleanup", []string{"internal"})
	if !ok || sb.Prefix != SourcePrefix("internal") {
		t.Fatalf("expected bypass prefix internal to be accepted, got %+v ok=%v", sb, ok)
	}
}

func TestIntegrationAndQueueNaming(t *testing.T) {
	d, _ := ParseDestinationBranch("development/2.0")

	if got := IntegrationBranchName(d, "bugfix/PROJ-1-x"); got != "w/2.0/bugfix/PROJ-1-x" {
		t.Fatalf("IntegrationBranchName = %q", got)
	}
	if got := QueueLaneName(d); got != "q/2.0" {
		t.Fatalf("QueueLaneName = %q", got)
	}
	if got := QueueItemBranchName(42, d, "bugfix/PROJ-1-x"); got != "q/w/42/2.0/bugfix/PROJ-1-x" {
		t.Fatalf("QueueItemBranchName = %q", got)
	}
}
