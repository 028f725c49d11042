// Package issuetracker defines the issue-tracker adapter (§6): get issue
// (key, type, parent, fix-versions). Its absence from a repository's
// configuration disables every check that consults it (§4.3 rows 6-11),
// rather than failing them.
package issuetracker

import "context"

// Issue is the subset of issue-tracker state the gating evaluator
// consults: its type (for prefix matching), its parent (for the subtask
// check), and its fix-versions (for the cascade version-set check).
type Issue struct {
	Key         string
	Project     string
	Type        string
	ParentKey   string
	FixVersions []string
}

// IsSubtask reports whether the issue has a parent, the shape check #8
// ("issue is a subtask") consumes.
func (i *Issue) IsSubtask() bool { return i.ParentKey != "" }

// Client looks up one issue by key.
type Client interface {
	GetIssue(ctx context.Context, key string) (*Issue, error)
}
