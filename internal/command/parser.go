// Package command implements the comment/option parser (§4.4): it scans a
// PR's comments in order and produces the effective set of sticky options
// and one-shot commands currently in force, honoring the privilege and
// authorship rules the spec defines.
package command

import (
	"sort"
	"strings"

	"github.com/scality/bert-e/internal/giterr"
)

// Kind distinguishes a sticky option (in effect as long as the comment
// that set it still exists) from a one-shot command (fires once and is
// consumed).
type Kind int

const (
	KindOption Kind = iota
	KindCommand
)

// Spec describes one recognized token's metadata (§4.4): privileged tokens
// require the commenter to be an admin; authored tokens require the
// commenter to be the PR's own author.
type Spec struct {
	Name       string
	Kind       Kind
	Privileged bool
	Authored   bool
}

// Token is a single parsed occurrence of a command/option in one comment.
type Token struct {
	Name      string
	Value     string
	CommentID int64
	CreatedAt int64
	Author    string
}

// Comment is the minimal shape of a PR comment the parser needs.
type Comment struct {
	ID        int64
	CreatedAt int64
	Author    string
	Body      string
	Deleted   bool
}

const (
	StatusUnknownToken     = 122
	StatusPrivilegeFailure = 123
	StatusAuthorshipFailure = 134
)

// Registry is the set of tokens this deployment recognizes, keyed by name.
type Registry map[string]Spec

// DefaultRegistry lists every option/command the core itself consumes
// (§4.3's Bypass column plus the queue/reset/approve commands named
// elsewhere in the spec). Deployments may extend it with repository-local
// tokens; unknown tokens always fail closed with StatusUnknownToken.
var DefaultRegistry = Registry{
	"bypass_incompatible_branch": {Name: "bypass_incompatible_branch", Kind: KindOption, Privileged: true},
	"bypass_jira_check":          {Name: "bypass_jira_check", Kind: KindOption, Privileged: true},
	"disable_version_checks":     {Name: "disable_version_checks", Kind: KindOption, Privileged: true},
	"bypass_author_approval":     {Name: "bypass_author_approval", Kind: KindOption, Privileged: true},
	"bypass_peer_approval":       {Name: "bypass_peer_approval", Kind: KindOption, Privileged: true},
	"bypass_leader_approval":     {Name: "bypass_leader_approval", Kind: KindOption, Privileged: true},
	"bypass_build_status":        {Name: "bypass_build_status", Kind: KindOption, Privileged: true},
	"after_pull_request":         {Name: "after_pull_request", Kind: KindOption, Privileged: false},
	"wait":                       {Name: "wait", Kind: KindOption, Privileged: false},
	"no_octopus":                 {Name: "no_octopus", Kind: KindOption, Privileged: true},
	"create_integration_branches": {Name: "create_integration_branches", Kind: KindOption, Privileged: true},
	"approve":                    {Name: "approve", Kind: KindCommand, Authored: true},
	"reset":                      {Name: "reset", Kind: KindCommand, Privileged: true},
	"force_reset":                {Name: "force_reset", Kind: KindCommand, Privileged: true},
	"force_merge":                {Name: "force_merge", Kind: KindCommand, Privileged: true},
	"rebuild_queues":             {Name: "rebuild_queues", Kind: KindCommand, Privileged: true},
	"clear":                      {Name: "clear", Kind: KindCommand, Privileged: false},
	"help":                       {Name: "help", Kind: KindCommand, Privileged: false},
	"status":                     {Name: "status", Kind: KindCommand, Privileged: false},
}

// State is the effective outcome of scanning a PR's comment history:
// active sticky options and the one-shot commands to run this evaluation.
type State struct {
	Options  map[string]Token
	Commands []Token
}

// HasOption reports whether name is currently active.
func (s State) HasOption(name string) bool {
	_, ok := s.Options[name]
	return ok
}

// Parse scans comments in CreatedAt then ID order (it sorts its own copy,
// so callers may pass them in any order) and returns the effective state,
// the robot's own trigger prefix (e.g. "@bert-e" or "/") having already
// been stripped per line by lineTokens. isAdmin and prAuthor resolve the
// privilege/authorship rules; unresolved failures are returned as a slice
// of giterr.UserFacingError so the caller can report every bad token in
// one pass rather than stopping at the first.
func Parse(comments []Comment, registry Registry, robot string, isAdmin func(user string) bool, prAuthor string) (State, []error) {
	sorted := make([]Comment, len(comments))
	copy(sorted, comments)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	state := State{Options: make(map[string]Token)}
	var errs []error

	for _, c := range sorted {
		if c.Deleted {
			continue
		}
		for _, raw := range lineTokens(c.Body, robot) {
			spec, ok := registry[raw.name]
			if !ok {
				errs = append(errs, giterr.NewUserFacing(StatusUnknownToken, raw.name, map[string]any{"token": raw.name, "comment_id": c.ID}))
				continue
			}

			if spec.Privileged && !isAdmin(c.Author) {
				errs = append(errs, giterr.NewUserFacing(StatusPrivilegeFailure, raw.name, map[string]any{"token": raw.name, "comment_id": c.ID, "author": c.Author}))
				continue
			}
			if spec.Authored && c.Author != prAuthor {
				errs = append(errs, giterr.NewUserFacing(StatusAuthorshipFailure, raw.name, map[string]any{"token": raw.name, "comment_id": c.ID, "author": c.Author}))
				continue
			}

			tok := Token{Name: raw.name, Value: raw.value, CommentID: c.ID, CreatedAt: c.CreatedAt, Author: c.Author}
			switch spec.Kind {
			case KindOption:
				state.Options[raw.name] = tok
			case KindCommand:
				state.Commands = append(state.Commands, tok)
			}
		}
	}

	return state, errs
}

type rawToken struct {
	name  string
	value string
}

// lineTokens extracts every "@<robot> <token>[=<value>]" or "/<token>
// [=<value>]" line from body.
func lineTokens(body, robot string) []rawToken {
	var tokens []rawToken
	atPrefix := "@" + robot
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		var rest string
		switch {
		case strings.HasPrefix(line, atPrefix):
			rest = strings.TrimSpace(line[len(atPrefix):])
		case strings.HasPrefix(line, "/"):
			rest = line[1:]
		default:
			continue
		}
		if rest == "" {
			continue
		}
		field := strings.Fields(rest)[0]
		name, value, _ := strings.Cut(field, "=")
		tokens = append(tokens, rawToken{name: name, value: value})
	}
	return tokens
}
