package integration

import (
	"fmt"

	"github.com/scality/bert-e/internal/gitwf/branchref"
)

// UnsafeResetError is returned when Reset finds a commit on some W_i that
// isn't derivable from source ∪ d_i ∪ earlier W_* and force wasn't given
// (§4.2, §8 "reset safety").
type UnsafeResetError struct {
	Destination branchref.DestinationBranch
	Commits     map[string]string // sha -> author email
}

func (e *UnsafeResetError) Error() string {
	return fmt.Sprintf("reset refused: %s carries %d non-derivable commit(s)", e.Destination.Name, len(e.Commits))
}

// Reset deletes every W_i named by branches. When force is false, it
// first verifies none of them carry a commit that isn't reachable from
// source, the corresponding destination, or an earlier W_j — i.e. that
// every commit on the branch is robot-produced merge history, not a
// user's manual conflict resolution. Robot-authored commits (author ==
// robotEmail) never block a reset even without force, since the robot's
// own merge commits are always derivable in spirit even when the literal
// ancestry check is noisy around octopus merges.
func (e *Engine) Reset(cascade []branchref.DestinationBranch, source string, branches []Branch, robotEmail string, force bool) error {
	if !force {
		for i, b := range branches {
			if b.Name == "" {
				continue
			}
			excludes := []string{source, cascade[i].Name}
			for _, prior := range branches[:i] {
				if prior.Name != "" {
					excludes = append(excludes, prior.Name)
				}
			}

			foreign, err := e.ws.RevListExcluding(b.Tip, excludes...)
			if err != nil {
				return fmt.Errorf("integration: reset safety scan failed: %w", err)
			}
			if len(foreign) == 0 {
				continue
			}

			authors, err := e.ws.CommitAuthors(foreign)
			if err != nil {
				return fmt.Errorf("integration: reset author scan failed: %w", err)
			}

			userAuthored := make(map[string]string)
			for sha, author := range authors {
				if author != robotEmail {
					userAuthored[sha] = author
				}
			}
			if len(userAuthored) > 0 {
				return &UnsafeResetError{Destination: b.Destination, Commits: userAuthored}
			}
		}
	}

	for _, b := range branches {
		if b.Name == "" {
			continue
		}
		if err := e.ws.DeleteRemoteBranch(b.Name); err != nil {
			return fmt.Errorf("integration: delete %s failed: %w", b.Name, err)
		}
	}
	return nil
}
