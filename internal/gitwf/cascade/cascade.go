// Package cascade implements the Cascade Builder (§4.1): given the set of
// live destination branches and the PR's target and source prefix, it
// produces the ordered sequence of branches the PR must traverse.
package cascade

import (
	"fmt"
	"sort"

	"github.com/scality/bert-e/internal/gitwf/branchref"
)

// Result is the Cascade Builder's output: the ordered cascade plus the
// destinations the PR will not touch, reported verbatim to the messenger
// (§4.1).
type Result struct {
	Cascade  []branchref.DestinationBranch
	Ignored  []branchref.DestinationBranch
}

// Build computes the cascade for a PR targeting target with a source of
// the given prefix, given the full set of live destination branches.
func Build(all []branchref.DestinationBranch, target branchref.DestinationBranch, prefix branchref.SourcePrefix) (Result, error) {
	if !contains(all, target) {
		return Result{}, fmt.Errorf("cascade: target %s is not in the live destination set", target.Name)
	}

	switch prefix {
	case branchref.PrefixFeature:
		return buildFeatureCascade(all, target), nil
	case branchref.PrefixBugfix, branchref.PrefixImprovement:
		return buildMaintenanceCascade(all, target), nil
	default:
		// project/* and bypass_prefixes behave like feature/*: forward
		// through development lines only, per §4.1's rule for sources
		// incompatible with maintenance-only destinations.
		return buildFeatureCascade(all, target), nil
	}
}

// buildFeatureCascade starts at target and proceeds forward through
// development lines only — it never touches stabilization branches, even
// of the target's own major.minor.
func buildFeatureCascade(all []branchref.DestinationBranch, target branchref.DestinationBranch) Result {
	var cascade, ignored []branchref.DestinationBranch

	if target.Kind == branchref.KindDevelopment {
		cascade = append(cascade, target)
	}

	for _, d := range all {
		if d.Name == target.Name {
			continue
		}
		if d.Kind != branchref.KindDevelopment {
			ignored = append(ignored, d)
			continue
		}
		if isStrictlyNewerDevelopment(d, target) {
			cascade = append(cascade, d)
		} else {
			ignored = append(ignored, d)
		}
	}

	sortCascade(cascade)
	sortCascade(ignored)
	return Result{Cascade: cascade, Ignored: ignored}
}

// buildMaintenanceCascade includes every stabilization branch at the
// target's major.minor, then the target development branch (if distinct),
// then every strictly-newer development line.
func buildMaintenanceCascade(all []branchref.DestinationBranch, target branchref.DestinationBranch) Result {
	var cascade, ignored []branchref.DestinationBranch
	var stabs []branchref.DestinationBranch

	targetMajor, targetMinor := target.Major, target.Minor
	if target.Kind == branchref.KindStabilization {
		// A PR may also target a stabilization branch directly.
		targetMajor, targetMinor = target.Major, target.Minor
	}

	for _, d := range all {
		if d.Kind == branchref.KindStabilization && d.Major == targetMajor && d.Minor == targetMinor {
			stabs = append(stabs, d)
		}
	}
	sortCascade(stabs)
	cascade = append(cascade, stabs...)

	// For a stabilization target, the development branch of the same
	// major.minor follows its stabilization branches.
	targetDev := target
	if target.Kind == branchref.KindStabilization {
		for _, d := range all {
			if d.Kind == branchref.KindDevelopment && d.Major == targetMajor && d.Minor == targetMinor {
				targetDev = d
			}
		}
	}
	if targetDev.Kind == branchref.KindDevelopment {
		cascade = append(cascade, targetDev)
	}

	for _, d := range all {
		if d.Kind == branchref.KindStabilization {
			if !(d.Major == targetMajor && d.Minor == targetMinor) {
				ignored = append(ignored, d)
			}
			continue
		}
		if d.Name == target.Name || d.Name == targetDev.Name {
			continue
		}
		if isStrictlyNewerDevelopment(d, target) {
			cascade = append(cascade, d)
		} else {
			ignored = append(ignored, d)
		}
	}

	sortCascade(ignored)
	return Result{Cascade: cascade, Ignored: ignored}
}

func isStrictlyNewerDevelopment(d, target branchref.DestinationBranch) bool {
	if d.Kind != branchref.KindDevelopment {
		return false
	}
	if d.Major != target.Major {
		return d.Major > target.Major
	}
	return d.Minor > target.Minor
}

func contains(all []branchref.DestinationBranch, target branchref.DestinationBranch) bool {
	for _, d := range all {
		if d.Name == target.Name {
			return true
		}
	}
	return false
}

// sortCascade orders by Less (major asc, minor asc, patch asc), keeping
// the input order of entries that compare equal. A development branch has
// patch 0, so it sorts before a stabilization branch of the same
// major.minor whose patch is non-zero.
func sortCascade(branches []branchref.DestinationBranch) {
	sort.SliceStable(branches, func(i, j int) bool {
		return branches[i].Less(branches[j])
	})
}
