// Package branchref parses the branch-naming conventions GitWaterFlow
// recognizes and produces (§3, §6), in the small-pure-function style the
// teacher uses for branch naming (see naming.go).
package branchref

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a destination branch.
type Kind string

const (
	KindDevelopment    Kind = "development"
	KindStabilization  Kind = "stabilization"
	KindHotfix         Kind = "hotfix"
)

// DestinationBranch is a development/stabilization/hotfix branch the core
// may cascade a PR through.
type DestinationBranch struct {
	Name  string
	Kind  Kind
	Major int
	// Minor is NoMinor when the branch has no minor component, e.g.
	// "development/2" — treated as (major, +Inf) per §4.1 and the Open
	// Question resolution in DESIGN.md.
	Minor int
	Patch int
	// HasPatch/HasMicro distinguish an absent component from a literal 0.
	HasPatch bool
	Micro    int
	HasMicro bool
}

// NoMinor is the sentinel ordering value for a minor-less development
// branch: it sorts after every minor-qualified branch of the same major.
const NoMinor = 1<<31 - 1

var (
	devRe   = regexp.MustCompile(`^development/(\d+)(?:\.(\d+))?$`)
	stabRe  = regexp.MustCompile(`^stabilization/(\d+)\.(\d+)\.(\d+)(?:\.(\d+))?$`)
)

// ParseDestinationBranch parses a branch name against the conventions the
// core recognizes. hotfix/* and user/* are recognized-but-ignored per §6;
// ParseDestinationBranch returns ok=false for them and for anything else
// unrecognized.
func ParseDestinationBranch(name string) (DestinationBranch, bool) {
	if m := devRe.FindStringSubmatch(name); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor := NoMinor
		if m[2] != "" {
			minor, _ = strconv.Atoi(m[2])
		}
		return DestinationBranch{Name: name, Kind: KindDevelopment, Major: major, Minor: minor}, true
	}
	if m := stabRe.FindStringSubmatch(name); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		patch, _ := strconv.Atoi(m[3])
		db := DestinationBranch{Name: name, Kind: KindStabilization, Major: major, Minor: minor, Patch: patch, HasPatch: true}
		if m[4] != "" {
			db.Micro, _ = strconv.Atoi(m[4])
			db.HasMicro = true
		}
		return db, true
	}
	if strings.HasPrefix(name, "hotfix/") {
		return DestinationBranch{}, false
	}
	if strings.HasPrefix(name, "user/") {
		return DestinationBranch{}, false
	}
	return DestinationBranch{}, false
}

// Version renders the branch's version component, e.g. "2.0" or
// "1.2.3", as used to name integration and queue branches (§6).
func (d DestinationBranch) Version() string {
	switch d.Kind {
	case KindDevelopment:
		if d.Minor == NoMinor {
			return strconv.Itoa(d.Major)
		}
		return fmt.Sprintf("%d.%d", d.Major, d.Minor)
	case KindStabilization:
		v := fmt.Sprintf("%d.%d.%d", d.Major, d.Minor, d.Patch)
		if d.HasMicro {
			v = fmt.Sprintf("%s.%d", v, d.Micro)
		}
		return v
	default:
		return d.Name
	}
}

// Less orders destination branches by (major, minor, patch), used by the
// cascade builder's monotonicity invariant (§3, §8).
func (d DestinationBranch) Less(other DestinationBranch) bool {
	if d.Major != other.Major {
		return d.Major < other.Major
	}
	if d.Minor != other.Minor {
		return d.Minor < other.Minor
	}
	return d.Patch < other.Patch
}

// SourcePrefix is the allowed category of a PR's source branch (§3, §4.1).
type SourcePrefix string

const (
	PrefixFeature     SourcePrefix = "feature"
	PrefixBugfix      SourcePrefix = "bugfix"
	PrefixImprovement SourcePrefix = "improvement"
	PrefixProject     SourcePrefix = "project"
)

// SourceBranch is the PR's source ref, with its prefix and optional issue
// key parsed out.
type SourceBranch struct {
	Name     string
	Prefix   SourcePrefix
	IssueKey string
}

var sourceRe = regexp.MustCompile(`^(feature|bugfix|improvement|project)/(?:([A-Z][A-Z0-9]+-\d+)-)?(.+)$`)

// ParseSourceBranch parses a PR's head branch name. bypassPrefixes are
// additional accepted prefixes configured per repository (§6); when name
// uses one of them the returned SourceBranch has Prefix set to that raw
// string value and no issue key is extracted.
func ParseSourceBranch(name string, bypassPrefixes []string) (SourceBranch, bool) {
	if m := sourceRe.FindStringSubmatch(name); m != nil {
		return SourceBranch{Name: name, Prefix: SourcePrefix(m[1]), IssueKey: m[2]}, true
	}
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(name, prefix+"/") {
			return SourceBranch{Name: name, Prefix: SourcePrefix(prefix)}, true
		}
	}
	return SourceBranch{}, false
}

// IntegrationBranchName builds the name of the robot-owned integration
// branch W_i for destination d and source src (§3, §6).
func IntegrationBranchName(d DestinationBranch, src string) string {
	return fmt.Sprintf("w/%s/%s", d.Version(), src)
}

// QueueLaneName builds the name of the fast-forward lane for destination d
// (§3, §6).
func QueueLaneName(d DestinationBranch) string {
	return fmt.Sprintf("q/%s", d.Version())
}

// QueueItemBranchName builds the name of a per-PR queue contribution
// branch (§3, §6).
func QueueItemBranchName(prID int, d DestinationBranch, src string) string {
	return fmt.Sprintf("q/w/%d/%s/%s", prID, d.Version(), src)
}
