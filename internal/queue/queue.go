// Package queue implements the Queue Manager (§4.5): per-destination
// merge-train lanes, admission of gated PRs, build-status-driven
// promotion, and the reset/rebuild/force-merge operator commands.
package queue

import (
	"fmt"
	"sync"

	"github.com/scality/bert-e/internal/concurrency"
	"github.com/scality/bert-e/internal/gitwf/branchref"
	"github.com/scality/bert-e/internal/gitwf/workspace"
)

// BuildStatus is one queue-item-branch tip's reported CI state.
type BuildStatus string

const (
	BuildPending    BuildStatus = "pending"
	BuildSuccessful BuildStatus = "successful"
	BuildFailed     BuildStatus = "failed"
)

// RowStatus is the aggregate of one item's per-lane build statuses.
type RowStatus string

const (
	RowGreen   RowStatus = "green"
	RowRed     RowStatus = "red"
	RowPending RowStatus = "pending"
)

// LaneItem is one destination's contribution to a queued PR.
type LaneItem struct {
	Destination  branchref.DestinationBranch
	ItemBranch   string
	ParentBranch string
	ContentSHA   string
	Build        BuildStatus
}

// Item is one PR admitted to the queue, with its per-lane branches, in
// the order it was admitted.
type Item struct {
	PRNumber int
	Source   string
	Lanes    map[string]*LaneItem // destination name -> contribution
	Order    []string             // destination names in cascade order, for stable iteration
}

// RowStatus computes this item's aggregate status across every lane.
func (it *Item) RowStatus() RowStatus {
	anyFailed, allSuccessful := false, true
	for _, name := range it.Order {
		switch it.Lanes[name].Build {
		case BuildFailed:
			anyFailed = true
			allSuccessful = false
		case BuildPending:
			allSuccessful = false
		}
	}
	if anyFailed {
		return RowRed
	}
	if allSuccessful {
		return RowGreen
	}
	return RowPending
}

// ConflictError is returned by Admit when staging a PR's content against
// an already-queued lane produces a merge conflict; per §4.5 the PR is
// rejected and nothing already queued is touched.
type ConflictError struct {
	Destination branchref.DestinationBranch
	Files       []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("queue conflict staging into %s: %v", e.Destination.Name, e.Files)
}

// OutOfOrderError is returned when a lane's chain of q/w/* branches isn't
// strictly ancestral (§4.5): promotion refuses until an operator rebuilds
// or deletes the lane.
type OutOfOrderError struct {
	Destination branchref.DestinationBranch
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("queue out of order on %s: requires rebuild or delete", e.Destination.Name)
}

// Manager owns one repository's queue state in memory (§4.5, §5: "job
// history" and queue contents are reconstructed from git refs on restart,
// but a running process keeps the admitted order and build statuses
// in-memory between promotions).
//
// locks holds one key per lane (laneKey). Admit takes the keys of its
// cascade's lanes for the duration of the call without checking whether
// TryAcquire succeeded, so they do not exclude a concurrent Admit; reads
// such as Items and DetectOutOfOrder are guarded by mu only. The
// dispatcher runs at most one job per repository at a time.
type Manager struct {
	mu    sync.Mutex
	items []*Item
	ws    *workspace.Workspace
	locks *concurrency.Manager
}

// New creates a Manager bound to ws.
func New(ws *workspace.Workspace) *Manager {
	return &Manager{ws: ws, locks: concurrency.NewManager()}
}

func laneKey(d branchref.DestinationBranch) string { return "lane:" + d.Name }

// Items returns a snapshot of the current admission order.
func (m *Manager) Items() []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Item, len(m.items))
	copy(out, m.items)
	return out
}

// laneTip returns the current fast-forward tip of destination d's lane and
// whether the lane is empty (no PR queued on it yet), in which case the
// tip returned is d's own tip.
func (m *Manager) laneTip(d branchref.DestinationBranch) (sha string, empty bool, err error) {
	lane := branchref.QueueLaneName(d)
	if sha, err := m.ws.RevParse(lane); err == nil {
		return sha, false, nil
	}
	sha, err = m.ws.RevParse(d.Name)
	return sha, true, err
}

// Admit stages prNumber's content onto every destination's lane in
// cascade, in cascade order. integrationTips maps each destination name to
// the tip to stage (the materialized W_i, or the source tip for d_0, per
// §4.2's "W_0 ≡ source"). Admission is all-or-nothing: if staging onto any
// lane conflicts, no lane is mutated and a *ConflictError names the first
// failing destination.
func (m *Manager) Admit(prNumber int, source string, cascade []branchref.DestinationBranch, integrationTips map[string]string) (*Item, error) {
	for _, d := range cascade {
		m.locks.TryAcquire(laneKey(d))
		defer m.locks.Release(laneKey(d))
	}

	item := &Item{PRNumber: prNumber, Source: source, Lanes: make(map[string]*LaneItem)}

	for _, d := range cascade {
		parent, laneEmpty, err := m.laneTip(d)
		if err != nil {
			return nil, fmt.Errorf("queue: resolve lane tip for %s: %w", d.Name, err)
		}
		content, ok := integrationTips[d.Name]
		if !ok {
			return nil, fmt.Errorf("queue: no integration tip provided for %s", d.Name)
		}

		resolved := content
		if !laneEmpty {
			// Lane already has content ahead of d_i: stage on top of it.
			result, merr := m.ws.ThreeWayMerge(parent, []string{content}, fmt.Sprintf("Queue %s for PR #%d onto %s", source, prNumber, d.Name))
			if merr != nil {
				return nil, fmt.Errorf("queue: stage %s onto %s: %w", source, d.Name, merr)
			}
			if result.Conflict {
				return nil, &ConflictError{Destination: d, Files: result.Conflicts}
			}
			resolved = result.SHA
		}

		item.Order = append(item.Order, d.Name)
		item.Lanes[d.Name] = &LaneItem{
			Destination:  d,
			ItemBranch:   branchref.QueueItemBranchName(prNumber, d, source),
			ParentBranch: parent,
			ContentSHA:   resolved,
			Build:        BuildPending,
		}
	}

	for _, d := range cascade {
		li := item.Lanes[d.Name]
		if err := m.ws.CreateBranch(li.ItemBranch, li.ContentSHA); err != nil {
			return nil, fmt.Errorf("queue: create %s: %w", li.ItemBranch, err)
		}
		if err := m.ws.Push(li.ItemBranch, false); err != nil {
			return nil, fmt.Errorf("queue: push %s: %w", li.ItemBranch, err)
		}
		lane := branchref.QueueLaneName(d)
		if _, err := m.ws.RevParse(lane); err != nil {
			if cerr := m.ws.CreateBranch(lane, li.ContentSHA); cerr != nil {
				return nil, fmt.Errorf("queue: create lane %s: %w", lane, cerr)
			}
		} else if uerr := m.ws.UpdateRef(lane, li.ContentSHA); uerr != nil {
			return nil, fmt.Errorf("queue: fast-forward lane %s: %w", lane, uerr)
		}
		if err := m.ws.Push(lane, false); err != nil {
			return nil, fmt.Errorf("queue: push lane %s: %w", lane, err)
		}
	}

	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()

	return item, nil
}

// SetBuildStatus records a reported build result for prNumber's
// contribution to destination.
func (m *Manager) SetBuildStatus(prNumber int, destination string, status BuildStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.PRNumber != prNumber {
			continue
		}
		if li, ok := it.Lanes[destination]; ok {
			li.Build = status
		}
	}
}

// DetectOutOfOrder verifies every lane's chain of item branches is
// strictly ancestral, as required before Promote runs (§4.5).
func (m *Manager) DetectOutOfOrder() error {
	m.mu.Lock()
	items := make([]*Item, len(m.items))
	copy(items, m.items)
	m.mu.Unlock()

	perLane := make(map[string][]*LaneItem)
	for _, it := range items {
		for _, name := range it.Order {
			perLane[name] = append(perLane[name], it.Lanes[name])
		}
	}

	for name, chain := range perLane {
		for i := 1; i < len(chain); i++ {
			ok, err := m.ws.IsAncestor(chain[i-1].ItemBranch, chain[i].ItemBranch)
			if err != nil {
				return fmt.Errorf("queue: ancestry check on %s: %w", name, err)
			}
			if !ok {
				return &OutOfOrderError{Destination: chain[i].Destination}
			}
		}
	}
	return nil
}

// sameLaneSet reports whether a and b name the same set of destinations,
// regardless of order.
func sameLaneSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, name := range a {
		set[name] = true
	}
	for _, name := range b {
		if !set[name] {
			return false
		}
	}
	return true
}

// Promote fast-forwards every destination to the longest promotable
// prefix (§4.5): the prefix ending at the highest-indexed item whose row
// status is GREEN, since a later item's green build already subsumes
// every earlier item's commits on an ancestral lane — but only when every
// intervening item queued on the same lanes, since fast-forwarding a
// destination to a later item's content can't subsume an earlier item
// that never touched that destination at all. A green item whose lane
// set differs from what's already been subsumed freezes the boundary
// where it stands instead of extending it. It returns the PR numbers
// promoted (to be closed with status 102); unpromoted items stay queued
// in order and their branches are left as they are.
func (m *Manager) Promote() ([]int, error) {
	if err := m.DetectOutOfOrder(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	items := make([]*Item, len(m.items))
	copy(items, m.items)
	m.mu.Unlock()

	boundary := -1
	for i, it := range items {
		if it.RowStatus() != RowGreen {
			continue
		}
		extends := true
		for j := boundary + 1; j <= i; j++ {
			if !sameLaneSet(items[j].Order, it.Order) {
				extends = false
				break
			}
		}
		if extends {
			boundary = i
		}
	}
	if boundary < 0 {
		return nil, nil
	}

	destinations := make(map[string]branchref.DestinationBranch)
	for _, name := range items[boundary].Order {
		destinations[name] = items[boundary].Lanes[name].Destination
	}
	for name, d := range destinations {
		sha := items[boundary].Lanes[name].ContentSHA
		if err := m.ws.UpdateRef(d.Name, sha); err != nil {
			return nil, fmt.Errorf("queue: promote %s: %w", d.Name, err)
		}
		if err := m.ws.Push(d.Name, false); err != nil {
			return nil, fmt.Errorf("queue: push promoted %s: %w", d.Name, err)
		}
	}

	promoted := make([]int, 0, boundary+1)
	for i := 0; i <= boundary; i++ {
		promoted = append(promoted, items[i].PRNumber)
	}

	m.mu.Lock()
	m.items = append([]*Item(nil), items[boundary+1:]...)
	m.mu.Unlock()

	return promoted, nil
}

// ForceMerge promotes every currently queued PR regardless of build
// status (§4.5, privileged).
func (m *Manager) ForceMerge() ([]int, error) {
	m.mu.Lock()
	for _, it := range m.items {
		for _, name := range it.Order {
			it.Lanes[name].Build = BuildSuccessful
		}
	}
	m.mu.Unlock()
	return m.Promote()
}

// Reset deletes every q/* branch this Manager knows about and returns the
// PR numbers that were queued, so the caller can re-enqueue a fresh
// PullRequest job for each — except those currently carrying a `wait`
// option, which the caller filters out before re-enqueueing (§4.5).
func (m *Manager) Reset() ([]int, error) {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()

	seenLanes := make(map[string]bool)
	var prs []int
	for _, it := range items {
		prs = append(prs, it.PRNumber)
		for _, name := range it.Order {
			li := it.Lanes[name]
			if err := m.ws.DeleteRemoteBranch(li.ItemBranch); err != nil {
				return nil, fmt.Errorf("queue: delete %s: %w", li.ItemBranch, err)
			}
			lane := branchref.QueueLaneName(li.Destination)
			seenLanes[lane] = true
		}
	}
	for lane := range seenLanes {
		if err := m.ws.DeleteRemoteBranch(lane); err != nil {
			return nil, fmt.Errorf("queue: delete lane %s: %w", lane, err)
		}
	}
	return prs, nil
}
