// Package jobstore holds the Job record defined by the data model and the
// capped ring buffer the dispatcher and the API front end read from.
package jobstore

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Kind enumerates the job kinds the dispatcher consumes.
type Kind string

const (
	KindPullRequest   Kind = "pull_request"
	KindCommit        Kind = "commit"
	KindBuildStatus   Kind = "build_status"
	KindQueueRebuild  Kind = "queue_rebuild"
	KindForceMerge    Kind = "force_merge"
	KindDeleteQueues  Kind = "delete_queues"
	KindCreateBranch  Kind = "create_branch"
	KindDeleteBranch  Kind = "delete_branch"
)

// PullRequestPayload correlates a pull_request job to one PR number within
// a repository (§4.6 FIFO dedup).
type PullRequestPayload struct {
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// CorrelationKey implements the dispatcher's dedup contract.
func (p PullRequestPayload) CorrelationKey() string { return strconv.Itoa(p.Number) }

// BranchPayload correlates a create_branch/delete_branch job to one branch
// name within a repository.
type BranchPayload struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

// CorrelationKey implements the dispatcher's dedup contract.
func (p BranchPayload) CorrelationKey() string { return p.Branch }

// BuildStatusPayload carries a reported CI result for one PR's
// contribution to a destination branch's integration/queue lane (§4.2,
// §4.5), as relayed by a git-host build-status webhook.
type BuildStatusPayload struct {
	Repo        string `json:"repo"`
	Number      int    `json:"number"`
	Destination string `json:"destination"`
	State       string `json:"state"`
}

// CorrelationKey implements the dispatcher's dedup contract: a build
// report is keyed by which PR/destination/state it carries, so a flapping
// status doesn't dedup against its own predecessor.
func (p BuildStatusPayload) CorrelationKey() string {
	return strconv.Itoa(p.Number) + ":" + p.Destination + ":" + p.State
}

// CommitPayload carries a reported CI result for a raw commit SHA, as
// relayed by a git-host commit-status webhook on a queue item branch
// rather than a PR (§4.5).
type CommitPayload struct {
	Repo  string `json:"repo"`
	SHA   string `json:"sha"`
	State string `json:"state"`
}

// CorrelationKey implements the dispatcher's dedup contract.
func (p CommitPayload) CorrelationKey() string { return p.SHA + ":" + p.State }

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the unit of work the dispatcher processes, one at a time per
// repository. Repo identifies the repository as "owner/slug".
type Job struct {
	ID          string
	Repo        string
	Kind        Kind
	Payload     any
	User        string
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      Status
	Details     string
	StatusCode  int
}

// maxEntries bounds the ring buffer per the data model's "retained for <=
// 1000 entries" invariant.
const maxEntries = 1000

// Store is a thread-safe, capped, append-only history of jobs plus an
// index for direct lookup by ID.
type Store struct {
	mu      sync.RWMutex
	entries []*Job
	byID    map[string]*Job
}

// New creates an empty job store.
func New() *Store {
	return &Store{
		byID: make(map[string]*Job),
	}
}

// Enqueue records a freshly created job in StatusQueued.
func (s *Store) Enqueue(job *Job) error {
	if job == nil {
		return fmt.Errorf("jobstore: enqueue: job is nil")
	}
	if job.ID == "" {
		return fmt.Errorf("jobstore: enqueue: job ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[job.ID]; exists {
		return fmt.Errorf("jobstore: job %s already exists", job.ID)
	}

	job.CreatedAt = time.Now()
	job.Status = StatusQueued

	s.entries = append(s.entries, job)
	s.byID[job.ID] = job
	s.evictLocked()

	return nil
}

// evictLocked drops the oldest entries once the buffer exceeds maxEntries.
// Callers must hold s.mu.
func (s *Store) evictLocked() {
	if len(s.entries) <= maxEntries {
		return
	}
	overflow := len(s.entries) - maxEntries
	for _, dropped := range s.entries[:overflow] {
		delete(s.byID, dropped.ID)
	}
	s.entries = s.entries[overflow:]
}

// Start marks a job running.
func (s *Store) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("jobstore: job not found: %s", id)
	}
	job.Status = StatusRunning
	job.StartedAt = time.Now()
	return nil
}

// Finish marks a job completed or failed, with an optional status code and
// free-text details (e.g. a traceback for Fatal errors, §7).
func (s *Store) Finish(id string, status Status, statusCode int, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("jobstore: job not found: %s", id)
	}
	job.Status = status
	job.StatusCode = statusCode
	job.Details = details
	job.FinishedAt = time.Now()
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.byID[id]
	return job, ok
}

// List returns all retained jobs, newest first.
func (s *Store) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, len(s.entries))
	for i, job := range s.entries {
		out[len(s.entries)-1-i] = job
	}
	return out
}

// PendingForRepo reports whether a job of the given kind is already queued
// or running for the repo/correlation key, supporting the dispatcher's
// enqueue-is-a-no-op deduplication rule (§4.6).
func (s *Store) PendingForRepo(repo string, kind Kind, correlationKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.entries {
		if job.Repo != repo || job.Kind != kind {
			continue
		}
		if job.Status != StatusQueued && job.Status != StatusRunning {
			continue
		}
		if correlationKey != "" {
			if key, ok := job.Payload.(interface{ CorrelationKey() string }); ok && key.CorrelationKey() != correlationKey {
				continue
			}
		}
		return true
	}
	return false
}
