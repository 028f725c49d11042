package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/jobstore"
)

type mockExecutor struct {
	fn func(ctx context.Context, job *jobstore.Job) error
}

func (m *mockExecutor) Execute(ctx context.Context, job *jobstore.Job) error {
	if m.fn == nil {
		return nil
	}
	return m.fn(ctx, job)
}

func newJob(repo string, number int) *jobstore.Job {
	return &jobstore.Job{ID: fmt.Sprintf("%s-%d", repo, number), Repo: repo, Kind: jobstore.KindPullRequest}
}

func TestDispatcherEnqueueRunsJob(t *testing.T) {
	done := make(chan struct{})
	exec := &mockExecutor{
		fn: func(ctx context.Context, job *jobstore.Job) error {
			close(done)
			return nil
		},
	}

	d := New(exec, jobstore.New(), Config{
		Workers:           1,
		QueueSize:         2,
		MaxAttempts:       1,
		InitialBackoff:    10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        20 * time.Millisecond,
	})
	defer d.Shutdown(context.Background())

	if err := d.Enqueue(newJob("owner/repo", 1)); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for job execution")
	}
}

func TestDispatcherSerializesSameRepo(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	done := make(chan struct{}, 3)

	exec := &mockExecutor{
		fn: func(ctx context.Context, job *jobstore.Job) error {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()

			done <- struct{}{}
			return nil
		},
	}

	d := New(exec, jobstore.New(), Config{
		Workers:           3,
		QueueSize:         3,
		MaxAttempts:       1,
		InitialBackoff:    10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        20 * time.Millisecond,
	})
	defer d.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		job := &jobstore.Job{
			ID:      fmt.Sprintf("owner/repo-99-%d", i),
			Repo:    "owner/repo",
			Kind:    jobstore.KindCommit,
			Payload: jobstore.CommitPayload{Repo: "owner/repo", SHA: fmt.Sprintf("sha-%d", i), State: "success"},
		}
		if err := d.Enqueue(job); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
			t.Fatal("timed out waiting for serialized jobs")
		}
	}

	if maxActive != 1 {
		t.Fatalf("expected max concurrent executions 1 for the same repo, got %d", maxActive)
	}
}

func TestDispatcherDedupsPendingPullRequestJob(t *testing.T) {
	release := make(chan struct{})
	var callCount int
	var mu sync.Mutex

	exec := &mockExecutor{
		fn: func(ctx context.Context, job *jobstore.Job) error {
			mu.Lock()
			callCount++
			mu.Unlock()
			<-release
			return nil
		},
	}

	store := jobstore.New()
	d := New(exec, store, Config{Workers: 1, QueueSize: 4, MaxAttempts: 1})
	defer func() {
		close(release)
		d.Shutdown(context.Background())
	}()

	job1 := &jobstore.Job{ID: "j1", Repo: "owner/repo", Kind: jobstore.KindPullRequest, Payload: prPayload{Number: 5}}
	job2 := &jobstore.Job{ID: "j2", Repo: "owner/repo", Kind: jobstore.KindPullRequest, Payload: prPayload{Number: 5}}

	if err := d.Enqueue(job1); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	// Give the worker a moment to pick up job1 and block on release.
	time.Sleep(30 * time.Millisecond)

	if err := d.Enqueue(job2); err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}

	mu.Lock()
	calls := callCount
	mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected the duplicate pull_request job for the same PR to be dropped, got %d calls", calls)
	}
}

type prPayload struct{ Number int }

func (p prPayload) CorrelationKey() string { return fmt.Sprintf("%d", p.Number) }

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	var attemptsMu sync.Mutex
	var attempts int
	done := make(chan struct{})

	exec := &mockExecutor{
		fn: func(ctx context.Context, job *jobstore.Job) error {
			attemptsMu.Lock()
			attempts++
			n := attempts
			attemptsMu.Unlock()

			if n == 1 {
				return giterr.NewTransient("flaky git host", errors.New("502"))
			}

			close(done)
			return nil
		},
	}

	d := New(exec, jobstore.New(), Config{
		Workers:           1,
		QueueSize:         2,
		MaxAttempts:       2,
		InitialBackoff:    10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        20 * time.Millisecond,
	})
	defer d.Shutdown(context.Background())

	if err := d.Enqueue(newJob("owner/repo", 7)); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for retry success")
	}

	attemptsMu.Lock()
	defer attemptsMu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDispatcherFatalErrorIsNotRetried(t *testing.T) {
	var attemptsMu sync.Mutex
	var attempts int
	done := make(chan struct{})

	exec := &mockExecutor{
		fn: func(ctx context.Context, job *jobstore.Job) error {
			attemptsMu.Lock()
			attempts++
			attemptsMu.Unlock()
			close(done)
			return giterr.NewFatal("bug", errors.New("nil pointer"), "")
		},
	}

	d := New(exec, jobstore.New(), Config{
		Workers:           1,
		QueueSize:         2,
		MaxAttempts:       5,
		InitialBackoff:    10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        20 * time.Millisecond,
	})
	defer d.Shutdown(context.Background())

	if err := d.Enqueue(newJob("owner/repo", 8)); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for fatal execution")
	}

	time.Sleep(50 * time.Millisecond)
	attemptsMu.Lock()
	defer attemptsMu.Unlock()
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a fatal error, got %d", attempts)
	}
}

func TestDispatcherEnqueueAfterShutdown(t *testing.T) {
	exec := &mockExecutor{}

	d := New(exec, jobstore.New(), Config{
		Workers:           1,
		QueueSize:         1,
		MaxAttempts:       1,
		InitialBackoff:    10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        20 * time.Millisecond,
	})

	d.Shutdown(context.Background())

	err := d.Enqueue(newJob("owner/repo", 1))
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	d := &Dispatcher{
		queue:  make(chan *queueItem, 1),
		stopCh: make(chan struct{}),
		store:  jobstore.New(),
	}

	d.queue <- &queueItem{job: &jobstore.Job{ID: "x", Repo: "owner/repo"}}

	err := d.Enqueue(&jobstore.Job{ID: "y", Repo: "owner/repo2"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
