// Package dispatcher implements the Job Loop (§4.6, §5): one background
// worker pool per process, serializing execution per repository while
// letting independent repositories proceed concurrently, with
// exponential-backoff retry on transient failures.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/jobstore"
)

// JobExecutor runs one job to completion. Implementations classify
// failures using internal/giterr: a TransientError is retried with
// backoff, anything else ends the job (UserFacing and Fatal both post a
// comment/record and stop; NotMyJob exits silently).
type JobExecutor interface {
	Execute(ctx context.Context, job *jobstore.Job) error
}

// Config controls dispatcher behaviour. cmd/bert-e fills it from
// config.Global's defaults (see internal/config); Dispatcher also replaces
// each zero or out-of-range field with its own fallback (normalizeConfig),
// so tests can exercise it standalone.
type Config struct {
	Workers           int
	QueueSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

var (
	ErrQueueClosed = errors.New("dispatcher: queue is closed")
	ErrQueueFull   = errors.New("dispatcher: queue is full")
)

// Dispatcher serializes job execution per repository and retries
// transient failures with backoff (§4.6, §5).
type Dispatcher struct {
	executor JobExecutor
	store    *jobstore.Store
	cfg      Config

	queue chan *queueItem

	keyedLocks *keyedMutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	once sync.Once
}

type queueItem struct {
	job     *jobstore.Job
	attempt int
}

// New creates a dispatcher bound to store (for job lifecycle bookkeeping)
// and starts its worker pool.
func New(executor JobExecutor, store *jobstore.Store, cfg Config) *Dispatcher {
	normalized := normalizeConfig(cfg)
	d := &Dispatcher{
		executor:   executor,
		store:      store,
		cfg:        normalized,
		queue:      make(chan *queueItem, normalized.QueueSize),
		keyedLocks: newKeyedMutex(),
		stopCh:     make(chan struct{}),
	}
	d.startWorkers()
	return d
}

func normalizeConfig(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 15 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return cfg
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func correlationKey(job *jobstore.Job) string {
	if c, ok := job.Payload.(interface{ CorrelationKey() string }); ok {
		return c.CorrelationKey()
	}
	return ""
}

func dedupKey(job *jobstore.Job) string {
	key := fmt.Sprintf("%s#%s", job.Repo, job.Kind)
	if ck := correlationKey(job); ck != "" {
		key += "#" + ck
	}
	return key
}

// Enqueue queues job for execution. Enqueuing a job for a repo/kind/
// correlation key that already has one queued or running is a no-op
// (§4.6 FIFO dedup) — the store's own history is the source of truth for
// what's pending, so there's no separate in-memory dedup set to drift
// out of sync with it.
func (d *Dispatcher) Enqueue(job *jobstore.Job) error {
	if job == nil {
		return errors.New("dispatcher enqueue: job is nil")
	}

	select {
	case <-d.stopCh:
		return ErrQueueClosed
	default:
	}

	if d.store.PendingForRepo(job.Repo, job.Kind, correlationKey(job)) {
		return nil
	}

	if err := d.store.Enqueue(job); err != nil {
		return fmt.Errorf("dispatcher: record job: %w", err)
	}

	select {
	case d.queue <- &queueItem{job: job, attempt: 1}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case item, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(item)
		}
	}
}

func (d *Dispatcher) process(item *queueItem) {
	job := item.job
	key := dedupKey(job)

	d.keyedLocks.Lock(job.Repo)
	defer d.keyedLocks.Unlock(job.Repo)

	if item.attempt == 1 {
		_ = d.store.Start(job.ID)
	}

	ctx := context.Background()
	err := d.executor.Execute(ctx, job)

	if err == nil {
		_ = d.store.Finish(job.ID, jobstore.StatusCompleted, 0, "")
		log.Printf("job %s (%s) attempt %d succeeded", job.ID, key, item.attempt)
		return
	}

	if giterr.IsNotMyJob(err) {
		_ = d.store.Finish(job.ID, jobstore.StatusCompleted, 0, err.Error())
		return
	}

	if uf, ok := giterr.AsUserFacing(err); ok {
		_ = d.store.Finish(job.ID, jobstore.StatusCompleted, uf.Code, uf.Error())
		log.Printf("job %s (%s) attempt %d ended with status %d", job.ID, key, item.attempt, uf.Code)
		return
	}

	if giterr.IsTransient(err) {
		log.Printf("job %s (%s) attempt %d failed transiently: %v", job.ID, key, item.attempt, err)
		d.handleRetry(item, err)
		return
	}

	log.Printf("job %s (%s) attempt %d failed fatally: %v", job.ID, key, item.attempt, err)
	_ = d.store.Finish(job.ID, jobstore.StatusFailed, 0, err.Error())
}

func (d *Dispatcher) handleRetry(item *queueItem, execErr error) {
	job := item.job
	key := dedupKey(job)

	if item.attempt >= d.cfg.MaxAttempts {
		log.Printf("job %s (%s) exceeded max attempts (%d): %v", job.ID, key, d.cfg.MaxAttempts, execErr)
		_ = d.store.Finish(job.ID, jobstore.StatusFailed, 0, execErr.Error())
		return
	}

	nextAttempt := item.attempt + 1
	delay := d.backoffDuration(nextAttempt)
	log.Printf("scheduling retry %d for job %s (%s) in %s", nextAttempt, job.ID, key, delay)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			d.enqueueRetry(&queueItem{job: job, attempt: nextAttempt})
		case <-d.stopCh:
			return
		}
	}()
}

func (d *Dispatcher) enqueueRetry(item *queueItem) {
	for {
		select {
		case <-d.stopCh:
			return
		case d.queue <- item:
			return
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (d *Dispatcher) backoffDuration(attempt int) time.Duration {
	backoff := float64(d.cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= d.cfg.BackoffMultiplier
		if backoff >= float64(d.cfg.MaxBackoff) {
			return d.cfg.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

// Shutdown stops accepting new work and waits (up to ctx's deadline) for
// in-flight jobs to finish (§5: "allows the current job to finish before
// teardown").
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.once.Do(func() {
		close(d.stopCh)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return
	case <-done:
		return
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()

	if !ok {
		return
	}

	m.Unlock()
}
