// Package scanner implements the periodic scan wakeup (§4.6): a
// time.Ticker-driven fallback that re-enqueues a pull_request job for every
// open PR on every managed repository, covering missed webhook events the
// way the dispatcher's other wakeup sources (webhook, API POST) normally
// would. Grounded on the ticker-poll idiom in
// internal/web/stream.go/triage_handlers.go, the only ticker precedent in
// the retrieval pack.
package scanner

import (
	"context"
	"log"
	"time"

	"github.com/scality/bert-e/internal/githost"
)

// Enqueuer hands a discovered open PR back to the orchestrator, which
// re-enqueues it through the dispatcher with the usual dedup rules.
type Enqueuer interface {
	EnqueuePullRequest(repo string, number int) error
}

// Scanner periodically lists open pull requests on every configured
// repository and re-enqueues evaluation for each.
type Scanner struct {
	host         githost.Client
	enqueuer     Enqueuer
	repositories []string
	interval     time.Duration
}

// New creates a Scanner over repositories, ticking every interval.
func New(host githost.Client, enqueuer Enqueuer, repositories []string, interval time.Duration) *Scanner {
	return &Scanner{host: host, enqueuer: enqueuer, repositories: repositories, interval: interval}
}

// Run blocks, scanning every tick until ctx is canceled.
func (s *Scanner) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	for _, repo := range s.repositories {
		prs, err := s.host.ListOpenPullRequests(ctx, repo)
		if err != nil {
			log.Printf("[scanner] list open pull requests for %s: %v", repo, err)
			continue
		}
		for _, pr := range prs {
			if err := s.enqueuer.EnqueuePullRequest(repo, pr.Number); err != nil {
				log.Printf("[scanner] enqueue %s#%d: %v", repo, pr.Number, err)
			}
		}
	}
}
