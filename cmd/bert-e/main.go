package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/scality/bert-e/internal/api"
	"github.com/scality/bert-e/internal/config"
	"github.com/scality/bert-e/internal/dispatcher"
	"github.com/scality/bert-e/internal/githost"
	"github.com/scality/bert-e/internal/githost/ghclient"
	"github.com/scality/bert-e/internal/issuetracker"
	"github.com/scality/bert-e/internal/issuetracker/jiraclient"
	"github.com/scality/bert-e/internal/jobstore"
	"github.com/scality/bert-e/internal/orchestrator"
	"github.com/scality/bert-e/internal/scanner"
)

func main() {
	cfg, err := config.LoadGlobal()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	repos, err := loadRepositoryConfigs(cfg.RepositorySettingsDir)
	if err != nil {
		log.Fatalf("Failed to load repository settings: %v", err)
	}
	if len(repos) == 0 {
		log.Fatalf("No repository settings found in %s", cfg.RepositorySettingsDir)
	}

	host := ghclient.New(&ghclient.AppAuth{AppID: cfg.GitHubAppID, PrivateKey: cfg.GitHubPrivateKey})
	issues := issueTrackerFor(cfg, repos)
	store := jobstore.New()

	// The Orchestrator and Dispatcher each need the other: the Orchestrator
	// re-enqueues follow-up jobs through the Dispatcher, and the Dispatcher
	// runs every job through the Orchestrator. Build the Orchestrator first
	// with no requeuer, then wire the Dispatcher back in once it exists.
	orch := orchestrator.New(configSourceFor(repos), host, issues, nil)
	disp := dispatcher.New(orch, store, dispatcher.Config{
		Workers:           cfg.DispatcherWorkers,
		QueueSize:         cfg.DispatcherQueueSize,
		MaxAttempts:       cfg.DispatcherMaxAttempts,
		InitialBackoff:    cfg.DispatcherRetryInitial,
		BackoffMultiplier: cfg.DispatcherBackoffMultiplier,
		MaxBackoff:        cfg.DispatcherRetryMax,
	})
	orch.SetRequeuer(disp)

	scanCtx, stopScan := context.WithCancel(context.Background())
	defer stopScan()
	sc := scanner.New(host, orch, repositoryNames(repos), cfg.ScanInterval)
	go sc.Run(scanCtx)

	apiServer := api.New(disp, store, checkToken(cfg.APIAccessToken))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopScan()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	disp.Shutdown(ctx)
	log.Println("Server exited")
}

// loadRepositoryConfigs reads every *.yml/*.yaml settings document in dir,
// keyed by "owner/slug" (§6 configuration: one document per managed
// repository).
func loadRepositoryConfigs(dir string) (map[string]*config.RepositoryConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read repository settings dir %s: %w", dir, err)
	}

	out := make(map[string]*config.RepositoryConfig)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		rc, err := config.LoadRepositoryConfig(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		out[rc.RepositoryOwner+"/"+rc.RepositorySlug] = rc
	}
	return out, nil
}

func configSourceFor(repos map[string]*config.RepositoryConfig) orchestrator.ConfigSource {
	return func(repo string) (*config.RepositoryConfig, error) {
		rc, ok := repos[repo]
		if !ok {
			return nil, fmt.Errorf("no repository settings configured for %s", repo)
		}
		return rc, nil
	}
}

func repositoryNames(repos map[string]*config.RepositoryConfig) []string {
	out := make([]string, 0, len(repos))
	for name := range repos {
		out = append(out, name)
	}
	return out
}

// issueTrackerFor builds a single shared Jira client from the first
// repository settings document that configures one, plus the process-wide
// API token. One organization-wide Jira site covers the intended
// deployment shape; a per-repository Jira site would need the Orchestrator
// to hold a client per repository the way it holds a workspace per
// repository, which nothing in this settings layout currently asks for.
func issueTrackerFor(cfg *config.Global, repos map[string]*config.RepositoryConfig) issuetracker.Client {
	if cfg.JiraAPIToken == "" {
		return nil
	}
	for _, rc := range repos {
		if rc.JiraAccountURL != "" {
			return jiraclient.New(rc.JiraAccountURL, rc.JiraEmail, cfg.JiraAPIToken)
		}
	}
	return nil
}

// checkToken backs GET /api/auth (§6) with a single shared access token,
// granting the generic "admin" identity used for every privileged API
// call — the stable surface this core exposes has no multi-user session
// model of its own, unlike the status page front-end it's a Non-goal
// companion to.
func checkToken(token string) api.TokenChecker {
	if token == "" {
		return nil
	}
	return func(presented string) (string, bool) {
		if presented == token {
			return "admin", true
		}
		return "", false
	}
}

var _ githost.Client = (*ghclient.Client)(nil)
