// Package config holds the two configuration layers the core runs on:
// Global, a process-wide set of environment-sourced knobs, and
// RepositoryConfig, the per-repository settings document (§6) that drives
// the gating evaluator, queue manager and command parser.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Global is process-wide configuration for the dispatcher, git-host
// adapter credentials and the API server.
type Global struct {
	Port int

	GitHubAppID         string
	GitHubPrivateKey    string
	GitHubWebhookSecret string

	JiraAPIToken string

	RepositorySettingsDir string
	APIAccessToken        string

	DispatcherWorkers           int
	DispatcherQueueSize         int
	DispatcherMaxAttempts       int
	DispatcherRetryInitial      time.Duration
	DispatcherRetryMax          time.Duration
	DispatcherBackoffMultiplier float64

	ScanInterval time.Duration
}

// LoadGlobal loads process configuration from the environment, picking up
// a local .env file first when one is present (local/dev convenience; a
// deployed process is expected to set real environment variables and have
// no .env to find).
func LoadGlobal() (*Global, error) {
	_ = godotenv.Load()

	cfg := &Global{
		Port:                        getEnvInt("PORT", 8000),
		GitHubAppID:                 os.Getenv("GITHUB_APP_ID"),
		GitHubPrivateKey:            normalizePrivateKey(os.Getenv("GITHUB_PRIVATE_KEY")),
		GitHubWebhookSecret:         os.Getenv("GITHUB_WEBHOOK_SECRET"),
		JiraAPIToken:                os.Getenv("JIRA_API_TOKEN"),
		RepositorySettingsDir:       envOrDefault("REPOSITORY_SETTINGS_DIR", "settings"),
		APIAccessToken:              os.Getenv("API_ACCESS_TOKEN"),
		DispatcherWorkers:           getEnvInt("DISPATCHER_WORKERS", 1),
		DispatcherQueueSize:         getEnvInt("DISPATCHER_QUEUE_SIZE", 64),
		DispatcherMaxAttempts:       getEnvInt("DISPATCHER_MAX_ATTEMPTS", 5),
		DispatcherRetryInitial:      time.Duration(getEnvInt("DISPATCHER_RETRY_SECONDS", 15)) * time.Second,
		DispatcherRetryMax:          time.Duration(getEnvInt("DISPATCHER_RETRY_MAX_SECONDS", 300)) * time.Second,
		DispatcherBackoffMultiplier: getEnvFloat("DISPATCHER_BACKOFF_MULTIPLIER", 2.0),
		ScanInterval:                time.Duration(getEnvInt("SCAN_INTERVAL_SECONDS", 300)) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Global) validate() error {
	if c.GitHubAppID == "" {
		return fmt.Errorf("GITHUB_APP_ID is required")
	}
	if c.GitHubPrivateKey == "" {
		return fmt.Errorf("GITHUB_PRIVATE_KEY is required")
	}
	if c.GitHubWebhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required")
	}
	if c.DispatcherWorkers <= 0 {
		return fmt.Errorf("DISPATCHER_WORKERS must be greater than 0")
	}
	if c.DispatcherQueueSize <= 0 {
		return fmt.Errorf("DISPATCHER_QUEUE_SIZE must be greater than 0")
	}
	if c.DispatcherMaxAttempts <= 0 {
		return fmt.Errorf("DISPATCHER_MAX_ATTEMPTS must be greater than 0")
	}
	if c.DispatcherRetryMax < c.DispatcherRetryInitial {
		return fmt.Errorf("DISPATCHER_RETRY_MAX_SECONDS must be >= DISPATCHER_RETRY_SECONDS")
	}
	if c.DispatcherBackoffMultiplier < 1 {
		return fmt.Errorf("DISPATCHER_BACKOFF_MULTIPLIER must be >= 1")
	}
	return nil
}

func normalizePrivateKey(value string) string {
	trimmed := value
	for len(trimmed) > 0 && (trimmed[0] == '"' || trimmed[0] == '\'') && trimmed[0] == trimmed[len(trimmed)-1] {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	return trimmed
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
