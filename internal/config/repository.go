package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RepositoryConfig is the per-repository settings document named in §6.
// One is loaded per managed repository; the gating evaluator, command
// parser and queue manager all consult it on every evaluation.
type RepositoryConfig struct {
	RepositoryHost  string `yaml:"repository_host"`
	RepositoryOwner string `yaml:"repository_owner"`
	RepositorySlug  string `yaml:"repository_slug"`
	Robot           string `yaml:"robot"`
	RobotEmail      string `yaml:"robot_email"`
	BuildKey        string `yaml:"build_key"`

	RequiredPeerApprovals   int  `yaml:"required_peer_approvals"`
	RequiredLeaderApprovals int  `yaml:"required_leader_approvals"`
	NeedAuthorApproval      bool `yaml:"need_author_approval"`

	Admins           []string            `yaml:"admins"`
	ProjectLeaders   []string            `yaml:"project_leaders"`
	PRAuthorOptions  map[string][]string `yaml:"pr_author_options"`

	JiraAccountURL        string            `yaml:"jira_account_url"`
	JiraEmail             string            `yaml:"jira_email"`
	JiraKeys              []string          `yaml:"jira_keys"`
	Prefixes              map[string]string `yaml:"prefixes"`
	BypassPrefixes        []string          `yaml:"bypass_prefixes"`
	DisableVersionChecks  bool              `yaml:"disable_version_checks"`

	MaxCommitDiff                       int  `yaml:"max_commit_diff"`
	AlwaysCreateIntegrationPullRequests bool `yaml:"always_create_integration_pull_requests"`

	QueueEnabled bool `yaml:"queue_enabled"`
}

// LoadRepositoryConfig reads and parses a repository settings document.
func LoadRepositoryConfig(path string) (*RepositoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read repository settings: %w", err)
	}

	var cfg RepositoryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse repository settings: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *RepositoryConfig) applyDefaults() {
	if c.Robot == "" {
		c.Robot = "bert-e"
	}
	if c.RequiredPeerApprovals < 0 {
		c.RequiredPeerApprovals = 0
	}
	if c.RequiredLeaderApprovals < 0 {
		c.RequiredLeaderApprovals = 0
	}
}

func (c *RepositoryConfig) validate() error {
	if c.RepositoryOwner == "" || c.RepositorySlug == "" {
		return fmt.Errorf("config: repository_owner and repository_slug are required")
	}
	if c.RequiredLeaderApprovals > c.RequiredPeerApprovals {
		return fmt.Errorf("config: required_leader_approvals (%d) must be <= required_peer_approvals (%d)",
			c.RequiredLeaderApprovals, c.RequiredPeerApprovals)
	}
	return nil
}

// IsAdmin reports whether user is configured as an administrator,
// authorized to invoke privileged bypass options (§4.4).
func (c *RepositoryConfig) IsAdmin(user string) bool {
	return contains(c.Admins, user)
}

// IsProjectLeader reports whether user counts toward the leader-approval
// threshold (§4.3 check 17).
func (c *RepositoryConfig) IsProjectLeader(user string) bool {
	return contains(c.ProjectLeaders, user)
}

// BypassAllowedForAuthor reports whether pr_author_options lists option
// for author. Nothing calls it: the command parser only checks that a
// privileged token's commenter is an admin, so an admin who authored the
// PR can set bypass options on it whether or not this list names them.
func (c *RepositoryConfig) BypassAllowedForAuthor(author, option string) bool {
	return contains(c.PRAuthorOptions[author], option)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
