// Package jiraclient is a minimal Jira Cloud REST implementation of
// internal/issuetracker.Client. No issue-tracker client library exists
// anywhere in the retrieval pack (see DESIGN.md), so this is a thin
// net/http + encoding/json adapter behind the same interface shape
// internal/githost uses, kept intentionally small: the core only ever
// needs one read per issue per evaluation.
package jiraclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scality/bert-e/internal/giterr"
	"github.com/scality/bert-e/internal/issuetracker"
)

// Client talks to one Jira Cloud site using basic auth (email + API
// token), the scheme `jira_account_url`/`jira_email` in §6 configuration
// imply.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
}

// New creates a client for a given Jira site.
func New(baseURL, email, apiToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type issueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Parent *struct {
			Key string `json:"key"`
		} `json:"parent"`
		FixVersions []struct {
			Name string `json:"name"`
		} `json:"fixVersions"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	} `json:"fields"`
}

// GetIssue fetches one issue by key (e.g. "PROJ-123").
func (c *Client) GetIssue(ctx context.Context, key string) (*issuetracker.Issue, error) {
	url := fmt.Sprintf("%s/rest/api/2/issue/%s?fields=issuetype,parent,fixVersions,project", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("jiraclient: build request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, giterr.NewTransient("jiraclient: get issue "+key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return nil, giterr.NewTransient("jiraclient: get issue "+key, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("jiraclient: get issue %s: status %d: %s", key, resp.StatusCode, body)
	}

	var parsed issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("jiraclient: decode issue %s: %w", key, err)
	}

	issue := &issuetracker.Issue{
		Key:     parsed.Key,
		Project: parsed.Fields.Project.Key,
		Type:    parsed.Fields.IssueType.Name,
	}
	if parsed.Fields.Parent != nil {
		issue.ParentKey = parsed.Fields.Parent.Key
	}
	for _, v := range parsed.Fields.FixVersions {
		issue.FixVersions = append(issue.FixVersions, v.Name)
	}
	return issue, nil
}
