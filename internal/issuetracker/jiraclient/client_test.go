package jiraclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scality/bert-e/internal/giterr"
)

func TestGetIssueParsesSubtaskAndFixVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"key": "PROJ-42",
			"fields": {
				"issuetype": {"name": "Sub-task"},
				"parent": {"key": "PROJ-1"},
				"fixVersions": [{"name": "2.0"}, {"name": "2.1"}],
				"project": {"key": "PROJ"}
			}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "bot@example.com", "token")
	issue, err := c.GetIssue(context.Background(), "PROJ-42")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if !issue.IsSubtask() || issue.ParentKey != "PROJ-1" {
		t.Fatalf("expected subtask with parent PROJ-1, got %+v", issue)
	}
	if len(issue.FixVersions) != 2 || issue.FixVersions[0] != "2.0" {
		t.Fatalf("unexpected fix versions: %v", issue.FixVersions)
	}
}

func TestGetIssueNotFoundReturnsNilWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "bot@example.com", "token")
	issue, err := c.GetIssue(context.Background(), "PROJ-999")
	if err != nil {
		t.Fatalf("expected no error for a missing issue, got %v", err)
	}
	if issue != nil {
		t.Fatalf("expected nil issue, got %+v", issue)
	}
}

func TestGetIssueServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "bot@example.com", "token")
	_, err := c.GetIssue(context.Background(), "PROJ-1")
	if !giterr.IsTransient(err) {
		t.Fatalf("expected a transient error for a 503 response, got %v", err)
	}
}
