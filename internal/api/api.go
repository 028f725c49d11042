// Package api implements the stable front-end/automation surface (§6):
// thin gorilla/mux handlers over the dispatcher and job store. It is not
// a UI — the status page and session auth described as companions to
// this surface are an explicit Non-goal; this package only enqueues
// work and reports job state.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/scality/bert-e/internal/jobstore"
)

// Dispatcher is the subset of internal/dispatcher.Dispatcher the API
// needs: enqueue a job, never block on its completion.
type Dispatcher interface {
	Enqueue(job *jobstore.Job) error
}

// TokenChecker validates the bearer/query access token presented to
// GET /api/auth (§6) against whatever the deployment considers valid;
// cmd/bert-e wires a single shared token that maps to the "admin" user.
type TokenChecker func(token string) (user string, ok bool)

// Server wires the REST surface to a dispatcher and job store.
type Server struct {
	dispatcher Dispatcher
	store      *jobstore.Store
	checkToken TokenChecker
}

// New creates an API server. checkToken may be nil, in which case
// GET /api/auth always reports unauthorized — deployments that don't
// need the automation session endpoint can wire the rest without it.
func New(dispatcher Dispatcher, store *jobstore.Store, checkToken TokenChecker) *Server {
	return &Server{dispatcher: dispatcher, store: store, checkToken: checkToken}
}

// Router builds the mux.Router exposing every route in §6.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/auth", s.handleAuth).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/api/pull-requests/{number}", s.handleEnqueuePullRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/gwf/branches/{branch}", s.handleCreateBranch).Methods(http.MethodPost)
	r.HandleFunc("/api/gwf/branches/{branch}", s.handleDeleteBranch).Methods(http.MethodDelete)
	r.HandleFunc("/api/gwf/queues", s.handleRebuildQueues).Methods(http.MethodPost)
	r.HandleFunc("/api/gwf/queues", s.handleWipeQueues).Methods(http.MethodDelete)
	r.HandleFunc("/api/gwf/queues", s.handleForceMerge).Methods(http.MethodPatch)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleAuth starts a session for a presented access token (§6:
// "200/302/401"). This surface only ever reports 200 or 401: the
// front-end redirect behind 302 is part of the status page, the
// explicit Non-goal this package doesn't implement.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" || s.checkToken == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	user, ok := s.checkToken(token)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user": user})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.store.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleEnqueuePullRequest(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(mux.Vars(r)["number"])
	if err != nil {
		http.Error(w, "invalid pull request number", http.StatusBadRequest)
		return
	}
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		http.Error(w, "repo query parameter is required", http.StatusBadRequest)
		return
	}

	job := &jobstore.Job{
		ID:      fmt.Sprintf("%s#%d@%d", repo, number, len(s.store.List())),
		Repo:    repo,
		Kind:    jobstore.KindPullRequest,
		Payload: jobstore.PullRequestPayload{Repo: repo, Number: number},
	}
	if err := s.dispatcher.Enqueue(job); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) enqueueBranchJob(w http.ResponseWriter, r *http.Request, kind jobstore.Kind) {
	branch := mux.Vars(r)["branch"]
	repo := r.URL.Query().Get("repo")
	if repo == "" || branch == "" {
		http.Error(w, "repo query parameter and branch are required", http.StatusBadRequest)
		return
	}

	job := &jobstore.Job{
		ID:      fmt.Sprintf("%s#%s@%s", repo, branch, kind),
		Repo:    repo,
		Kind:    kind,
		Payload: jobstore.BranchPayload{Repo: repo, Branch: branch},
	}
	if err := s.dispatcher.Enqueue(job); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	s.enqueueBranchJob(w, r, jobstore.KindCreateBranch)
}

func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	s.enqueueBranchJob(w, r, jobstore.KindDeleteBranch)
}

func (s *Server) enqueueQueueJob(w http.ResponseWriter, r *http.Request, kind jobstore.Kind) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		http.Error(w, "repo query parameter is required", http.StatusBadRequest)
		return
	}

	job := &jobstore.Job{
		ID:   fmt.Sprintf("%s@%s@%d", repo, kind, len(s.store.List())),
		Repo: repo,
		Kind: kind,
	}
	if err := s.dispatcher.Enqueue(job); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleRebuildQueues(w http.ResponseWriter, r *http.Request) {
	s.enqueueQueueJob(w, r, jobstore.KindQueueRebuild)
}

func (s *Server) handleWipeQueues(w http.ResponseWriter, r *http.Request) {
	s.enqueueQueueJob(w, r, jobstore.KindDeleteQueues)
}

func (s *Server) handleForceMerge(w http.ResponseWriter, r *http.Request) {
	s.enqueueQueueJob(w, r, jobstore.KindForceMerge)
}
