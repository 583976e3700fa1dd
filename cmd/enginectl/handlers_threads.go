package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// createThreadRequest is the body of POST /api/threads (spec §6.1:
// "{sandbox, cwd?}"). Sandbox names which Provider a thread's lease
// should eventually bind to; since no concrete Provider is wired in
// this process (spec.md §1 leaves provider implementations out of
// scope), the field is recorded on the thread's preview for now and
// the sandbox itself is still allocated lazily on first tool use.
type createThreadRequest struct {
	Sandbox string `json:"sandbox"`
	CWD     string `json:"cwd"`
}

type threadView struct {
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
	Preview   string    `json:"preview"`
	Messages  any       `json:"messages,omitempty"`
}

func (a *app) handleListThreads(w http.ResponseWriter, r *http.Request) {
	records, err := a.store.ListThreads(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]threadView, 0, len(records))
	for _, rec := range records {
		out = append(out, threadView{ThreadID: rec.ThreadID, CreatedAt: rec.CreatedAt, Preview: rec.Preview})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *app) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	threadID := uuid.NewString()
	preview := req.Sandbox
	if req.CWD != "" {
		preview = fmt.Sprintf("%s:%s", req.Sandbox, req.CWD)
	}
	now := time.Now()
	if err := a.store.CreateThread(r.Context(), threadID, preview, now); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, threadView{ThreadID: threadID, CreatedAt: now, Preview: preview})
}

func (a *app) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	rec, err := a.store.GetThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("thread %s not found", threadID))
		return
	}

	messages, err := a.threadHistory(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("reconstruct history: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, threadView{ThreadID: rec.ThreadID, CreatedAt: rec.CreatedAt, Preview: rec.Preview, Messages: messages})
}

func (a *app) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	a.sched.Cancel(threadID)
	if err := a.store.DeleteThread(r.Context(), threadID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
