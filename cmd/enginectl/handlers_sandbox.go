package main

import (
	"fmt"
	"net/http"
)

func (a *app) handleSandboxPause(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	session, _, err := a.sandbox.GetSandbox(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := session.Pause(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(session.Status())})
}

func (a *app) handleSandboxResume(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	session, _, err := a.sandbox.GetSandbox(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := session.Resume(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(session.Status())})
}

func (a *app) handleSandboxDestroy(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	session, _, err := a.sandbox.GetSandbox(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := session.Close(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionView struct {
	SessionID  string `json:"session_id"`
	ThreadID   string `json:"thread_id"`
	TerminalID string `json:"terminal_id"`
	Status     string `json:"status"`
}

func (a *app) handleGetSession(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	rec, err := a.store.GetSessionByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no session for thread %s", threadID))
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		SessionID:  rec.SessionID,
		ThreadID:   rec.ThreadID,
		TerminalID: rec.TerminalID,
		Status:     string(rec.Status),
	})
}

func (a *app) handleGetTerminal(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	terminal, err := a.store.GetTerminalByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if terminal == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no terminal for thread %s", threadID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"terminal_id": terminal.TerminalID,
		"thread_id":   terminal.ThreadID,
		"lease_id":    terminal.LeaseID,
		"state":       terminal.GetState(),
	})
}

func (a *app) handleGetLease(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	terminal, err := a.store.GetTerminalByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if terminal == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no terminal for thread %s", threadID))
		return
	}
	lease, err := a.store.GetLease(r.Context(), terminal.LeaseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if lease == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("lease %s not found", terminal.LeaseID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lease_id":      lease.LeaseID,
		"provider_name": lease.ProviderName,
		"instance":      lease.Instance,
	})
}

func (a *app) handleGetRuntime(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	status := a.runtime.StatusEvent(threadID)
	cost := a.runtime.EstimateCost(threadID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"cost":   cost,
	})
}

// handleSandboxTypes lists the sandbox backends this process can bind
// a thread to. Only the in-process LocalRuntime ships here; concrete
// remote Provider implementations are left out of scope (spec.md §1
// Non-goals), so the list is static rather than queried from a
// provider registry.
func (a *app) handleSandboxTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]string{
		{"name": "local", "description": "in-process local filesystem and command execution, no remote provider"},
	})
}
